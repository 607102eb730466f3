package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

const (
	DefaultRollingMaxConcurrent   = 2
	DefaultRollingHealthCheckDelay = 30 * time.Second
)

// Rolling deploys nodes in batches, pausing between batches to confirm the
// batch stayed healthy, per spec §4.4.2. Nodes are assumed pre-sorted by
// Hostname (cluster.EnvironmentCluster.Nodes/Snapshot guarantees this).
type Rolling struct {
	logger           logrus.FieldLogger
	MaxConcurrent    int
	HealthCheckDelay time.Duration
	sleep            func(time.Duration)
}

func NewRolling(logger logrus.FieldLogger) *Rolling {
	return &Rolling{
		logger:           logger,
		MaxConcurrent:    DefaultRollingMaxConcurrent,
		HealthCheckDelay: DefaultRollingHealthCheckDelay,
		sleep:            time.Sleep,
	}
}

func (r *Rolling) Name() types.Strategy { return types.StrategyRolling }

func (r *Rolling) Deploy(ctx context.Context, request types.DeploymentRequest, nodes []cluster.Node) types.DeploymentResult {
	start := time.Now()
	result := newResult(types.StrategyRolling, request.TargetEnvironment, start)
	module := types.ModuleRef{ModuleName: request.ModuleName, Version: request.Version}

	batchSize := r.MaxConcurrent
	if batchSize <= 0 {
		batchSize = DefaultRollingMaxConcurrent
	}

	var deployedSoFar []cluster.Node

	for offset := 0; offset < len(nodes); offset += batchSize {
		end := offset + batchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		batch := nodes[offset:end]
		isLastBatch := end == len(nodes)

		batchResults := deployAll(ctx, batch, module)
		result.NodeResults = append(result.NodeResults, batchResults...)

		if countFailures(batchResults) > 0 {
			result = rollbackAllSuccessful(result, append(deployedSoFar, successfulNodes(batch, batchResults)...), request.ModuleName, r.logger)
			return finish(result, false, "a node in the current batch failed to deploy; rolled back")
		}

		deployedSoFar = append(deployedSoFar, batch...)

		if isLastBatch {
			continue
		}

		r.sleep(r.HealthCheckDelay)

		unhealthy := false
		for _, n := range batch {
			health, err := n.GetHealth(ctx)
			if err != nil || !health.IsHealthy {
				unhealthy = true
				break
			}
		}
		if unhealthy {
			result = rollbackAllSuccessful(result, deployedSoFar, request.ModuleName, r.logger)
			return finish(result, false, "a node in the just-deployed batch failed its post-deploy health check; rolled back")
		}
	}

	return finish(result, true, "rolled out to all batches")
}
