package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// Direct deploys to every node in parallel with no batching or health
// gating, per spec §4.4.1. Intended for Development.
type Direct struct {
	logger logrus.FieldLogger
}

func NewDirect(logger logrus.FieldLogger) *Direct {
	return &Direct{logger: logger}
}

func (d *Direct) Name() types.Strategy { return types.StrategyDirect }

func (d *Direct) Deploy(ctx context.Context, request types.DeploymentRequest, nodes []cluster.Node) types.DeploymentResult {
	start := time.Now()
	result := newResult(types.StrategyDirect, request.TargetEnvironment, start)

	module := types.ModuleRef{ModuleName: request.ModuleName, Version: request.Version}
	result.NodeResults = deployAll(ctx, nodes, module)

	if countFailures(result.NodeResults) > 0 {
		result = rollbackAllSuccessful(result, successfulNodes(nodes, result.NodeResults), request.ModuleName, d.logger)
		return finish(result, false, "one or more nodes failed to deploy; rolled back successful nodes")
	}
	return finish(result, true, "deployed to all nodes")
}
