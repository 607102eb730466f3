package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

const (
	DefaultStabilizationTolerance      = 0.02
	DefaultStabilizationSamplesNeeded  = 3
	DefaultStabilizationSampleInterval = 10 * time.Second
	DefaultStabilizationDeadline       = 5 * time.Minute
	DefaultSmokeTestTimeout            = 5 * time.Minute
	DefaultLegacyModeDelay             = 15 * time.Second
)

// BlueGreen treats the cluster as the standby (green) side: deploy to all
// nodes without eager rollback, wait for metrics to stabilize, smoke-test,
// then switch traffic, per spec §4.4.3. A smoke-test failure is never
// rolled back — green was standby, so nothing user-facing was disturbed
// (spec §9 fixes this against the source's inconsistent behavior).
type BlueGreen struct {
	logger  logrus.FieldLogger
	metrics MetricsProvider

	StabilizationTolerance      float64
	StabilizationSamplesNeeded  int
	StabilizationSampleInterval time.Duration
	StabilizationDeadline       time.Duration
	SmokeTestTimeout            time.Duration
	LegacyModeDelay             time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

func NewBlueGreen(logger logrus.FieldLogger, metrics MetricsProvider) *BlueGreen {
	return &BlueGreen{
		logger:                       logger,
		metrics:                      metrics,
		StabilizationTolerance:       DefaultStabilizationTolerance,
		StabilizationSamplesNeeded:   DefaultStabilizationSamplesNeeded,
		StabilizationSampleInterval: DefaultStabilizationSampleInterval,
		StabilizationDeadline:       DefaultStabilizationDeadline,
		SmokeTestTimeout:            DefaultSmokeTestTimeout,
		LegacyModeDelay:              DefaultLegacyModeDelay,
		sleep:                        time.Sleep,
		now:                          time.Now,
	}
}

func (b *BlueGreen) Name() types.Strategy { return types.StrategyBlueGreen }

func (b *BlueGreen) Deploy(ctx context.Context, request types.DeploymentRequest, nodes []cluster.Node) types.DeploymentResult {
	start := time.Now()
	result := newResult(types.StrategyBlueGreen, request.TargetEnvironment, start)
	module := types.ModuleRef{ModuleName: request.ModuleName, Version: request.Version}

	var baseline Metrics
	haveBaseline := false
	if b.metrics != nil {
		if snap, err := b.metrics.Snapshot(ctx, request.TargetEnvironment); err == nil {
			baseline = snap
			haveBaseline = true
		} else {
			b.logger.WithError(err).Warn("failed to capture baseline metrics, proceeding without one")
		}
	}

	result.NodeResults = deployAll(ctx, nodes, module)
	if countFailures(result.NodeResults) > 0 {
		// Green was standby: nothing to roll back, traffic never moved.
		return finish(result, false, "one or more nodes failed to deploy; traffic was never switched")
	}

	if haveBaseline {
		if !b.waitForStabilization(ctx, request.TargetEnvironment, baseline) {
			return finish(result, false, "metrics did not stabilize within the deadline; traffic was never switched")
		}
	} else {
		b.sleep(b.LegacyModeDelay)
	}

	if !b.runSmokeTests(ctx, nodes) {
		return finish(result, false, "smoke tests failed on the standby side; traffic was never switched")
	}

	b.switchTraffic(request.TargetEnvironment)
	return finish(result, true, "switched traffic to the newly deployed side")
}

func (b *BlueGreen) waitForStabilization(ctx context.Context, env types.Environment, baseline Metrics) bool {
	deadline := b.now().Add(b.StabilizationDeadline)
	consecutive := 0
	for b.now().Before(deadline) {
		if ctx.Err() != nil {
			return false
		}
		snap, err := b.metrics.Snapshot(ctx, env)
		if err == nil && snap.WithinTolerance(baseline, b.StabilizationTolerance) {
			consecutive++
			if consecutive >= b.StabilizationSamplesNeeded {
				return true
			}
		} else {
			consecutive = 0
		}
		b.sleep(b.StabilizationSampleInterval)
	}
	return false
}

func (b *BlueGreen) runSmokeTests(ctx context.Context, nodes []cluster.Node) bool {
	sweepCtx, cancel := context.WithTimeout(ctx, b.SmokeTestTimeout)
	defer cancel()

	for _, n := range nodes {
		health, err := n.GetHealth(sweepCtx)
		if err != nil || !health.IsHealthy {
			return false
		}
	}
	return true
}

// switchTraffic is the single idempotent traffic cutover spec §4.4.3 step
// 6 describes as delegable to an external load balancer. This core has no
// load balancer integration (out of scope per spec §1), so it only logs
// the cutover decision.
func (b *BlueGreen) switchTraffic(env types.Environment) {
	b.logger.WithField("environment", string(env)).Info("traffic switch to newly deployed side")
}
