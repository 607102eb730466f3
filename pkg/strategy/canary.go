package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// DefaultCanaryPhases are the explicit rollout percentages spec §4.4.4
// names.
var DefaultCanaryPhases = []float64{0.10, 0.30, 0.50, 1.00}

const (
	DefaultPhaseObservationWindow = 5 * time.Minute
	DefaultErrorRateThreshold      = 0.05
)

// TripPredicate decides whether an observed error rate should abort the
// rollout. Spec §9 abstracts the source's simulated trip logic into a
// configuration-supplied predicate; DefaultTripPredicate implements the
// spec's stated default (observed error rate > 5%).
type TripPredicate func(observed Metrics) bool

func DefaultTripPredicate(observed Metrics) bool {
	return observed.ErrorRate > DefaultErrorRateThreshold
}

// Canary rolls a module out in increasing percentage phases, observing
// metrics between phases and rolling back everything deployed so far if
// the trip predicate fires, per spec §4.4.4.
type Canary struct {
	logger  logrus.FieldLogger
	metrics MetricsProvider

	Phases             []float64
	ObservationWindow  time.Duration
	TripPredicate      TripPredicate

	sleep func(time.Duration)
}

func NewCanary(logger logrus.FieldLogger, metrics MetricsProvider) *Canary {
	return &Canary{
		logger:            logger,
		metrics:           metrics,
		Phases:            DefaultCanaryPhases,
		ObservationWindow: DefaultPhaseObservationWindow,
		TripPredicate:     DefaultTripPredicate,
		sleep:             time.Sleep,
	}
}

func (c *Canary) Name() types.Strategy { return types.StrategyCanary }

func (c *Canary) Deploy(ctx context.Context, request types.DeploymentRequest, nodes []cluster.Node) types.DeploymentResult {
	start := time.Now()
	result := newResult(types.StrategyCanary, request.TargetEnvironment, start)
	module := types.ModuleRef{ModuleName: request.ModuleName, Version: request.Version}

	phases := c.Phases
	if len(phases) == 0 {
		phases = DefaultCanaryPhases
	}

	deployedCount := 0
	var deployedNodes []cluster.Node

	for phaseIdx, pct := range phases {
		target := int(float64(len(nodes)) * pct)
		if target > len(nodes) {
			target = len(nodes)
		}
		if target < deployedCount {
			target = deployedCount
		}
		batch := nodes[deployedCount:target]

		batchResults := deployAll(ctx, batch, module)
		result.NodeResults = append(result.NodeResults, batchResults...)

		if countFailures(batchResults) > 0 {
			failedRollback := rollbackAllSuccessful(result, append(deployedNodes, successfulNodes(batch, batchResults)...), request.ModuleName, c.logger)
			return finish(failedRollback, false, "a node failed during a canary phase; rolled back")
		}

		deployedNodes = append(deployedNodes, batch...)
		deployedCount = target

		isLastPhase := phaseIdx == len(phases)-1
		if isLastPhase {
			continue
		}

		if !c.observeAndCheck(ctx, request.TargetEnvironment) {
			result = rollbackAllSuccessful(result, deployedNodes, request.ModuleName, c.logger)
			result.RollbackPerformed = true
			return finish(result, false, "error-rate predicate tripped between canary phases; rolled back")
		}
	}

	return finish(result, true, "canary rollout completed all phases")
}

// observeAndCheck waits out the observation window then evaluates the
// trip predicate against the latest metrics sample. With no metrics
// provider injected, it only waits — there is nothing to evaluate, so the
// rollout proceeds.
func (c *Canary) observeAndCheck(ctx context.Context, env types.Environment) bool {
	c.sleep(c.ObservationWindow)
	if c.metrics == nil {
		return true
	}
	snap, err := c.metrics.Snapshot(ctx, env)
	if err != nil {
		c.logger.WithError(err).Warn("failed to sample metrics between canary phases; continuing rollout")
		return true
	}
	predicate := c.TripPredicate
	if predicate == nil {
		predicate = DefaultTripPredicate
	}
	return !predicate(snap)
}
