// Package strategy implements the four deployment strategies spec §4.4
// defines: Direct, Rolling, BlueGreen, Canary. Every strategy shares the
// Deploy(ctx, request, nodes) signature and the common rollback contract:
// on partial failure, roll back every node that already succeeded in the
// same Deploy call, in parallel, and never report Success=false while
// leaving a node on the new version. BlueGreen is the exception: it never
// rolls back, since the side it deploys to is standby and traffic is only
// switched after every check passes.
package strategy

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// Strategy is the shared contract every deployment strategy implements.
type Strategy interface {
	Name() types.Strategy
	Deploy(ctx context.Context, request types.DeploymentRequest, nodes []cluster.Node) types.DeploymentResult
}

// MetricsProvider is the seam Blue-Green's stabilization wait and Canary's
// error-rate predicate both consume. Spec §4.4.3 step 1 makes the provider
// optional; strategies degrade gracefully when none is injected.
type MetricsProvider interface {
	// Snapshot returns the current aggregate metrics for env.
	Snapshot(ctx context.Context, env types.Environment) (Metrics, error)
}

// Metrics is the minimal signal the strategies above need: enough to
// detect drift from baseline and to evaluate an error-rate predicate.
type Metrics struct {
	ErrorRate      float64
	AvgLatencyMS   float64
	SampledAt      time.Time
}

// WithinTolerance reports whether m has converged back toward baseline,
// within tolerance, for Blue-Green's stabilization check.
func (m Metrics) WithinTolerance(baseline Metrics, tolerance float64) bool {
	delta := m.ErrorRate - baseline.ErrorRate
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}

func newResult(strategyName types.Strategy, env types.Environment, start time.Time) types.DeploymentResult {
	return types.DeploymentResult{
		Strategy:    strategyName,
		Environment: env,
		StartTime:   start,
	}
}

func finish(result types.DeploymentResult, success bool, message string) types.DeploymentResult {
	result.Success = success
	result.Message = message
	result.EndTime = time.Now()
	return result
}

// deployAll runs DeployModule against every node in parallel, one
// golang.org/x/sync/errgroup goroutine per node with no concurrency limit,
// and returns the per-node results in node order regardless of completion
// order.
func deployAll(ctx context.Context, nodes []cluster.Node, module types.ModuleRef) []types.NodeDeploymentResult {
	results := make([]types.NodeDeploymentResult, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			res, err := n.DeployModule(gctx, module)
			if err != nil {
				res = types.NodeDeploymentResult{NodeID: n.Info().NodeID, Success: false, Message: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// rollbackAll rolls back every node in nodes in parallel and returns their
// results. Strategies call this only with the subset that reached success
// earlier in the same Deploy call, per the common rollback contract. It
// deliberately uses a fresh background context rather than the caller's:
// rollback must still run to completion when the caller's ctx is the one
// that triggered it (e.g. pipeline cancellation).
// RollbackAll is the exported form of rollbackAll, used by the API's
// manual rollback endpoint outside of any Deploy call.
func RollbackAll(nodes []cluster.Node, moduleName string) []types.NodeRollbackResult {
	return rollbackAll(nodes, moduleName)
}

func rollbackAll(nodes []cluster.Node, moduleName string) []types.NodeRollbackResult {
	results := make([]types.NodeRollbackResult, len(nodes))
	g := new(errgroup.Group)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			res, err := n.RollbackModule(context.Background(), moduleName)
			if err != nil {
				res = types.NodeRollbackResult{NodeID: n.Info().NodeID, Success: false, Message: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func successfulNodes(nodes []cluster.Node, results []types.NodeDeploymentResult) []cluster.Node {
	succeeded := make([]cluster.Node, 0, len(nodes))
	for i, r := range results {
		if r.Success {
			succeeded = append(succeeded, nodes[i])
		}
	}
	return succeeded
}

func countFailures(results []types.NodeDeploymentResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

func rollbackAllSuccessful(result types.DeploymentResult, nodes []cluster.Node, moduleName string, logger logrus.FieldLogger) types.DeploymentResult {
	if len(nodes) == 0 {
		return result
	}
	logger.WithField("node_count", len(nodes)).Warn("rolling back nodes after partial deployment failure")
	result.RollbackPerformed = true
	result.RollbackResults = rollbackAll(nodes, moduleName)
	result.RollbackSuccessful = true
	for _, r := range result.RollbackResults {
		if !r.Success {
			result.RollbackSuccessful = false
		}
	}
	return result
}
