package strategy

import (
	"context"
	"sync"

	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// fakeNode is a controllable cluster.Node for strategy tests: deploy and
// health outcomes are fixed at construction, and every call is recorded
// under a mutex since strategies fan out concurrently.
type fakeNode struct {
	info          types.NodeInfo
	failDeploy    bool
	unhealthy     bool

	mu            sync.Mutex
	deployCalls   int
	rollbackCalls int
}

func newFakeNode(hostname string) *fakeNode {
	return &fakeNode{info: types.NodeInfo{NodeID: hostname, Hostname: hostname}}
}

func (f *fakeNode) Info() types.NodeInfo { return f.info }

func (f *fakeNode) DeployModule(ctx context.Context, module types.ModuleRef) (types.NodeDeploymentResult, error) {
	f.mu.Lock()
	f.deployCalls++
	f.mu.Unlock()
	if f.failDeploy {
		return types.NodeDeploymentResult{NodeID: f.info.NodeID, Success: false, Message: "deploy failed"}, nil
	}
	return types.NodeDeploymentResult{NodeID: f.info.NodeID, Success: true, Message: "deployed"}, nil
}

func (f *fakeNode) RollbackModule(ctx context.Context, moduleName string) (types.NodeRollbackResult, error) {
	f.mu.Lock()
	f.rollbackCalls++
	f.mu.Unlock()
	return types.NodeRollbackResult{NodeID: f.info.NodeID, Success: true}, nil
}

func (f *fakeNode) GetHealth(ctx context.Context) (types.NodeHealth, error) {
	status := types.NodeStatusHealthy
	if f.unhealthy {
		status = types.NodeStatusUnhealthy
	}
	return types.NodeHealth{NodeID: f.info.NodeID, IsHealthy: !f.unhealthy, Status: status}, nil
}

func (f *fakeNode) rollbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rollbackCalls
}

func nodesOf(fakes ...*fakeNode) []cluster.Node {
	nodes := make([]cluster.Node, len(fakes))
	for i, f := range fakes {
		nodes[i] = f
	}
	return nodes
}

type fakeMetricsProvider struct {
	mu      sync.Mutex
	samples []Metrics
	idx     int
	err     error
}

func (m *fakeMetricsProvider) Snapshot(ctx context.Context, env types.Environment) (Metrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Metrics{}, m.err
	}
	if len(m.samples) == 0 {
		return Metrics{}, nil
	}
	sample := m.samples[m.idx]
	if m.idx < len(m.samples)-1 {
		m.idx++
	}
	return sample, nil
}
