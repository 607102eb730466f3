package cluster

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// EnvironmentCluster is the set of nodes for one environment. Strategies
// always sort by Hostname before acting, per spec §3's determinism
// requirement.
type EnvironmentCluster struct {
	Environment types.Environment

	mu    sync.RWMutex
	nodes map[string]Node
}

func newCluster(env types.Environment) *EnvironmentCluster {
	return &EnvironmentCluster{Environment: env, nodes: make(map[string]Node)}
}

// Nodes returns the cluster's nodes sorted by Hostname, the deterministic
// ordering every strategy batches against.
func (c *EnvironmentCluster) Nodes() []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Info().Hostname < nodes[j].Info().Hostname
	})
	return nodes
}

func (c *EnvironmentCluster) TotalNodes() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// HealthSummary polls every node's health in parallel and returns the
// healthy/unhealthy split. It never returns an error: an unreachable node
// simply counts as unhealthy, per spec §4.3 ("nodes may fail individually
// without affecting siblings").
func (c *EnvironmentCluster) HealthSummary(ctx context.Context) (healthy, unhealthy int, details []types.NodeHealth) {
	nodes := c.Nodes()
	details = make([]types.NodeHealth, len(nodes))

	var wg sync.WaitGroup
	for i, n := range nodes {
		wg.Add(1)
		go func(i int, n Node) {
			defer wg.Done()
			h, _ := n.GetHealth(ctx)
			details[i] = h
		}(i, n)
	}
	wg.Wait()

	for _, h := range details {
		if h.IsHealthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	return healthy, unhealthy, details
}

// Snapshot captures the current node set for a pipeline's lifetime. Spec
// §3 makes cluster membership immutable once a pipeline starts; strategies
// operate on the slice a Snapshot returns, not on the live registry.
func (c *EnvironmentCluster) Snapshot() []Node {
	return c.Nodes()
}

func (c *EnvironmentCluster) register(n Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[n.Info().NodeID] = n
}

func (c *EnvironmentCluster) deregister(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, nodeID)
}

// Registry holds the (environment -> cluster) mapping spec §2.3 and §4.3
// describe.
type Registry struct {
	mu       sync.RWMutex
	clusters map[types.Environment]*EnvironmentCluster
}

func NewRegistry() *Registry {
	return &Registry{clusters: make(map[types.Environment]*EnvironmentCluster)}
}

// Get returns the cluster for env, failing with UnknownEnvironment if no
// cluster has ever been registered for it.
func (r *Registry) Get(env types.Environment) (*EnvironmentCluster, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clusters[env]
	if !ok {
		return nil, apperrors.NewUnknownEnvironmentError(string(env))
	}
	return c, nil
}

// Register adds node to env's cluster, creating the cluster on first use.
// This is the seam an (out-of-scope) service-discovery collaborator would
// call on node registration.
func (r *Registry) Register(env types.Environment, n Node) {
	r.mu.Lock()
	c, ok := r.clusters[env]
	if !ok {
		c = newCluster(env)
		r.clusters[env] = c
	}
	r.mu.Unlock()
	c.register(n)
}

// Deregister removes a node from env's cluster, if present.
func (r *Registry) Deregister(env types.Environment, nodeID string) {
	r.mu.RLock()
	c, ok := r.clusters[env]
	r.mu.RUnlock()
	if ok {
		c.deregister(nodeID)
	}
}

// Environments lists every environment with a registered cluster.
func (r *Registry) Environments() []types.Environment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	envs := make([]types.Environment, 0, len(r.clusters))
	for e := range r.clusters {
		envs = append(envs, e)
	}
	return envs
}
