// Package cluster implements the cluster/node abstraction in spec §4.3: a
// registry mapping environments to clusters, and the three node
// operations strategies consume (DeployModule, RollbackModule, GetHealth).
package cluster

import (
	"context"
	"time"

	"github.com/kubernaut-deploy/orchestrator/pkg/idempotency"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// Node is the per-node contract spec §4.3 defines. Implementations must
// honor context cancellation and must never let one node's failure affect
// a sibling — callers fan out across nodes independently.
type Node interface {
	Info() types.NodeInfo
	DeployModule(ctx context.Context, module types.ModuleRef) (types.NodeDeploymentResult, error)
	RollbackModule(ctx context.Context, moduleName string) (types.NodeRollbackResult, error)
	GetHealth(ctx context.Context) (types.NodeHealth, error)
}

// IdempotentNode decorates a Node so that a second DeployModule call for an
// already-succeeded (NodeID, ModuleName, Version) tuple returns a fresh
// success result without re-invoking the underlying node — the idempotency
// contract spec §4.3 requires regardless of whether the remote agent
// itself is idempotent.
type IdempotentNode struct {
	inner Node
	store idempotency.Store
}

func NewIdempotentNode(inner Node, store idempotency.Store) *IdempotentNode {
	return &IdempotentNode{inner: inner, store: store}
}

func (n *IdempotentNode) Info() types.NodeInfo { return n.inner.Info() }

func (n *IdempotentNode) dedupeKey(module types.ModuleRef) string {
	return "node-deploy:" + n.inner.Info().NodeID + ":" + module.ModuleName + ":" + module.Version
}

func (n *IdempotentNode) DeployModule(ctx context.Context, module types.ModuleRef) (types.NodeDeploymentResult, error) {
	key := n.dedupeKey(module)
	if seen, err := n.store.HasBeenProcessed(ctx, key); err == nil && seen {
		return types.NodeDeploymentResult{
			NodeID:   n.inner.Info().NodeID,
			Success:  true,
			Message:  "already deployed (idempotent replay)",
			Duration: 0,
		}, nil
	}

	result, err := n.inner.DeployModule(ctx, module)
	if err != nil {
		return result, err
	}
	if result.Success {
		_ = n.store.MarkAsProcessed(ctx, key, n.inner.Info().NodeID)
	}
	return result, nil
}

func (n *IdempotentNode) RollbackModule(ctx context.Context, moduleName string) (types.NodeRollbackResult, error) {
	return n.inner.RollbackModule(ctx, moduleName)
}

func (n *IdempotentNode) GetHealth(ctx context.Context) (types.NodeHealth, error) {
	return n.inner.GetHealth(ctx)
}

// timed is a small helper the HTTP node uses to fill in
// NodeDeploymentResult.Duration without every caller re-deriving it.
func timed(start time.Time) time.Duration {
	return time.Since(start)
}
