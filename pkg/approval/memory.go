package approval

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// InMemoryRepository backs tests and single-replica deployments.
type InMemoryRepository struct {
	mu   sync.Mutex
	rows map[string]types.ApprovalRequest
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[string]types.ApprovalRequest)}
}

func (r *InMemoryRepository) Create(_ context.Context, req types.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[req.DeploymentExecutionID] = req
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, executionID string) (types.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.rows[executionID]
	if !ok {
		return types.ApprovalRequest{}, apperrors.NewNotFoundError("approval request " + executionID)
	}
	return req, nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, executionID string, status types.ApprovalStatus, byEmail, reason string, respondedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.rows[executionID]
	if !ok {
		return apperrors.NewNotFoundError("approval request " + executionID)
	}
	if req.Status.Terminal() {
		return apperrors.New(apperrors.ErrorTypeConflict, "approval request already decided")
	}
	req.Status = status
	req.RespondedAt = &respondedAt
	req.RespondedByEmail = byEmail
	req.ResponseReason = reason
	r.rows[executionID] = req
	return nil
}

func (r *InMemoryRepository) ExpirePending(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []string
	for id, req := range r.rows {
		if req.Status == types.ApprovalStatusPending && !req.TimeoutAt.After(now) {
			req.Status = types.ApprovalStatusExpired
			req.RespondedAt = &now
			r.rows[id] = req
			expired = append(expired, id)
		}
	}
	return expired, nil
}
