// Package approval implements the ApprovalService state machine spec §4.5
// describes: Pending -> {Approved, Rejected, Expired}, driven by approve,
// reject, and a timeout sweep, with a WaitForApproval call that blocks a
// pipeline until the row reaches a terminal state.
package approval

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// Repository persists ApprovalRequest rows. The in-memory implementation
// backs tests and single-replica deployments; Postgres backs everything
// else.
type Repository interface {
	Create(ctx context.Context, req types.ApprovalRequest) error
	Get(ctx context.Context, executionID string) (types.ApprovalRequest, error)
	// UpdateStatus applies a terminal transition iff the row is still
	// Pending, returning ErrorTypeConflict if it already decided.
	UpdateStatus(ctx context.Context, executionID string, status types.ApprovalStatus, byEmail, reason string, respondedAt time.Time) error
	// ExpirePending transitions every Pending row whose TimeoutAt has
	// passed to Expired, returning their execution ids.
	ExpirePending(ctx context.Context, now time.Time) ([]string, error)
}

// ApproverPolicy decides whether an email may act on a request. The
// default policy is "whoever the request lists", matching spec §4.5
// exactly; callers may substitute a real authorization backend (external
// to this core, per spec §1).
type ApproverPolicy interface {
	IsApprover(req types.ApprovalRequest, email string) bool
}

type listedApproverPolicy struct{}

func (listedApproverPolicy) IsApprover(req types.ApprovalRequest, email string) bool {
	for _, e := range req.ApproverEmails {
		if e == email {
			return true
		}
	}
	return false
}

// DefaultApproverPolicy is the spec-mandated default.
var DefaultApproverPolicy ApproverPolicy = listedApproverPolicy{}

// Service implements the ApprovalService. Wake-ups for WaitForApproval are
// channel-based rather than polled, per spec §4.5's preference for a
// condition-variable-style implementation over ≤1s polling.
type Service struct {
	repo   Repository
	policy ApproverPolicy

	mu       sync.Mutex
	waiters  map[string][]chan struct{}
	now      func() time.Time
}

func New(repo Repository, policy ApproverPolicy) *Service {
	if policy == nil {
		policy = DefaultApproverPolicy
	}
	return &Service{
		repo:    repo,
		policy:  policy,
		waiters: make(map[string][]chan struct{}),
		now:     time.Now,
	}
}

// RequestApproval creates a new Pending ApprovalRequest with
// TimeoutAt = now + timeout, per spec §4.6 step 2.
func (s *Service) RequestApproval(ctx context.Context, executionID, approvalID string, req types.DeploymentRequest, timeout time.Duration) (types.ApprovalRequest, error) {
	now := s.now()
	ar := types.ApprovalRequest{
		DeploymentExecutionID: executionID,
		ApprovalID:            approvalID,
		RequesterEmail:        req.RequesterEmail,
		Environment:           req.TargetEnvironment,
		ModuleName:            req.ModuleName,
		Version:               req.Version,
		Status:                types.ApprovalStatusPending,
		ApproverEmails:        req.ApproverEmails,
		RequestedAt:           now,
		TimeoutAt:             now.Add(timeout),
	}
	if err := s.repo.Create(ctx, ar); err != nil {
		return types.ApprovalRequest{}, err
	}
	return ar, nil
}

// Approve transitions executionID's request to Approved.
func (s *Service) Approve(ctx context.Context, executionID, approverEmail, reason string) error {
	return s.decide(ctx, executionID, types.ApprovalStatusApproved, approverEmail, reason)
}

// Reject transitions executionID's request to Rejected.
func (s *Service) Reject(ctx context.Context, executionID, approverEmail, reason string) error {
	return s.decide(ctx, executionID, types.ApprovalStatusRejected, approverEmail, reason)
}

func (s *Service) decide(ctx context.Context, executionID string, status types.ApprovalStatus, approverEmail, reason string) error {
	req, err := s.repo.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if req.Status != types.ApprovalStatusPending {
		return apperrors.New(apperrors.ErrorTypeConflict, "approval request already decided").
			WithDetailsf("execution %s is already %s", executionID, req.Status)
	}
	if !s.policy.IsApprover(req, approverEmail) {
		return apperrors.NewAuthError("not authorized to decide this approval request")
	}

	if err := s.repo.UpdateStatus(ctx, executionID, status, approverEmail, reason, s.now()); err != nil {
		return err
	}
	s.wake(executionID)
	return nil
}

// WaitForApproval blocks until executionID's request reaches a terminal
// state, or ctx is cancelled. It returns the final ApprovalRequest.
//
// The channel is registered before the terminal check, not after: if decide
// or Sweep ran between a Get and a later subscribe, the wake would close a
// channel nobody is listening on yet, and the Get afterwards would be the
// only chance to observe the terminal row. Subscribing first means any wake
// racing the check is still caught by the immediate re-Get below.
func (s *Service) WaitForApproval(ctx context.Context, executionID string) (types.ApprovalRequest, error) {
	for {
		ch := s.subscribe(executionID)

		req, err := s.repo.Get(ctx, executionID)
		if err != nil {
			s.unsubscribe(executionID, ch)
			return types.ApprovalRequest{}, err
		}
		if req.Status.Terminal() {
			s.unsubscribe(executionID, ch)
			return req, nil
		}

		select {
		case <-ch:
			// re-check the repository above
		case <-ctx.Done():
			s.unsubscribe(executionID, ch)
			return types.ApprovalRequest{}, ctx.Err()
		}
	}
}

func (s *Service) subscribe(executionID string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.waiters[executionID] = append(s.waiters[executionID], ch)
	s.mu.Unlock()
	return ch
}

func (s *Service) unsubscribe(executionID string, target chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[executionID]
	for i, ch := range chans {
		if ch == target {
			s.waiters[executionID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
}

// wake notifies every WaitForApproval caller blocked on executionID. It is
// also the entry point a pq.Listener-driven NOTIFY handler calls when
// another replica decided the request (see PostgresRepository).
func (s *Service) wake(executionID string) {
	s.mu.Lock()
	chans := s.waiters[executionID]
	delete(s.waiters, executionID)
	s.mu.Unlock()
	for _, ch := range chans {
		close(ch)
	}
}

// Sweep transitions every Pending row past its TimeoutAt to Expired and
// wakes any blocked waiters. Intended to run on a short periodic ticker.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpirePending(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for _, id := range expired {
		s.wake(id)
	}
	return len(expired), nil
}
