package job

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// InMemoryStore backs tests and single-replica deployments.
type InMemoryStore struct {
	mu     sync.Mutex
	rows   map[int64]types.DeploymentJob
	nextID int64
	now    func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[int64]types.DeploymentJob), now: time.Now}
}

func (s *InMemoryStore) Enqueue(_ context.Context, j types.DeploymentJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	j.ID = s.nextID
	j.Status = types.JobStatusPending
	j.CreatedAt = s.now()
	if j.MaxRetries == 0 {
		j.MaxRetries = DefaultMaxRetries
	}
	s.rows[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) Claim(_ context.Context, instance string, maxRows int, leaseDuration time.Duration) ([]types.DeploymentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var eligible []types.DeploymentJob
	for _, j := range s.rows {
		if j.Status != types.JobStatusPending && j.Status != types.JobStatusFailed {
			continue
		}
		if j.RetryCount >= j.MaxRetries {
			continue
		}
		if j.NextRetryAt != nil && j.NextRetryAt.After(now) {
			continue
		}
		eligible = append(eligible, j)
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].CreatedAt.Before(eligible[j].CreatedAt) })
	if len(eligible) > maxRows {
		eligible = eligible[:maxRows]
	}

	claimed := make([]types.DeploymentJob, 0, len(eligible))
	for _, j := range eligible {
		started := now
		lockedUntil := now.Add(leaseDuration)
		j.Status = types.JobStatusRunning
		j.StartedAt = &started
		j.LockedUntil = &lockedUntil
		j.ProcessingInstance = instance
		s.rows[j.ID] = j
		claimed = append(claimed, j)
	}
	return claimed, nil
}

func (s *InMemoryStore) Complete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[id]
	if !ok {
		return apperrors.NewNotFoundError("deployment job")
	}
	now := s.now()
	j.Status = types.JobStatusSucceeded
	j.CompletedAt = &now
	j.LockedUntil = nil
	s.rows[id] = j
	return nil
}

func (s *InMemoryStore) Fail(_ context.Context, id int64, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[id]
	if !ok {
		return apperrors.NewNotFoundError("deployment job")
	}
	j.RetryCount++
	j.ErrorMessage = errMessage
	j.LockedUntil = nil
	j.Status = types.JobStatusFailed
	if j.RetryCount < j.MaxRetries {
		next := s.now().Add(backoff(j.RetryCount))
		j.NextRetryAt = &next
	} else {
		j.NextRetryAt = nil
	}
	s.rows[id] = j
	return nil
}

func (s *InMemoryStore) RecoverOrphaned(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recovered := 0
	for id, j := range s.rows {
		if j.Status == types.JobStatusRunning && j.LockedUntil != nil && j.LockedUntil.Before(now) {
			j.RetryCount++
			j.ErrorMessage = "orphaned lease"
			j.LockedUntil = nil
			j.Status = types.JobStatusFailed
			if j.RetryCount < j.MaxRetries {
				next := now.Add(backoff(j.RetryCount))
				j.NextRetryAt = &next
			}
			s.rows[id] = j
			recovered++
		}
	}
	return recovered, nil
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (types.DeploymentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[id]
	if !ok {
		return types.DeploymentJob{}, apperrors.NewNotFoundError("deployment job")
	}
	return j, nil
}

func (s *InMemoryStore) GetByDeploymentID(_ context.Context, deploymentID string) (types.DeploymentJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.rows {
		if j.DeploymentID == deploymentID {
			return j, nil
		}
	}
	return types.DeploymentJob{}, apperrors.NewNotFoundError("deployment job")
}

func (s *InMemoryStore) PruneTerminal(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	for id, j := range s.rows {
		terminal := j.Status == types.JobStatusSucceeded || j.Status == types.JobStatusCancelled ||
			(j.Status == types.JobStatusFailed && j.RetryCount >= j.MaxRetries)
		if terminal && j.CompletedAt != nil && j.CompletedAt.Before(olderThan) {
			delete(s.rows, id)
			pruned++
		}
	}
	return pruned, nil
}
