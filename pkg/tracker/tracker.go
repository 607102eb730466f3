// Package tracker implements the in-memory pipeline state index described
// in spec §2.4: every DeploymentOrchestrator instance keeps an append-only
// record of each pipeline's stage progression, keyed by execution id, and
// evicts terminal entries after a retention window.
package tracker

import (
	"sync"
	"time"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// DefaultRetention is how long a terminal pipeline's state stays queryable
// after it finishes, per spec §2.4.
const DefaultRetention = 24 * time.Hour

// DeploymentTracker holds one PipelineExecutionState per execution id.
// Mutation is always append-only: stages are added or updated in place,
// never removed, until the whole entry is evicted.
type DeploymentTracker struct {
	mu        sync.RWMutex
	states    map[string]*types.PipelineExecutionState
	retention time.Duration
	now       func() time.Time
}

func New(retention time.Duration) *DeploymentTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &DeploymentTracker{
		states:    make(map[string]*types.PipelineExecutionState),
		retention: retention,
		now:       time.Now,
	}
}

// Start creates the tracked state for a new pipeline, in Created status.
func (t *DeploymentTracker) Start(request types.DeploymentRequest) *types.PipelineExecutionState {
	state := &types.PipelineExecutionState{
		ExecutionID:  request.ExecutionID,
		Request:      request,
		Status:       types.PipelineStatusCreated,
		Stages:       nil,
		LastUpdated:  t.now(),
	}
	t.mu.Lock()
	t.states[request.ExecutionID] = state
	t.mu.Unlock()
	return state
}

// Get returns a copy of the tracked state for executionID.
func (t *DeploymentTracker) Get(executionID string) (types.PipelineExecutionState, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	state, ok := t.states[executionID]
	if !ok {
		return types.PipelineExecutionState{}, apperrors.NewNotFoundError("deployment execution " + executionID)
	}
	return *state, nil
}

// List returns a copy of every tracked state, most-recently-updated first.
func (t *DeploymentTracker) List() []types.PipelineExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.PipelineExecutionState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, *s)
	}
	sortByLastUpdatedDesc(out)
	return out
}

// SetStatus transitions a pipeline's overall status.
func (t *DeploymentTracker) SetStatus(executionID string, status types.PipelineStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[executionID]
	if !ok {
		return apperrors.NewNotFoundError("deployment execution " + executionID)
	}
	state.Status = status
	state.LastUpdated = t.now()
	return nil
}

// SetError records a terminal failure message alongside the Failed status.
func (t *DeploymentTracker) SetError(executionID string, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[executionID]
	if !ok {
		return apperrors.NewNotFoundError("deployment execution " + executionID)
	}
	state.Status = types.PipelineStatusFailed
	state.ErrorMessage = message
	state.LastUpdated = t.now()
	return nil
}

// UpsertStage adds stage if it is new, or overwrites the existing stage of
// the same name. Stages within a pipeline never disappear once recorded.
func (t *DeploymentTracker) UpsertStage(executionID string, stage types.PipelineStage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[executionID]
	if !ok {
		return apperrors.NewNotFoundError("deployment execution " + executionID)
	}
	for i := range state.Stages {
		if state.Stages[i].Name == stage.Name {
			state.Stages[i] = stage
			state.CurrentStage = stage.Name
			state.LastUpdated = t.now()
			return nil
		}
	}
	state.Stages = append(state.Stages, stage)
	state.CurrentStage = stage.Name
	state.LastUpdated = t.now()
	return nil
}

// Prune removes terminal pipelines whose LastUpdated is older than the
// tracker's retention window. It returns the number of entries removed.
func (t *DeploymentTracker) Prune() int {
	cutoff := t.now().Add(-t.retention)
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.states {
		if s.Status.Terminal() && s.LastUpdated.Before(cutoff) {
			delete(t.states, id)
			removed++
		}
	}
	return removed
}

func sortByLastUpdatedDesc(states []types.PipelineExecutionState) {
	for i := 1; i < len(states); i++ {
		j := i
		for j > 0 && states[j-1].LastUpdated.Before(states[j].LastUpdated) {
			states[j-1], states[j] = states[j], states[j-1]
			j--
		}
	}
}
