package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/strategy"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req createDeploymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}

	env := types.Environment(req.TargetEnvironment)
	if !env.Valid() {
		writeError(w, apperrors.NewUnknownEnvironmentError(req.TargetEnvironment))
		return
	}
	strat := types.Strategy(req.DeploymentStrategy)
	if !strat.Valid() {
		writeError(w, apperrors.NewUnknownStrategyError(req.DeploymentStrategy))
		return
	}

	executionID := uuid.NewString()
	job := types.DeploymentJob{
		DeploymentID:    executionID,
		ModuleName:      req.ModuleName,
		Version:         req.Version,
		Environment:     env,
		Strategy:        strat,
		RequireApproval: req.RequireApproval,
		RequesterEmail:  req.RequesterEmail,
		ApproverEmails:  req.ApproverEmails,
		Metadata:        req.Metadata,
	}
	if _, err := s.jobs.Enqueue(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createDeploymentResponse{
		ExecutionID: executionID,
		Status:      "Accepted",
		StartTime:   time.Now().UTC(),
		TraceID:     middlewareRequestID(r),
		Links:       links{Self: "/api/v1/deployments/" + executionID},
	})
}

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if state, err := s.tracker.Get(id); err == nil {
		writeJSON(w, http.StatusOK, deploymentStatusResponse{
			ExecutionID: state.ExecutionID,
			ModuleName:  state.Request.ModuleName,
			Version:     state.Request.Version,
			Status:      statusFromPipeline(state.Status),
			Stages:      toStageDTOs(state.Stages),
			Error:       state.ErrorMessage,
		})
		return
	}

	j, err := s.jobs.GetByDeploymentID(r.Context(), id)
	if err != nil {
		writeError(w, apperrors.NewNotFoundError("deployment"))
		return
	}
	writeJSON(w, http.StatusOK, deploymentStatusResponse{
		ExecutionID: j.DeploymentID,
		ModuleName:  j.ModuleName,
		Version:     j.Version,
		Status:      statusFromJob(j.Status),
		Error:       j.ErrorMessage,
	})
}

func (s *Server) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	states := s.tracker.List()
	out := make([]deploymentSummaryDTO, 0, len(states))
	for _, st := range states {
		out = append(out, deploymentSummaryDTO{
			ExecutionID: st.ExecutionID,
			ModuleName:  st.Request.ModuleName,
			Version:     st.Request.Version,
			Environment: string(st.Request.TargetEnvironment),
			Status:      statusFromPipeline(st.Status),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRollback implements spec §6's manual rollback for a Succeeded or
// Failed execution. Any Failed execution is accepted; whether any of its
// nodes was deployed is not checked.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.tracker.Get(id)
	if err != nil {
		writeError(w, apperrors.NewNotFoundError("deployment"))
		return
	}
	if state.Status != types.PipelineStatusSucceeded && state.Status != types.PipelineStatusFailed {
		writeError(w, apperrors.New(apperrors.ErrorTypeConflict, "rollback is only valid for a Succeeded or Failed deployment"))
		return
	}

	c, err := s.registry.Get(state.Request.TargetEnvironment)
	if err != nil {
		writeError(w, err)
		return
	}
	nodes := c.Snapshot()
	results := strategy.RollbackAll(nodes, state.Request.ModuleName)

	allOK := true
	for _, res := range results {
		if !res.Success {
			allOK = false
		}
	}
	status := "Succeeded"
	if !allOK {
		status = "PartiallyFailed"
	}
	writeJSON(w, http.StatusOK, rollbackResponse{
		RollbackID:    uuid.NewString(),
		Status:        status,
		NodesAffected: len(results),
	})
}

// handleCancel implements the supplemented cancellation endpoint
// (SPEC_FULL §4): 202 if the execution is still cancellable, 409 if it has
// already reached a terminal state.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.tracker.Get(id)
	if err != nil {
		writeError(w, apperrors.NewNotFoundError("deployment"))
		return
	}
	if state.Status.Terminal() {
		writeError(w, apperrors.New(apperrors.ErrorTypeCancelled, "deployment has already reached a terminal state"))
		return
	}
	_ = s.tracker.SetStatus(id, types.PipelineStatusCancelled)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, s.approvals.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decideApproval(w, r, s.approvals.Reject)
}

func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id, email, reason string) error) {
	id := chi.URLParam(r, "id")
	var req approvalDecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, apperrors.NewValidationError("malformed request body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, apperrors.NewValidationError(err.Error()))
		return
	}
	if err := decide(r.Context(), id, req.ApproverEmail, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	envs := s.registry.Environments()
	out := make([]clusterSummaryDTO, 0, len(envs))
	for _, env := range envs {
		c, err := s.registry.Get(env)
		if err != nil {
			continue
		}
		healthy, unhealthy, _ := c.HealthSummary(r.Context())
		out = append(out, clusterSummaryDTO{
			Environment:    string(env),
			TotalNodes:     c.TotalNodes(),
			HealthyNodes:   healthy,
			UnhealthyNodes: unhealthy,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	env := types.Environment(chi.URLParam(r, "env"))
	c, err := s.registry.Get(env)
	if err != nil {
		writeError(w, err)
		return
	}
	healthy, unhealthy, details := c.HealthSummary(r.Context())
	nodes := make([]nodeDTO, 0, len(details))
	for _, n := range details {
		nodes = append(nodes, nodeDTO{NodeID: n.NodeID, Status: string(n.Status)})
	}
	writeJSON(w, http.StatusOK, clusterDetailDTO{
		Environment:    string(env),
		TotalNodes:     c.TotalNodes(),
		HealthyNodes:   healthy,
		UnhealthyNodes: unhealthy,
		Nodes:          nodes,
	})
}

// handleClusterMetrics backs SPEC_FULL §4's supplemented metrics route
// with the in-memory ring-buffer samples pkg/metrics.Provider keeps; it
// never reaches out to an external metrics system (non-goal: export).
func (s *Server) handleClusterMetrics(w http.ResponseWriter, r *http.Request) {
	env := types.Environment(chi.URLParam(r, "env"))
	if _, err := s.registry.Get(env); err != nil {
		writeError(w, err)
		return
	}
	limit := 100
	samples := s.metrics.Recent(env, limit)
	points := make([]dataPointDTO, 0, len(samples))
	for _, sample := range samples {
		points = append(points, dataPointDTO{
			Timestamp:    sample.ObservedAt,
			ErrorRate:    sample.ErrorRate,
			AvgLatencyMS: sample.AvgLatencyMS,
		})
	}
	writeJSON(w, http.StatusOK, clusterMetricsResponse{Environment: string(env), DataPoints: points})
}

func statusFromJob(s types.JobStatus) string {
	switch s {
	case types.JobStatusPending:
		return "Pending"
	case types.JobStatusRunning:
		return "Running"
	case types.JobStatusSucceeded:
		return "Succeeded"
	case types.JobStatusFailed:
		return "Failed"
	case types.JobStatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

func middlewareRequestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
