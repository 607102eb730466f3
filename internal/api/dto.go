package api

import (
	"time"

	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// createDeploymentRequest is the POST /deployments body, validated with
// go-playground/validator tags the way the teacher's request-body structs
// are annotated.
type createDeploymentRequest struct {
	ModuleName         string            `json:"ModuleName" validate:"required"`
	Version            string            `json:"Version" validate:"required"`
	TargetEnvironment  string            `json:"TargetEnvironment" validate:"required"`
	DeploymentStrategy string            `json:"DeploymentStrategy" validate:"required"`
	RequireApproval    bool              `json:"RequireApproval"`
	RequesterEmail     string            `json:"RequesterEmail" validate:"required,email"`
	Description        string            `json:"Description"`
	Metadata           map[string]string `json:"Metadata"`
	ApproverEmails     []string          `json:"ApproverEmails"`
}

type createDeploymentResponse struct {
	ExecutionID       string    `json:"ExecutionId"`
	Status            string    `json:"Status"`
	StartTime         time.Time `json:"StartTime"`
	EstimatedDuration string    `json:"EstimatedDuration"`
	TraceID           string    `json:"TraceId"`
	Links             links     `json:"Links"`
}

type links struct {
	Self string `json:"self"`
}

type stageDTO struct {
	Name          string `json:"Name"`
	Status        string `json:"Status"`
	NodesDeployed int    `json:"NodesDeployed"`
	NodesFailed   int    `json:"NodesFailed"`
	DurationMS    int64  `json:"DurationMs"`
	Detail        string `json:"Detail,omitempty"`
}

type deploymentStatusResponse struct {
	ExecutionID string     `json:"ExecutionId"`
	ModuleName  string     `json:"ModuleName"`
	Version     string     `json:"Version"`
	Status      string     `json:"Status"`
	Stages      []stageDTO `json:"Stages"`
	DurationMS  int64      `json:"DurationMs"`
	Error       string     `json:"Error,omitempty"`
}

type deploymentSummaryDTO struct {
	ExecutionID string `json:"ExecutionId"`
	ModuleName  string `json:"ModuleName"`
	Version     string `json:"Version"`
	Environment string `json:"Environment"`
	Status      string `json:"Status"`
}

type rollbackResponse struct {
	RollbackID    string `json:"RollbackId"`
	Status        string `json:"Status"`
	NodesAffected int    `json:"NodesAffected"`
}

type approvalDecisionRequest struct {
	ApproverEmail string `json:"approverEmail" validate:"required,email"`
	Reason        string `json:"reason"`
}

type nodeDTO struct {
	NodeID string `json:"NodeId"`
	Status string `json:"Status"`
}

type clusterSummaryDTO struct {
	Environment    string `json:"Environment"`
	TotalNodes     int    `json:"TotalNodes"`
	HealthyNodes   int    `json:"HealthyNodes"`
	UnhealthyNodes int    `json:"UnhealthyNodes"`
}

type clusterDetailDTO struct {
	Environment    string    `json:"Environment"`
	TotalNodes     int       `json:"TotalNodes"`
	HealthyNodes   int       `json:"HealthyNodes"`
	UnhealthyNodes int       `json:"UnhealthyNodes"`
	Nodes          []nodeDTO `json:"Nodes"`
}

type dataPointDTO struct {
	Timestamp    time.Time `json:"Timestamp"`
	ErrorRate    float64   `json:"ErrorRate"`
	AvgLatencyMS float64   `json:"AvgLatencyMs"`
}

type clusterMetricsResponse struct {
	Environment string         `json:"Environment"`
	DataPoints  []dataPointDTO `json:"DataPoints"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFromPipeline maps the orchestrator's internal PipelineStatus onto
// the narrower HTTP-facing vocabulary §6 promises callers.
func statusFromPipeline(s types.PipelineStatus) string {
	switch s {
	case types.PipelineStatusCreated:
		return "Pending"
	case types.PipelineStatusValidating, types.PipelineStatusAcquiring, types.PipelineStatusExecuting, types.PipelineStatusFinalizing:
		return "Running"
	case types.PipelineStatusAwaitingApproval:
		return "PendingApproval"
	case types.PipelineStatusSucceeded:
		return "Succeeded"
	case types.PipelineStatusFailed:
		return "Failed"
	case types.PipelineStatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

func toStageDTOs(stages []types.PipelineStage) []stageDTO {
	out := make([]stageDTO, 0, len(stages))
	for _, s := range stages {
		out = append(out, stageDTO{
			Name:          s.Name,
			Status:        string(s.Status),
			NodesDeployed: s.NodesDeployed,
			NodesFailed:   s.NodesFailed,
			DurationMS:    s.Duration.Milliseconds(),
			Detail:        s.Detail,
		})
	}
	return out
}
