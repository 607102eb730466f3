// Package types holds the data model shared across the deployment
// orchestrator core: module identity, environments, strategies, nodes,
// clusters, jobs, approvals and pipeline state. Keeping these in one leaf
// package (mirroring the teacher's pkg/infrastructure/types convention)
// avoids import cycles between cluster, strategy, tracker and orchestrator.
package types

import "time"

// Environment enumerates the deployment targets §3 defines.
type Environment string

const (
	EnvironmentDevelopment Environment = "Development"
	EnvironmentQA          Environment = "QA"
	EnvironmentStaging     Environment = "Staging"
	EnvironmentProduction  Environment = "Production"
)

func (e Environment) Valid() bool {
	switch e {
	case EnvironmentDevelopment, EnvironmentQA, EnvironmentStaging, EnvironmentProduction:
		return true
	default:
		return false
	}
}

// Strategy enumerates the four deployment strategies §4.4 defines.
type Strategy string

const (
	StrategyDirect    Strategy = "Direct"
	StrategyRolling   Strategy = "Rolling"
	StrategyBlueGreen Strategy = "BlueGreen"
	StrategyCanary    Strategy = "Canary"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyDirect, StrategyRolling, StrategyBlueGreen, StrategyCanary:
		return true
	default:
		return false
	}
}

// ModuleRef is the opaque module identity the core deploys. Version is not
// parsed as semver anywhere in the core.
type ModuleRef struct {
	ModuleName string
	Version    string
}

// NodeStatus is a node's last-observed health classification.
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "Healthy"
	NodeStatusUnhealthy NodeStatus = "Unhealthy"
	NodeStatusUnknown   NodeStatus = "Unknown"
)

// NodeInfo is the immutable-enough-for-a-snapshot description of a worker
// node. Hostname/Port address the node's deploy agent; LastHeartbeat and
// Status are refreshed by GetHealth.
type NodeInfo struct {
	NodeID        string
	Hostname      string
	Port          int
	Environment   Environment
	LastHeartbeat time.Time
	Status        NodeStatus
}

// NodeDeploymentResult is returned by Node.DeployModule.
type NodeDeploymentResult struct {
	NodeID   string
	Success  bool
	Message  string
	Duration time.Duration
}

// NodeRollbackResult is returned by Node.RollbackModule.
type NodeRollbackResult struct {
	NodeID  string
	Success bool
	Message string
}

// NodeHealth is returned by Node.GetHealth.
type NodeHealth struct {
	NodeID        string
	IsHealthy     bool
	Status        NodeStatus
	LastHeartbeat time.Time
}

// DeploymentRequest is the validated input to a pipeline execution.
type DeploymentRequest struct {
	ExecutionID       string
	ModuleName        string
	Version           string
	TargetEnvironment Environment
	Strategy          Strategy
	RequireApproval   bool
	RequesterEmail    string
	Description       string
	Metadata          map[string]string
	ApproverEmails    []string
	ApprovalTimeout   time.Duration
	IdempotencyKey    string
}

// StageStatus is the lifecycle of one PipelineExecutionState stage.
type StageStatus string

const (
	StageStatusPending   StageStatus = "Pending"
	StageStatusRunning   StageStatus = "Running"
	StageStatusSucceeded StageStatus = "Succeeded"
	StageStatusFailed    StageStatus = "Failed"
	StageStatusSkipped   StageStatus = "Skipped"
)

// PipelineStage is one append-only entry in a PipelineExecutionState.
type PipelineStage struct {
	Name          string
	Status        StageStatus
	StartTime     time.Time
	Duration      time.Duration
	NodesDeployed int
	NodesFailed   int
	Detail        string
}

// PipelineStatus is the orchestrator's internal execution status, richer
// than the HTTP-facing status string (see internal/api's statusFromPipeline).
type PipelineStatus string

const (
	PipelineStatusCreated          PipelineStatus = "Created"
	PipelineStatusValidating       PipelineStatus = "Validating"
	PipelineStatusAwaitingApproval PipelineStatus = "AwaitingApproval"
	PipelineStatusAcquiring        PipelineStatus = "Acquiring"
	PipelineStatusExecuting        PipelineStatus = "Executing"
	PipelineStatusFinalizing       PipelineStatus = "Finalizing"
	PipelineStatusSucceeded        PipelineStatus = "Succeeded"
	PipelineStatusFailed           PipelineStatus = "Failed"
	PipelineStatusCancelled        PipelineStatus = "Cancelled"
)

func (s PipelineStatus) Terminal() bool {
	switch s {
	case PipelineStatusSucceeded, PipelineStatusFailed, PipelineStatusCancelled:
		return true
	default:
		return false
	}
}

// PipelineExecutionState is the tracker's in-memory record of one execution.
type PipelineExecutionState struct {
	ExecutionID string
	Request     DeploymentRequest
	Status      PipelineStatus
	CurrentStage string
	Stages      []PipelineStage
	LastUpdated time.Time
	ErrorMessage string
}

// DeploymentResult is the outcome strategies return (§4.4's shared
// contract) and the orchestrator folds into the tracker/job row.
type DeploymentResult struct {
	Strategy           Strategy
	Environment        Environment
	Success            bool
	Message            string
	StartTime          time.Time
	EndTime            time.Time
	NodeResults        []NodeDeploymentResult
	RollbackPerformed  bool
	RollbackResults    []NodeRollbackResult
	RollbackSuccessful bool
	Exception          error
}

// JobStatus is the durable deployment_jobs row lifecycle (§3).
type JobStatus string

const (
	JobStatusPending   JobStatus = "Pending"
	JobStatusRunning   JobStatus = "Running"
	JobStatusSucceeded JobStatus = "Succeeded"
	JobStatusFailed    JobStatus = "Failed"
	JobStatusCancelled JobStatus = "Cancelled"
)

// DeploymentJob is the durable outbox row driving one pipeline execution.
type DeploymentJob struct {
	ID                  int64
	DeploymentID        string
	ModuleName          string
	Version             string
	Environment         Environment
	Strategy            Strategy
	RequireApproval     bool
	RequesterEmail      string
	ApproverEmails      []string
	Metadata            map[string]string
	Status              JobStatus
	CreatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
	RetryCount          int
	MaxRetries          int
	NextRetryAt         *time.Time
	LockedUntil         *time.Time
	ProcessingInstance  string
	ErrorMessage        string
}

// ApprovalStatus is the ApprovalRequest lifecycle (§4.5).
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "Pending"
	ApprovalStatusApproved ApprovalStatus = "Approved"
	ApprovalStatusRejected ApprovalStatus = "Rejected"
	ApprovalStatusExpired  ApprovalStatus = "Expired"
)

func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalStatusApproved || s == ApprovalStatusRejected || s == ApprovalStatusExpired
}

// ApprovalRequest is the durable approval-gate row (§3).
type ApprovalRequest struct {
	DeploymentExecutionID string
	ApprovalID            string
	RequesterEmail        string
	Environment           Environment
	ModuleName            string
	Version               string
	Status                ApprovalStatus
	ApproverEmails        []string
	RequestedAt           time.Time
	TimeoutAt             time.Time
	RespondedAt           *time.Time
	RespondedByEmail      string
	ResponseReason        string
}
