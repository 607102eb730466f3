// Package orchestrator implements PipelineOrchestrator, the state machine
// spec §4.6 calls "the heart of the core": Created -> Validating ->
// AwaitingApproval? -> Acquiring -> Executing -> Finalizing ->
// {Succeeded, Failed}, with a Cancelled exit from AwaitingApproval or
// Executing.
package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/approval"
	"github.com/kubernaut-deploy/orchestrator/pkg/cluster"
	"github.com/kubernaut-deploy/orchestrator/pkg/events"
	"github.com/kubernaut-deploy/orchestrator/pkg/lock"
	sharedlog "github.com/kubernaut-deploy/orchestrator/pkg/shared/logging"
	"github.com/kubernaut-deploy/orchestrator/pkg/strategy"
	"github.com/kubernaut-deploy/orchestrator/pkg/tracker"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
	"github.com/google/uuid"
)

const (
	DefaultAcquireTimeout       = 30 * time.Second
	DefaultApprovalTimeout      = 30 * time.Minute
	DefaultCancellationGrace    = 30 * time.Second
)

// Orchestrator wires together every collaborator a single pipeline
// execution needs: the cluster registry, the distributed lock, the
// in-memory tracker, the approval service, the strategy set, and the
// event sink.
type Orchestrator struct {
	registry   *cluster.Registry
	locker     lock.Locker
	tracker    *tracker.DeploymentTracker
	approvals  *approval.Service
	strategies map[types.Strategy]strategy.Strategy
	events     events.Sink
	logger     logrus.FieldLogger

	AcquireTimeout    time.Duration
	ApprovalTimeout   time.Duration
	CancellationGrace time.Duration
}

func New(
	registry *cluster.Registry,
	locker lock.Locker,
	t *tracker.DeploymentTracker,
	approvals *approval.Service,
	strategies []strategy.Strategy,
	sink events.Sink,
	logger logrus.FieldLogger,
) *Orchestrator {
	byName := make(map[types.Strategy]strategy.Strategy, len(strategies))
	for _, s := range strategies {
		byName[s.Name()] = s
	}
	return &Orchestrator{
		registry:          registry,
		locker:            locker,
		tracker:           t,
		approvals:         approvals,
		strategies:        byName,
		events:            sink,
		logger:            logger,
		AcquireTimeout:    DefaultAcquireTimeout,
		ApprovalTimeout:   DefaultApprovalTimeout,
		CancellationGrace: DefaultCancellationGrace,
	}
}

// Execute drives one DeploymentRequest through the full state machine.
// It satisfies job.Executor.
func (o *Orchestrator) Execute(ctx context.Context, request types.DeploymentRequest) error {
	if request.ExecutionID == "" {
		request.ExecutionID = uuid.NewString()
	}
	fields := sharedlog.NewFields().
		Component("orchestrator").
		Operation("execute").
		ExecutionID(request.ExecutionID).
		Module(request.ModuleName, request.Version).
		Environment(string(request.TargetEnvironment))
	logger := o.logger.WithFields(logrus.Fields(fields))
	logger.Info("starting deployment pipeline")

	state := o.tracker.Start(request)
	_ = state

	nodes, err := o.validate(ctx, request)
	if err != nil {
		o.fail(request.ExecutionID, err)
		logger.WithFields(logrus.Fields(fields.Err(err))).Warn("pipeline failed validation")
		return err
	}

	if request.RequireApproval {
		if err := o.awaitApproval(ctx, request); err != nil {
			if ctx.Err() != nil {
				o.cancel(request.ExecutionID)
				return ctx.Err()
			}
			o.fail(request.ExecutionID, err)
			return err
		}
	}

	handle, err := o.acquire(ctx, request)
	if err != nil {
		o.fail(request.ExecutionID, err)
		return err
	}
	defer func() {
		if err := handle.Release(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to release deployment lock")
		}
	}()

	started := time.Now()
	result, execErr := o.executeStrategy(ctx, request, nodes)
	finalErr := o.finalize(ctx, request, result, execErr)

	doneFields := fields.Duration(time.Since(started))
	if finalErr != nil {
		logger.WithFields(logrus.Fields(doneFields.Err(finalErr))).Warn("pipeline finished with an error")
	} else {
		logger.WithFields(logrus.Fields(doneFields)).Info("pipeline finished successfully")
	}
	return finalErr
}

func (o *Orchestrator) validate(ctx context.Context, request types.DeploymentRequest) ([]cluster.Node, error) {
	_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
		Name: "Validating", Status: types.StageStatusRunning, StartTime: time.Now(),
	})
	_ = o.tracker.SetStatus(request.ExecutionID, types.PipelineStatusValidating)

	if request.ModuleName == "" || request.Version == "" {
		return nil, apperrors.NewValidationError("module_name and version are required")
	}
	if !request.TargetEnvironment.Valid() {
		return nil, apperrors.NewUnknownEnvironmentError(string(request.TargetEnvironment))
	}
	if !request.Strategy.Valid() {
		return nil, apperrors.NewUnknownStrategyError(string(request.Strategy))
	}
	c, err := o.registry.Get(request.TargetEnvironment)
	if err != nil {
		return nil, err
	}
	nodes := c.Snapshot()
	if len(nodes) == 0 {
		return nil, apperrors.NewValidationError("cluster for " + string(request.TargetEnvironment) + " has no nodes")
	}

	_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
		Name: "Validating", Status: types.StageStatusSucceeded, StartTime: time.Now(),
	})
	return nodes, nil
}

// awaitApproval blocks until the request is approved, rejected, expired,
// or ctx is cancelled. It returns nil only once Approved; every other
// outcome returns the terminal *apperrors.AppError, leaving it to the
// caller to record the failure uniformly via o.fail.
func (o *Orchestrator) awaitApproval(ctx context.Context, request types.DeploymentRequest) error {
	_ = o.tracker.SetStatus(request.ExecutionID, types.PipelineStatusAwaitingApproval)
	_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
		Name: "AwaitingApproval", Status: types.StageStatusRunning, StartTime: time.Now(),
	})

	timeout := request.ApprovalTimeout
	if timeout <= 0 {
		timeout = o.ApprovalTimeout
	}
	if _, err := o.approvals.RequestApproval(ctx, request.ExecutionID, uuid.NewString(), request, timeout); err != nil {
		return err
	}

	decision, err := o.approvals.WaitForApproval(ctx, request.ExecutionID)
	if err != nil {
		return err
	}

	switch decision.Status {
	case types.ApprovalStatusApproved:
		_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
			Name: "AwaitingApproval", Status: types.StageStatusSucceeded, StartTime: time.Now(),
		})
		return nil
	case types.ApprovalStatusRejected:
		return apperrors.New(apperrors.ErrorTypeApprovalRejected, "deployment rejected by approver").
			WithDetails(decision.ResponseReason)
	case types.ApprovalStatusExpired:
		return apperrors.New(apperrors.ErrorTypeApprovalExpired, "approval request timed out")
	default:
		return apperrors.Newf(apperrors.ErrorTypeInternal, "unexpected approval status %s", decision.Status)
	}
}

func (o *Orchestrator) acquire(ctx context.Context, request types.DeploymentRequest) (lock.Handle, error) {
	_ = o.tracker.SetStatus(request.ExecutionID, types.PipelineStatusAcquiring)
	_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
		Name: "Acquiring", Status: types.StageStatusRunning, StartTime: time.Now(),
	})

	resource := lock.ResourceKey(string(request.TargetEnvironment), request.ModuleName)
	handle, err := o.locker.AcquireLock(ctx, resource, o.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
		Name: "Acquiring", Status: types.StageStatusSucceeded, StartTime: time.Now(),
	})
	return handle, nil
}

func (o *Orchestrator) executeStrategy(ctx context.Context, request types.DeploymentRequest, nodes []cluster.Node) (types.DeploymentResult, error) {
	_ = o.tracker.SetStatus(request.ExecutionID, types.PipelineStatusExecuting)
	stageStart := time.Now()
	_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
		Name: string(request.Strategy), Status: types.StageStatusRunning, StartTime: stageStart,
	})
	o.events.Emit(events.Event{
		Name: events.DeploymentStarted, ExecutionID: request.ExecutionID, OccurredAt: time.Now(),
	})

	s, ok := o.strategies[request.Strategy]
	if !ok {
		return types.DeploymentResult{}, apperrors.NewUnknownStrategyError(string(request.Strategy))
	}

	execCtx, cancel := o.cancellationGraceContext(ctx)
	defer cancel()

	result := s.Deploy(execCtx, request, nodes)

	deployed, failed := countNodeOutcomes(result.NodeResults)
	stageStatus := types.StageStatusSucceeded
	if !result.Success {
		stageStatus = types.StageStatusFailed
	}
	_ = o.tracker.UpsertStage(request.ExecutionID, types.PipelineStage{
		Name: string(request.Strategy), Status: stageStatus, StartTime: stageStart,
		Duration: time.Since(stageStart), NodesDeployed: deployed, NodesFailed: failed,
	})

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if !result.Success {
		return result, apperrors.New(apperrors.ErrorTypeStrategyFailure, result.Message)
	}
	return result, nil
}

// cancellationGraceContext lets in-flight node operations finish within a
// bounded grace period after the caller's ctx is cancelled, per spec
// §4.6's cancellation handling, instead of aborting them instantly: the
// returned context drops ctx's cancellation signal but keeps its values,
// and is itself cancelled once the grace period has passed after ctx is
// cancelled.
func (o *Orchestrator) cancellationGraceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	grace := o.CancellationGrace
	if grace <= 0 {
		grace = DefaultCancellationGrace
	}
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() { time.AfterFunc(grace, cancel) })
	return execCtx, func() {
		stop()
		cancel()
	}
}

func (o *Orchestrator) finalize(ctx context.Context, request types.DeploymentRequest, result types.DeploymentResult, execErr error) error {
	_ = o.tracker.SetStatus(request.ExecutionID, types.PipelineStatusFinalizing)

	deployed, failed := countNodeOutcomes(result.NodeResults)

	if execErr != nil {
		if ctx.Err() != nil {
			o.cancel(request.ExecutionID)
			o.events.Emit(events.Event{
				Name: events.DeploymentCancelled, ExecutionID: request.ExecutionID, OccurredAt: time.Now(),
				Attributes: map[string]interface{}{"nodes_deployed": deployed, "nodes_failed": failed},
			})
			return ctx.Err()
		}
		o.fail(request.ExecutionID, execErr)
		o.events.Emit(events.Event{
			Name: events.DeploymentFailed, ExecutionID: request.ExecutionID, OccurredAt: time.Now(),
			Attributes: map[string]interface{}{"nodes_deployed": deployed, "nodes_failed": failed, "error": execErr.Error()},
		})
		return execErr
	}

	_ = o.tracker.SetStatus(request.ExecutionID, types.PipelineStatusSucceeded)
	o.events.Emit(events.Event{
		Name: events.DeploymentSucceeded, ExecutionID: request.ExecutionID, OccurredAt: time.Now(),
		Attributes: map[string]interface{}{"nodes_deployed": deployed, "nodes_failed": failed},
	})
	return nil
}

func (o *Orchestrator) fail(executionID string, err error) {
	_ = o.tracker.SetError(executionID, err.Error())
}

func (o *Orchestrator) cancel(executionID string) {
	_ = o.tracker.SetStatus(executionID, types.PipelineStatusCancelled)
}

func countNodeOutcomes(results []types.NodeDeploymentResult) (deployed, failed int) {
	for _, r := range results {
		if r.Success {
			deployed++
		} else {
			failed++
		}
	}
	return deployed, failed
}
