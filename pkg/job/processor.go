package job

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// Executor runs one pipeline to completion. orchestrator.PipelineOrchestrator
// satisfies this; kept as a narrow interface so the processor doesn't
// depend on the orchestrator package's full surface.
type Executor interface {
	Execute(ctx context.Context, req types.DeploymentRequest) error
}

// Processor is the long-running worker spec §4.7 describes: one per
// orchestrator replica, claiming leased batches and running them in
// parallel.
type Processor struct {
	store    Store
	executor Executor
	logger   logrus.FieldLogger
	instance string

	MaxConcurrentJobs int
	LeaseDuration     time.Duration
	PollInterval      time.Duration

	sleep func(time.Duration)
}

func NewProcessor(store Store, executor Executor, logger logrus.FieldLogger) *Processor {
	return &Processor{
		store:             store,
		executor:          executor,
		logger:            logger,
		instance:          hostname(),
		MaxConcurrentJobs: DefaultMaxConcurrentJobs,
		LeaseDuration:     DefaultLeaseDuration,
		PollInterval:      DefaultPollInterval,
		sleep:             time.Sleep,
	}
}

// Run loops claim -> execute -> sleep until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := p.store.RecoverOrphaned(ctx, time.Now()); err != nil {
			p.logger.WithError(err).Warn("failed to recover orphaned leases this cycle")
		}

		if err := p.runOnce(ctx); err != nil {
			p.logger.WithError(err).Warn("job processor cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-after(p.sleep, p.PollInterval):
		}
	}
}

func after(sleep func(time.Duration), d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		sleep(d)
		close(ch)
	}()
	return ch
}

func (p *Processor) runOnce(ctx context.Context) error {
	claimed, err := p.store.Claim(ctx, p.instance, p.MaxConcurrentJobs, p.LeaseDuration)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range claimed {
		j := j
		g.Go(func() error {
			p.runJob(gctx, j)
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) runJob(ctx context.Context, j types.DeploymentJob) {
	logger := p.logger.WithField("job_id", j.ID).WithField("deployment_id", j.DeploymentID)

	req := types.DeploymentRequest{
		ExecutionID:        j.DeploymentID,
		ModuleName:         j.ModuleName,
		Version:            j.Version,
		TargetEnvironment:  j.Environment,
		Strategy:           j.Strategy,
		RequireApproval:    j.RequireApproval,
		RequesterEmail:     j.RequesterEmail,
		ApproverEmails:     j.ApproverEmails,
		Metadata:           j.Metadata,
	}

	err := p.executor.Execute(ctx, req)
	if err == nil {
		if err := p.store.Complete(ctx, j.ID); err != nil {
			logger.WithError(err).Error("failed to mark job succeeded")
		}
		return
	}

	logger.WithError(err).Warn("pipeline execution failed, recording for retry")
	if err := p.store.Fail(ctx, j.ID, err.Error()); err != nil {
		logger.WithError(err).Error("failed to record job failure")
	}
}
