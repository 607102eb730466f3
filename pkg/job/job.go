// Package job implements the durable outbox + leased job table spec §4.7
// describes: DeploymentJob rows drive every pipeline execution so work
// survives replica restarts, claimed via SELECT ... FOR UPDATE SKIP
// LOCKED leases and retried with exponential backoff on failure.
package job

import (
	"context"
	"time"

	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

const (
	DefaultMaxConcurrentJobs = 10
	DefaultLeaseDuration     = 10 * time.Minute
	DefaultPollInterval      = 5 * time.Second
	DefaultMaxRetries        = 5
)

// Store is the durable job-table contract. Claim implements the lease
// query in spec §4.7 step 1; Complete/Fail/Retry implement step 2;
// RecoverOrphaned implements the lease-recovery sweep.
type Store interface {
	Enqueue(ctx context.Context, j types.DeploymentJob) (int64, error)
	// Claim leases up to maxRows eligible jobs for this instance and
	// returns them already marked Running.
	Claim(ctx context.Context, instance string, maxRows int, leaseDuration time.Duration) ([]types.DeploymentJob, error)
	Complete(ctx context.Context, id int64) error
	// Fail increments RetryCount and either schedules a retry
	// (Status=Failed, NextRetryAt set) or, if retries are exhausted,
	// leaves the row permanently Failed with errMessage recorded.
	Fail(ctx context.Context, id int64, errMessage string) error
	// RecoverOrphaned moves every Running row whose LockedUntil has
	// passed back into the retry pool, returning how many it recovered.
	RecoverOrphaned(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, id int64) (types.DeploymentJob, error)
	// GetByDeploymentID looks a row up by its DeploymentID (the pipeline
	// ExecutionID) rather than its row ID. Used by the API's GET
	// /deployments/{id} fallback once the tracker has pruned an
	// execution but its job row is still around.
	GetByDeploymentID(ctx context.Context, deploymentID string) (types.DeploymentJob, error)
	// PruneTerminal deletes terminal (Succeeded/Cancelled, and
	// permanently Failed) rows whose CompletedAt is older than olderThan.
	// Rows without CompletedAt are kept; Fail never sets it, so
	// permanently Failed rows are not removed. SPEC_FULL.md §4
	// supplement: the spec calls retention out of scope, but an
	// unbounded table makes the lease query slower over time.
	PruneTerminal(ctx context.Context, olderThan time.Time) (int, error)
}

// backoff implements spec §4.7 step 2's schedule: 2^RetryCount minutes
// (2, 4, 8, 16 ...), where retryCount is the count after incrementing.
func backoff(retryCount int) time.Duration {
	return time.Duration(1<<uint(retryCount)) * time.Minute
}
