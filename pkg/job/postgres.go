package job

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// PostgresStore implements Store over the deployment_jobs table using
// pgxpool directly (rather than sqlx) so Claim can issue a single
// SELECT ... FOR UPDATE SKIP LOCKED statement inside an explicit
// transaction, per spec §4.7 step 1.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logrus.FieldLogger
}

func NewPostgresStore(pool *pgxpool.Pool, logger logrus.FieldLogger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

func (s *PostgresStore) Enqueue(ctx context.Context, j types.DeploymentJob) (int64, error) {
	approvers, _ := json.Marshal(j.ApproverEmails)
	metadata, _ := json.Marshal(j.Metadata)
	maxRetries := j.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	const q = `
		INSERT INTO deployment_jobs
			(deployment_id, module_name, version, environment, strategy, require_approval,
			 requester_email, approver_emails, metadata, status, created_at, retry_count, max_retries)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'Pending', now(), 0, $10)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, q,
		j.DeploymentID, j.ModuleName, j.Version, string(j.Environment), string(j.Strategy),
		j.RequireApproval, j.RequesterEmail, approvers, metadata, maxRetries,
	).Scan(&id)
	if err != nil {
		return 0, apperrors.NewDatabaseError("enqueue deployment job", err)
	}
	return id, nil
}

func (s *PostgresStore) Claim(ctx context.Context, instance string, maxRows int, leaseDuration time.Duration) ([]types.DeploymentJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("begin claim transaction", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		SELECT id FROM deployment_jobs
		WHERE status IN ('Pending', 'Failed')
		  AND (next_retry_at IS NULL OR next_retry_at <= now())
		  AND retry_count < max_retries
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, selectQ, maxRows)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select claimable jobs", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, apperrors.NewDatabaseError("scan claimable job id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	const updateQ = `
		UPDATE deployment_jobs
		SET status = 'Running', started_at = now(), locked_until = now() + make_interval(secs => $1), processing_instance = $2
		WHERE id = ANY($3)
		RETURNING id, deployment_id, module_name, version, environment, strategy, require_approval,
		          requester_email, approver_emails, metadata, status, created_at, started_at,
		          completed_at, retry_count, max_retries, next_retry_at, locked_until, processing_instance, error_message`

	updated, err := tx.Query(ctx, updateQ, leaseDuration.Seconds(), instance, ids)
	if err != nil {
		return nil, apperrors.NewDatabaseError("claim jobs", err)
	}

	claimed, err := scanJobs(updated)
	updated.Close()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.NewDatabaseError("commit claim transaction", err)
	}
	return claimed, nil
}

func scanJobs(rows pgx.Rows) ([]types.DeploymentJob, error) {
	var out []types.DeploymentJob
	for rows.Next() {
		var (
			j                                  types.DeploymentJob
			env, strategy                      string
			approverEmails, metadata           []byte
		)
		err := rows.Scan(
			&j.ID, &j.DeploymentID, &j.ModuleName, &j.Version, &env, &strategy, &j.RequireApproval,
			&j.RequesterEmail, &approverEmails, &metadata, &j.Status, &j.CreatedAt, &j.StartedAt,
			&j.CompletedAt, &j.RetryCount, &j.MaxRetries, &j.NextRetryAt, &j.LockedUntil,
			&j.ProcessingInstance, &j.ErrorMessage,
		)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan deployment job row", err)
		}
		j.Environment = types.Environment(env)
		j.Strategy = types.Strategy(strategy)
		_ = json.Unmarshal(approverEmails, &j.ApproverEmails)
		_ = json.Unmarshal(metadata, &j.Metadata)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Complete(ctx context.Context, id int64) error {
	const q = `UPDATE deployment_jobs SET status = 'Succeeded', completed_at = now(), locked_until = NULL WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return apperrors.NewDatabaseError("complete deployment job", err)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id int64, errMessage string) error {
	const q = `
		UPDATE deployment_jobs
		SET retry_count = retry_count + 1,
		    error_message = $2,
		    locked_until = NULL,
		    status = 'Failed',
		    next_retry_at = CASE WHEN retry_count + 1 < max_retries
		                         THEN now() + (power(2, retry_count + 1) * interval '1 minute')
		                         ELSE NULL END
		WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, id, errMessage); err != nil {
		return apperrors.NewDatabaseError("fail deployment job", err)
	}
	return nil
}

func (s *PostgresStore) RecoverOrphaned(ctx context.Context, now time.Time) (int, error) {
	const q = `
		UPDATE deployment_jobs
		SET retry_count = retry_count + 1,
		    error_message = 'orphaned lease',
		    locked_until = NULL,
		    status = 'Failed',
		    next_retry_at = CASE WHEN retry_count + 1 < max_retries
		                         THEN $1 + (power(2, retry_count + 1) * interval '1 minute')
		                         ELSE NULL END
		WHERE status = 'Running' AND locked_until < $1`
	tag, err := s.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, apperrors.NewDatabaseError("recover orphaned leases", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (types.DeploymentJob, error) {
	const q = `
		SELECT id, deployment_id, module_name, version, environment, strategy, require_approval,
		       requester_email, approver_emails, metadata, status, created_at, started_at,
		       completed_at, retry_count, max_retries, next_retry_at, locked_until, processing_instance, error_message
		FROM deployment_jobs WHERE id = $1`
	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return types.DeploymentJob{}, apperrors.NewDatabaseError("get deployment job", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return types.DeploymentJob{}, err
	}
	if len(jobs) == 0 {
		return types.DeploymentJob{}, apperrors.NewNotFoundError("deployment job")
	}
	return jobs[0], nil
}

func (s *PostgresStore) GetByDeploymentID(ctx context.Context, deploymentID string) (types.DeploymentJob, error) {
	const q = `
		SELECT id, deployment_id, module_name, version, environment, strategy, require_approval,
		       requester_email, approver_emails, metadata, status, created_at, started_at,
		       completed_at, retry_count, max_retries, next_retry_at, locked_until, processing_instance, error_message
		FROM deployment_jobs WHERE deployment_id = $1`
	rows, err := s.pool.Query(ctx, q, deploymentID)
	if err != nil {
		return types.DeploymentJob{}, apperrors.NewDatabaseError("get deployment job by deployment id", err)
	}
	defer rows.Close()
	jobs, err := scanJobs(rows)
	if err != nil {
		return types.DeploymentJob{}, err
	}
	if len(jobs) == 0 {
		return types.DeploymentJob{}, apperrors.NewNotFoundError("deployment job")
	}
	return jobs[0], nil
}

func (s *PostgresStore) PruneTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	const q = `
		DELETE FROM deployment_jobs
		WHERE completed_at IS NOT NULL AND completed_at < $1
		  AND (status IN ('Succeeded', 'Cancelled') OR (status = 'Failed' AND retry_count >= max_retries))`
	tag, err := s.pool.Exec(ctx, q, olderThan)
	if err != nil {
		return 0, apperrors.NewDatabaseError("prune terminal deployment jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

// hostname is the ProcessingInstance value a JobProcessor claims rows
// under, per spec §4.7 step 1.
func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-instance"
	}
	return h
}
