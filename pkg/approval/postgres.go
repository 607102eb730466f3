package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/kubernaut-deploy/orchestrator/internal/errors"
	"github.com/kubernaut-deploy/orchestrator/pkg/types"
)

// approvalNotifyChannel is the Postgres NOTIFY channel other replicas'
// pq.Listener subscribe to so their in-process WaitForApproval callers wake
// without polling, per spec §4.5's preference for a push-driven wake-up.
const approvalNotifyChannel = "approval_decided"

type approvalRow struct {
	DeploymentExecutionID string         `db:"deployment_execution_id"`
	ApprovalID            string         `db:"approval_id"`
	RequesterEmail        string         `db:"requester_email"`
	Environment           string         `db:"environment"`
	ModuleName             string         `db:"module_name"`
	Version               string         `db:"version"`
	Status                string         `db:"status"`
	ApproverEmails        string         `db:"approver_emails"`
	RequestedAt           time.Time      `db:"requested_at"`
	TimeoutAt             time.Time      `db:"timeout_at"`
	RespondedAt           sql.NullTime   `db:"responded_at"`
	RespondedByEmail      sql.NullString `db:"responded_by_email"`
	ResponseReason        sql.NullString `db:"response_reason"`
}

func toRow(req types.ApprovalRequest) approvalRow {
	emails, _ := json.Marshal(req.ApproverEmails)
	row := approvalRow{
		DeploymentExecutionID: req.DeploymentExecutionID,
		ApprovalID:            req.ApprovalID,
		RequesterEmail:        req.RequesterEmail,
		Environment:           string(req.Environment),
		ModuleName:            req.ModuleName,
		Version:               req.Version,
		Status:                string(req.Status),
		ApproverEmails:        string(emails),
		RequestedAt:           req.RequestedAt,
		TimeoutAt:             req.TimeoutAt,
	}
	if req.RespondedAt != nil {
		row.RespondedAt = sql.NullTime{Time: *req.RespondedAt, Valid: true}
	}
	if req.RespondedByEmail != "" {
		row.RespondedByEmail = sql.NullString{String: req.RespondedByEmail, Valid: true}
	}
	if req.ResponseReason != "" {
		row.ResponseReason = sql.NullString{String: req.ResponseReason, Valid: true}
	}
	return row
}

func fromRow(row approvalRow) types.ApprovalRequest {
	var emails []string
	_ = json.Unmarshal([]byte(row.ApproverEmails), &emails)
	req := types.ApprovalRequest{
		DeploymentExecutionID: row.DeploymentExecutionID,
		ApprovalID:            row.ApprovalID,
		RequesterEmail:        row.RequesterEmail,
		Environment:           types.Environment(row.Environment),
		ModuleName:            row.ModuleName,
		Version:               row.Version,
		Status:                types.ApprovalStatus(row.Status),
		ApproverEmails:        emails,
		RequestedAt:           row.RequestedAt,
		TimeoutAt:             row.TimeoutAt,
	}
	if row.RespondedAt.Valid {
		t := row.RespondedAt.Time
		req.RespondedAt = &t
	}
	req.RespondedByEmail = row.RespondedByEmail.String
	req.ResponseReason = row.ResponseReason.String
	return req
}

// PostgresRepository persists ApprovalRequest rows to the
// approval_requests table and emits a NOTIFY on every terminal transition.
type PostgresRepository struct {
	db     *sqlx.DB
	logger logrus.FieldLogger
}

func NewPostgresRepository(db *sqlx.DB, logger logrus.FieldLogger) *PostgresRepository {
	return &PostgresRepository{db: db, logger: logger}
}

func (r *PostgresRepository) Create(ctx context.Context, req types.ApprovalRequest) error {
	row := toRow(req)
	const q = `
		INSERT INTO approval_requests
			(deployment_execution_id, approval_id, requester_email, environment,
			 module_name, version, status, approver_emails, requested_at, timeout_at)
		VALUES
			(:deployment_execution_id, :approval_id, :requester_email, :environment,
			 :module_name, :version, :status, :approver_emails, :requested_at, :timeout_at)`
	if _, err := r.db.NamedExecContext(ctx, q, row); err != nil {
		return apperrors.NewDatabaseError("create approval request", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, executionID string) (types.ApprovalRequest, error) {
	var row approvalRow
	const q = `SELECT * FROM approval_requests WHERE deployment_execution_id = $1`
	if err := r.db.GetContext(ctx, &row, q, executionID); err != nil {
		if err == sql.ErrNoRows {
			return types.ApprovalRequest{}, apperrors.NewNotFoundError("approval request " + executionID)
		}
		return types.ApprovalRequest{}, apperrors.NewDatabaseError("get approval request", err)
	}
	return fromRow(row), nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, executionID string, status types.ApprovalStatus, byEmail, reason string, respondedAt time.Time) error {
	const q = `
		UPDATE approval_requests
		SET status = $1, responded_at = $2, responded_by_email = $3, response_reason = $4
		WHERE deployment_execution_id = $5 AND status = 'Pending'`
	res, err := r.db.ExecContext(ctx, q, string(status), respondedAt, byEmail, reason, executionID)
	if err != nil {
		return apperrors.NewDatabaseError("update approval status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.ErrorTypeConflict, "approval request already decided")
	}
	if _, err := r.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", approvalNotifyChannel, executionID); err != nil {
		r.logger.WithError(err).Warn("failed to notify approval decision, relying on sweep/poll fallback")
	}
	return nil
}

func (r *PostgresRepository) ExpirePending(ctx context.Context, now time.Time) ([]string, error) {
	const q = `
		UPDATE approval_requests
		SET status = 'Expired', responded_at = $1
		WHERE status = 'Pending' AND timeout_at <= $1
		RETURNING deployment_execution_id`
	rows, err := r.db.QueryxContext(ctx, q, now)
	if err != nil {
		return nil, apperrors.NewDatabaseError("expire pending approvals", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError("scan expired approval id", err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, err := r.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", approvalNotifyChannel, id); err != nil {
			r.logger.WithError(err).Warn("failed to notify approval expiry")
		}
	}
	return ids, nil
}

// NotifyListener drives a Service's wake() calls from Postgres LISTEN
// notifications so replicas other than the one that decided a request
// still wake their blocked WaitForApproval callers promptly.
type NotifyListener struct {
	listener *pq.Listener
	service  *Service
	logger   logrus.FieldLogger
}

func NewNotifyListener(connString string, service *Service, logger logrus.FieldLogger) *NotifyListener {
	listener := pq.NewListener(connString, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.WithError(err).Warn("approval notify listener event error")
		}
	})
	return &NotifyListener{listener: listener, service: service, logger: logger}
}

// Run subscribes to approvalNotifyChannel and forwards every NOTIFY
// payload (an execution id) into the service's wake() path until ctx is
// cancelled.
func (l *NotifyListener) Run(ctx context.Context) error {
	if err := l.listener.Listen(approvalNotifyChannel); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "failed to listen on approval_decided channel")
	}
	defer l.listener.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.listener.Notify:
			if n == nil {
				continue
			}
			l.service.wake(n.Extra)
		case <-time.After(90 * time.Second):
			// periodic ping per lib/pq's recommended keep-alive pattern
			_ = l.listener.Ping()
		}
	}
}
