package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// import db drivers
	_ "github.com/lib/pq"

	"github.com/sevigo/review-pipeline/internal/core"
)

// PostgresJobStore persists jobs in the review_jobs table. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never lease the same row.
//
// Caller tokens and provider API keys are never written; attempts that run
// after a restart fall back to the configured credentials.
type PostgresJobStore struct {
	db *sqlx.DB
}

func NewPostgresJobStore(db *sqlx.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

var _ core.JobStore = (*PostgresJobStore)(nil)

type jobRow struct {
	ID              string       `db:"id"`
	RepoFullName    string       `db:"repo_full_name"`
	PRNumber        int          `db:"pr_number"`
	AccountID       string       `db:"account_id"`
	PlanTier        string       `db:"plan_tier"`
	ProviderKind    string       `db:"provider_kind"`
	ProviderModel   string       `db:"provider_model"`
	ProviderBaseURL string       `db:"provider_base_url"`
	Status          string       `db:"status"`
	Attempts        int          `db:"attempts"`
	LastError       string       `db:"last_error"`
	Summary         string       `db:"summary"`
	CommentCount    int          `db:"comment_count"`
	AvailableAt     time.Time    `db:"available_at"`
	LeaseToken      string       `db:"lease_token"`
	LeaseExpiresAt  sql.NullTime `db:"lease_expires_at"`
	QuotaPeriod     string       `db:"quota_period"`
	CancelRequested bool         `db:"cancel_requested"`
	CancelReason    string       `db:"cancel_reason"`
	DeadLettered    bool         `db:"dead_lettered"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

const jobColumns = `id, repo_full_name, pr_number, account_id, plan_tier, provider_kind,
	provider_model, provider_base_url, status, attempts, last_error, summary, comment_count,
	available_at, lease_token, lease_expires_at, quota_period, cancel_requested, cancel_reason,
	dead_lettered, created_at, updated_at`

func toRow(j *core.ReviewJob) jobRow {
	r := jobRow{
		ID:              j.ID,
		RepoFullName:    j.RepoFullName,
		PRNumber:        j.PRNumber,
		AccountID:       j.Requester.AccountID,
		PlanTier:        string(j.Requester.PlanTier),
		ProviderKind:    string(j.Provider.Kind),
		ProviderModel:   j.Provider.Model,
		ProviderBaseURL: j.Provider.BaseURL,
		Status:          string(j.Status),
		Attempts:        j.Attempts,
		LastError:       j.LastError,
		Summary:         j.Summary,
		CommentCount:    j.CommentCount,
		AvailableAt:     j.AvailableAt.UTC(),
		LeaseToken:      j.LeaseToken,
		CancelRequested: j.CancelRequested,
		CancelReason:    j.CancelReason,
		DeadLettered:    j.DeadLettered,
		CreatedAt:       j.CreatedAt.UTC(),
		UpdatedAt:       j.UpdatedAt.UTC(),
	}
	if !j.LeaseExpiresAt.IsZero() {
		r.LeaseExpiresAt = sql.NullTime{Time: j.LeaseExpiresAt.UTC(), Valid: true}
	}
	if j.Quota != nil {
		r.QuotaPeriod = j.Quota.Period
	}
	return r
}

func (r jobRow) toJob() *core.ReviewJob {
	j := &core.ReviewJob{
		ID:           r.ID,
		RepoFullName: r.RepoFullName,
		PRNumber:     r.PRNumber,
		Requester:    core.Requester{AccountID: r.AccountID, PlanTier: core.PlanTier(r.PlanTier)},
		Provider: core.ProviderConfig{
			Kind:    core.ProviderKind(r.ProviderKind),
			Model:   r.ProviderModel,
			BaseURL: r.ProviderBaseURL,
		},
		Status:          core.Status(r.Status),
		Attempts:        r.Attempts,
		LastError:       r.LastError,
		Summary:         r.Summary,
		CommentCount:    r.CommentCount,
		AvailableAt:     r.AvailableAt,
		LeaseToken:      r.LeaseToken,
		CancelRequested: r.CancelRequested,
		CancelReason:    r.CancelReason,
		DeadLettered:    r.DeadLettered,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.LeaseExpiresAt.Valid {
		j.LeaseExpiresAt = r.LeaseExpiresAt.Time
	}
	if r.QuotaPeriod != "" {
		j.Quota = &core.Reservation{AccountID: r.AccountID, Period: r.QuotaPeriod}
	}
	return j
}

func (s *PostgresJobStore) Create(ctx context.Context, job *core.ReviewJob) error {
	query := `INSERT INTO review_jobs (` + jobColumns + `) VALUES (
		:id, :repo_full_name, :pr_number, :account_id, :plan_tier, :provider_kind,
		:provider_model, :provider_base_url, :status, :attempts, :last_error, :summary, :comment_count,
		:available_at, :lease_token, :lease_expires_at, :quota_period, :cancel_requested, :cancel_reason,
		:dead_lettered, :created_at, :updated_at)`
	if _, err := s.db.NamedExecContext(ctx, query, toRow(job)); err != nil {
		return core.Transient(err, "inserting job "+job.ID)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (*core.ReviewJob, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM review_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobNotFound(id)
	}
	if err != nil {
		return nil, core.Transient(err, "loading job "+id)
	}
	return row.toJob(), nil
}

func (s *PostgresJobStore) ClaimNext(ctx context.Context, now time.Time, leaseTTL time.Duration) (*core.ReviewJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, core.Transient(err, "beginning claim transaction")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT ` + jobColumns + `
		FROM review_jobs
		WHERE (status = 'queued' AND available_at <= $1
		       AND (lease_expires_at IS NULL OR lease_expires_at < $1))
		   OR (status IN ('fetching', 'reviewing', 'delivering') AND lease_expires_at < $1)
		ORDER BY available_at, created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	var row jobRow
	if err := tx.GetContext(ctx, &row, query, now.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, core.Transient(err, "selecting next job")
	}

	job := row.toJob()
	if err := lease(job, now, leaseTTL); err != nil {
		return nil, err
	}
	next := toRow(job)
	_, err = tx.NamedExecContext(ctx, `
		UPDATE review_jobs SET
			status = :status, attempts = :attempts, last_error = :last_error,
			lease_token = :lease_token, lease_expires_at = :lease_expires_at, updated_at = :updated_at
		WHERE id = :id`, next)
	if err != nil {
		return nil, core.Transient(err, "leasing job "+job.ID)
	}
	if err := tx.Commit(); err != nil {
		return nil, core.Transient(err, "committing claim of job "+job.ID)
	}
	return job, nil
}

func (s *PostgresJobStore) Claim(ctx context.Context, id string, now time.Time, leaseTTL time.Duration) (*core.ReviewJob, error) {
	job := &core.ReviewJob{ID: id}
	hold(job, now, leaseTTL)

	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE review_jobs SET lease_token = $2, lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'queued' AND (lease_expires_at IS NULL OR lease_expires_at < $4)
		RETURNING `+jobColumns,
		id, job.LeaseToken, job.LeaseExpiresAt.UTC(), now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.Transient(err, "claiming job "+id)
	}
	return row.toJob(), nil
}

// Save leaves cancel_requested and cancel_reason alone so a concurrent
// RequestCancel is never lost.
func (s *PostgresJobStore) Save(ctx context.Context, job *core.ReviewJob) error {
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE review_jobs SET
			status = :status, attempts = :attempts, last_error = :last_error, summary = :summary,
			comment_count = :comment_count, available_at = :available_at,
			lease_expires_at = :lease_expires_at, quota_period = :quota_period,
			dead_lettered = :dead_lettered, updated_at = :updated_at
		WHERE id = :id AND lease_token = :lease_token`, toRow(job))
	if err != nil {
		return core.Transient(err, "saving job "+job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Transient(err, "saving job "+job.ID)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, job.ID); err != nil {
		return err
	}
	return staleLease(job)
}

func (s *PostgresJobStore) RequestCancel(ctx context.Context, id, reason string) (*core.ReviewJob, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE review_jobs SET cancel_requested = TRUE, cancel_reason = $2, updated_at = $3
		WHERE id = $1 AND NOT cancel_requested AND status NOT IN ('completed', 'failed')`,
		id, reason, time.Now().UTC())
	if err != nil {
		return nil, core.Transient(err, fmt.Sprintf("requesting cancellation of job %s", id))
	}
	return s.Get(ctx, id)
}
