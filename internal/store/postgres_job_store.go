package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/swapflow/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS swap_jobs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	source_image_id TEXT NOT NULL,
	status TEXT NOT NULL,
	target_key TEXT NOT NULL,
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	s3_uri TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS swap_usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	source_image_id TEXT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS swap_usage_logs_user_id_idx ON swap_usage_logs (user_id, created_at);
`

const selectJobSQL = `SELECT id, user_id, source_image_id, status, target_key, webhook_url,
		object_key, s3_uri, image_url, error, created_at, updated_at
	 FROM swap_jobs
	 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure swap schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO swap_jobs (id, user_id, source_image_id, status, target_key, webhook_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID,
		job.UserID,
		job.SourceImageID,
		job.Status,
		job.TargetKey,
		job.WebhookURL,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	var job domain.Job
	err := s.db.QueryRowContext(ctx, selectJobSQL, id).Scan(
		&job.ID,
		&job.UserID,
		&job.SourceImageID,
		&job.Status,
		&job.TargetKey,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.S3URI,
		&job.ImageURL,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}
	return job, true, nil
}

// UpdateStatus never moves a job out of succeeded or failed; the worker may
// finish a job before the API's own writes land.
func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.exec(ctx, id, "update job status",
		`UPDATE swap_jobs SET status = $1, updated_at = $2
		 WHERE id = $3 AND status NOT IN ('succeeded', 'failed')`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) MarkSucceeded(ctx context.Context, id string, result Completion) (domain.Job, error) {
	return s.exec(ctx, id, "mark job succeeded",
		`UPDATE swap_jobs
		 SET status = $1, object_key = $2, s3_uri = $3, image_url = $4, error = '', updated_at = $5
		 WHERE id = $6`,
		domain.JobStatusSucceeded, result.ObjectKey, result.S3URI, result.ImageURL, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) MarkFailed(ctx context.Context, id, reason string) (domain.Job, error) {
	return s.exec(ctx, id, "mark job failed",
		`UPDATE swap_jobs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		domain.JobStatusFailed, reason, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO swap_usage_logs (user_id, job_id, source_image_id, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.UserID,
		usage.JobID,
		usage.SourceImageID,
		usage.OutputBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) exec(ctx context.Context, id, op, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: rows affected: %w", op, err)
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	if n == 0 {
		// The row exists, so the guarded update was refused.
		return job, ErrJobFinished
	}
	return job, nil
}
