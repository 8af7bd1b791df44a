package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewJobParams captures the fields callers provide when enqueuing a job.
type NewJobParams struct {
	JobType           JobType
	Source            Source
	InputJSON         string
	WebhookURL        string
	SourceFingerprint string
}

// NewJob inserts a pending job and returns the stored record. The job
// receives a fresh UUID which doubles as its public API identifier.
func (s *Store) NewJob(ctx context.Context, params NewJobParams) (*Job, error) {
	if params.JobType == "" {
		params.JobType = JobTypeSeparate
	}
	if params.Source == "" {
		params.Source = SourceAPI
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_jobs (
            uuid, job_type, source, status, input_json, webhook_url,
            source_fingerprint, created_at, updated_at,
            progress_stage, progress_percent, progress_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		string(params.JobType),
		string(params.Source),
		StatusPending,
		params.InputJSON,
		nullableString(params.WebhookURL),
		nullableString(params.SourceFingerprint),
		timestamp,
		timestamp,
		nil,
		0.0,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a queue job by row identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM queue_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetByUUID fetches a queue job by its public identifier.
func (s *Store) GetByUUID(ctx context.Context, jobUUID string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM queue_jobs WHERE uuid = ?`, jobUUID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job by uuid: %w", err)
	}
	return job, nil
}

// FindBySourceFingerprint returns the first job matching a fingerprint.
// Used by the watch folder ingester to skip files already enqueued.
func (s *Store) FindBySourceFingerprint(ctx context.Context, fingerprint string) (*Job, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM queue_jobs WHERE source_fingerprint = ? ORDER BY id LIMIT 1`,
		fingerprint,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by fingerprint: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing queue job. The uuid and created_at
// columns are immutable and never rewritten.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_jobs
         SET job_type = ?, source = ?, status = ?, input_json = ?, webhook_url = ?,
             source_fingerprint = ?, staged_file = ?, manifest_json = ?, result_json = ?,
             error_message = ?, error_class = ?, progress_stage = ?, progress_percent = ?,
             progress_message = ?, updated_at = ?, started_at = ?, finished_at = ?,
             last_heartbeat = ?, cancel_requested = ?
         WHERE id = ?`,
		job.JobType,
		string(job.Source),
		job.Status,
		job.InputJSON,
		nullableString(job.WebhookURL),
		nullableString(job.SourceFingerprint),
		nullableString(job.StagedFile),
		nullableString(job.ManifestJSON),
		nullableString(job.ResultJSON),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorClass),
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		nullableTime(job.LastHeartbeat),
		boolToInt(job.CancelRequested),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress fields of a job. The heartbeat
// and every other column are left untouched so frequent progress writes
// cannot clobber concurrent heartbeat updates.
func (s *Store) UpdateProgress(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_jobs
         SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// JobsByStatus returns jobs matching a status ordered by creation time.
func (s *Store) JobsByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM queue_jobs WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// List returns queue jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + jobColumns + ` FROM queue_jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextForStatuses returns the oldest job matching any of the provided statuses.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	query := `SELECT ` + jobColumns + ` FROM queue_jobs WHERE status IN (` + placeholders + `) ORDER BY created_at LIMIT 1`
	row := s.db.QueryRowContext(ensureContext(ctx), query, args...)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Claim transitions a job from one status to another only if it still holds
// the expected status. Returns false when another worker won the race. The
// first successful claim stamps started_at.
func (s *Store) Claim(ctx context.Context, id int64, from, to Status) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET status = ?, last_heartbeat = ?, updated_at = ?,
             started_at = COALESCE(started_at, ?)
         WHERE id = ? AND status = ?`,
		to, now, now, now, id, from,
	)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
