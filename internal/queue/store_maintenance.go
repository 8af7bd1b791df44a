package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ResetStuckProcessing returns jobs in processing states to the start of
// their current stage. Run at daemon startup to recover work interrupted by
// an unclean shutdown.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE queue_jobs
         SET status = CASE status
             WHEN ? THEN ?
             WHEN ? THEN ?
             WHEN ? THEN ?
             ELSE status
         END,
             progress_stage = 'Reset from stuck processing',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (?, ?, ?)`,
		StatusIngesting, StatusPending,
		StatusSeparating, StatusStaged,
		StatusDelivering, StatusSeparated,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusIngesting,
		StatusSeparating,
		StatusDelivering,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE queue_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns jobs stuck in processing back to the start
// of their current stage when heartbeats expire. Optional statuses narrow the
// reclaim to a subset of processing states; by default all are considered.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time, statuses ...Status) (int64, error) {
	targets := statuses
	if len(targets) == 0 {
		targets = []Status{StatusIngesting, StatusSeparating, StatusDelivering}
	}

	args := []any{
		StatusIngesting, StatusPending,
		StatusSeparating, StatusStaged,
		StatusDelivering, StatusSeparated,
		time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, status := range targets {
		args = append(args, status)
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	query := `UPDATE queue_jobs
        SET status = CASE status
            WHEN ? THEN ?
            WHEN ? THEN ?
            WHEN ? THEN ?
            ELSE status
        END,
            progress_stage = 'Reclaimed from stale processing',
            progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status IN (` + makePlaceholders(len(targets)) + `) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves failed jobs back to pending for reprocessing. With no ids
// every failed job is retried.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE queue_jobs
            SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
                progress_message = NULL, error_message = NULL, error_class = NULL,
                finished_at = NULL, cancel_requested = 0, updated_at = ?
            WHERE status = ?`,
			StatusPending,
			time.Now().UTC().Format(time.RFC3339Nano),
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE queue_jobs
        SET status = ?, progress_stage = 'Retry requested', progress_percent = 0,
            progress_message = NULL, error_message = NULL, error_class = NULL,
            finished_at = NULL, cancel_requested = 0, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// CancelOutcome describes the effect of RequestCancel on a job.
type CancelOutcome int

const (
	// CancelOutcomeNotFound means no job with the given id exists.
	CancelOutcomeNotFound CancelOutcome = iota
	// CancelOutcomeCancelled means the job was waiting and is now cancelled.
	CancelOutcomeCancelled
	// CancelOutcomeSignalled means the job is mid-stage; its worker stops at
	// the next cancellation checkpoint.
	CancelOutcomeSignalled
	// CancelOutcomeTerminal means the job had already finished and was left untouched.
	CancelOutcomeTerminal
)

// RequestCancel cancels a job. Waiting jobs move straight to cancelled.
// Jobs currently processing get the cancel_requested flag so the owning
// worker can abandon them at its next checkpoint. Terminal jobs are left
// untouched.
func (s *Store) RequestCancel(ctx context.Context, id int64) (CancelOutcome, error) {
	ctx = ensureContext(ctx)
	outcome := CancelOutcomeNotFound
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cancel tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var statusStr string
		row := tx.QueryRowContext(ctx, `SELECT status FROM queue_jobs WHERE id = ?`, id)
		if err := row.Scan(&statusStr); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				outcome = CancelOutcomeNotFound
				return nil
			}
			return fmt.Errorf("read job status: %w", err)
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		switch status := Status(statusStr); {
		case IsTerminalStatus(status):
			outcome = CancelOutcomeTerminal
		case IsProcessingStatus(status):
			if _, err := tx.ExecContext(ctx,
				`UPDATE queue_jobs SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
				now, id,
			); err != nil {
				return fmt.Errorf("flag cancel: %w", err)
			}
			outcome = CancelOutcomeSignalled
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE queue_jobs
                 SET status = ?, error_message = ?, progress_stage = 'Cancelled',
                     progress_message = ?, finished_at = ?, last_heartbeat = NULL, updated_at = ?
                 WHERE id = ?`,
				StatusCancelled, UserCancelReason, UserCancelReason, now, now, id,
			); err != nil {
				return fmt.Errorf("cancel job: %w", err)
			}
			outcome = CancelOutcomeCancelled
		}
		return tx.Commit()
	})
	if err != nil {
		return CancelOutcomeNotFound, err
	}
	return outcome, nil
}

// CancelRequested reports whether a cancel has been requested for a job.
// Workers poll this between stage checkpoints.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var flag int
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT cancel_requested FROM queue_jobs WHERE id = ?`, id)
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// SweepTerminal removes terminal jobs whose last update is older than the
// retention window. Returns the number of jobs removed.
func (s *Store) SweepTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM queue_jobs WHERE status IN (?, ?, ?) AND updated_at < ?`,
		StatusCompleted, StatusFailed, StatusCancelled,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM queue_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusFailed:
			health.Failed += count
		case StatusCompleted:
			health.Completed += count
		case StatusCancelled:
			health.Cancelled += count
		default:
			if _, ok := processingStatuses[status]; ok {
				health.Processing += count
			}
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		DBPath:        s.path,
		SchemaVersion: "current",
	}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'queue_jobs'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		colsRows, err := s.db.QueryContext(connCtx, "PRAGMA table_info(queue_jobs)")
		if err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("table info: %w", err)
		}
		defer colsRows.Close()

		var columns []string
		for colsRows.Next() {
			var (
				cid     int
				name    string
				typeStr string
				notNull int
				dflt    any
				pk      int
			)
			if err := colsRows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
				health.Error = err.Error()
				return health, fmt.Errorf("scan table info: %w", err)
			}
			columns = append(columns, name)
		}
		if err := colsRows.Err(); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("iterate table info: %w", err)
		}
		health.ColumnsPresent = append(health.ColumnsPresent, columns...)

		expected := []string{
			"id",
			"uuid",
			"job_type",
			"source",
			"status",
			"input_json",
			"webhook_url",
			"source_fingerprint",
			"staged_file",
			"manifest_json",
			"result_json",
			"error_message",
			"error_class",
			"progress_stage",
			"progress_percent",
			"progress_message",
			"created_at",
			"updated_at",
			"started_at",
			"finished_at",
			"last_heartbeat",
			"cancel_requested",
		}
		missingMap := make(map[string]struct{}, len(expected))
		for _, col := range expected {
			missingMap[col] = struct{}{}
		}
		for _, col := range columns {
			delete(missingMap, col)
		}
		for col := range missingMap {
			health.MissingColumns = append(health.MissingColumns, col)
		}

		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM queue_jobs")
		if err := row.Scan(&health.TotalJobs); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count queue jobs: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// Remove deletes a job outright.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearCompleted removes only completed jobs from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed jobs from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM queue_jobs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}
