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

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM render_jobs`
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
		return nil, fmt.Errorf("list jobs: %w", err)
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

// ReclaimStale returns active jobs whose heartbeats expired back to delayed so
// another worker can pick them up. Jobs past the attempt ceiling go to failed.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, maxAttempts int) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	cutoffStr := cutoff.UTC().Format(time.RFC3339Nano)

	failRes, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
         SET status = ?, error_message = 'worker heartbeat expired', completed_at = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ? AND attempts >= ?`,
		StatusFailed,
		now,
		now,
		StatusActive,
		cutoffStr,
		maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("fail stale jobs: %w", err)
	}
	failed, err := failRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale fail rows affected: %w", err)
	}

	delayRes, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
         SET status = ?, error_message = 'reclaimed from stale worker', next_attempt_at = ?,
             last_heartbeat = NULL, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusDelayed,
		now,
		now,
		StatusActive,
		cutoffStr,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	delayed, err := delayRes.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale delay rows affected: %w", err)
	}
	return failed + delayed, nil
}

// RetryFailed moves failed jobs back to waiting for reprocessing, resetting
// the attempt counter.
func (s *Store) RetryFailed(ctx context.Context, jobIDs ...string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if len(jobIDs) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE render_jobs
             SET status = ?, progress = 0, attempts = 0, error_message = NULL,
                 result_json = NULL, completed_at = NULL, updated_at = ?
             WHERE status = ?`,
			StatusWaiting,
			now,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed jobs: %w", err)
		}
		return res.RowsAffected()
	}

	placeholders := makePlaceholders(len(jobIDs))
	args := make([]any, 0, len(jobIDs)+2)
	args = append(args, StatusWaiting, now)
	for _, id := range jobIDs {
		args = append(args, id)
	}
	query := `UPDATE render_jobs
        SET status = ?, progress = 0, attempts = 0, error_message = NULL,
            result_json = NULL, completed_at = NULL, updated_at = ?
        WHERE job_id IN (` + placeholders + `) AND status = '` + string(StatusFailed) + `'`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry selected jobs: %w", err)
	}
	return res.RowsAffected()
}

// RequeueActive moves all active jobs back to delayed, eligible immediately,
// with the given message. Used at daemon shutdown so in-flight work resumes
// on the next start instead of staying active forever.
func (s *Store) RequeueActive(ctx context.Context, message string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
         SET status = ?, error_message = ?, next_attempt_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE status = ?`,
		StatusDelayed,
		message,
		now,
		now,
		StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue active jobs: %w", err)
	}
	return res.RowsAffected()
}

// ClearCompleted removes only completed jobs from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM render_jobs WHERE status = ?`, StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes only failed jobs from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM render_jobs WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM render_jobs GROUP BY status`)
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
		case StatusWaiting:
			health.Waiting += count
		case StatusActive:
			health.Active += count
		case StatusDelayed:
			health.Delayed += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

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

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'render_jobs'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
			return health, nil
		}
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TableExists = true

	row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM render_jobs")
	if err := row.Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
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
