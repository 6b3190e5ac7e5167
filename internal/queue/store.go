package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"showrunner/internal/config"
)

// ErrNotFound is returned when a job lookup misses.
var ErrNotFound = errors.New("job not found")

// Store manages render job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.WorkDir, "queue.db"))
}

// OpenPath opens the queue database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	// The pragmas below are per-connection settings; pass them in the DSN so
	// every connection in the database/sql pool gets them, not just the one
	// the Exec loop happens to run on.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enqueue inserts a new waiting job for an admitted render request.
// It never blocks on provider availability.
func (s *Store) Enqueue(ctx context.Context, episodeID, userID, quotaType string, jobCfg JobConfig) (*Job, error) {
	if err := jobCfg.Validate(); err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(jobCfg)
	if err != nil {
		return nil, fmt.Errorf("marshal job config: %w", err)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	jobID := uuid.NewString()

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO render_jobs (
            job_id, episode_id, user_id, quota_type, status, progress,
            config_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID,
		episodeID,
		userID,
		quotaType,
		StatusWaiting,
		0,
		string(configJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByJobID(ctx, jobID)
}

// GetByJobID fetches a job by its public identifier.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Claim atomically transitions the oldest runnable job to active and returns
// it. Runnable means waiting, or delayed with an elapsed next_attempt_at.
// Two workers racing for the same job observe exactly one successful claim.
// Returns (nil, nil) when the queue has no runnable work.
func (s *Store) Claim(ctx context.Context) (*Job, error) {
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339Nano)

	for {
		row := s.db.QueryRowContext(
			ctx,
			`SELECT id, status FROM render_jobs
             WHERE status = ? OR (status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
             ORDER BY created_at LIMIT 1`,
			StatusWaiting,
			StatusDelayed,
			nowStr,
		)
		var (
			id     int64
			status string
		)
		if err := row.Scan(&id, &status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select runnable job: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE render_jobs
             SET status = ?, attempts = attempts + 1, next_attempt_at = NULL,
                 error_message = NULL, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusActive,
			nowStr,
			nowStr,
			id,
			status,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race to another worker; look for the next candidate.
			continue
		}

		row = s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("load claimed job: %w", err)
		}
		return job, nil
	}
}

// SetProgress advances a job's progress. Progress never regresses: the stored
// value only moves toward 100.
func (s *Store) SetProgress(ctx context.Context, jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs SET progress = MAX(progress, ?), updated_at = ? WHERE job_id = ?`,
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// Complete marks a job terminal-successful with its result payload.
func (s *Store) Complete(ctx context.Context, jobID string, result Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
         SET status = ?, progress = 100, result_json = ?, error_message = NULL,
             completed_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE job_id = ? AND status = ?`,
		StatusCompleted,
		string(resultJSON),
		now,
		now,
		jobID,
		StatusActive,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireTransition(res, jobID, StatusCompleted)
}

// Fail marks a job terminal-failed with an error message.
func (s *Store) Fail(ctx context.Context, jobID, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
         SET status = ?, error_message = ?, completed_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE job_id = ? AND status NOT IN (?, ?)`,
		StatusFailed,
		message,
		now,
		now,
		jobID,
		StatusCompleted,
		StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	return nil
}

// Delay re-queues an active job after a transient failure, recording when the
// next attempt becomes eligible.
func (s *Store) Delay(ctx context.Context, jobID, message string, nextAttempt time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs
         SET status = ?, error_message = ?, next_attempt_at = ?, last_heartbeat = NULL, updated_at = ?
         WHERE job_id = ? AND status = ?`,
		StatusDelayed,
		message,
		nextAttempt.UTC().Format(time.RFC3339Nano),
		now,
		jobID,
		StatusActive,
	)
	if err != nil {
		return fmt.Errorf("delay job: %w", err)
	}
	return requireTransition(res, jobID, StatusDelayed)
}

// UpdateHeartbeat updates the last heartbeat timestamp for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, jobID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE render_jobs SET last_heartbeat = ?, updated_at = ? WHERE job_id = ? AND status = ?`,
		now,
		now,
		jobID,
		StatusActive,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

func requireTransition(res sql.Result, jobID string, to Status) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %s: illegal transition to %s", jobID, to)
	}
	return nil
}

const jobColumns = "id, job_id, episode_id, user_id, quota_type, status, progress, config_json, result_json, error_message, attempts, next_attempt_at, created_at, updated_at, completed_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            int64
		jobID         string
		episodeID     string
		userID        string
		quotaType     string
		statusStr     string
		progress      int
		configJSON    string
		resultJSON    sql.NullString
		errorMessage  sql.NullString
		attempts      int
		nextAttemptAt sql.NullString
		createdRaw    string
		updatedRaw    string
		completedRaw  sql.NullString
		heartbeatRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobID,
		&episodeID,
		&userID,
		&quotaType,
		&statusStr,
		&progress,
		&configJSON,
		&resultJSON,
		&errorMessage,
		&attempts,
		&nextAttemptAt,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		JobID:        jobID,
		EpisodeID:    episodeID,
		UserID:       userID,
		QuotaType:    quotaType,
		Status:       Status(statusStr),
		Progress:     progress,
		ConfigJSON:   configJSON,
		ResultJSON:   resultJSON.String,
		ErrorMessage: errorMessage.String,
		Attempts:     attempts,
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if nextAttemptAt.Valid {
		if next, err := parseTimeString(nextAttemptAt.String); err == nil {
			job.NextAttemptAt = &next
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
