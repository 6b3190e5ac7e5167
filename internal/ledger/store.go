package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"showrunner/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS usage_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     TEXT NOT NULL,
    provider    TEXT NOT NULL,
    quota_type  TEXT NOT NULL DEFAULT '',
    job_id      TEXT NOT NULL DEFAULT '',
    episode_id  TEXT NOT NULL DEFAULT '',
    cost_usd    REAL NOT NULL DEFAULT 0,
    units       INTEGER NOT NULL DEFAULT 0,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_events_user_day ON usage_events(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_events_job ON usage_events(job_id);

CREATE TABLE IF NOT EXISTS credit_grants (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     TEXT NOT NULL,
    amount_usd  REAL NOT NULL,
    reference   TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credit_grants_user ON credit_grants(user_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_grants_reference ON credit_grants(reference) WHERE reference != '';
`

// Store provides SQLite-backed storage for the append-only usage log and
// credit grants. Safe for concurrent writers; SQLite serializes the inserts
// and the daily aggregates are computed by query, so there are no
// read-modify-write counters to lose updates on.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.WorkDir, "ledger.db"))
}

// OpenPath opens the ledger database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
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

// Record appends one usage event. Callers on the render path log failures
// instead of propagating them; a ledger write must never abort a render.
func (s *Store) Record(ctx context.Context, event UsageEvent) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_events (user_id, provider, quota_type, job_id, episode_id, cost_usd, units, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.UserID,
		event.Provider,
		event.QuotaType,
		event.JobID,
		event.EpisodeID,
		event.CostUSD,
		event.Units,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record usage event: %w", err)
	}
	return nil
}

// SpendToday returns a user's accumulated cost since the UTC day boundary.
func (s *Store) SpendToday(ctx context.Context, userID string) (float64, error) {
	var total sql.NullFloat64
	row := s.db.QueryRowContext(
		ctx,
		`SELECT SUM(cost_usd) FROM usage_events WHERE user_id = ? AND created_at >= ?`,
		userID,
		utcDayStart(time.Now()),
	)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("spend today: %w", err)
	}
	return total.Float64, nil
}

// GlobalSpendToday returns the total accumulated cost across all users since
// the UTC day boundary.
func (s *Store) GlobalSpendToday(ctx context.Context) (float64, error) {
	var total sql.NullFloat64
	row := s.db.QueryRowContext(
		ctx,
		`SELECT SUM(cost_usd) FROM usage_events WHERE created_at >= ?`,
		utcDayStart(time.Now()),
	)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("global spend today: %w", err)
	}
	return total.Float64, nil
}

// QuotaUsedToday counts how many distinct jobs of a quota category a user has
// incurred usage for since the UTC day boundary. Quota consumes only once
// usage is actually recorded, so rejected admissions and never-started jobs
// cost nothing.
func (s *Store) QuotaUsedToday(ctx context.Context, userID, quotaType string) (int, error) {
	var used int
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(DISTINCT job_id) FROM usage_events
         WHERE user_id = ? AND quota_type = ? AND job_id != '' AND created_at >= ?`,
		userID,
		quotaType,
		utcDayStart(time.Now()),
	)
	if err := row.Scan(&used); err != nil {
		return 0, fmt.Errorf("quota used today: %w", err)
	}
	return used, nil
}

// GrantCredit appends a credit grant for a user. Grants carrying a reference
// are idempotent: a replayed reference leaves the ledger unchanged, so
// redelivered billing webhooks cannot double-credit.
func (s *Store) GrantCredit(ctx context.Context, userID string, amountUSD float64, reference string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO credit_grants (user_id, amount_usd, reference, created_at) VALUES (?, ?, ?, ?)`,
		userID,
		amountUSD,
		reference,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("grant credit: %w", err)
	}
	return nil
}

// CreditBalance returns a user's remaining credit: all-time grants minus
// all-time recorded usage.
func (s *Store) CreditBalance(ctx context.Context, userID string) (float64, error) {
	var granted, spent sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `SELECT SUM(amount_usd) FROM credit_grants WHERE user_id = ?`, userID)
	if err := row.Scan(&granted); err != nil {
		return 0, fmt.Errorf("credit grants: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT SUM(cost_usd) FROM usage_events WHERE user_id = ?`, userID)
	if err := row.Scan(&spent); err != nil {
		return 0, fmt.Errorf("credit usage: %w", err)
	}
	return granted.Float64 - spent.Float64, nil
}

// EventsForJob returns the usage events recorded for a job in insertion order.
func (s *Store) EventsForJob(ctx context.Context, jobID string) ([]UsageEvent, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, user_id, provider, quota_type, job_id, episode_id, cost_usd, units, created_at
         FROM usage_events WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("events for job: %w", err)
	}
	defer rows.Close()

	var events []UsageEvent
	for rows.Next() {
		var (
			event      UsageEvent
			createdRaw string
		)
		if err := rows.Scan(
			&event.ID,
			&event.UserID,
			&event.Provider,
			&event.QuotaType,
			&event.JobID,
			&event.EpisodeID,
			&event.CostUSD,
			&event.Units,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
			event.CreatedAt = created
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// JobCost sums the recorded cost of a job's provider calls.
func (s *Store) JobCost(ctx context.Context, jobID string) (float64, error) {
	var total sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `SELECT SUM(cost_usd) FROM usage_events WHERE job_id = ?`, jobID)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("job cost: %w", err)
	}
	return total.Float64, nil
}

// Ping verifies the ledger database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func utcDayStart(now time.Time) string {
	year, month, day := now.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(time.RFC3339Nano)
}
