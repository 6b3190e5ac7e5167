package queue

const schema = `
CREATE TABLE IF NOT EXISTS render_jobs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id          TEXT NOT NULL UNIQUE,
    episode_id      TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    quota_type      TEXT NOT NULL DEFAULT 'episodes',
    status          TEXT NOT NULL,
    progress        INTEGER NOT NULL DEFAULT 0,
    config_json     TEXT NOT NULL,
    result_json     TEXT,
    error_message   TEXT,
    attempts        INTEGER NOT NULL DEFAULT 0,
    next_attempt_at TEXT,
    created_at      TEXT NOT NULL,
    updated_at      TEXT NOT NULL,
    completed_at    TEXT,
    last_heartbeat  TEXT
);
CREATE INDEX IF NOT EXISTS idx_render_jobs_status ON render_jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_render_jobs_user ON render_jobs(user_id, created_at);
`
