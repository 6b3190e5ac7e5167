// Package queue persists render jobs in SQLite and enforces the job state
// machine: waiting -> active -> completed|failed, with delayed as the
// retry-pending detour (active -> delayed -> active).
//
// Claim is the only path from waiting/delayed into active and is written so
// two concurrent workers can never both claim the same job. Progress updates
// are monotonic at the SQL level, so status readers never observe a
// regression regardless of writer interleaving.
package queue
