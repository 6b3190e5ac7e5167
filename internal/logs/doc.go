// Package logs reads the daemon log file for CLI diagnostics.
//
// A Cursor streams the file with bounded memory, supports "last N lines"
// snapshots, and polls for new output in follow mode. Output can be narrowed
// to a single render job by matching the structured job attribute the daemon
// writes on every job-scoped line, which backs `showrunner logs --job`.
package logs
