// Package logging wraps log/slog with showrunner's construction options,
// standardized field names, and context-derived attributes so every component
// logs job, scene, and correlation identifiers consistently.
package logging
