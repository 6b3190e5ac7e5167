// Package config loads, normalizes, and validates the TOML configuration
// that selects providers, guardrail limits, and workflow timing for the
// showrunner daemon.
package config
