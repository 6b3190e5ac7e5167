package testsupport

import (
	"path/filepath"
	"testing"

	"showrunner/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options. Provider
// credentials stay empty so every adapter runs in stub mode.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.API.Keys = map[string]string{"test-key": "user-1"}
	cfgVal.API.WebhookSecret = "test-webhook-secret"
	cfgVal.Workflow.WorkerCount = 1
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.HeartbeatInterval = 1
	cfgVal.Workflow.RetryBackoffBaseSeconds = 1
	cfgVal.Workflow.RetryBackoffMaxSeconds = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := cfgVal.EnsureDirectories(); err != nil {
		t.Fatalf("ensure config directories: %v", err)
	}

	return builder.cfg
}

// WithAPIKey maps an additional API key to a user on the test config.
func WithAPIKey(key, userID string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.API.Keys == nil {
			b.cfg.API.Keys = map[string]string{}
		}
		b.cfg.API.Keys[key] = userID
	}
}

// WithGuardrails replaces the guardrail limits on the test config.
func WithGuardrails(g config.Guardrails) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Guardrails = g
	}
}

// WithMaxAttempts sets the retry ceiling on the test config.
func WithMaxAttempts(attempts int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workflow.MaxAttempts = attempts
	}
}
