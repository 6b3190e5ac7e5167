package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"showrunner/internal/config"
)

func TestLoadDefaultsExpandPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "showrunner", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, ".local", "share", "showrunner", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.API.Bind != "127.0.0.1:8742" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Compute.Provider != "spot" {
		t.Fatalf("expected spot compute provider by default, got %q", cfg.Compute.Provider)
	}
	if cfg.Guardrails.DailyEpisodeLimit != 5 {
		t.Fatalf("unexpected default episode limit: %d", cfg.Guardrails.DailyEpisodeLimit)
	}
	if cfg.Workflow.WorkerCount != 2 {
		t.Fatalf("unexpected default worker count: %d", cfg.Workflow.WorkerCount)
	}
	if cfg.Notifications.NtfyTopic != "" {
		t.Fatalf("expected notifications disabled by default, got topic %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Notifications.RequestTimeoutSeconds != 10 {
		t.Fatalf("unexpected notification timeout default: %d", cfg.Notifications.RequestTimeoutSeconds)
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %q %q", cfg.Logging.Format, cfg.Logging.Level)
	}
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := strings.Join([]string{
		"[paths]",
		`work_dir = "` + filepath.Join(dir, "work") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
		"",
		"[api]",
		`bind = "127.0.0.1:9000"`,
		"[api.keys]",
		`"secret-key" = "user-1"`,
		"",
		"[videogen]",
		`base_url = "https://videogen.test/v2/"`,
		"cost_per_second_high = 0.35",
		"",
		"[compute]",
		`provider = "OnDemand"`,
		"",
		"[guardrails]",
		"daily_episode_limit = 2",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: exists=%v path=%q", exists, resolved)
	}
	if cfg.API.Bind != "127.0.0.1:9000" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.VideoGen.BaseURL != "https://videogen.test/v2" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.VideoGen.BaseURL)
	}
	if cfg.VideoGen.CostPerSecondHigh != 0.35 {
		t.Fatalf("unexpected high tier rate: %v", cfg.VideoGen.CostPerSecondHigh)
	}
	if cfg.VideoGen.CostPerSecondLow != config.Default().VideoGen.CostPerSecondLow {
		t.Fatalf("expected untouched low tier rate, got %v", cfg.VideoGen.CostPerSecondLow)
	}
	if cfg.Compute.Provider != "ondemand" {
		t.Fatalf("expected provider lowercased, got %q", cfg.Compute.Provider)
	}
	if cfg.Guardrails.DailyEpisodeLimit != 2 {
		t.Fatalf("unexpected episode limit: %d", cfg.Guardrails.DailyEpisodeLimit)
	}

	user, ok := cfg.UserForAPIKey("secret-key")
	if !ok || user != "user-1" {
		t.Fatalf("unexpected key resolution: %q %v", user, ok)
	}
	if _, ok := cfg.UserForAPIKey("wrong-key"); ok {
		t.Fatal("expected unknown key rejected")
	}
	if _, ok := cfg.UserForAPIKey(""); ok {
		t.Fatal("expected empty key rejected")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		section string
		wantErr string
	}{
		{
			name:    "unknown compute provider",
			section: "[compute]\nprovider = \"lambda\"",
			wantErr: "compute.provider",
		},
		{
			name:    "heartbeat timeout below interval",
			section: "[workflow]\nheartbeat_interval = 30\nheartbeat_timeout = 20",
			wantErr: "heartbeat_timeout",
		},
		{
			name:    "global cap below user cap",
			section: "[guardrails]\nuser_daily_spend_cap_usd = 100.0\nglobal_daily_spend_cap_usd = 50.0",
			wantErr: "global_daily_spend_cap_usd",
		},
		{
			name:    "zero rate limit",
			section: "[guardrails]\nrate_limit_per_minute = 0",
			wantErr: "rate_limit_per_minute",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tc.name, " ", "-")+".toml")
			if err := os.WriteFile(path, []byte(tc.section+"\n"), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestCreateSampleLoadsCleanly(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	path := filepath.Join(tempHome, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Paths.WorkDir == "" {
		t.Fatal("expected work dir populated from sample")
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkDir = filepath.Join(dir, "work")
	cfg.Paths.LogDir = filepath.Join(dir, "logs", "deep")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, want := range []string{cfg.Paths.WorkDir, cfg.Paths.LogDir} {
		info, err := os.Stat(want)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", want, err)
		}
	}
}
