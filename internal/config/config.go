package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	WorkDir string `toml:"work_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains HTTP server and authentication configuration.
type API struct {
	Bind string `toml:"bind"`
	// Keys maps API keys to user identifiers. A request authenticates by
	// presenting one of these keys in the X-API-Key header.
	Keys map[string]string `toml:"keys"`
	// WebhookSecret signs payment-provider webhook payloads (HMAC-SHA256).
	WebhookSecret string `toml:"webhook_secret"`
}

// TTS contains configuration for the dialogue synthesis provider.
type TTS struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	Voice          string  `toml:"voice"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	CostPer1KChars float64 `toml:"cost_per_1k_chars"`
}

// VideoGen contains configuration for the video synthesis provider.
type VideoGen struct {
	APIKey            string  `toml:"api_key"`
	BaseURL           string  `toml:"base_url"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	CostPerSecondLow  float64 `toml:"cost_per_second_low"`
	CostPerSecondHigh float64 `toml:"cost_per_second_high"`
}

// Stitch contains configuration for the stitching/derivation provider.
type Stitch struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	CostPerRun     float64 `toml:"cost_per_run"`
}

// ComputeProvider contains credentials for one pod provider.
type ComputeProvider struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// Compute selects and configures the GPU pod providers.
type Compute struct {
	// Provider picks the active integration: "spot" for development,
	// "ondemand" for production.
	Provider           string          `toml:"provider"`
	IdleTimeoutMinutes int             `toml:"idle_timeout_minutes"`
	Spot               ComputeProvider `toml:"spot"`
	OnDemand           ComputeProvider `toml:"ondemand"`
}

// Storage contains artifact storage configuration. When AccessKey is empty
// the store falls back to a local directory under WorkDir.
type Storage struct {
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	UsePathStyle  bool   `toml:"use_path_style"`
	PublicBaseURL string `toml:"public_base_url"`
}

// Guardrails contains admission limits and spend caps.
type Guardrails struct {
	RateLimitPerMinute     int     `toml:"rate_limit_per_minute"`
	RateLimitBurst         int     `toml:"rate_limit_burst"`
	DailyEpisodeLimit      int     `toml:"daily_episode_limit"`
	DailyRerollLimit       int     `toml:"daily_reroll_limit"`
	DailyRunLimit          int     `toml:"daily_run_limit"`
	UserDailySpendCapUSD   float64 `toml:"user_daily_spend_cap_usd"`
	GlobalDailySpendCapUSD float64 `toml:"global_daily_spend_cap_usd"`
}

// Workflow contains pipeline timing and retry configuration.
type Workflow struct {
	WorkerCount             int `toml:"worker_count"`
	QueuePollInterval       int `toml:"queue_poll_interval"`
	ErrorRetryInterval      int `toml:"error_retry_interval"`
	HeartbeatInterval       int `toml:"heartbeat_interval"`
	HeartbeatTimeout        int `toml:"heartbeat_timeout"`
	MaxAttempts             int `toml:"max_attempts"`
	RetryBackoffBaseSeconds int `toml:"retry_backoff_base_seconds"`
	RetryBackoffMaxSeconds  int `toml:"retry_backoff_max_seconds"`
}

// Notifications configures push notifications for render job outcomes.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for showrunner.
//
// Configuration sections by subsystem:
//   - Paths: working/log directories
//   - API: bind address, API keys, webhook secret
//   - TTS / VideoGen / Stitch: generation provider credentials and rates
//   - Compute: GPU pod providers (spot and on-demand)
//   - Storage: artifact storage backend
//   - Guardrails: rate limits, daily quotas, spend caps
//   - Workflow: worker pool sizing, polling, heartbeats, retry policy
//   - Logging: log format and level
//   - Notifications: push notifications for job outcomes
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	TTS           TTS           `toml:"tts"`
	VideoGen      VideoGen      `toml:"videogen"`
	Stitch        Stitch        `toml:"stitch"`
	Compute       Compute       `toml:"compute"`
	Storage       Storage       `toml:"storage"`
	Guardrails    Guardrails    `toml:"guardrails"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/showrunner/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("showrunner.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// UserForAPIKey resolves an API key to its user identifier.
func (c *Config) UserForAPIKey(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	user, ok := c.API.Keys[key]
	return user, ok && user != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
