package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateCompute(); err != nil {
		return err
	}
	if err := c.validateGuardrails(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return errors.New("api.bind must be set")
	}
	return nil
}

func (c *Config) validateCompute() error {
	switch c.Compute.Provider {
	case "spot", "ondemand":
	default:
		return fmt.Errorf("compute.provider must be \"spot\" or \"ondemand\", got %q", c.Compute.Provider)
	}
	if c.Compute.IdleTimeoutMinutes < 0 {
		return errors.New("compute.idle_timeout_minutes must not be negative")
	}
	return nil
}

func (c *Config) validateGuardrails() error {
	g := c.Guardrails
	if g.RateLimitPerMinute <= 0 {
		return errors.New("guardrails.rate_limit_per_minute must be positive")
	}
	if g.RateLimitBurst <= 0 {
		return errors.New("guardrails.rate_limit_burst must be positive")
	}
	for name, limit := range map[string]int{
		"guardrails.daily_episode_limit": g.DailyEpisodeLimit,
		"guardrails.daily_reroll_limit":  g.DailyRerollLimit,
		"guardrails.daily_run_limit":     g.DailyRunLimit,
	} {
		if limit <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if g.UserDailySpendCapUSD <= 0 {
		return errors.New("guardrails.user_daily_spend_cap_usd must be positive")
	}
	if g.GlobalDailySpendCapUSD < g.UserDailySpendCapUSD {
		return errors.New("guardrails.global_daily_spend_cap_usd must not be below the per-user cap")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	w := c.Workflow
	if w.QueuePollInterval < 0 || w.ErrorRetryInterval < 0 {
		return errors.New("workflow intervals must not be negative")
	}
	if w.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if w.HeartbeatTimeout <= w.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	if w.RetryBackoffBaseSeconds <= 0 || w.RetryBackoffMaxSeconds < w.RetryBackoffBaseSeconds {
		return errors.New("workflow retry backoff bounds are inconsistent")
	}
	return nil
}
