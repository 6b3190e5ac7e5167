package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	c.API.Bind = strings.TrimSpace(c.API.Bind)
	c.API.WebhookSecret = strings.TrimSpace(c.API.WebhookSecret)

	c.TTS.APIKey = strings.TrimSpace(c.TTS.APIKey)
	c.TTS.BaseURL = strings.TrimRight(strings.TrimSpace(c.TTS.BaseURL), "/")
	c.VideoGen.APIKey = strings.TrimSpace(c.VideoGen.APIKey)
	c.VideoGen.BaseURL = strings.TrimRight(strings.TrimSpace(c.VideoGen.BaseURL), "/")
	c.Stitch.APIKey = strings.TrimSpace(c.Stitch.APIKey)
	c.Stitch.BaseURL = strings.TrimRight(strings.TrimSpace(c.Stitch.BaseURL), "/")

	c.Compute.Provider = strings.ToLower(strings.TrimSpace(c.Compute.Provider))
	c.Compute.Spot.APIKey = strings.TrimSpace(c.Compute.Spot.APIKey)
	c.Compute.Spot.BaseURL = strings.TrimRight(strings.TrimSpace(c.Compute.Spot.BaseURL), "/")
	c.Compute.OnDemand.APIKey = strings.TrimSpace(c.Compute.OnDemand.APIKey)
	c.Compute.OnDemand.BaseURL = strings.TrimRight(strings.TrimSpace(c.Compute.OnDemand.BaseURL), "/")

	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.AccessKey = strings.TrimSpace(c.Storage.AccessKey)
	c.Storage.SecretKey = strings.TrimSpace(c.Storage.SecretKey)
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")

	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = 1
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = 1
	}
	return nil
}
