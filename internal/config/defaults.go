package config

const (
	defaultWorkDir = "~/.local/share/showrunner/work"
	defaultLogDir  = "~/.local/share/showrunner/logs"

	defaultAPIBind = "127.0.0.1:8742"

	defaultTTSBaseURL      = "https://api.elevenlabs.io/v1"
	defaultTTSVoice        = "narrator"
	defaultVideoGenBaseURL = "https://api.videogen.example.com/v1"
	defaultStitchBaseURL   = "http://127.0.0.1:3000"

	defaultSpotBaseURL     = "https://console.vast.ai/api/v0"
	defaultOnDemandBaseURL = "https://api.runpod.io/v1"

	defaultProviderTimeout = 120

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		TTS: TTS{
			BaseURL:        defaultTTSBaseURL,
			Voice:          defaultTTSVoice,
			TimeoutSeconds: defaultProviderTimeout,
			CostPer1KChars: 0.18,
		},
		VideoGen: VideoGen{
			BaseURL:           defaultVideoGenBaseURL,
			TimeoutSeconds:    defaultProviderTimeout,
			CostPerSecondLow:  0.05,
			CostPerSecondHigh: 0.20,
		},
		Stitch: Stitch{
			BaseURL:        defaultStitchBaseURL,
			TimeoutSeconds: defaultProviderTimeout,
			CostPerRun:     0.02,
		},
		Compute: Compute{
			Provider:           "spot",
			IdleTimeoutMinutes: 20,
			Spot:               ComputeProvider{BaseURL: defaultSpotBaseURL},
			OnDemand:           ComputeProvider{BaseURL: defaultOnDemandBaseURL},
		},
		Storage: Storage{
			Region: "us-east-1",
		},
		Guardrails: Guardrails{
			RateLimitPerMinute:     10,
			RateLimitBurst:         10,
			DailyEpisodeLimit:      5,
			DailyRerollLimit:       20,
			DailyRunLimit:          40,
			UserDailySpendCapUSD:   25,
			GlobalDailySpendCapUSD: 500,
		},
		Workflow: Workflow{
			WorkerCount:             2,
			QueuePollInterval:       5,
			ErrorRetryInterval:      10,
			HeartbeatInterval:       15,
			HeartbeatTimeout:        120,
			MaxAttempts:             3,
			RetryBackoffBaseSeconds: 30,
			RetryBackoffMaxSeconds:  600,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: 10,
		},
	}
}
