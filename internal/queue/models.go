package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a render job.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusDelayed   Status = "delayed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusWaiting,
	StatusActive,
	StatusDelayed,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Quality selects the render fidelity tier.
type Quality string

const (
	QualityLow  Quality = "LOW"
	QualityHigh Quality = "HIGH"
)

// ParseQuality validates a quality tier string.
func ParseQuality(value string) (Quality, bool) {
	switch Quality(strings.ToUpper(strings.TrimSpace(value))) {
	case QualityLow:
		return QualityLow, true
	case QualityHigh:
		return QualityHigh, true
	default:
		return "", false
	}
}

// Scene is one ordered unit of an episode requiring its own generation calls.
// Scenes are immutable once a job is created; list order determines both
// execution order and final stitch order.
type Scene struct {
	SceneID         string  `json:"sceneId"`
	Prompt          string  `json:"prompt"`
	Dialogue        string  `json:"dialogue,omitempty"`
	CharacterRef    string  `json:"characterRef,omitempty"`
	BackgroundRef   string  `json:"backgroundRef,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// JobConfig is the immutable render request captured at enqueue time.
type JobConfig struct {
	Scenes  []Scene `json:"scenes"`
	Quality Quality `json:"quality"`
}

// Validate checks a render request before a job is created.
func (c JobConfig) Validate() error {
	if len(c.Scenes) == 0 {
		return errors.New("at least one scene is required")
	}
	for i, scene := range c.Scenes {
		if strings.TrimSpace(scene.SceneID) == "" {
			return fmt.Errorf("scene %d: sceneId is required", i)
		}
		if strings.TrimSpace(scene.Prompt) == "" {
			return fmt.Errorf("scene %q: prompt is required", scene.SceneID)
		}
		if scene.DurationSeconds < 0 {
			return fmt.Errorf("scene %q: duration must not be negative", scene.SceneID)
		}
	}
	if _, ok := ParseQuality(string(c.Quality)); !ok {
		return fmt.Errorf("unknown quality tier %q", c.Quality)
	}
	return nil
}

// Result is populated only when a job reaches the completed state.
type Result struct {
	VideoURL     string   `json:"videoUrl"`
	SocialClips  []string `json:"socialClips,omitempty"`
	TotalCostUSD float64  `json:"totalCostUsd"`
}

// Job represents a render job persisted in SQLite.
type Job struct {
	ID            int64
	JobID         string
	EpisodeID     string
	UserID        string
	QuotaType     string
	Status        Status
	Progress      int
	ConfigJSON    string
	ResultJSON    string
	ErrorMessage  string
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	LastHeartbeat *time.Time
}

// Config decodes the immutable render request.
func (j *Job) Config() (JobConfig, error) {
	var cfg JobConfig
	if err := json.Unmarshal([]byte(j.ConfigJSON), &cfg); err != nil {
		return JobConfig{}, fmt.Errorf("decode job config: %w", err)
	}
	return cfg, nil
}

// Result decodes the render result, or returns nil for non-completed jobs.
func (j *Job) Result() (*Result, error) {
	if strings.TrimSpace(j.ResultJSON) == "" {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal([]byte(j.ResultJSON), &res); err != nil {
		return nil, fmt.Errorf("decode job result: %w", err)
	}
	return &res, nil
}

// SetResult encodes the render result onto the job.
func (j *Job) SetResult(res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	j.ResultJSON = string(data)
	return nil
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total     int
	Waiting   int
	Active    int
	Delayed   int
	Completed int
	Failed    int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
