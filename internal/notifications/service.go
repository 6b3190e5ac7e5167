package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"showrunner/internal/config"
)

const userAgent = "Showrunner/0.1.0"

// Service defines the notification surface exposed to the render pipeline.
type Service interface {
	NotifyJobCompleted(ctx context.Context, episodeID, videoURL string, costUSD float64) error
	NotifyJobFailed(ctx context.Context, episodeID, jobID, message string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, episodeID, videoURL string, costUSD float64) error {
	episodeID = strings.TrimSpace(episodeID)
	message := fmt.Sprintf("Episode rendered: %s ($%.2f)", episodeID, costUSD)
	if videoURL = strings.TrimSpace(videoURL); videoURL != "" {
		message = fmt.Sprintf("%s\nVideo: %s", message, videoURL)
	}
	data := payload{
		title:    "Showrunner - Render Complete",
		message:  message,
		tags:     []string{"showrunner", "render", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, episodeID, jobID, message string) error {
	episodeID = strings.TrimSpace(episodeID)
	jobID = strings.TrimSpace(jobID)
	text := fmt.Sprintf("Render failed: %s (job %s)", episodeID, jobID)
	if message = strings.TrimSpace(message); message != "" {
		text = fmt.Sprintf("%s\n%s", text, message)
	}
	data := payload{
		title:    "Showrunner - Render Failed",
		message:  text,
		tags:     []string{"showrunner", "render", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Showrunner - Test",
		message:  "Notification system test",
		tags:     []string{"showrunner", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, string, float64) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, string) error     { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
