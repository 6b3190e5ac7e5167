// Package videogen wraps the video synthesis provider. Generation runs on a
// GPU pod leased from the compute manager; the pod identifier travels with
// each request so the provider can route work to warm capacity.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"showrunner/internal/config"
	"showrunner/internal/services"
)

const (
	component      = "videogen"
	defaultTimeout = 180 * time.Second

	// consistencyStrength biases synthesis toward the scene's character
	// reference image. The value is tuned; exposing it as configuration
	// destabilizes character identity.
	consistencyStrength = 0.85
)

// Request describes one scene's video synthesis call.
type Request struct {
	SceneID       string
	Prompt        string
	CharacterRef  string
	BackgroundRef string
	// DurationSeconds is the scene's nominal timeline slot.
	DurationSeconds int
	// Quality is "LOW" or "HIGH" as declared on the job.
	Quality string
	// PodID identifies the leased GPU pod executing this request.
	PodID      string
	OutputPath string
}

// Result reports the produced segment and the billable seconds.
type Result struct {
	VideoPath string
	Seconds   int
}

// Client synthesizes one video segment per scene.
type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
	Healthy(ctx context.Context) error
	Configured() bool
}

// HTTPDoer describes the HTTP client used by the live adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewFromConfig selects the live HTTP adapter when an API key is present and
// the deterministic stub otherwise.
func NewFromConfig(cfg config.VideoGen) Client {
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if apiKey == "" || baseURL == "" {
		return NewStub()
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return NewHTTPClient(baseURL, apiKey, &http.Client{Timeout: timeout})
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewHTTPClient constructs the live adapter against the given endpoint.
func NewHTTPClient(baseURL, apiKey string, client HTTPDoer) Client {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &httpClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

func (c *httpClient) Configured() bool { return true }

type generateRequest struct {
	Prompt              string  `json:"prompt"`
	CharacterRef        string  `json:"character_ref,omitempty"`
	BackgroundRef       string  `json:"background_ref,omitempty"`
	ConsistencyStrength float64 `json:"consistency_strength,omitempty"`
	DurationSeconds     int     `json:"duration_seconds"`
	Quality             string  `json:"quality"`
	PodID               string  `json:"pod_id,omitempty"`
}

type generateResponse struct {
	VideoURL string `json:"video_url"`
	Seconds  int    `json:"seconds"`
}

func (c *httpClient) Generate(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	payload := generateRequest{
		Prompt:          req.Prompt,
		BackgroundRef:   req.BackgroundRef,
		DurationSeconds: req.DurationSeconds,
		Quality:         req.Quality,
		PodID:           req.PodID,
	}
	if strings.TrimSpace(req.CharacterRef) != "" {
		payload.CharacterRef = req.CharacterRef
		payload.ConsistencyStrength = consistencyStrength
	}

	endpoint, err := url.JoinPath(c.baseURL, "/v1/generate")
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, component, "generate", "build url", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, component, "generate", "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "generate", "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, services.Wrap(classifyTransportError(err), component, "generate", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "generate", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, services.StatusError(component, "generate", resp.StatusCode, string(body))
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "generate", "decode response", err)
	}
	if strings.TrimSpace(decoded.VideoURL) == "" {
		return Result{}, services.Wrap(services.ErrTerminal, component, "generate", "response missing video url", nil)
	}
	if err := downloadArtifact(ctx, c.client, decoded.VideoURL, req.OutputPath); err != nil {
		return Result{}, err
	}
	seconds := decoded.Seconds
	if seconds <= 0 {
		seconds = req.DurationSeconds
	}
	return Result{VideoPath: req.OutputPath, Seconds: seconds}, nil
}

func (c *httpClient) Healthy(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.baseURL, "/v1/health")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "health", "build url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "health", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "health", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.StatusError(component, "health", resp.StatusCode, "")
	}
	return nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return services.Wrap(services.ErrValidation, component, "generate", "prompt required", nil)
	}
	if req.DurationSeconds <= 0 {
		return services.Wrap(services.ErrValidation, component, "generate", "duration must be positive", nil)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return services.Wrap(services.ErrValidation, component, "generate", "output path required", nil)
	}
	return nil
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return services.ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.ErrTimeout
	}
	return services.ErrTransient
}

func downloadArtifact(ctx context.Context, client HTTPDoer, assetURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "download", "build request", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return services.Wrap(classifyTransportError(err), component, "download", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return services.StatusError(component, "download", resp.StatusCode, "")
	}
	out, err := os.Create(destPath)
	if err != nil {
		return services.Wrap(services.ErrStorage, component, "download", fmt.Sprintf("create %s", destPath), err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return services.Wrap(services.ErrTransient, component, "download", "write artifact", err)
	}
	return nil
}
