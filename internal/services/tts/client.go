// Package tts wraps the dialogue synthesis provider behind a small client
// interface. A deterministic stub takes over when no API key is configured so
// the rest of the pipeline never branches on credential presence.
package tts

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
	component      = "tts"
	defaultTimeout = 60 * time.Second
)

// Request describes one scene's dialogue synthesis call.
type Request struct {
	SceneID  string
	Dialogue string
	Voice    string
	// OutputPath is where the synthesized audio file is written.
	OutputPath string
}

// Result reports the produced artifact and the billable unit count.
type Result struct {
	AudioPath string
	// Characters is the number of input characters billed by the provider.
	Characters int
}

// Client synthesizes dialogue audio for a scene.
type Client interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
	Healthy(ctx context.Context) error
	Configured() bool
}

// HTTPDoer describes the HTTP client used by the live adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewFromConfig selects the live HTTP adapter when an API key is present and
// the deterministic stub otherwise.
func NewFromConfig(cfg config.TTS) Client {
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if apiKey == "" || baseURL == "" {
		return NewStub()
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return NewHTTPClient(baseURL, apiKey, cfg.Voice, &http.Client{Timeout: timeout})
}

type httpClient struct {
	baseURL      string
	apiKey       string
	defaultVoice string
	client       HTTPDoer
}

// NewHTTPClient constructs the live adapter against the given endpoint.
func NewHTTPClient(baseURL, apiKey, defaultVoice string, client HTTPDoer) Client {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &httpClient{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:       strings.TrimSpace(apiKey),
		defaultVoice: strings.TrimSpace(defaultVoice),
		client:       client,
	}
}

func (c *httpClient) Configured() bool { return true }

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type synthesizeResponse struct {
	AudioURL string `json:"audio_url"`
}

func (c *httpClient) Synthesize(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Dialogue) == "" {
		return Result{}, services.Wrap(services.ErrValidation, component, "synthesize", "dialogue required", nil)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return Result{}, services.Wrap(services.ErrValidation, component, "synthesize", "output path required", nil)
	}
	voice := strings.TrimSpace(req.Voice)
	if voice == "" {
		voice = c.defaultVoice
	}

	endpoint, err := url.JoinPath(c.baseURL, "/v1/synthesize")
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, component, "synthesize", "build url", err)
	}
	encoded, err := json.Marshal(synthesizeRequest{Text: req.Dialogue, Voice: voice})
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, component, "synthesize", "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "synthesize", "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, services.Wrap(classifyTransportError(err), component, "synthesize", "request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "synthesize", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, services.StatusError(component, "synthesize", resp.StatusCode, string(body))
	}

	var decoded synthesizeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "synthesize", "decode response", err)
	}
	if strings.TrimSpace(decoded.AudioURL) == "" {
		return Result{}, services.Wrap(services.ErrTerminal, component, "synthesize", "response missing audio url", nil)
	}
	if err := downloadArtifact(ctx, c.client, decoded.AudioURL, req.OutputPath); err != nil {
		return Result{}, err
	}
	return Result{AudioPath: req.OutputPath, Characters: len(req.Dialogue)}, nil
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

// downloadArtifact fetches a generated asset and writes it to destPath.
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
