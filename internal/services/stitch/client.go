// Package stitch wraps the provider that concatenates per-scene segments and
// audio tracks into one episode and derives fixed-duration social clips from
// the result.
package stitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"showrunner/internal/config"
	"showrunner/internal/services"
)

const (
	component      = "stitch"
	defaultTimeout = 120 * time.Second
)

// Request describes one stitch run. Segments and audio tracks are paired by
// index and concatenated in slice order.
type Request struct {
	SegmentPaths []string
	AudioPaths   []string
	OutputPath   string
	// ClipDurations lists the social clip lengths, in seconds, to derive
	// from the stitched output. Empty means no clips.
	ClipDurations []int
	// ClipDir is where derived clips are written.
	ClipDir string
}

// Result reports the stitched episode and any derived clips.
type Result struct {
	VideoPath string
	ClipPaths []string
}

// Client stitches ordered segments into a final episode.
type Client interface {
	Stitch(ctx context.Context, req Request) (Result, error)
	Healthy(ctx context.Context) error
	Configured() bool
}

// HTTPDoer describes the HTTP client used by the live adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewFromConfig selects the live HTTP adapter when an API key is present and
// the deterministic stub otherwise.
func NewFromConfig(cfg config.Stitch) Client {
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

type stitchResponse struct {
	VideoURL string   `json:"video_url"`
	ClipURLs []string `json:"clip_urls"`
}

func (c *httpClient) Stitch(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	body, contentType, err := buildMultipart(req)
	if err != nil {
		return Result{}, err
	}
	endpoint, err := url.JoinPath(c.baseURL, "/v1/stitch")
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, component, "stitch", "build url", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "stitch", "build request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, services.Wrap(classifyTransportError(err), component, "stitch", "request failed", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "stitch", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return Result{}, services.StatusError(component, "stitch", resp.StatusCode, string(respBody))
	}

	var decoded stitchResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, component, "stitch", "decode response", err)
	}
	if strings.TrimSpace(decoded.VideoURL) == "" {
		return Result{}, services.Wrap(services.ErrTerminal, component, "stitch", "response missing video url", nil)
	}
	if err := downloadArtifact(ctx, c.client, decoded.VideoURL, req.OutputPath); err != nil {
		return Result{}, err
	}

	clipPaths := make([]string, 0, len(decoded.ClipURLs))
	for i, clipURL := range decoded.ClipURLs {
		seconds := 0
		if i < len(req.ClipDurations) {
			seconds = req.ClipDurations[i]
		}
		dest := clipPath(req.ClipDir, seconds, i)
		if err := downloadArtifact(ctx, c.client, clipURL, dest); err != nil {
			return Result{}, err
		}
		clipPaths = append(clipPaths, dest)
	}
	return Result{VideoPath: req.OutputPath, ClipPaths: clipPaths}, nil
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

// buildMultipart packages ordered segment and audio files plus the clip plan
// into a multipart body. Order of parts matches stitch order.
func buildMultipart(req Request) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	plan, err := json.Marshal(map[string]any{"clip_durations": req.ClipDurations})
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, component, "stitch", "encode clip plan", err)
	}
	if err := writer.WriteField("plan", string(plan)); err != nil {
		return nil, "", services.Wrap(services.ErrTransient, component, "stitch", "write plan field", err)
	}
	for i, path := range req.SegmentPaths {
		if err := attachFile(writer, fmt.Sprintf("segment_%d", i), path); err != nil {
			return nil, "", err
		}
	}
	for i, path := range req.AudioPaths {
		if err := attachFile(writer, fmt.Sprintf("audio_%d", i), path); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", services.Wrap(services.ErrTransient, component, "stitch", "finalize multipart body", err)
	}
	return buf, writer.FormDataContentType(), nil
}

func attachFile(writer *multipart.Writer, field, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrStorage, component, "stitch", fmt.Sprintf("open %s", path), err)
	}
	defer file.Close()
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return services.Wrap(services.ErrTransient, component, "stitch", "create form file", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return services.Wrap(services.ErrTransient, component, "stitch", fmt.Sprintf("copy %s", path), err)
	}
	return nil
}

func validate(req Request) error {
	if len(req.SegmentPaths) == 0 {
		return services.Wrap(services.ErrValidation, component, "stitch", "at least one segment required", nil)
	}
	if len(req.AudioPaths) != 0 && len(req.AudioPaths) != len(req.SegmentPaths) {
		return services.Wrap(services.ErrValidation, component, "stitch", "audio track count must match segment count", nil)
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return services.Wrap(services.ErrValidation, component, "stitch", "output path required", nil)
	}
	if len(req.ClipDurations) > 0 && strings.TrimSpace(req.ClipDir) == "" {
		return services.Wrap(services.ErrValidation, component, "stitch", "clip directory required when deriving clips", nil)
	}
	return nil
}

func clipPath(dir string, seconds, index int) string {
	name := fmt.Sprintf("clip_%d.mp4", index)
	if seconds > 0 {
		name = fmt.Sprintf("clip_%ds.mp4", seconds)
	}
	return filepath.Join(dir, name)
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
