// Package compute manages GPU pod lifecycles across two interchangeable
// providers: a cheap spot provider for development and a reliable on-demand
// provider for production. The pipeline leases pods through the Manager and
// never talks to a provider directly.
package compute

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
	"strings"
	"time"

	"github.com/google/uuid"

	"showrunner/internal/config"
	"showrunner/internal/services"
)

// Pod statuses reported by providers.
const (
	StatusRunning = "running"
	StatusIdle    = "idle"
	StatusStopped = "stopped"
)

// Provider names.
const (
	ProviderSpot     = "spot"
	ProviderOnDemand = "ondemand"
)

const defaultTimeout = 30 * time.Second

// Pod identifies one GPU instance on a provider.
type Pod struct {
	ID       string
	Provider string
	Status   string
}

// Provider is one pod backend. Implementations without credentials run in
// stub mode: synthetic identifiers, stopped status, no network calls.
type Provider interface {
	Name() string
	Launch(ctx context.Context) (Pod, error)
	Status(ctx context.Context, podID string) (string, error)
	Shutdown(ctx context.Context, podID string) error
	Healthy(ctx context.Context) error
	Configured() bool
}

// HTTPDoer describes the HTTP client used by live providers.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewProvider builds the active provider named by the compute configuration.
func NewProvider(cfg config.Compute) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderSpot, "":
		return newProvider(ProviderSpot, cfg.Spot), nil
	case ProviderOnDemand:
		return newProvider(ProviderOnDemand, cfg.OnDemand), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "compute", "new provider",
			fmt.Sprintf("unknown provider %q", cfg.Provider), nil)
	}
}

func newProvider(name string, cfg config.ComputeProvider) Provider {
	apiKey := strings.TrimSpace(cfg.APIKey)
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if apiKey == "" || baseURL == "" {
		return newStubProvider(name)
	}
	return &httpProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type httpProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// NewHTTPProvider constructs a live provider against the given endpoint.
func NewHTTPProvider(name, baseURL, apiKey string, client HTTPDoer) Provider {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &httpProvider{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  client,
	}
}

func (p *httpProvider) Name() string     { return p.name }
func (p *httpProvider) Configured() bool { return true }

type podResponse struct {
	PodID  string `json:"pod_id"`
	Status string `json:"status"`
}

func (p *httpProvider) Launch(ctx context.Context) (Pod, error) {
	body, err := p.do(ctx, http.MethodPost, "/v1/pods", map[string]string{"gpu": "default"})
	if err != nil {
		return Pod{}, err
	}
	var decoded podResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Pod{}, services.Wrap(services.ErrResource, p.name, "launch", "decode response", err)
	}
	if strings.TrimSpace(decoded.PodID) == "" {
		return Pod{}, services.Wrap(services.ErrResource, p.name, "launch", "response missing pod id", nil)
	}
	status := decoded.Status
	if status == "" {
		status = StatusRunning
	}
	return Pod{ID: decoded.PodID, Provider: p.name, Status: status}, nil
}

func (p *httpProvider) Status(ctx context.Context, podID string) (string, error) {
	body, err := p.do(ctx, http.MethodGet, "/v1/pods/"+url.PathEscape(podID), nil)
	if err != nil {
		return "", err
	}
	var decoded podResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", services.Wrap(services.ErrResource, p.name, "status", "decode response", err)
	}
	return decoded.Status, nil
}

func (p *httpProvider) Shutdown(ctx context.Context, podID string) error {
	_, err := p.do(ctx, http.MethodDelete, "/v1/pods/"+url.PathEscape(podID), nil)
	return err
}

func (p *httpProvider) Healthy(ctx context.Context) error {
	_, err := p.do(ctx, http.MethodGet, "/v1/health", nil)
	return err
}

func (p *httpProvider) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	endpoint, err := url.JoinPath(p.baseURL, path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, p.name, "request", "build url", err)
	}
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, services.Wrap(services.ErrResource, p.name, "request", "encode payload", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrResource, p.name, "request", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		marker := services.ErrResource
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		} else {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				marker = services.ErrTimeout
			}
		}
		return nil, services.Wrap(marker, p.name, "request", method+" "+path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrResource, p.name, "request", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		marker := services.ErrTerminal
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			marker = services.ErrResource
		}
		return nil, services.Wrap(marker, p.name, "request",
			fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode), nil)
	}
	return body, nil
}

// stubProvider hands out synthetic pods and never touches the network.
type stubProvider struct {
	name string
}

func newStubProvider(name string) *stubProvider { return &stubProvider{name: name} }

func (p *stubProvider) Name() string     { return p.name }
func (p *stubProvider) Configured() bool { return false }

func (p *stubProvider) Launch(context.Context) (Pod, error) {
	return Pod{
		ID:       fmt.Sprintf("stub-%s-%s", p.name, uuid.NewString()[:8]),
		Provider: p.name,
		Status:   StatusStopped,
	}, nil
}

func (p *stubProvider) Status(context.Context, string) (string, error) {
	return StatusStopped, nil
}

func (p *stubProvider) Shutdown(context.Context, string) error { return nil }

func (p *stubProvider) Healthy(context.Context) error { return nil }
