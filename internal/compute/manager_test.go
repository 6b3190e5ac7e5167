package compute

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"showrunner/internal/config"
	"showrunner/internal/services"
)

type fakeProvider struct {
	mu        sync.Mutex
	launches  int
	shutdowns []string
	launchErr error
}

func (f *fakeProvider) Name() string     { return "fake" }
func (f *fakeProvider) Configured() bool { return true }

func (f *fakeProvider) Launch(context.Context) (Pod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return Pod{}, f.launchErr
	}
	f.launches++
	return Pod{ID: "pod-1", Provider: "fake", Status: StatusRunning}, nil
}

func (f *fakeProvider) Status(context.Context, string) (string, error) {
	return StatusRunning, nil
}

func (f *fakeProvider) Shutdown(_ context.Context, podID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, podID)
	return nil
}

func (f *fakeProvider) Healthy(context.Context) error { return nil }

func TestManagerReusesWarmPod(t *testing.T) {
	provider := &fakeProvider{}
	manager := NewManager(provider, time.Minute, nil)
	ctx := context.Background()

	first, err := manager.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	second, err := manager.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected warm pod reuse, got %q and %q", first, second)
	}
	if provider.launches != 1 {
		t.Fatalf("expected a single launch, got %d", provider.launches)
	}
}

func TestManagerLaunchFailureIsResourceError(t *testing.T) {
	provider := &fakeProvider{launchErr: errors.New("capacity exhausted")}
	manager := NewManager(provider, time.Minute, nil)

	_, err := manager.Acquire(context.Background())
	if !errors.Is(err, services.ErrResource) {
		t.Fatalf("expected resource error, got %v", err)
	}
	if !services.IsRetryable(err) {
		t.Fatal("expected pod acquisition failure to be retryable")
	}
}

func TestReapIdleSkipsLeasedPod(t *testing.T) {
	provider := &fakeProvider{}
	manager := NewManager(provider, 0, nil)
	ctx := context.Background()

	if _, err := manager.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := manager.ReapIdle(ctx); err != nil {
		t.Fatalf("ReapIdle failed: %v", err)
	}
	if len(provider.shutdowns) != 0 {
		t.Fatal("expected leased pod to survive the reaper")
	}
}

func TestReapIdleRetiresIdlePod(t *testing.T) {
	provider := &fakeProvider{}
	manager := NewManager(provider, time.Minute, nil)
	ctx := context.Background()

	podID, err := manager.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	manager.Release(podID)

	// Pretend the pod has been idle past the timeout.
	manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := manager.ReapIdle(ctx); err != nil {
		t.Fatalf("ReapIdle failed: %v", err)
	}
	if len(provider.shutdowns) != 1 || provider.shutdowns[0] != podID {
		t.Fatalf("expected idle pod shutdown, got %v", provider.shutdowns)
	}

	// Next acquire launches fresh.
	if _, err := manager.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after reap failed: %v", err)
	}
	if provider.launches != 2 {
		t.Fatalf("expected relaunch after reap, got %d launches", provider.launches)
	}
}

func TestShutdownRetiresPodUnconditionally(t *testing.T) {
	provider := &fakeProvider{}
	manager := NewManager(provider, time.Minute, nil)
	ctx := context.Background()

	if _, err := manager.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if len(provider.shutdowns) != 1 {
		t.Fatalf("expected one shutdown, got %v", provider.shutdowns)
	}
}

func TestNewProviderSelectsStubWithoutCredentials(t *testing.T) {
	provider, err := NewProvider(config.Compute{Provider: "spot"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if provider.Configured() {
		t.Fatal("expected stub provider without credentials")
	}

	pod, err := provider.Launch(context.Background())
	if err != nil {
		t.Fatalf("stub Launch failed: %v", err)
	}
	if pod.Status != StatusStopped {
		t.Fatalf("expected stub pods to report stopped, got %q", pod.Status)
	}

	status, err := provider.Status(context.Background(), pod.ID)
	if err != nil {
		t.Fatalf("stub Status failed: %v", err)
	}
	if status != StatusStopped {
		t.Fatalf("expected stopped, got %q", status)
	}
}

func TestNewProviderRejectsUnknownName(t *testing.T) {
	_, err := NewProvider(config.Compute{Provider: "quantum"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestHTTPProviderLifecycle(t *testing.T) {
	var deleted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pods":
			if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
				t.Fatalf("unexpected auth header: %q", auth)
			}
			json.NewEncoder(w).Encode(podResponse{PodID: "pod-77", Status: StatusRunning})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/pods/pod-77":
			json.NewEncoder(w).Encode(podResponse{PodID: "pod-77", Status: StatusIdle})
		case r.Method == http.MethodDelete && r.URL.Path == "/v1/pods/pod-77":
			deleted = "pod-77"
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	provider := NewHTTPProvider(ProviderOnDemand, server.URL, "key-1", server.Client())
	ctx := context.Background()

	pod, err := provider.Launch(ctx)
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if pod.ID != "pod-77" || pod.Status != StatusRunning {
		t.Fatalf("unexpected pod: %+v", pod)
	}

	status, err := provider.Status(ctx, pod.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusIdle {
		t.Fatalf("expected idle, got %q", status)
	}

	if err := provider.Shutdown(ctx, pod.ID); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if deleted != "pod-77" {
		t.Fatal("expected delete call to reach the provider")
	}
}
