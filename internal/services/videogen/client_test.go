package videogen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"showrunner/internal/config"
	"showrunner/internal/services"
)

func TestNewFromConfigSelectsStubWithoutCredentials(t *testing.T) {
	client := NewFromConfig(config.VideoGen{})
	if client.Configured() {
		t.Fatal("expected stub when api key is missing")
	}
}

func TestStubGenerateBillsNominalDuration(t *testing.T) {
	stub := NewStub()
	out := filepath.Join(t.TempDir(), "scene-1.mp4")

	result, err := stub.Generate(context.Background(), Request{
		SceneID:         "scene-1",
		Prompt:          "a quiet street at dawn",
		DurationSeconds: 8,
		Quality:         "LOW",
		OutputPath:      out,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Seconds != 8 {
		t.Fatalf("expected 8 billable seconds, got %d", result.Seconds)
	}
	if result.VideoPath != out {
		t.Fatalf("unexpected artifact path: %s", result.VideoPath)
	}
}

func TestStubGenerateRejectsInvalidRequest(t *testing.T) {
	stub := NewStub()
	_, err := stub.Generate(context.Background(), Request{Prompt: "p", OutputPath: "/tmp/x.mp4"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero duration, got %v", err)
	}
}

func TestHTTPClientAppliesConsistencyOnlyWithCharacterRef(t *testing.T) {
	var requests []generateRequest
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/generate":
			var req generateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			requests = append(requests, req)
			json.NewEncoder(w).Encode(generateResponse{VideoURL: server.URL + "/assets/out.mp4", Seconds: req.DurationSeconds})
		case "/assets/out.mp4":
			w.Write([]byte("video-bytes"))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	dir := t.TempDir()

	base := Request{
		Prompt:          "hero walks into frame",
		DurationSeconds: 6,
		Quality:         "HIGH",
		PodID:           "pod-1",
	}

	withRef := base
	withRef.CharacterRef = "char-99"
	withRef.OutputPath = filepath.Join(dir, "with.mp4")
	if _, err := client.Generate(context.Background(), withRef); err != nil {
		t.Fatalf("Generate with ref failed: %v", err)
	}

	withoutRef := base
	withoutRef.OutputPath = filepath.Join(dir, "without.mp4")
	if _, err := client.Generate(context.Background(), withoutRef); err != nil {
		t.Fatalf("Generate without ref failed: %v", err)
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 provider calls, got %d", len(requests))
	}
	if requests[0].ConsistencyStrength != consistencyStrength {
		t.Fatalf("expected tuned consistency strength, got %v", requests[0].ConsistencyStrength)
	}
	if requests[0].PodID != "pod-1" {
		t.Fatalf("expected pod id to travel with the request, got %q", requests[0].PodID)
	}
	if requests[1].ConsistencyStrength != 0 {
		t.Fatalf("expected no conditioning without a character ref, got %v", requests[1].ConsistencyStrength)
	}
}

func TestHTTPClientClassifiesRateLimitTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	_, err := client.Generate(context.Background(), Request{
		Prompt:          "p",
		DurationSeconds: 5,
		OutputPath:      filepath.Join(t.TempDir(), "out.mp4"),
	})
	if !services.IsRetryable(err) {
		t.Fatalf("expected 429 to be retryable, got %v", err)
	}
}

func TestHTTPClientClassifiesBadPromptTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "prompt rejected", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	_, err := client.Generate(context.Background(), Request{
		Prompt:          "p",
		DurationSeconds: 5,
		OutputPath:      filepath.Join(t.TempDir(), "out.mp4"),
	})
	if !errors.Is(err, services.ErrTerminal) {
		t.Fatalf("expected terminal error for 422, got %v", err)
	}
}
