package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"showrunner/internal/config"
	"showrunner/internal/services"
)

func TestNewFromConfigSelectsStubWithoutCredentials(t *testing.T) {
	client := NewFromConfig(config.TTS{BaseURL: "https://tts.example.com"})
	if client.Configured() {
		t.Fatal("expected stub when api key is missing")
	}
	client = NewFromConfig(config.TTS{APIKey: "key", BaseURL: "https://tts.example.com"})
	if !client.Configured() {
		t.Fatal("expected live adapter when credentials are present")
	}
}

func TestStubSynthesizeWritesDeterministicArtifact(t *testing.T) {
	stub := NewStub()
	out := filepath.Join(t.TempDir(), "scene-1.wav")

	result, err := stub.Synthesize(context.Background(), Request{
		SceneID:    "scene-1",
		Dialogue:   "Hello there",
		OutputPath: out,
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if result.Characters != len("Hello there") {
		t.Fatalf("unexpected character count: %d", result.Characters)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected artifact at %s: %v", out, err)
	}
}

func TestStubSynthesizeRejectsEmptyDialogue(t *testing.T) {
	stub := NewStub()
	_, err := stub.Synthesize(context.Background(), Request{OutputPath: "/tmp/x.wav"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHTTPClientSynthesizeDownloadsAudio(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/synthesize":
			if auth := r.Header.Get("Authorization"); auth != "Bearer token-123" {
				t.Fatalf("unexpected auth header: %q", auth)
			}
			var req synthesizeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if req.Voice != "narrator" {
				t.Fatalf("expected default voice, got %q", req.Voice)
			}
			json.NewEncoder(w).Encode(synthesizeResponse{AudioURL: server.URL + "/assets/audio.wav"})
		case "/assets/audio.wav":
			w.Write([]byte("audio-bytes"))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token-123", "narrator", server.Client())
	out := filepath.Join(t.TempDir(), "scene-1.wav")

	result, err := client.Synthesize(context.Background(), Request{
		SceneID:    "scene-1",
		Dialogue:   "Four words of dialogue",
		OutputPath: out,
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	data, err := os.ReadFile(result.AudioPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "audio-bytes" {
		t.Fatalf("unexpected artifact contents: %q", data)
	}
}

func TestHTTPClientClassifiesServerErrorsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream melted", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", "", server.Client())
	_, err := client.Synthesize(context.Background(), Request{
		Dialogue:   "hi",
		OutputPath: filepath.Join(t.TempDir(), "out.wav"),
	})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error for 502, got %v", err)
	}
	if !services.IsRetryable(err) {
		t.Fatal("expected 502 to be retryable")
	}
}

func TestHTTPClientClassifiesClientErrorsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", "", server.Client())
	_, err := client.Synthesize(context.Background(), Request{
		Dialogue:   "hi",
		OutputPath: filepath.Join(t.TempDir(), "out.wav"),
	})
	if !errors.Is(err, services.ErrTerminal) {
		t.Fatalf("expected terminal error for 400, got %v", err)
	}
	if services.IsRetryable(err) {
		t.Fatal("expected 400 to be non-retryable")
	}
}

func TestHTTPClientHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", "", server.Client())
	if err := client.Healthy(context.Background()); err != nil {
		t.Fatalf("Healthy failed: %v", err)
	}
}
