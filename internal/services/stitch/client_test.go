package stitch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"showrunner/internal/services"
)

func writeFixture(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestStubStitchConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	segments := []string{
		writeFixture(t, dir, "seg-0.mp4", "A"),
		writeFixture(t, dir, "seg-1.mp4", "B"),
		writeFixture(t, dir, "seg-2.mp4", "C"),
	}
	audio := []string{
		writeFixture(t, dir, "aud-0.wav", "1"),
		writeFixture(t, dir, "aud-1.wav", "2"),
		writeFixture(t, dir, "aud-2.wav", "3"),
	}
	out := filepath.Join(dir, "episode.mp4")

	stub := NewStub()
	result, err := stub.Stitch(context.Background(), Request{
		SegmentPaths:  segments,
		AudioPaths:    audio,
		OutputPath:    out,
		ClipDurations: []int{15, 30},
		ClipDir:       dir,
	})
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}

	data, err := os.ReadFile(result.VideoPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "ABC123" {
		t.Fatalf("expected list-order concatenation, got %q", data)
	}
	if len(result.ClipPaths) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(result.ClipPaths))
	}
	for _, clip := range result.ClipPaths {
		if _, err := os.Stat(clip); err != nil {
			t.Fatalf("expected clip at %s: %v", clip, err)
		}
	}
}

func TestStitchValidatesAudioTrackCount(t *testing.T) {
	dir := t.TempDir()
	seg := writeFixture(t, dir, "seg-0.mp4", "A")

	stub := NewStub()
	_, err := stub.Stitch(context.Background(), Request{
		SegmentPaths: []string{seg},
		AudioPaths:   []string{"a.wav", "b.wav"},
		OutputPath:   filepath.Join(dir, "out.mp4"),
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for mismatched tracks, got %v", err)
	}
}

func TestHTTPClientStitchUploadsAndDownloads(t *testing.T) {
	dir := t.TempDir()
	segments := []string{
		writeFixture(t, dir, "seg-0.mp4", "segment-zero"),
		writeFixture(t, dir, "seg-1.mp4", "segment-one"),
	}

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/stitch":
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				t.Fatalf("parse multipart: %v", err)
			}
			if r.FormValue("plan") == "" {
				t.Fatal("expected clip plan field")
			}
			if len(r.MultipartForm.File) != 2 {
				t.Fatalf("expected 2 uploaded segments, got %d", len(r.MultipartForm.File))
			}
			json.NewEncoder(w).Encode(stitchResponse{
				VideoURL: server.URL + "/assets/episode.mp4",
				ClipURLs: []string{server.URL + "/assets/clip15.mp4", server.URL + "/assets/clip30.mp4"},
			})
		case "/assets/episode.mp4":
			w.Write([]byte("stitched"))
		case "/assets/clip15.mp4", "/assets/clip30.mp4":
			w.Write([]byte("clip"))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	out := filepath.Join(dir, "episode.mp4")

	result, err := client.Stitch(context.Background(), Request{
		SegmentPaths:  segments,
		OutputPath:    out,
		ClipDurations: []int{15, 30},
		ClipDir:       dir,
	})
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	data, err := os.ReadFile(result.VideoPath)
	if err != nil {
		t.Fatalf("read stitched output: %v", err)
	}
	if string(data) != "stitched" {
		t.Fatalf("unexpected stitched contents: %q", data)
	}
	want := []string{filepath.Join(dir, "clip_15s.mp4"), filepath.Join(dir, "clip_30s.mp4")}
	if len(result.ClipPaths) != 2 || result.ClipPaths[0] != want[0] || result.ClipPaths[1] != want[1] {
		t.Fatalf("unexpected clip paths: %v", result.ClipPaths)
	}
}

func TestHTTPClientStitchServerErrorIsTransient(t *testing.T) {
	dir := t.TempDir()
	seg := writeFixture(t, dir, "seg-0.mp4", "A")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stitch backend down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "token", server.Client())
	_, err := client.Stitch(context.Background(), Request{
		SegmentPaths: []string{seg},
		OutputPath:   filepath.Join(dir, "out.mp4"),
	})
	if !services.IsRetryable(err) {
		t.Fatalf("expected 503 to be retryable, got %v", err)
	}
}
