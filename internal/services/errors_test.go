package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"showrunner/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "videogen", "generate", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"videogen", "generate", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "tts", "synthesize", "no marker", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient fallback, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", services.Wrap(services.ErrTransient, "tts", "synthesize", "", nil), true},
		{"timeout", services.Wrap(services.ErrTimeout, "videogen", "poll", "", nil), true},
		{"resource", services.Wrap(services.ErrResource, "compute", "acquire", "", nil), true},
		{"deadline", context.DeadlineExceeded, true},
		{"terminal", services.Wrap(services.ErrTerminal, "videogen", "generate", "rejected", nil), false},
		{"validation", services.Wrap(services.ErrValidation, "api", "render", "bad input", nil), false},
		{"configuration", services.Wrap(services.ErrConfiguration, "stitch", "client", "missing key", nil), false},
		{"storage", services.Wrap(services.ErrStorage, "storage", "upload", "checksum", nil), false},
		{"plain", errors.New("unclassified"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestStatusErrorClassification(t *testing.T) {
	if err := services.StatusError("videogen", "generate", 503, "upstream overloaded"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected 503 transient, got %v", err)
	}
	if err := services.StatusError("videogen", "generate", 429, ""); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected 429 transient, got %v", err)
	}
	err := services.StatusError("videogen", "generate", 400, "bad prompt")
	if !errors.Is(err, services.ErrTerminal) {
		t.Fatalf("expected 400 terminal, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 400") || !strings.Contains(err.Error(), "bad prompt") {
		t.Fatalf("expected status and body in message, got %q", err.Error())
	}
}

func TestStatusErrorTruncatesBody(t *testing.T) {
	body := strings.Repeat("x", 500)
	err := services.StatusError("tts", "synthesize", 500, body)
	if !strings.Contains(err.Error(), "...") {
		t.Fatalf("expected truncated body, got %q", err.Error())
	}
	if strings.Contains(err.Error(), body) {
		t.Fatal("expected body shortened")
	}
}
