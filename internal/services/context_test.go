package services_test

import (
	"context"
	"testing"

	"showrunner/internal/services"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithSceneID(ctx, "scene-3")
	ctx = services.WithRequestID(ctx, "req-abc")

	if id, ok := services.JobIDFromContext(ctx); !ok || id != "job-1" {
		t.Fatalf("unexpected job id: %q %v", id, ok)
	}
	if id, ok := services.SceneIDFromContext(ctx); !ok || id != "scene-3" {
		t.Fatalf("unexpected scene id: %q %v", id, ok)
	}
	if id, ok := services.RequestIDFromContext(ctx); !ok || id != "req-abc" {
		t.Fatalf("unexpected request id: %q %v", id, ok)
	}
}

func TestContextEmptyValuesIgnored(t *testing.T) {
	ctx := services.WithJobID(context.Background(), "")
	if _, ok := services.JobIDFromContext(ctx); ok {
		t.Fatal("expected empty job id not stored")
	}
	if _, ok := services.SceneIDFromContext(context.Background()); ok {
		t.Fatal("expected missing scene id")
	}
}
