package testsupport

import (
	"context"
	"testing"

	"showrunner/internal/config"
	"showrunner/internal/ledger"
	"showrunner/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenLedger opens a ledger.Store for tests and registers cleanup.
func MustOpenLedger(t testing.TB, cfg *config.Config) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(cfg)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueJob creates a render job for tests using the provided store.
func EnqueueJob(t testing.TB, store *queue.Store, episodeID, userID, quotaType string, jobCfg queue.JobConfig) *queue.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), episodeID, userID, quotaType, jobCfg)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}

// ThreeSceneConfig returns a valid three scene render request used across
// pipeline and API tests.
func ThreeSceneConfig(quality queue.Quality) queue.JobConfig {
	return queue.JobConfig{
		Quality: quality,
		Scenes: []queue.Scene{
			{SceneID: "scene-1", Prompt: "opening shot of the workshop", Dialogue: "Welcome back.", DurationSeconds: 6},
			{SceneID: "scene-2", Prompt: "close up on the machine", Dialogue: "Watch this part closely.", CharacterRef: "host-ref", DurationSeconds: 8},
			{SceneID: "scene-3", Prompt: "wide shot, end card", DurationSeconds: 4},
		},
	}
}
