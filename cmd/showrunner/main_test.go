package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"showrunner/internal/config"
	"showrunner/internal/ledger"
	"showrunner/internal/queue"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(
		"[paths]\nwork_dir = %q\nlog_dir = %q\n",
		filepath.Join(base, "work"),
		filepath.Join(base, "logs"),
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func enqueueTestJob(t *testing.T, store *queue.Store, episodeID string) *queue.Job {
	t.Helper()
	job, err := store.Enqueue(context.Background(), episodeID, "user-1", ledger.QuotaEpisodes, queue.JobConfig{
		Quality: queue.QualityLow,
		Scenes: []queue.Scene{
			{SceneID: "scene-1", Prompt: "An establishing shot"},
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return job
}

func TestCLIQueueCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	store, err := queue.Open(env.cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	defer store.Close()

	alpha := enqueueTestJob(t, store, "ep-alpha")
	enqueueTestJob(t, store, "ep-beta")
	claimed, err := store.Claim(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("Claim: job=%v err=%v", claimed, err)
	}
	if claimed.JobID != alpha.JobID {
		t.Fatalf("expected oldest job claimed first, got %s", claimed.JobID)
	}
	if err := store.Fail(ctx, claimed.JobID, "provider rejected the prompt"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	out, _, err := runCLI(t, env.configPath, "queue", "list")
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "ep-alpha") || !strings.Contains(out, "ep-beta") {
		t.Fatalf("queue list missing jobs: %q", out)
	}

	out, _, err = runCLI(t, env.configPath, "queue", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("queue list --status: %v", err)
	}
	if !strings.Contains(out, "ep-alpha") || strings.Contains(out, "ep-beta") {
		t.Fatalf("status filter not applied: %q", out)
	}

	if _, _, err := runCLI(t, env.configPath, "queue", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status to error")
	}

	out, _, err = runCLI(t, env.configPath, "queue", "show", alpha.JobID)
	if err != nil {
		t.Fatalf("queue show: %v", err)
	}
	if !strings.Contains(out, "provider rejected the prompt") {
		t.Fatalf("queue show missing error message: %q", out)
	}

	if _, _, err := runCLI(t, env.configPath, "queue", "show", "missing-id"); err == nil {
		t.Fatal("expected show of unknown job to error")
	}

	out, _, err = runCLI(t, env.configPath, "queue", "retry", alpha.JobID)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	if !strings.Contains(out, "Requeued 1 job(s)") {
		t.Fatalf("unexpected retry output: %q", out)
	}
	retried, err := store.GetByJobID(ctx, alpha.JobID)
	if err != nil {
		t.Fatalf("GetByJobID after retry: %v", err)
	}
	if retried.Status != queue.StatusWaiting {
		t.Fatalf("expected retried job waiting, got %s", retried.Status)
	}

	// Drive the remaining job to completed so clear has something to remove.
	second, err := store.Claim(ctx)
	if err != nil || second == nil {
		t.Fatalf("Claim second: job=%v err=%v", second, err)
	}
	if err := store.Complete(ctx, second.JobID, queue.Result{VideoURL: "file:///tmp/episode.mp4"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	out, _, err = runCLI(t, env.configPath, "queue", "clear")
	if err != nil {
		t.Fatalf("queue clear: %v", err)
	}
	if !strings.Contains(out, "Removed 1 completed job(s)") {
		t.Fatalf("unexpected clear output: %q", out)
	}
}

func TestCLIStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	store, err := queue.Open(env.cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	enqueueTestJob(t, store, "ep-alpha")
	store.Close()

	out, _, err := runCLI(t, env.configPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Daemon running: no") {
		t.Fatalf("expected daemon not running, got %q", out)
	}
	if !strings.Contains(out, "waiting") {
		t.Fatalf("expected queue table, got %q", out)
	}
}

func TestCLICreditsCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env.configPath, "credits", "grant", "user-1", "25.00", "--reference", "invoice-42")
	if err != nil {
		t.Fatalf("credits grant: %v", err)
	}
	if !strings.Contains(out, "Granted $25.00 to user-1") {
		t.Fatalf("unexpected grant output: %q", out)
	}

	out, _, err = runCLI(t, env.configPath, "credits", "balance", "user-1")
	if err != nil {
		t.Fatalf("credits balance: %v", err)
	}
	if !strings.Contains(out, "Balance:     $25.00") {
		t.Fatalf("unexpected balance output: %q", out)
	}

	if _, _, err := runCLI(t, env.configPath, "credits", "grant", "user-1", "-5"); err == nil {
		t.Fatal("expected negative grant to error")
	}
}

func TestCLIConfigInit(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")

	out, _, err := runCLI(t, "", "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected sample config on disk: %v", err)
	}

	if _, _, err := runCLI(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to error")
	}
	if _, _, err := runCLI(t, "", "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}
