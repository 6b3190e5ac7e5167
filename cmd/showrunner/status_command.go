package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"showrunner/internal/config"
	"showrunner/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				summary, err := store.Health(cmd.Context())
				if err != nil {
					return fmt.Errorf("read queue: %w", err)
				}

				out := cmd.OutOrStdout()
				running := daemonRunning(cfg)
				fmt.Fprintf(out, "Daemon running: %s\n", yesNo(running))
				fmt.Fprintf(out, "Queue database: %s\n", filepath.Join(cfg.Paths.WorkDir, "queue.db"))
				fmt.Fprintf(out, "API bind:       %s\n\n", cfg.API.Bind)

				rows := [][]string{
					{"waiting", strconv.Itoa(summary.Waiting)},
					{"active", strconv.Itoa(summary.Active)},
					{"delayed", strconv.Itoa(summary.Delayed)},
					{"completed", strconv.Itoa(summary.Completed)},
					{"failed", strconv.Itoa(summary.Failed)},
					{"total", strconv.Itoa(summary.Total)},
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Status", "Jobs"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

// daemonRunning probes the daemon lock without holding it. A failed TryLock
// means another process owns the lock.
func daemonRunning(cfg *config.Config) bool {
	lock := flock.New(filepath.Join(cfg.Paths.LogDir, "showrunner.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = lock.Unlock()
		return false
	}
	return true
}
