package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"showrunner/internal/config"
	"showrunner/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage render jobs",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List render jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				var statuses []queue.Status
				if trimmed := strings.TrimSpace(statusFlag); trimmed != "" {
					status, ok := queue.ParseStatus(trimmed)
					if !ok {
						return fmt.Errorf("unknown status %q (known: %s)", trimmed, knownStatuses())
					}
					statuses = append(statuses, status)
				}

				jobs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found")
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					prefix, suffix := colorForStatus(string(job.Status), colorize)
					rows = append(rows, []string{
						job.JobID,
						job.EpisodeID,
						job.UserID,
						prefix + string(job.Status) + suffix,
						strconv.Itoa(job.Progress) + "%",
						strconv.Itoa(job.Attempts),
						job.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Episode", "User", "Status", "Progress", "Attempts", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by job status")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one render job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				job, err := store.GetByJobID(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, queue.ErrNotFound) {
						return fmt.Errorf("job %s not found", args[0])
					}
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:      %s\n", job.JobID)
				fmt.Fprintf(out, "Episode:  %s\n", job.EpisodeID)
				fmt.Fprintf(out, "User:     %s\n", job.UserID)
				fmt.Fprintf(out, "Quota:    %s\n", job.QuotaType)
				fmt.Fprintf(out, "Status:   %s\n", job.Status)
				fmt.Fprintf(out, "Progress: %d%%\n", job.Progress)
				fmt.Fprintf(out, "Attempts: %d\n", job.Attempts)
				fmt.Fprintf(out, "Created:  %s\n", job.CreatedAt.Local().Format(time.DateTime))
				if job.NextAttemptAt != nil {
					fmt.Fprintf(out, "Retry at: %s\n", job.NextAttemptAt.Local().Format(time.DateTime))
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:    %s\n", job.ErrorMessage)
				}
				result, err := job.Result()
				if err != nil {
					return err
				}
				if result != nil {
					fmt.Fprintf(out, "Video:    %s\n", result.VideoURL)
					for _, clip := range result.SocialClips {
						fmt.Fprintf(out, "Clip:     %s\n", clip)
					}
					fmt.Fprintf(out, "Cost:     $%.2f\n", result.TotalCostUSD)
				}
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id> [job-id...]",
		Short: "Requeue failed jobs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				updated, err := store.RetryFailed(cmd.Context(), args...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d job(s)\n", updated)
				if updated < int64(len(args)) {
					fmt.Fprintln(cmd.OutOrStdout(), "Some jobs were skipped; only failed jobs can be retried")
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				removed, err := store.ClearCompleted(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed job(s)\n", removed)

				if clearFailed {
					failed, err := store.ClearFailed(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d failed job(s)\n", failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Also remove failed jobs")
	return cmd
}

func knownStatuses() string {
	statuses := queue.AllStatuses()
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}
	return strings.Join(names, ", ")
}
