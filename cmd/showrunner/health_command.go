package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"showrunner/internal/config"
	"showrunner/internal/health"
	"showrunner/internal/queue"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check queue database and provider health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *queue.Store) error {
				out := cmd.OutOrStdout()

				dbHealth, err := store.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Queue database:  %s\n", dbHealth.DBPath)
				fmt.Fprintf(out, "Readable:        %s\n", yesNo(dbHealth.DatabaseReadable))
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(dbHealth.IntegrityCheck))
				fmt.Fprintf(out, "Total jobs:      %d\n", dbHealth.TotalJobs)
				if dbHealth.Error != "" {
					fmt.Fprintf(out, "Error:           %s\n", dbHealth.Error)
				}

				report, err := fetchDaemonHealth(cfg)
				if err != nil {
					fmt.Fprintf(out, "\nDaemon health unavailable: %v\n", err)
					return nil
				}

				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(report.Services))
				for _, svc := range report.Services {
					prefix, suffix := colorForStatus(svc.Status, colorize)
					rows = append(rows, []string{
						svc.Name,
						prefix + svc.Status + suffix,
						strconv.FormatInt(svc.LatencyMS, 10) + "ms",
						svc.Detail,
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]string{"Service", "Status", "Latency", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintf(out, "Overall healthy: %s\n", yesNo(report.Healthy))
				return nil
			})
		},
	}
}

// fetchDaemonHealth polls the running daemon's health endpoint. A 503 still
// carries a full report, so only transport failures are treated as errors.
func fetchDaemonHealth(cfg *config.Config) (*health.Report, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get("http://" + cfg.API.Bind + "/health")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var report health.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode health report: %w", err)
	}
	return &report, nil
}
