package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs [import-id]",
	Short: "List or inspect import jobs",
	Long: `List recent import jobs or inspect a specific job by ID, including
its processing log and the latest run.

Examples:
  kbstudio jobs             # List recent imports
  kbstudio jobs 3f2c...     # Show details for one import`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "maximum number of jobs to list")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, cmd.OutOrStdout(), args[0])
	}
	return listJobs(ctx, cmd.OutOrStdout())
}

func listJobs(ctx context.Context, w io.Writer) error {
	jobs, err := apiClient.ListImports(ctx, jobsLimit)
	if err != nil {
		return fmt.Errorf("list imports: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No imports found")
		return nil
	}

	fmt.Fprintf(w, "%-36s %-22s %-6s %-16s %s\n", "ID", "STATUS", "ROWS", "CREATED", "FILE")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		created := job.CreatedAt.Local().Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%-36s %-22s %-6d %-16s %s\n", job.ID, job.Status, job.TotalRows, created, job.Filename)
	}

	return nil
}

func showJob(ctx context.Context, w io.Writer, id string) error {
	state, err := apiClient.GetImport(ctx, id)
	if err != nil {
		return fmt.Errorf("get import: %w", err)
	}
	job := state.Job

	fmt.Fprintf(w, "Import: %s\n", job.ID)
	fmt.Fprintf(w, "  File: %s\n", job.Filename)
	fmt.Fprintf(w, "  Target: %s\n", job.TargetEntity)
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	fmt.Fprintf(w, "  Rows: %d\n", job.TotalRows)
	fmt.Fprintf(w, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Updated: %s\n", job.UpdatedAt.Format(time.RFC3339))
	if job.SourceKey != "" {
		fmt.Fprintf(w, "  Source: %s\n", job.SourceKey)
	}

	if run := state.Run; run != nil {
		fmt.Fprintln(w, "\nLatest run:")
		fmt.Fprintf(w, "  Status: %s\n", run.Status)
		if run.Total > 0 {
			fmt.Fprintf(w, "  Progress: %d/%d\n", run.Progress, run.Total)
		}
		fmt.Fprintf(w, "  Started: %s\n", run.StartedAt.Format(time.RFC3339))
		if run.CompletedAt != nil {
			fmt.Fprintf(w, "  Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "  Duration: %s\n", run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond))
		}
		if run.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", run.Error)
		}
		writeSummary(w, run.Summary)
	}

	if len(job.ProcessingLog) > 0 {
		fmt.Fprintf(w, "\nProcessing log (%d):\n", len(job.ProcessingLog))
		for _, e := range job.ProcessingLog {
			fmt.Fprintf(w, "  %s %-5s %s\n", e.Timestamp.Local().Format("15:04:05"), e.Level, e.Message)
		}
	}

	return nil
}
