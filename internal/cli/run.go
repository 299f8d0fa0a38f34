package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runAsync bool
	runWatch bool
)

var runCmd = &cobra.Command{
	Use:   "run <import-id>",
	Short: "Process the pending rows of an import",
	Long: `Process every pending staging row of an import.

By default the batch runs synchronously and the summary is printed when it
finishes. With --async the server runs it in the background; add --watch to
follow its progress.

Examples:
  kbstudio run 3f2c...           # Wait for the summary
  kbstudio run 3f2c... --async   # Start in background
  kbstudio run 3f2c... --watch   # Start in background and show progress`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	runCmd.Flags().BoolVar(&runAsync, "async", false, "start the run in the background and return")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "start in the background and follow progress")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	id := args[0]
	out := cmd.OutOrStdout()

	if runAsync || runWatch {
		run, err := apiClient.Run(ctx, id)
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		if !runWatch {
			fmt.Fprintf(out, "Run started for import %s (%d rows)\n", run.ImportID, run.Total)
			return nil
		}
		return follow(ctx, out, id)
	}

	resp, err := apiClient.Process(ctx, id)
	if err != nil {
		return fmt.Errorf("process import: %w", err)
	}

	fmt.Fprintln(out, resp.Message)
	if d := resp.Details; d != nil {
		fmt.Fprintf(out, "  Rows processed: %d\n", d.ProcessedCount)
		fmt.Fprintf(out, "  Rows failed:    %d\n", d.ErrorCount)
		if len(d.Errors) > 0 {
			fmt.Fprintf(out, "\n  Errors (%d):\n", len(d.Errors))
			for _, e := range d.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
		}
	}
	return nil
}
