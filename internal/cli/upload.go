package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/kbstudio/internal/client"
	"github.com/spf13/cobra"
)

var (
	uploadTarget string
	uploadSheet  string
	uploadRun    bool
	uploadWait   bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Stage a spreadsheet for import",
	Long: `Upload a CSV or XLSX file to the import server. Each data row becomes a
pending staging row; headers are checked against the column mapping first.

Examples:
  kbstudio upload methods.xlsx
  kbstudio upload methods.xlsx --sheet "Methods" --run
  kbstudio upload methods.csv --run --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTarget, "target", "", "target entity (default knowledge_items)")
	uploadCmd.Flags().StringVar(&uploadSheet, "sheet", "", "worksheet name for XLSX files (default first sheet)")
	uploadCmd.Flags().BoolVar(&uploadRun, "run", false, "start processing right after staging")
	uploadCmd.Flags().BoolVar(&uploadWait, "wait", false, "with --run, wait for the run to finish")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := args[0]

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	state, err := apiClient.Upload(ctx, client.UploadInput{
		Filename:     filepath.Base(path),
		Content:      content,
		TargetEntity: uploadTarget,
		SheetName:    uploadSheet,
		Process:      uploadRun,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	out := cmd.OutOrStdout()
	job := state.Job
	fmt.Fprintf(out, "Staged %s as import %s (%d rows)\n", job.Filename, job.ID, job.TotalRows)

	if state.Run == nil {
		fmt.Fprintf(out, "Run 'kbstudio run %s' to process it.\n", job.ID)
		return nil
	}
	if !uploadWait {
		fmt.Fprintf(out, "Processing started. Use 'kbstudio jobs %s' to check status.\n", job.ID)
		return nil
	}
	return follow(ctx, out, job.ID)
}
