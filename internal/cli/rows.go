package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/spf13/cobra"
)

var rowsStatus string

var rowsCmd = &cobra.Command{
	Use:   "rows <import-id>",
	Short: "List the staging rows of an import",
	Long: `List the staging rows of an import with their processing status,
the created record and any validation or processing errors.

Examples:
  kbstudio rows 3f2c...
  kbstudio rows 3f2c... --status failed`,
	Args: cobra.ExactArgs(1),
	RunE: runRows,
}

func init() {
	rowsCmd.Flags().StringVarP(&rowsStatus, "status", "s", "", "filter by status (pending, processed, failed)")
}

func runRows(cmd *cobra.Command, args []string) error {
	status := models.RowStatus(rowsStatus)
	switch status {
	case "", models.RowStatusPending, models.RowStatusProcessed, models.RowStatusFailed:
	default:
		return fmt.Errorf("invalid status %q (want pending, processed or failed)", rowsStatus)
	}

	rows, err := apiClient.ListRows(context.Background(), args[0], status)
	if err != nil {
		return fmt.Errorf("list rows: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(w, "No rows found")
		return nil
	}

	fmt.Fprintf(w, "%-5s %-10s %-36s %s\n", "ROW", "STATUS", "RECORD", "NAME")
	fmt.Fprintln(w, "------------------------------------------------------------------------------")
	for _, row := range rows {
		record := ""
		if row.TargetRecordID != nil {
			record = *row.TargetRecordID
		}
		fmt.Fprintf(w, "%-5d %-10s %-36s %s\n", row.RowNumber, row.Status, record, row.MappedData[mapping.FieldName])
		if len(row.Errors) > 0 {
			fmt.Fprintf(w, "      %s\n", strings.Join(row.Errors, "; "))
		}
	}
	return nil
}
