package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <import-id>",
	Short: "Stop the background run of an import",
	Long: `Stop the active background run of an import. Rows finished so far keep
their status; the remaining rows stay pending and are picked up by the next run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient.Cancel(context.Background(), args[0]); err != nil {
			return fmt.Errorf("cancel run: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancelling run for import %s\n", args[0])
		return nil
	},
}
