// Package cli provides the command-line interface for kbstudio.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/kbstudio/internal/client"
	"github.com/raphaelgruber/kbstudio/internal/config"
	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	cfg       config.Config
	logger    *slog.Logger
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kbstudio",
	Short: "Spreadsheet importer for the knowledge base",
	Long: `kbstudio uploads spreadsheets of knowledge items to the import server,
runs the import pipeline and reports per-row results.

A file is staged first (one pending row per data row), then processed:
taxonomy names are resolved to categories, planning layers and domains,
and every valid row becomes a knowledge item with its use cases.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		endpoint := serverURL
		if endpoint == "" {
			endpoint = cfg.ServerURL
		}
		apiClient = client.New(endpoint)
		logger.Debug("using import server", "url", apiClient.Endpoint())
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "import server URL (default $KBSTUDIO_SERVER_URL)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(rowsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(mappingCmd)
}

// loadMapper returns the configured column mapper, falling back to the
// built-in one when no mapping file is set.
func loadMapper(path string) (*mapping.Mapper, error) {
	if path == "" {
		path = cfg.MappingFile
	}
	m, err := mapping.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load mapping %s: %w", path, err)
	}
	return m, nil
}

