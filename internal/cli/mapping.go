package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mappingFile string

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Print the effective column mapping",
	Long: `Print the column mapping as YAML: the built-in header to field table
merged with the overrides from $MAPPING_FILE or --file. The output can be
edited and used as a mapping file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mapper, err := loadMapper(mappingFile)
		if err != nil {
			return err
		}
		data, err := mapper.Marshal()
		if err != nil {
			return fmt.Errorf("marshal mapping: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	mappingCmd.Flags().StringVar(&mappingFile, "file", "", "mapping override file (default $MAPPING_FILE)")
}
