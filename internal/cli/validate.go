package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/raphaelgruber/kbstudio/internal/importer"
	"github.com/raphaelgruber/kbstudio/internal/mapping"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/spf13/cobra"
)

var (
	validateSheet   string
	validateMapping string
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a spreadsheet locally without uploading it",
	Long: `Parse a CSV or XLSX file with the column mapping and report what an
import would do: missing required headers, rows without a name and the
taxonomy entries the rows reference. Nothing is sent to the server.

Examples:
  kbstudio validate methods.xlsx
  kbstudio validate methods.xlsx --sheet Methods --mapping ./mapping.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateSheet, "sheet", "", "worksheet name for XLSX files (default first sheet)")
	validateCmd.Flags().StringVar(&validateMapping, "mapping", "", "mapping override file (default $MAPPING_FILE)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	mapper, err := loadMapper(validateMapping)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	sheet, err := importer.NewStager(nil, nil, mapper, logger).Parse(importer.UploadInput{
		Filename:  filepath.Base(path),
		Content:   content,
		SheetName: validateSheet,
	})
	var missing *mapping.MissingHeadersError
	if errors.As(err, &missing) {
		fmt.Fprintf(w, "Missing required headers: %s\n", strings.Join(missing.Missing, ", "))
		return err
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	taxonomy := map[string]map[string]bool{
		mapping.FieldCategoryName:      {},
		mapping.FieldPlanningLayerName: {},
		mapping.FieldDomainName:        {},
	}
	var invalid []int
	for _, row := range sheet.Rows {
		data := mapper.Map(row.Values)
		if strings.TrimSpace(data[mapping.FieldName]) == "" {
			invalid = append(invalid, row.Number)
			continue
		}
		for field, seen := range taxonomy {
			if slug := models.Slugify(data[field]); slug != "" {
				seen[slug] = true
			}
		}
	}

	fmt.Fprintf(w, "Sheet %q: %d data rows, %d columns\n", sheet.Name, len(sheet.Rows), len(sheet.Headers))
	fmt.Fprintf(w, "  Categories:      %d\n", len(taxonomy[mapping.FieldCategoryName]))
	fmt.Fprintf(w, "  Planning layers: %d\n", len(taxonomy[mapping.FieldPlanningLayerName]))
	fmt.Fprintf(w, "  Domains:         %d\n", len(taxonomy[mapping.FieldDomainName]))

	if unmapped := unmappedHeaders(mapper, sheet.Headers); len(unmapped) > 0 {
		fmt.Fprintf(w, "  Ignored columns: %s\n", strings.Join(unmapped, ", "))
	}

	if len(invalid) == 0 {
		fmt.Fprintln(w, "All rows look valid")
		return nil
	}
	fmt.Fprintf(w, "\n%d rows would fail validation:\n", len(invalid))
	for _, n := range invalid {
		fmt.Fprintf(w, "  row %d: %s\n", n, importer.ErrNameRequired.Message)
	}
	return nil
}

func unmappedHeaders(mapper *mapping.Mapper, headers []string) []string {
	var out []string
	for _, h := range headers {
		if _, ok := mapper.Field(h); !ok {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}
