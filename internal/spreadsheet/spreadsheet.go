// Package spreadsheet reads uploaded .xlsx and .csv files into header-keyed rows.
package spreadsheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned for files that are neither .xlsx nor .csv.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// ErrNoData is returned when a file has no header row or no data rows.
var ErrNoData = errors.New("spreadsheet must have a header row and at least one data row")

// Row is one data row keyed by header.
type Row struct {
	Number int               // 1-based position below the header row
	Values map[string]string // Header -> cell value, exactly as parsed
}

// Sheet is the parsed content of one worksheet.
type Sheet struct {
	Name    string
	Headers []string
	Rows    []Row
}

// Options controls how a file is read.
type Options struct {
	// SheetName selects a worksheet in .xlsx files. Defaults to the first sheet.
	SheetName string
}

// Read parses an uploaded file, choosing the format from the filename extension.
func Read(filename string, r io.Reader, opts Options) (*Sheet, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(r, opts)
	case ".csv":
		return ReadCSV(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// ReadXLSX parses an Excel workbook.
func ReadXLSX(r io.Reader, opts Options) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("open workbook: no sheets found")
	}

	name := sheets[0]
	if opts.SheetName != "" {
		found := false
		for _, s := range sheets {
			if s == opts.SheetName {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("sheet %q not found in workbook", opts.SheetName)
		}
		name = opts.SheetName
	}

	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}

	sheet, err := build(rows)
	if err != nil {
		return nil, err
	}
	sheet.Name = name
	return sheet, nil
}

// ReadCSV parses a comma-separated file with a header row.
func ReadCSV(r io.Reader) (*Sheet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	// Strip a UTF-8 byte order mark from the first header.
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}

	sheet, err := build(records)
	if err != nil {
		return nil, err
	}
	sheet.Name = "csv"
	return sheet, nil
}

// build turns a cell grid into header-keyed rows. Blank rows are skipped but
// still count towards row numbering; empty header cells drop their column.
func build(grid [][]string) (*Sheet, error) {
	if len(grid) == 0 {
		return nil, ErrNoData
	}

	headers, columns := headerColumns(grid[0])
	if len(headers) == 0 {
		return nil, ErrNoData
	}

	sheet := &Sheet{Headers: headers}
	for i := 1; i < len(grid); i++ {
		cells := grid[i]
		values := make(map[string]string, len(columns))
		blank := true
		for col, header := range columns {
			if col >= len(cells) {
				continue
			}
			v := cells[col]
			if strings.TrimSpace(v) != "" {
				blank = false
			}
			values[header] = v
		}
		if blank {
			continue
		}
		sheet.Rows = append(sheet.Rows, Row{Number: i, Values: values})
	}

	if len(sheet.Rows) == 0 {
		return nil, ErrNoData
	}
	return sheet, nil
}

// headerColumns returns the trimmed, de-duplicated headers and a column index
// to header map. Repeated headers get a " (n)" suffix.
func headerColumns(row []string) ([]string, map[int]string) {
	var headers []string
	columns := make(map[int]string, len(row))
	seen := make(map[string]int, len(row))
	for col, cell := range row {
		h := strings.TrimSpace(cell)
		if h == "" {
			continue
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = h + " (" + strconv.Itoa(n) + ")"
		}
		headers = append(headers, h)
		columns[col] = h
	}
	return headers, columns
}
