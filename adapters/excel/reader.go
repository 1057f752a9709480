package excel

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"spatialstat/internal"
)

// ctxCheckInterval is how many rows are read between context checks
const ctxCheckInterval = 1000

// Format is a table file format
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
)

// FormatOf picks the format from the file extension; anything unknown is
// treated as a workbook
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV
	case ".tsv", ".tab":
		return FormatTSV
	}
	return FormatXLSX
}

// ReadTable loads the table at path into header-keyed rows. XLSX files are
// read from their first sheet.
func ReadTable(ctx context.Context, path string, logger *internal.Logger) (*TableData, error) {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	format := FormatOf(path)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s file not found: %s", strings.ToUpper(string(format)), path)
	}

	startTime := time.Now()
	var rows [][]string
	var err error
	if format == FormatXLSX {
		rows, err = readWorkbook(ctx, path)
	} else {
		rows, err = readDelimited(ctx, path, format)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("%s read in %.2fms (%d rows)", path, float64(time.Since(startTime).Nanoseconds())/1e6, len(rows))

	if len(rows) < 2 {
		return nil, fmt.Errorf("%s must have a header row and at least one data row", path)
	}
	return keyRows(rows), nil
}

// readWorkbook streams the first sheet row by row
func readWorkbook(ctx context.Context, path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("Excel file has no sheets")
	}
	iter, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	defer iter.Close()

	var rows [][]string
	for iter.Next() {
		if len(rows)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cols, err := iter.Columns()
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d of sheet %q: %w", len(rows)+1, sheets[0], err)
		}
		rows = append(rows, cols)
	}
	return rows, iter.Error()
}

// readDelimited reads a CSV or TSV file; rows may differ in length
func readDelimited(ctx context.Context, path string, format Format) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", strings.ToUpper(string(format)), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	if format == FormatTSV {
		reader.Comma = '\t'
		reader.LazyQuotes = true
	}

	var rows [][]string
	for {
		if len(rows)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, record)
	}
}

// keyRows keys every data row by the trimmed header names. Short rows leave
// the trailing columns absent.
func keyRows(rows [][]string) *TableData {
	headers := make([]string, len(rows[0]))
	for i, header := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(header, "\ufeff"))
	}

	data := make([]RawRowData, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		data = append(data, rowData)
	}
	return &TableData{Headers: headers, Rows: data}
}
