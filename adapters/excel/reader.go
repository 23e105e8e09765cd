// Package excel reads tabular inputs from xlsx workbooks or delimited text files
// and exports result tables as a workbook.
package excel

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/xuri/excelize/v2"

	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
)

// DataReader handles reading Excel and delimited text files
type DataReader struct {
	filePath  string
	fileType  string // "xlsx" or "delimited"
	delimiter rune
	logger    *log.Logger
}

// NewDataReader creates a reader for filePath. Files ending in .xlsx are read from
// their first sheet; everything else is parsed as delimited text.
func NewDataReader(filePath string, delimiter rune, logger *log.Logger) *DataReader {
	fileType := "delimited"
	if strings.ToLower(filepath.Ext(filePath)) == ".xlsx" {
		fileType = "xlsx"
	}
	if delimiter == 0 {
		delimiter = '\t'
	}
	return &DataReader{
		filePath:  filePath,
		fileType:  fileType,
		delimiter: delimiter,
		logger:    logging.Component(logger, "DataReader"),
	}
}

// IsWorkbook reports whether the reader parses an xlsx file
func (r *DataReader) IsWorkbook() bool { return r.fileType == "xlsx" }

// ReadRows returns all rows, header included, with cells trimmed of surrounding space.
func (r *DataReader) ReadRows() ([][]string, error) {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.InvalidInput(fmt.Sprintf("input file not found: %s", r.filePath))
	}

	var (
		rows [][]string
		err  error
	)
	start := time.Now()
	switch r.fileType {
	case "xlsx":
		rows, err = r.readExcelRows()
	default:
		rows, err = r.readDelimitedRows()
	}
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s must have a header row and at least one data row", r.filePath))
	}

	for _, row := range rows {
		for j, cell := range row {
			row[j] = strings.TrimSpace(cell)
		}
	}
	r.logger.Debug("file read", "path", r.filePath, "type", r.fileType, "rows", len(rows),
		"duration", time.Since(start).Round(time.Microsecond))
	return rows, nil
}

// readExcelRows reads the first sheet of the workbook
func (r *DataReader) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to open Excel file: %w", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("workbook %s has no sheets", r.filePath))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err))
	}
	return rows, nil
}

func (r *DataReader) readDelimitedRows() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to open file: %w", err))
	}
	defer file.Close()
	return ReadDelimited(file, r.delimiter)
}

// ReadDelimited parses delimited text. Blank lines are skipped and every row must
// have the header's width.
func ReadDelimited(in io.Reader, delimiter rune) ([][]string, error) {
	reader := csv.NewReader(in)
	reader.Comma = delimiter
	reader.Comment = '#'
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to parse delimited file: %w", err))
	}
	return rows, nil
}
