// Package tsv loads count and sample tables and writes the pipeline's result
// tables as tab-separated text.
package tsv

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"

	"rnadiff/adapters/excel"
	"rnadiff/domain/expression"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
)

// LoadCounts reads a gene × sample count table. The header holds a gene id column
// name followed by sample ids; each row a gene id followed by non-negative integers.
func LoadCounts(path string, delimiter rune, logger *log.Logger) (*expression.CountMatrix, error) {
	rows, err := excel.NewDataReader(path, delimiter, logger).ReadRows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read count table %s", path)
	}
	m, err := ParseCounts(rows)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid count table %s", path)
	}
	logging.Component(logger, "Loader").Info("count table loaded", "genes", m.NumGenes(), "samples", m.NumSamples())
	return m, nil
}

// ParseCounts converts raw rows into a validated count matrix.
func ParseCounts(rows [][]string) (*expression.CountMatrix, error) {
	if len(rows) < 2 || len(rows[0]) < 2 {
		return nil, errors.InvalidInput("count table needs a gene id column, at least one sample column and one gene row")
	}
	samples := append([]string(nil), rows[0][1:]...)

	genes := make([]string, 0, len(rows)-1)
	counts := make([][]int64, 0, len(rows)-1)
	for r, row := range rows[1:] {
		line := r + 2
		if len(row) != len(samples)+1 {
			return nil, errors.InvalidInput(fmt.Sprintf("line %d: expected %d fields, got %d", line, len(samples)+1, len(row)))
		}
		values := make([]int64, len(samples))
		for j, cell := range row[1:] {
			v, err := parseCount(cell)
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("line %d, sample %s: %v", line, samples[j], err))
			}
			values[j] = v
		}
		genes = append(genes, row[0])
		counts = append(counts, values)
	}
	return expression.NewCountMatrix(genes, samples, counts)
}

// parseCount accepts integers, including integral values written as floats ("12.0").
func parseCount(cell string) (int64, error) {
	if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("negative count %d", v)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, fmt.Errorf("not a count: %q", cell)
	}
	if f < 0 || f != float64(int64(f)) {
		return 0, fmt.Errorf("count must be a non-negative integer: %q", cell)
	}
	return int64(f), nil
}

// LoadMetadata reads a sample table: first column sample ids, remaining columns covariates.
func LoadMetadata(path string, delimiter rune, logger *log.Logger) (*expression.SampleMetadata, error) {
	rows, err := excel.NewDataReader(path, delimiter, logger).ReadRows()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read sample table %s", path)
	}
	md, err := ParseMetadata(rows)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid sample table %s", path)
	}
	logging.Component(logger, "Loader").Info("sample table loaded", "samples", len(md.SampleIDs), "covariates", len(md.Columns))
	return md, nil
}

// ParseMetadata converts raw rows into sample metadata.
func ParseMetadata(rows [][]string) (*expression.SampleMetadata, error) {
	if len(rows) < 2 || len(rows[0]) < 2 {
		return nil, errors.InvalidInput("sample table needs a sample id column, at least one covariate and one sample row")
	}
	columns := append([]string(nil), rows[0][1:]...)
	md := &expression.SampleMetadata{
		Columns: columns,
		Values:  make(map[string][]string, len(columns)),
	}
	seen := make(map[string]struct{}, len(rows)-1)
	for r, row := range rows[1:] {
		if len(row) != len(columns)+1 {
			return nil, errors.InvalidInput(fmt.Sprintf("line %d: expected %d fields, got %d", r+2, len(columns)+1, len(row)))
		}
		id := row[0]
		if _, dup := seen[id]; dup {
			return nil, errors.InvalidInput(fmt.Sprintf("duplicate sample id %s", id))
		}
		seen[id] = struct{}{}
		md.SampleIDs = append(md.SampleIDs, id)
		for c, col := range columns {
			md.Values[col] = append(md.Values[col], row[c+1])
		}
	}
	return md, nil
}
