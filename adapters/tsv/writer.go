package tsv

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
)

// NA is the text written for undefined values
const NA = "NA"

// DEHeader is the fixed column layout of a differential-expression table
var DEHeader = []string{"gene_id", "base_mean", "log2_fold_change", "lfc_se", "stat", "pvalue", "padj"}

// EnrichmentHeader is the fixed column layout of an enrichment table
var EnrichmentHeader = []string{"set_name", "overlap", "set_size", "score", "nes", "pvalue", "padj", "genes"}

// FormatFloat renders v with the shortest representation that parses back exactly.
func FormatFloat(v float64) string {
	if math.IsNaN(v) {
		return NA
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseFloat is the inverse of FormatFloat.
func ParseFloat(s string) (float64, error) {
	if s == NA || s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// WriteFile creates path and streams the table written by fn into it.
func WriteFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	buf := bufio.NewWriter(f)
	if err := fn(buf); err != nil {
		f.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

func newWriter(w io.Writer) *csv.Writer {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	return cw
}

func flush(cw *csv.Writer) error {
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}
	return nil
}

// WriteDEResults writes one row per result in the given order.
func WriteDEResults(w io.Writer, results []expression.DEResult) error {
	cw := newWriter(w)
	if err := cw.Write(DEHeader); err != nil {
		return err
	}
	for _, r := range results {
		record := []string{
			r.GeneID,
			FormatFloat(r.BaseMean),
			FormatFloat(r.Log2FoldChange),
			FormatFloat(r.LfcSE),
			FormatFloat(r.Stat),
			FormatFloat(r.PValue),
			FormatFloat(r.PAdj),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return flush(cw)
}

// ReadDEResults re-imports a table produced by WriteDEResults. A result is
// considered converged when its statistic is defined.
func ReadDEResults(r io.Reader) ([]expression.DEResult, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to parse results table: %w", err))
	}
	if len(rows) == 0 || strings.Join(rows[0], "\t") != strings.Join(DEHeader, "\t") {
		return nil, errors.InvalidInput("results table header does not match " + strings.Join(DEHeader, ","))
	}

	results := make([]expression.DEResult, 0, len(rows)-1)
	for i, row := range rows[1:] {
		var vals [6]float64
		for k := range vals {
			v, err := ParseFloat(row[k+1])
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("line %d, column %s: %v", i+2, DEHeader[k+1], err))
			}
			vals[k] = v
		}
		results = append(results, expression.DEResult{
			GeneID:         row[0],
			BaseMean:       vals[0],
			Log2FoldChange: vals[1],
			LfcSE:          vals[2],
			Stat:           vals[3],
			PValue:         vals[4],
			PAdj:           vals[5],
			Converged:      !math.IsNaN(vals[3]),
		})
	}
	return results, nil
}

// WriteEnrichment writes an enrichment table; genes are comma-joined.
func WriteEnrichment(w io.Writer, table *genesets.Table) error {
	cw := newWriter(w)
	if err := cw.Write(EnrichmentHeader); err != nil {
		return err
	}
	for _, r := range table.Results {
		record := []string{
			r.Name,
			strconv.Itoa(r.Overlap),
			strconv.Itoa(r.SetSize),
			FormatFloat(r.Score),
			FormatFloat(r.NormalizedScore),
			FormatFloat(r.PValue),
			FormatFloat(r.PAdj),
			strings.Join(r.Genes, ","),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return flush(cw)
}

// ReadEnrichment parses a table written by WriteEnrichment. Summary counts
// such as Unmapped are not part of the file and stay zero.
func ReadEnrichment(r io.Reader, mode genesets.Mode) (*genesets.Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to parse enrichment table: %w", err))
	}
	if len(rows) == 0 || strings.Join(rows[0], "\t") != strings.Join(EnrichmentHeader, "\t") {
		return nil, errors.InvalidInput("enrichment table header does not match " + strings.Join(EnrichmentHeader, ","))
	}

	table := &genesets.Table{Mode: mode, Results: make([]genesets.Result, 0, len(rows)-1)}
	for i, row := range rows[1:] {
		line := i + 2
		overlap, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("line %d: overlap %q is not an integer", line, row[1]))
		}
		size, err := strconv.Atoi(row[2])
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("line %d: set_size %q is not an integer", line, row[2]))
		}
		var vals [4]float64
		for k := range vals {
			v, err := ParseFloat(row[k+3])
			if err != nil {
				return nil, errors.InvalidInput(fmt.Sprintf("line %d, column %s: %v", line, EnrichmentHeader[k+3], err))
			}
			vals[k] = v
		}
		var genes []string
		if row[7] != "" {
			genes = strings.Split(row[7], ",")
		}
		table.Results = append(table.Results, genesets.Result{
			Name:            row[0],
			Overlap:         overlap,
			SetSize:         size,
			Score:           vals[0],
			NormalizedScore: vals[1],
			PValue:          vals[2],
			PAdj:            vals[3],
			Genes:           genes,
		})
	}
	return table, nil
}

// WriteMatrix writes a labelled numeric matrix with idHeader over the row labels.
func WriteMatrix(w io.Writer, idHeader string, rowIDs, colIDs []string, values [][]float64) error {
	cw := newWriter(w)
	if err := cw.Write(append([]string{idHeader}, colIDs...)); err != nil {
		return err
	}
	record := make([]string, len(colIDs)+1)
	for i, id := range rowIDs {
		record[0] = id
		for j, v := range values[i] {
			record[j+1] = FormatFloat(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return flush(cw)
}

// WriteSizeFactors writes one sample per row.
func WriteSizeFactors(w io.Writer, sampleIDs []string, sf expression.SizeFactors) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"sample_id", "size_factor"}); err != nil {
		return err
	}
	for j, id := range sampleIDs {
		if err := cw.Write([]string{id, FormatFloat(sf[j])}); err != nil {
			return err
		}
	}
	return flush(cw)
}

// WriteDispersions writes the per-gene dispersion estimates.
func WriteDispersions(w io.Writer, table *expression.DispersionTable) error {
	cw := newWriter(w)
	if err := cw.Write([]string{"gene_id", "base_mean", "gene_estimate", "trend", "final", "outlier"}); err != nil {
		return err
	}
	for i, id := range table.GeneIDs {
		record := []string{
			id,
			FormatFloat(table.BaseMeans[i]),
			FormatFloat(table.GeneEstimates[i]),
			FormatFloat(table.Trend[i]),
			FormatFloat(table.Final[i]),
			strconv.FormatBool(table.Outlier[i]),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	return flush(cw)
}
