// Package expression holds the gene-by-sample data model shared by every
// pipeline stage: raw counts, sample metadata, the contrast design and the
// per-gene result records.
package expression

import (
	"fmt"

	"rnadiff/internal/errors"
)

// CountMatrix is a genes × samples table of raw non-negative counts.
type CountMatrix struct {
	GeneIDs   []string
	SampleIDs []string
	Counts    [][]int64 // Counts[gene][sample]
}

// NewCountMatrix validates and wraps the given labels and counts.
func NewCountMatrix(geneIDs, sampleIDs []string, counts [][]int64) (*CountMatrix, error) {
	m := &CountMatrix{GeneIDs: geneIDs, SampleIDs: sampleIDs, Counts: counts}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// NumGenes returns the number of rows
func (m *CountMatrix) NumGenes() int { return len(m.GeneIDs) }

// NumSamples returns the number of columns
func (m *CountMatrix) NumSamples() int { return len(m.SampleIDs) }

// Validate checks shape, label uniqueness and non-negativity.
func (m *CountMatrix) Validate() error {
	if dup := firstDuplicate(m.GeneIDs); dup != "" {
		return errors.InvalidInput(fmt.Sprintf("duplicate gene identifier %q", dup))
	}
	if dup := firstDuplicate(m.SampleIDs); dup != "" {
		return errors.InvalidInput(fmt.Sprintf("duplicate sample identifier %q", dup))
	}
	if len(m.Counts) != len(m.GeneIDs) {
		return errors.InvalidInput(fmt.Sprintf("count matrix has %d rows for %d genes", len(m.Counts), len(m.GeneIDs)))
	}
	for i, row := range m.Counts {
		if len(row) != len(m.SampleIDs) {
			return errors.InvalidInput(fmt.Sprintf("gene %s has %d counts for %d samples", m.GeneIDs[i], len(row), len(m.SampleIDs)))
		}
		for j, c := range row {
			if c < 0 {
				return errors.InvalidInput(fmt.Sprintf("negative count %d for gene %s in sample %s", c, m.GeneIDs[i], m.SampleIDs[j]))
			}
		}
	}
	return nil
}

// RowTotal returns the summed count of gene i across samples.
func (m *CountMatrix) RowTotal(i int) int64 {
	var total int64
	for _, c := range m.Counts[i] {
		total += c
	}
	return total
}

// SubsetGenes returns a matrix holding only the given rows, in the given order.
// Rows are shared with the receiver, not copied.
func (m *CountMatrix) SubsetGenes(rows []int) *CountMatrix {
	out := &CountMatrix{
		GeneIDs:   make([]string, len(rows)),
		SampleIDs: m.SampleIDs,
		Counts:    make([][]int64, len(rows)),
	}
	for k, i := range rows {
		out.GeneIDs[k] = m.GeneIDs[i]
		out.Counts[k] = m.Counts[i]
	}
	return out
}

// FilterResult reports which genes survived the total-count filter.
type FilterResult struct {
	Matrix  *CountMatrix
	Removed []string
}

// FilterByTotal keeps genes whose total count is strictly greater than threshold.
func (m *CountMatrix) FilterByTotal(threshold int64) FilterResult {
	keep := make([]int, 0, m.NumGenes())
	var removed []string
	for i := range m.GeneIDs {
		if m.RowTotal(i) > threshold {
			keep = append(keep, i)
		} else {
			removed = append(removed, m.GeneIDs[i])
		}
	}
	return FilterResult{Matrix: m.SubsetGenes(keep), Removed: removed}
}

func firstDuplicate(ids []string) string {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
	}
	return ""
}
