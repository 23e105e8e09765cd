package expression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnadiff/internal/errors"
)

func TestNewCountMatrix_Validation(t *testing.T) {
	tests := []struct {
		name    string
		genes   []string
		samples []string
		counts  [][]int64
	}{
		{"duplicate gene", []string{"g1", "g1"}, []string{"s1"}, [][]int64{{1}, {2}}},
		{"duplicate sample", []string{"g1"}, []string{"s1", "s1"}, [][]int64{{1, 2}}},
		{"ragged row", []string{"g1"}, []string{"s1", "s2"}, [][]int64{{1}}},
		{"negative count", []string{"g1"}, []string{"s1"}, [][]int64{{-3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCountMatrix(tt.genes, tt.samples, tt.counts)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestFilterByTotal(t *testing.T) {
	m, err := NewCountMatrix(
		[]string{"keep", "one", "zero", "edge"},
		[]string{"a", "b"},
		[][]int64{{5, 3}, {1, 0}, {0, 0}, {1, 1}},
	)
	require.NoError(t, err)

	res := m.FilterByTotal(1)
	assert.Equal(t, []string{"keep", "edge"}, res.Matrix.GeneIDs)
	assert.Equal(t, []string{"one", "zero"}, res.Removed)
	assert.Equal(t, int64(2), res.Matrix.RowTotal(1))
}

func TestAlignTo_Reorders(t *testing.T) {
	md := &SampleMetadata{
		SampleIDs: []string{"s2", "s1", "s3"},
		Columns:   []string{"condition"},
		Values:    map[string][]string{"condition": {"b", "a", "b"}},
	}

	aligned, err := md.AlignTo([]string{"s1", "s2", "s3"})
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2", "s3"}, aligned.SampleIDs)
	cond, ok := aligned.Column("condition")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b", "b"}, cond)
	// the receiver is untouched
	assert.Equal(t, []string{"b", "a", "b"}, md.Values["condition"])
}

func TestAlignTo_Mismatch(t *testing.T) {
	md := &SampleMetadata{
		SampleIDs: []string{"s1", "s9"},
		Values:    map[string][]string{},
	}

	_, err := md.AlignTo([]string{"s1", "s2"})
	require.Error(t, err)
	assert.Equal(t, errors.CodeAlignment, errors.GetCode(err))
	assert.Contains(t, err.Error(), "s2")
	assert.Contains(t, err.Error(), "s9")
}

func TestDesignLevels(t *testing.T) {
	md := &SampleMetadata{
		SampleIDs: []string{"a", "b", "c", "d"},
		Columns:   []string{"condition"},
		Values:    map[string][]string{"condition": {"treated", "control", "other", "treated"}},
	}

	values, levels, err := Design{Factor: "condition", Numerator: "treated", Denominator: "control"}.Levels(md)
	require.NoError(t, err)
	assert.Equal(t, []string{"treated", "control", "other", "treated"}, values)
	assert.Equal(t, []string{"control", "other", "treated"}, levels)

	_, _, err = Design{Factor: "batch", Numerator: "x", Denominator: "y"}.Levels(md)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, _, err = Design{Factor: "condition", Numerator: "missing", Denominator: "control"}.Levels(md)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestDETable_SortingAndSummary(t *testing.T) {
	table := &DETable{Results: []DEResult{
		{GeneID: "na", PValue: NA, PAdj: NA},
		{GeneID: "up", Log2FoldChange: 2, PValue: 0.001, PAdj: 0.01},
		{GeneID: "down", Log2FoldChange: -1, PValue: 0.002, PAdj: 0.02},
		{GeneID: "ns", Log2FoldChange: 0.1, PValue: 0.5, PAdj: 0.6},
	}}

	SortByPValue(table.Results)
	ids := make([]string, len(table.Results))
	for i, r := range table.Results {
		ids[i] = r.GeneID
	}
	assert.Equal(t, []string{"up", "down", "ns", "na"}, ids)

	s := table.Summarize(0.05)
	assert.Equal(t, 1, s.Up)
	assert.Equal(t, 1, s.Down)
	assert.Len(t, table.Significant(0.05), 2)

	byPAdj := table.SortedByPAdj()
	assert.True(t, math.IsNaN(byPAdj[len(byPAdj)-1].PAdj))
}
