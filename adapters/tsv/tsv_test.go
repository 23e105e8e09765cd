package tsv

import (
	"bytes"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
)

func TestParseCounts(t *testing.T) {
	rows := [][]string{
		{"gene_id", "s1", "s2"},
		{"ENSG1", "10", "12.0"},
		{"ENSG2", "0", "3"},
	}
	m, err := ParseCounts(rows)
	require.NoError(t, err)

	assert.Equal(t, []string{"s1", "s2"}, m.SampleIDs)
	assert.Equal(t, []int64{10, 12}, m.Counts[0])
}

func TestParseCounts_Invalid(t *testing.T) {
	tests := []struct {
		name string
		rows [][]string
	}{
		{"negative", [][]string{{"id", "s1"}, {"g1", "-1"}}},
		{"fractional", [][]string{{"id", "s1"}, {"g1", "1.5"}}},
		{"text", [][]string{{"id", "s1"}, {"g1", "many"}}},
		{"duplicate gene", [][]string{{"id", "s1"}, {"g1", "1"}, {"g1", "2"}}},
		{"duplicate sample", [][]string{{"id", "s1", "s1"}, {"g1", "1", "2"}}},
		{"short row", [][]string{{"id", "s1", "s2"}, {"g1", "1"}}},
		{"no samples", [][]string{{"id"}, {"g1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCounts(tt.rows)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
		})
	}
}

func TestLoadCountsAndMetadata(t *testing.T) {
	dir := t.TempDir()
	counts := filepath.Join(dir, "counts.tsv")
	samples := filepath.Join(dir, "samples.tsv")
	require.NoError(t, os.WriteFile(counts, []byte("gene_id\ta\tb\ng1\t1\t2\ng2\t3\t4\n"), 0644))
	require.NoError(t, os.WriteFile(samples, []byte("sample\tcondition\tbatch\nb\ttreated\t1\na\tcontrol\t1\n"), 0644))

	m, err := LoadCounts(counts, '\t', nil)
	require.NoError(t, err)
	md, err := LoadMetadata(samples, '\t', nil)
	require.NoError(t, err)

	aligned, err := md.AlignTo(m.SampleIDs)
	require.NoError(t, err)
	assert.Equal(t, []string{"control", "treated"}, aligned.Values["condition"])
	assert.Equal(t, []string{"condition", "batch"}, md.Columns)
}

func TestParseMetadata_DuplicateSample(t *testing.T) {
	_, err := ParseMetadata([][]string{{"sample", "c"}, {"a", "x"}, {"a", "y"}})
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestDEResultsRoundTrip(t *testing.T) {
	results := []expression.DEResult{
		{GeneID: "g1", BaseMean: 123.456, Log2FoldChange: -2.5, LfcSE: 0.31, Stat: -8.06, PValue: 7.6e-16, PAdj: 1.5e-15, Converged: true},
		{GeneID: "g2", BaseMean: 0.75, Log2FoldChange: 0.1, LfcSE: 1.9, Stat: 0.05, PValue: 0.96, PAdj: math.NaN(), Converged: true},
		{GeneID: "g3", BaseMean: 4, Log2FoldChange: math.NaN(), LfcSE: math.NaN(), Stat: math.NaN(), PValue: math.NaN(), PAdj: math.NaN()},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDEResults(&buf, results))
	assert.True(t, strings.HasPrefix(buf.String(), "gene_id\tbase_mean\tlog2_fold_change\tlfc_se\tstat\tpvalue\tpadj\n"))
	assert.Contains(t, buf.String(), "g3\t4\tNA\tNA\tNA\tNA\tNA\n")

	back, err := ReadDEResults(&buf)
	require.NoError(t, err)
	require.Len(t, back, len(results))
	for i := range results {
		want, got := results[i], back[i]
		assert.Equal(t, want.GeneID, got.GeneID)
		assert.Equal(t, want.Converged, got.Converged)
		for _, pair := range [][2]float64{
			{want.BaseMean, got.BaseMean},
			{want.Log2FoldChange, got.Log2FoldChange},
			{want.LfcSE, got.LfcSE},
			{want.Stat, got.Stat},
			{want.PValue, got.PValue},
			{want.PAdj, got.PAdj},
		} {
			if math.IsNaN(pair[0]) {
				assert.True(t, math.IsNaN(pair[1]))
			} else {
				assert.Equal(t, pair[0], pair[1])
			}
		}
	}
}

func TestReadDEResults_WrongHeader(t *testing.T) {
	_, err := ReadDEResults(strings.NewReader("gene\tvalue\ng1\t1\n"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestWriteEnrichment(t *testing.T) {
	table := &genesets.Table{Results: []genesets.Result{
		{Name: "HALLMARK_X", Overlap: 3, SetSize: 40, Score: 4.5, NormalizedScore: math.NaN(), PValue: 0.001, PAdj: 0.01, Genes: []string{"a", "b", "c"}},
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteEnrichment(&buf, table))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(EnrichmentHeader, "\t"), lines[0])
	assert.Equal(t, "HALLMARK_X\t3\t40\t4.5\tNA\t0.001\t0.01\ta,b,c", lines[1])
}

func TestReadEnrichment(t *testing.T) {
	table := &genesets.Table{Results: []genesets.Result{
		{Name: "SET_A", Overlap: 2, SetSize: 15, Score: -0.42, NormalizedScore: -1.3, PValue: 0.02, PAdj: 0.04, Genes: []string{"g1", "g2"}},
		{Name: "SET_B", Overlap: 0, SetSize: 20, Score: 0.1, NormalizedScore: math.NaN(), PValue: 1, PAdj: 1},
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteEnrichment(&buf, table))

	got, err := ReadEnrichment(&buf, genesets.ModeGSEA)
	require.NoError(t, err)
	assert.Equal(t, genesets.ModeGSEA, got.Mode)
	require.Len(t, got.Results, 2)
	assert.Equal(t, table.Results[0], got.Results[0])
	assert.Nil(t, got.Results[1].Genes)
	assert.True(t, math.IsNaN(got.Results[1].NormalizedScore))

	_, err = ReadEnrichment(strings.NewReader("name\tscore\n"), genesets.ModeORA)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}

func TestWriteFileAndMatrix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vst.tsv")
	err := WriteFile(path, func(w io.Writer) error {
		return WriteMatrix(w, "gene_id", []string{"g1"}, []string{"s1", "s2"}, [][]float64{{1.5, 2}})
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gene_id\ts1\ts2\ng1\t1.5\t2\n", string(data))
}
