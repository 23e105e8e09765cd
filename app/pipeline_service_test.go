package app

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rnadiff/adapters/rng"
	"rnadiff/adapters/tsv"
	"rnadiff/domain/expression"
	"rnadiff/domain/genesets"
	"rnadiff/internal/config"
	"rnadiff/internal/errors"
	"rnadiff/internal/glm"
	"rnadiff/internal/logging"
	"rnadiff/internal/testkit"
	"rnadiff/ports"
)

var toySamples = []string{"c1", "c2", "t1", "t2"}

// toyCounts has one gene with a 10x shift between conditions, one gene with identical
// counts everywhere, and constant reference genes that pin every size factor to 1.
func toyCounts(t *testing.T, extra map[string][]int64) *expression.CountMatrix {
	t.Helper()
	genes := []string{"g_de", "g_flat", "g_n1", "g_n2", "g_c50", "g_c800"}
	counts := [][]int64{
		{100, 120, 1100, 1000},
		{200, 200, 200, 200},
		{60, 30, 20, 45},
		{310, 335, 330, 320},
		{50, 50, 50, 50},
		{800, 800, 800, 800},
	}
	for id, row := range extra {
		genes = append(genes, id)
		counts = append(counts, row)
	}
	m, err := expression.NewCountMatrix(genes, toySamples, counts)
	require.NoError(t, err)
	return m
}

func toyMetadata() *expression.SampleMetadata {
	return &expression.SampleMetadata{
		SampleIDs: []string{"t2", "c1", "t1", "c2"}, // deliberately out of count order
		Columns:   []string{"condition"},
		Values:    map[string][]string{"condition": {"treated", "control", "treated", "control"}},
	}
}

func toyRequest(t *testing.T) RunRequest {
	cfg := config.Default()
	cfg.Analysis.Workers = 2
	cfg.Enrichment.MinSetSize = 1
	cfg.Enrichment.MaxSetSize = 5
	cfg.Enrichment.Permutations = 200
	return RunRequest{
		Counts:   toyCounts(t, nil),
		Metadata: toyMetadata(),
		GeneSets: &genesets.Collection{Source: "toy", Sets: []genesets.GeneSet{
			{Name: "RESPONSE", Genes: []string{"g_de", "g_n1"}},
			{Name: "HOUSEKEEPING", Genes: []string{"g_c50", "g_c800", "g_flat", "g_unknown"}},
		}},
		Design:     expression.Design{Factor: "condition", Numerator: "treated", Denominator: "control"},
		Analysis:   cfg.Analysis,
		Enrichment: cfg.Enrichment,
	}
}

func newTestService(store ports.ResultStore) *PipelineService {
	return NewPipelineService(store, rng.Seeded{}, logging.Discard())
}

func resultFor(t *testing.T, table *expression.DETable, gene string) expression.DEResult {
	t.Helper()
	for _, r := range table.Results {
		if r.GeneID == gene {
			return r
		}
	}
	t.Fatalf("gene %s not in results", gene)
	return expression.DEResult{}
}

func TestRun_ToyEndToEnd(t *testing.T) {
	res, err := newTestService(nil).Run(context.Background(), toyRequest(t))
	require.NoError(t, err)

	for _, sf := range res.SizeFactors {
		assert.InDelta(t, 1.0, sf, 1e-9)
	}
	// only two genes are overdispersed, too few for the parametric trend
	assert.Equal(t, expression.TrendMean, res.Dispersions.Fit.Kind)

	de := resultFor(t, res.DE, "g_de")
	assert.True(t, de.Converged)
	assert.GreaterOrEqual(t, math.Abs(de.Log2FoldChange), 3.0)
	assert.InDelta(t, math.Log2(1050.0/110.0), de.Log2FoldChange, 0.01)
	assert.Less(t, de.PValue, 0.05)
	assert.True(t, de.Significant(0.05))

	flat := resultFor(t, res.DE, "g_flat")
	assert.InDelta(t, 0, flat.Log2FoldChange, 1e-6)
	assert.Greater(t, flat.PValue, 0.05)
	assert.False(t, flat.Significant(0.05))

	// sorted by raw p-value
	assert.Equal(t, "g_de", res.DE.Results[0].GeneID)
	assert.Equal(t, 1, res.Summary.Up)
	assert.Equal(t, 0, res.Summary.Down)

	require.NotNil(t, res.ORA)
	require.Len(t, res.ORA.Results, 1)
	assert.Equal(t, "RESPONSE", res.ORA.Results[0].Name)
	assert.Equal(t, []string{"g_de"}, res.ORA.Results[0].Genes)
	assert.Equal(t, 1, res.ORA.Unmapped)

	require.NotNil(t, res.GSEA)
	assert.Len(t, res.GSEA.Results, 2)

	assert.Len(t, res.VST, 6)
	assert.Len(t, res.Distances, 4)
	assert.False(t, res.Persisted)
	assert.NotEmpty(t, res.Stages)
}

func TestRun_CountThresholdRemovesGenesEverywhere(t *testing.T) {
	req := toyRequest(t)
	req.Counts = toyCounts(t, map[string][]int64{"g_low": {0, 1, 0, 0}})
	req.GeneSets = &genesets.Collection{Sets: []genesets.GeneSet{
		{Name: "WITH_LOW", Genes: []string{"g_low", "g_de"}},
	}}

	res, err := newTestService(nil).Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"g_low"}, res.RemovedGenes)
	assert.NotContains(t, res.GeneIDs, "g_low")
	for _, r := range res.DE.Results {
		assert.NotEqual(t, "g_low", r.GeneID)
	}
	require.Len(t, res.ORA.Results, 1)
	assert.Equal(t, 1, res.ORA.Results[0].SetSize)
	assert.Equal(t, 1, res.ORA.Unmapped)
	for _, r := range res.GSEA.Results {
		assert.NotContains(t, r.Genes, "g_low")
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunRequest)
		code   string
	}{
		{
			name: "metadata sample missing",
			mutate: func(r *RunRequest) {
				r.Metadata.SampleIDs[0] = "t9"
			},
			code: errors.CodeAlignment,
		},
		{
			name: "unknown factor",
			mutate: func(r *RunRequest) {
				r.Design.Factor = "batch"
			},
			code: errors.CodeInvalidInput,
		},
		{
			name: "everything filtered",
			mutate: func(r *RunRequest) {
				r.Analysis.CountThreshold = 1_000_000
			},
			code: errors.CodeInsufficientData,
		},
		{
			name: "dispersion trend does not converge",
			mutate: func(r *RunRequest) {
				cfg := testkit.DefaultCountConfig()
				cfg.Genes = 2000
				cfg.SamplesPerGroup = 5
				exp := testkit.NewCountGenerator(cfg).Generate()
				r.Counts, r.Metadata, r.Design = exp.Counts, exp.Metadata, exp.Design
				r.Analysis.TrendMaxIter = 1
			},
			code: errors.CodeConvergence,
		},
		{
			name: "missing counts",
			mutate: func(r *RunRequest) {
				r.Counts = nil
			},
			code: errors.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := toyRequest(t)
			tt.mutate(&req)
			_, err := newTestService(nil).Run(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestRun_ExportsAndReimports(t *testing.T) {
	req := toyRequest(t)
	req.OutputDir = t.TempDir()
	req.Workbook = true

	res, err := newTestService(nil).Run(context.Background(), req)
	require.NoError(t, err)

	for _, name := range []string{
		FileDEResults, FileSizeFactors, FileDispersions, FileNormalized, FileVST,
		FileSampleDistances, FileORA, FileGSEA, FileWorkbook,
	} {
		assert.FileExists(t, filepath.Join(req.OutputDir, name))
	}

	f, err := os.Open(filepath.Join(req.OutputDir, FileDEResults))
	require.NoError(t, err)
	defer f.Close()
	back, err := tsv.ReadDEResults(f)
	require.NoError(t, err)
	require.Len(t, back, len(res.DE.Results))
	for i, r := range res.DE.Results {
		assert.Equal(t, r.GeneID, back[i].GeneID)
		assert.Equal(t, r.Log2FoldChange, back[i].Log2FoldChange)
	}
}

func TestRun_RerunsAreByteIdentical(t *testing.T) {
	cfg := testkit.DefaultCountConfig()
	cfg.Genes = 1000
	exp := testkit.NewCountGenerator(cfg).Generate()

	collection := &genesets.Collection{Sets: []genesets.GeneSet{
		{Name: "SIMULATED_DE", Genes: exp.DEGenes[:20]},
		{Name: "BACKGROUND", Genes: exp.Counts.GeneIDs[500:530]},
	}}

	run := func(workers int) (*RunResult, string) {
		defaults := config.Default()
		defaults.Analysis.Workers = workers
		defaults.Enrichment.Permutations = 300
		dir := t.TempDir()
		res, err := newTestService(nil).Run(context.Background(), RunRequest{
			Counts:     exp.Counts,
			Metadata:   exp.Metadata,
			GeneSets:   collection,
			Design:     exp.Design,
			Analysis:   defaults.Analysis,
			Enrichment: defaults.Enrichment,
			OutputDir:  dir,
		})
		require.NoError(t, err)
		return res, dir
	}

	first, dirA := run(1)
	second, dirB := run(4)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.SettingsHash, second.SettingsHash)
	require.Equal(t, len(first.Files), len(second.Files))
	for _, path := range first.Files {
		name := filepath.Base(path)
		a, err := os.ReadFile(filepath.Join(dirA, name))
		require.NoError(t, err)
		b, err := os.ReadFile(filepath.Join(dirB, name))
		require.NoError(t, err)
		assert.Equal(t, string(a), string(b), "output %s differs between runs", name)
	}
}

func TestRun_PersistsThroughStore(t *testing.T) {
	store := new(testkit.MockResultStore)
	store.On("SaveRun", mock.Anything,
		mock.MatchedBy(func(r ports.RunRecord) bool {
			return r.Test == "wald" && r.Up == 1 && r.Design.Numerator == "treated" && r.ID != ""
		}),
		mock.Anything, mock.Anything).Return(nil)

	res, err := newTestService(store).Run(context.Background(), toyRequest(t))
	require.NoError(t, err)

	assert.True(t, res.Persisted)
	store.AssertExpectations(t)
}

func TestRun_StoreFailureIsReported(t *testing.T) {
	store := new(testkit.MockResultStore)
	store.On("SaveRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.DatabaseError("disk full"))

	_, err := newTestService(store).Run(context.Background(), toyRequest(t))
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestService(nil).Run(ctx, toyRequest(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRanking(t *testing.T) {
	results := []expression.DEResult{
		{GeneID: "up", Log2FoldChange: 1.5, Stat: 9},
		{GeneID: "down", Log2FoldChange: -2, Stat: 16},
		{GeneID: "na", Log2FoldChange: expression.NA, Stat: expression.NA},
	}

	lrt := Ranking(results, glm.TestLRT)
	require.Len(t, lrt, 2)
	assert.Equal(t, genesets.RankedGene{GeneID: "up", Score: 3}, lrt[0])
	assert.Equal(t, genesets.RankedGene{GeneID: "down", Score: -4}, lrt[1])

	wald := Ranking(results, glm.TestWald)
	require.Len(t, wald, 2)
	assert.Equal(t, 16.0, wald[1].Score)
}

func TestSettingsHash_TracksSettings(t *testing.T) {
	req := toyRequest(t)
	base := settingsHash(req)
	assert.Equal(t, base, settingsHash(req))

	req.Enrichment.Seed++
	assert.NotEqual(t, base, settingsHash(req))
}
