package enrichment

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	seeded "rnadiff/adapters/rng"
	"rnadiff/domain/genesets"
	"rnadiff/internal/errors"
)

func geneIDs(from, to int) []string {
	ids := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		ids = append(ids, fmt.Sprintf("g%d", i))
	}
	return ids
}

func TestOverRepresentation_IdenticalSet(t *testing.T) {
	universe := geneIDs(0, 1000)
	query := geneIDs(0, 20)
	collection := &genesets.Collection{Sets: []genesets.GeneSet{
		{Name: "identical", Genes: query},
		{Name: "disjoint", Genes: geneIDs(500, 530)},
		{Name: "partial", Genes: append(geneIDs(10, 30), "ENSG_unknown", "ENSG_other")},
		{Name: "tiny", Genes: geneIDs(0, 3)},
	}}

	table := OverRepresentation(query, universe, collection, ORAOptions{MinSetSize: 5, MaxSetSize: 500})

	require.Len(t, table.Results, 2, "disjoint set dropped, tiny set skipped")
	top := table.Results[0]
	assert.Equal(t, "identical", top.Name)
	assert.Equal(t, 20, top.Overlap)
	assert.Equal(t, 20, top.SetSize)
	assert.InDelta(t, 50.0, top.Score, 1e-9)
	assert.Less(t, top.PValue, 1e-30)
	assert.Less(t, top.PAdj, 1e-30)
	assert.True(t, math.IsNaN(top.NormalizedScore))
	assert.Equal(t, query, top.Genes)

	partial := table.Results[1]
	assert.Equal(t, "partial", partial.Name)
	assert.Equal(t, 10, partial.Overlap)
	assert.Equal(t, 20, partial.SetSize)

	assert.Equal(t, 2, table.Unmapped)
	assert.Equal(t, 1, table.SetsWithUnmapped)
	assert.Equal(t, 1, table.Skipped)
	assert.GreaterOrEqual(t, partial.PAdj, partial.PValue)
}

func TestOverRepresentation_DiscardsQueryOutsideUniverse(t *testing.T) {
	universe := geneIDs(0, 100)
	query := append(geneIDs(0, 5), "not_tested")
	collection := &genesets.Collection{Sets: []genesets.GeneSet{{Name: "s", Genes: geneIDs(0, 10)}}}

	table := OverRepresentation(query, universe, collection, ORAOptions{})
	assert.Equal(t, 1, table.DiscardedQuery)
	require.Len(t, table.Results, 1)
	assert.Equal(t, 5, table.Results[0].Overlap)
}

func TestOverRepresentation_EmptyQuery(t *testing.T) {
	collection := &genesets.Collection{Sets: []genesets.GeneSet{{Name: "s", Genes: geneIDs(0, 10)}}}

	table := OverRepresentation(nil, geneIDs(0, 100), collection, ORAOptions{})
	require.NotNil(t, table)
	assert.True(t, table.Empty())
	assert.Equal(t, genesets.ModeORA, table.Mode)
}

func TestRunningSum(t *testing.T) {
	weights := []float64{1, 1, 1, 1}

	es, from, to := runningSum(weights, []int{0})
	assert.InDelta(t, 1.0, es, 1e-12)
	assert.Equal(t, 0, from)
	assert.Equal(t, 1, to)

	es, from, to = runningSum(weights, []int{3})
	assert.InDelta(t, -1.0, es, 1e-12)
	assert.Equal(t, 0, from)
	assert.Equal(t, 1, to)

	// hits at both ends: +0.5 after the first, -0.5 just before the last
	es, _, _ = runningSum(weights, []int{0, 3})
	assert.InDelta(t, 0.5, es, 1e-12)
}

// spreadIDs returns n ids evenly spaced along the ranking
func spreadIDs(start, step, n int) []string {
	ids := make([]string, n)
	for k := range ids {
		ids[k] = fmt.Sprintf("g%d", start+k*step)
	}
	return ids
}

func linearRanking(n int) []genesets.RankedGene {
	ranking := make([]genesets.RankedGene, n)
	for i := range ranking {
		ranking[i] = genesets.RankedGene{GeneID: fmt.Sprintf("g%d", i), Score: float64(n/2 - i)}
	}
	return ranking
}

func TestGeneSetEnrichment_TopAndBottom(t *testing.T) {
	ranking := linearRanking(200)
	collection := &genesets.Collection{Sets: []genesets.GeneSet{
		{Name: "top", Genes: geneIDs(0, 15)},
		{Name: "bottom", Genes: geneIDs(185, 200)},
		{Name: "spread", Genes: append(spreadIDs(5, 13, 15), "missing")},
	}}

	table, err := GeneSetEnrichment(context.Background(), ranking, collection, GSEAOptions{
		Permutations: 500, Seed: 42, Weight: 1, MinSetSize: 5, MaxSetSize: 100, RNG: seeded.Seeded{},
	})
	require.NoError(t, err)
	require.Len(t, table.Results, 3)

	byName := make(map[string]genesets.Result)
	for _, r := range table.Results {
		byName[r.Name] = r
	}
	top, bottom, spread := byName["top"], byName["bottom"], byName["spread"]

	assert.Greater(t, top.Score, 0.9)
	assert.Greater(t, top.NormalizedScore, 1.0)
	assert.Less(t, top.PValue, 0.01)
	assert.Len(t, top.Genes, 15)

	assert.Less(t, bottom.Score, -0.9)
	assert.Less(t, bottom.NormalizedScore, -1.0)
	assert.Less(t, bottom.PValue, 0.01)

	assert.Greater(t, spread.PValue, 0.05)
	assert.Equal(t, 1, table.Unmapped)
	assert.Equal(t, "spread", table.Results[2].Name)
}

func TestGeneSetEnrichment_Deterministic(t *testing.T) {
	ranking := linearRanking(300)
	rng := rand.New(rand.NewSource(1))
	var sets []genesets.GeneSet
	for s := 0; s < 6; s++ {
		var genes []string
		for _, i := range rng.Perm(300)[:10+s] {
			genes = append(genes, fmt.Sprintf("g%d", i))
		}
		sets = append(sets, genesets.GeneSet{Name: fmt.Sprintf("set%d", s), Genes: genes})
	}
	collection := &genesets.Collection{Sets: sets}

	run := func(workers int) *genesets.Table {
		table, err := GeneSetEnrichment(context.Background(), ranking, collection, GSEAOptions{
			Permutations: 250, Seed: 7, Weight: 1, Workers: workers, RNG: seeded.Seeded{},
		})
		require.NoError(t, err)
		return table
	}
	serial, parallel := run(1), run(8)
	require.Equal(t, len(serial.Results), len(parallel.Results))
	for i := range serial.Results {
		assert.Equal(t, serial.Results[i].Name, parallel.Results[i].Name)
		assert.Equal(t, serial.Results[i].PValue, parallel.Results[i].PValue)
		assert.Equal(t, serial.Results[i].NormalizedScore, parallel.Results[i].NormalizedScore)
	}
}

func TestNullDistribution_InvariantToLabelShuffle(t *testing.T) {
	ranking := linearRanking(120)
	shuffled := make([]genesets.RankedGene, len(ranking))
	copy(shuffled, ranking)
	rng := rand.New(rand.NewSource(3))
	labels := rng.Perm(len(ranking))
	for i := range shuffled {
		shuffled[i].GeneID = fmt.Sprintf("x%d", labels[i])
	}

	opts := GSEAOptions{Permutations: 300, Seed: 11, Weight: 1, RNG: seeded.Seeded{}}
	a, err := NullDistribution(context.Background(), ranking, 12, opts)
	require.NoError(t, err)
	b, err := NullDistribution(context.Background(), shuffled, 12, opts)
	require.NoError(t, err)

	assert.Len(t, a, 300)
	assert.Equal(t, a, b)
}

func TestNullDistribution_InvalidSize(t *testing.T) {
	_, err := NullDistribution(context.Background(), linearRanking(10), 10, GSEAOptions{})
	assert.Error(t, err)
}

func TestGeneSetEnrichment_EmptyCollection(t *testing.T) {
	table, err := GeneSetEnrichment(context.Background(), linearRanking(50), &genesets.Collection{}, GSEAOptions{})
	require.NoError(t, err)
	assert.True(t, table.Empty())
	assert.Equal(t, genesets.ModeGSEA, table.Mode)
}

func TestGeneSetEnrichment_RequiresRandomSource(t *testing.T) {
	collection := &genesets.Collection{Sets: []genesets.GeneSet{{Name: "top", Genes: geneIDs(0, 15)}}}
	_, err := GeneSetEnrichment(context.Background(), linearRanking(100), collection, GSEAOptions{Permutations: 50})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidInput))
}
