package normalize

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnadiff/domain/expression"
	"rnadiff/internal/errors"
)

func geometricMean(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += math.Log(x)
	}
	return math.Exp(s / float64(len(v)))
}

func TestSizeFactors_RecoversDepth(t *testing.T) {
	// sample b is sequenced twice as deep as sample a, c half as deep
	genes := []string{"g1", "g2", "g3", "g4"}
	counts := [][]int64{
		{10, 20, 5},
		{100, 200, 50},
		{40, 80, 20},
		{8, 16, 4},
	}
	m, err := expression.NewCountMatrix(genes, []string{"a", "b", "c"}, counts)
	require.NoError(t, err)

	sf, err := SizeFactors(m, nil)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, geometricMean(sf), 1e-12)
	assert.InDelta(t, 2.0, sf[1]/sf[0], 1e-12)
	assert.InDelta(t, 0.5, sf[2]/sf[0], 1e-12)
}

func TestSizeFactors_PositiveWithUnitGeometricMean(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	nGenes, nSamples := 200, 6
	genes := make([]string, nGenes)
	samples := []string{"s1", "s2", "s3", "s4", "s5", "s6"}
	counts := make([][]int64, nGenes)
	for i := range counts {
		genes[i] = "gene" + string(rune('A'+i%26)) + string(rune('a'+i/26))
		row := make([]int64, nSamples)
		for j := range row {
			// sprinkle zeros so some genes drop out of the reference
			if rng.Float64() < 0.05 {
				continue
			}
			row[j] = int64(rng.Intn(500) + 1)
		}
		counts[i] = row
	}
	m, err := expression.NewCountMatrix(genes, samples, counts)
	require.NoError(t, err)

	sf, err := SizeFactors(m, nil)
	require.NoError(t, err)
	for _, f := range sf {
		assert.Greater(t, f, 0.0)
	}
	assert.InDelta(t, 1.0, geometricMean(sf), 1e-9)
}

func TestSizeFactors_NoReferenceGenes(t *testing.T) {
	m, err := expression.NewCountMatrix(
		[]string{"g1", "g2"},
		[]string{"a", "b"},
		[][]int64{{0, 4}, {3, 0}},
	)
	require.NoError(t, err)

	_, err = SizeFactors(m, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInsufficientData, errors.GetCode(err))
}

func TestNormalizedCountsAndBaseMeans(t *testing.T) {
	m, err := expression.NewCountMatrix([]string{"g"}, []string{"a", "b"}, [][]int64{{10, 40}})
	require.NoError(t, err)

	norm := NormalizedCounts(m, expression.SizeFactors{0.5, 2})
	assert.Equal(t, [][]float64{{20, 20}}, norm)
	assert.Equal(t, []float64{20}, BaseMeans(norm))
}
