package vst

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rnadiff/domain/expression"
	"rnadiff/internal/errors"
)

var fit = expression.TrendFit{Kind: expression.TrendParametric, Asymptotic: 0.05, ExtraPoisson: 1}

func TestValue_MonotoneAndLogLike(t *testing.T) {
	prev := math.Inf(-1)
	for _, q := range []float64{0, 1, 10, 100, 1000, 1e5} {
		v := Value(q, fit)
		assert.Greater(t, v, prev)
		prev = v
	}
	// for large counts the transform behaves like log2(q) up to a constant
	diff := Value(2e6, fit) - Value(1e6, fit)
	assert.InDelta(t, 1.0, diff, 1e-3)
}

func TestValue_ZeroAsymptote(t *testing.T) {
	assert.Equal(t, math.Log2(8), Value(7, expression.TrendFit{}))
}

func TestTransform_Deterministic(t *testing.T) {
	in := [][]float64{{0, 5, 50}, {100, 200, 300}}
	a := Transform(in, fit)
	b := Transform(in, fit)
	assert.Equal(t, a, b)
	assert.Len(t, a, 2)
	assert.Len(t, a[1], 3)
}

func TestSampleDistances(t *testing.T) {
	values := [][]float64{
		{0, 3, 0},
		{0, 4, 1},
	}
	d := SampleDistances(values)

	require.Len(t, d, 3)
	assert.InDelta(t, 5.0, d[0][1], 1e-12)
	assert.InDelta(t, 5.0, d[1][0], 1e-12)
	assert.InDelta(t, 1.0, d[0][2], 1e-12)
	assert.Equal(t, 0.0, d[2][2])
}

func TestPCA_SeparatesGroups(t *testing.T) {
	// genes 0 and 1 split samples into two groups; gene 2 is noise-free background
	values := [][]float64{
		{1, 1.1, 0.9, 8, 8.2, 7.9},
		{5, 5.2, 4.9, 1, 1.1, 0.8},
		{3, 3, 3, 3, 3, 3},
	}
	res, err := PCA(values, 2)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, res.Genes)
	require.Len(t, res.Scores, 6)
	assert.Greater(t, res.VarianceExplained[0], 0.9)

	// first component has opposite signs for the two groups
	for s := 0; s < 3; s++ {
		assert.Less(t, res.Scores[s][0]*res.Scores[s+3][0], 0.0)
	}
}

func TestPCA_TooFewSamples(t *testing.T) {
	_, err := PCA([][]float64{{1}}, 10)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInsufficientData, errors.GetCode(err))
}
