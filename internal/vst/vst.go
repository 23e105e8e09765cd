// Package vst applies the variance-stabilizing transformation derived from the
// dispersion trend and summarizes samples on the transformed scale.
package vst

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"rnadiff/domain/expression"
	"rnadiff/internal/errors"
)

// Value transforms one normalized count q with trend α(μ) = a0 + a1/μ. A trend
// without asymptotic dispersion falls back to log2(q + 1).
func Value(q float64, fit expression.TrendFit) float64 {
	a0, a1 := fit.Asymptotic, fit.ExtraPoisson
	if a0 <= 0 {
		return math.Log2(q + 1)
	}
	return math.Log2((1 + a1 + 2*a0*q + 2*math.Sqrt(a0*q*(1+a1+a0*q))) / (4 * a0))
}

// Transform applies Value to every entry of a gene × sample matrix.
func Transform(normalized [][]float64, fit expression.TrendFit) [][]float64 {
	out := make([][]float64, len(normalized))
	for i, row := range normalized {
		out[i] = make([]float64, len(row))
		for j, q := range row {
			out[i][j] = Value(q, fit)
		}
	}
	return out
}

// SampleDistances returns the symmetric matrix of Euclidean distances between
// sample columns.
func SampleDistances(values [][]float64) [][]float64 {
	cols := columns(values, nil)
	d := make([][]float64, len(cols))
	for a := range cols {
		d[a] = make([]float64, len(cols))
	}
	for a := range cols {
		for b := a + 1; b < len(cols); b++ {
			dist := floats.Distance(cols[a], cols[b], 2)
			d[a][b] = dist
			d[b][a] = dist
		}
	}
	return d
}

// PCAResult holds per-sample principal-component scores.
type PCAResult struct {
	Scores            [][]float64 // sample × component
	VarianceExplained []float64   // fraction per component
	Genes             []int       // rows used, most variable first
}

// PCA projects samples onto the principal components of the topN most variable genes.
func PCA(values [][]float64, topN int) (*PCAResult, error) {
	if len(values) == 0 || len(values[0]) < 2 {
		return nil, errors.InsufficientData("principal components need at least two samples and one gene")
	}
	genes := mostVariable(values, topN)

	cols := columns(values, genes)
	n, p := len(cols), len(genes)
	x := mat.NewDense(n, p, nil)
	for s, col := range cols {
		x.SetRow(s, col)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, errors.InternalError(fmt.Sprintf("principal component decomposition failed on %d×%d matrix", n, p))
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	// center before projecting
	for k := 0; k < p; k++ {
		col := mat.Col(nil, k, x)
		mean := stat.Mean(col, nil)
		for s := 0; s < n; s++ {
			x.Set(s, k, x.At(s, k)-mean)
		}
	}
	var scores mat.Dense
	scores.Mul(x, &vecs)

	total := floats.Sum(vars)
	res := &PCAResult{Genes: genes, VarianceExplained: make([]float64, len(vars))}
	for k, v := range vars {
		if total > 0 {
			res.VarianceExplained[k] = v / total
		}
	}
	rows, _ := scores.Dims()
	res.Scores = make([][]float64, rows)
	for s := 0; s < rows; s++ {
		res.Scores[s] = mat.Row(nil, s, &scores)
	}
	return res, nil
}

func mostVariable(values [][]float64, topN int) []int {
	variances := make([]float64, len(values))
	idx := make([]int, len(values))
	for i, row := range values {
		variances[i] = stat.Variance(row, nil)
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return variances[idx[a]] > variances[idx[b]] })
	if topN > 0 && topN < len(idx) {
		idx = idx[:topN]
	}
	return idx
}

// columns transposes the selected rows (all when rows is nil) into per-sample vectors.
func columns(values [][]float64, rows []int) [][]float64 {
	if len(values) == 0 {
		return nil
	}
	if rows == nil {
		rows = make([]int, len(values))
		for i := range rows {
			rows[i] = i
		}
	}
	cols := make([][]float64, len(values[0]))
	for s := range cols {
		cols[s] = make([]float64, len(rows))
		for k, r := range rows {
			cols[s][k] = values[r][s]
		}
	}
	return cols
}
