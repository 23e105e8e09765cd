// Package multitest adjusts p-values for multiple testing and applies
// independent filtering on mean expression.
package multitest

import (
	"math"
	"sort"
)

// BenjaminiHochberg returns FDR-adjusted p-values in input order. NaN entries are
// not counted as tests and stay NaN.
func BenjaminiHochberg(pvals []float64) []float64 {
	adjusted := make([]float64, len(pvals))
	idx := make([]int, 0, len(pvals))
	for i, p := range pvals {
		adjusted[i] = math.NaN()
		if !math.IsNaN(p) {
			idx = append(idx, i)
		}
	}
	n := len(idx)
	if n == 0 {
		return adjusted
	}

	sort.SliceStable(idx, func(i, j int) bool {
		return pvals[idx[i]] < pvals[idx[j]]
	})

	minP := 1.0
	for i := n - 1; i >= 0; i-- {
		orig := idx[i]
		adj := pvals[orig] * float64(n) / float64(i+1)
		if adj < minP {
			minP = adj
		}
		adjusted[orig] = minP
	}
	return adjusted
}
