package multitest

import (
	"math"

	rstats "rnadiff/internal/stats"
)

// FilterResult describes the chosen independent-filtering cutoff.
type FilterResult struct {
	PAdj       []float64
	Quantile   float64 // θ: fraction of genes ranked by base mean that were set aside
	Threshold  float64 // base mean cutoff at θ
	Filtered   int     // genes with a p-value whose adjusted value is NA because of the cutoff
	Rejections int
}

// IndependentFilter scans numQuantiles evenly spaced quantiles θ in [0, maxQuantile]
// of the base means. For each θ it adjusts only genes whose base mean reaches the
// θ-quantile and counts adjusted p-values below alpha. The θ with the most rejections
// wins; ties go to the smallest θ.
func IndependentFilter(baseMeans, pvals []float64, alpha float64, numQuantiles int, maxQuantile float64) FilterResult {
	if numQuantiles < 1 {
		numQuantiles = 1
	}

	best := FilterResult{Rejections: -1}
	for i := 0; i < numQuantiles; i++ {
		theta := 0.0
		if numQuantiles > 1 {
			theta = maxQuantile * float64(i) / float64(numQuantiles-1)
		}
		cutoff := math.Inf(-1)
		if theta > 0 {
			cutoff = rstats.Quantile(baseMeans, theta)
		}

		masked := make([]float64, len(pvals))
		filtered := 0
		for g, p := range pvals {
			masked[g] = p
			if baseMeans[g] < cutoff {
				masked[g] = math.NaN()
				if !math.IsNaN(p) {
					filtered++
				}
			}
		}
		padj := BenjaminiHochberg(masked)
		rejections := countBelow(padj, alpha)
		if rejections > best.Rejections {
			best = FilterResult{
				PAdj:       padj,
				Quantile:   theta,
				Threshold:  math.Max(cutoff, 0),
				Filtered:   filtered,
				Rejections: rejections,
			}
		}
	}
	return best
}

func countBelow(values []float64, alpha float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) && v < alpha {
			n++
		}
	}
	return n
}
