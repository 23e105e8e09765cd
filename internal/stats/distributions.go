// Package stats collects the distribution functions and small numerical
// helpers shared by the testing and enrichment stages.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NormalCDF computes cumulative distribution function for standard normal
func NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// WaldPValue is the two-sided p-value of a standard-normal test statistic.
// NaN statistics yield NaN.
func WaldPValue(z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	return 2 * distuv.UnitNormal.CDF(-math.Abs(z))
}

// ChiSquarePValue computes the upper-tail p-value of a chi-square statistic
func ChiSquarePValue(chiSquare float64, degreesOfFreedom int) float64 {
	if math.IsNaN(chiSquare) || degreesOfFreedom <= 0 {
		return math.NaN()
	}
	if chiSquare < 0 {
		chiSquare = 0
	}
	return distuv.ChiSquared{K: float64(degreesOfFreedom)}.Survival(chiSquare)
}

// HypergeometricUpperTail returns P(X ≥ k) for X the number of successes in n
// draws without replacement from a population of N containing K successes.
func HypergeometricUpperTail(k, n, K, N int) float64 {
	lo := n - (N - K)
	if lo < 0 {
		lo = 0
	}
	hi := n
	if K < hi {
		hi = K
	}
	if k <= lo {
		return 1
	}
	if k > hi {
		return 0
	}

	logDenom := logChoose(N, n)
	terms := make([]float64, 0, hi-k+1)
	maxTerm := math.Inf(-1)
	for i := k; i <= hi; i++ {
		t := logChoose(K, i) + logChoose(N-K, n-i) - logDenom
		terms = append(terms, t)
		if t > maxTerm {
			maxTerm = t
		}
	}
	var sum float64
	for _, t := range terms {
		sum += math.Exp(t - maxTerm)
	}
	p := math.Exp(maxTerm + math.Log(sum))
	if p > 1 {
		p = 1
	}
	return p
}

func logChoose(n, k int) float64 {
	a, _ := math.Lgamma(float64(n + 1))
	b, _ := math.Lgamma(float64(k + 1))
	c, _ := math.Lgamma(float64(n - k + 1))
	return a - b - c
}

// Trigamma evaluates ψ₁(x), the derivative of the digamma function, for x > 0.
// It is the sampling variance of log(s²/σ²) when s² has 2x degrees of freedom.
func Trigamma(x float64) float64 {
	if x <= 0 || math.IsNaN(x) {
		return math.NaN()
	}
	var acc float64
	for x < 6 {
		acc += 1 / (x * x)
		x++
	}
	x2 := 1 / (x * x)
	// asymptotic series in 1/x
	series := 1/x + x2/2 + x2/x*(1.0/6-x2*(1.0/30-x2*(1.0/42-x2/30)))
	return acc + series
}

// Quantile returns the p-quantile of values by linear interpolation between
// order statistics. values is not modified.
func Quantile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	return stat.Quantile(p, stat.LinInterp, sorted, nil)
}
