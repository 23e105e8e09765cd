package expression

import (
	"math"
	"sort"
)

// NA marks an undefined statistic. Tables store it as NaN and export it as "NA".
var NA = math.NaN()

// IsNA reports whether v is an undefined statistic.
func IsNA(v float64) bool { return math.IsNaN(v) }

// SizeFactors holds one positive scaling factor per sample, geometric mean 1.
type SizeFactors []float64

// TrendKind names the functional form of a dispersion trend.
type TrendKind string

const (
	TrendParametric TrendKind = "parametric"
	TrendMean       TrendKind = "mean"
)

// TrendFit is the fitted mean-dispersion relationship α(μ) = Asymptotic + ExtraPoisson/μ.
// A mean trend has ExtraPoisson = 0.
type TrendFit struct {
	Kind          TrendKind
	Asymptotic    float64
	ExtraPoisson  float64
	PriorVariance float64 // variance of the log-dispersion prior used for shrinkage
	Iterations    int
}

// At evaluates the trend at mean μ.
func (t TrendFit) At(mean float64) float64 {
	return t.Asymptotic + t.ExtraPoisson/mean
}

// DispersionTable holds the per-gene dispersion estimates, aligned with GeneIDs.
type DispersionTable struct {
	GeneIDs       []string
	BaseMeans     []float64
	GeneEstimates []float64
	Trend         []float64
	Final         []float64
	Outlier       []bool
	Fit           TrendFit
}

// OutlierCount returns how many genes kept their raw estimate.
func (d *DispersionTable) OutlierCount() int {
	n := 0
	for _, o := range d.Outlier {
		if o {
			n++
		}
	}
	return n
}

// DEResult is one gene's differential-expression record. NA fields are NaN.
type DEResult struct {
	GeneID         string
	BaseMean       float64
	Log2FoldChange float64
	LfcSE          float64
	Stat           float64
	PValue         float64
	PAdj           float64
	Converged      bool
}

// Significant reports whether the adjusted p-value is defined and below alpha.
func (r DEResult) Significant(alpha float64) bool {
	return !IsNA(r.PAdj) && r.PAdj < alpha
}

// DETable is the immutable output of one contrast.
type DETable struct {
	Design          Design
	Test            string
	Results         []DEResult
	FilterQuantile  float64 // chosen independent-filtering quantile of base means
	FilterThreshold float64 // base-mean cutoff matching FilterQuantile
	NonConverged    int
	Filtered        int // genes whose padj was set to NA by independent filtering
}

// Summary counts significant genes by direction.
type Summary struct {
	Tested       int
	Up           int
	Down         int
	NonConverged int
	Filtered     int
}

// Summarize counts genes with padj < alpha by direction of the fold change.
func (t *DETable) Summarize(alpha float64) Summary {
	s := Summary{Tested: len(t.Results), NonConverged: t.NonConverged, Filtered: t.Filtered}
	for _, r := range t.Results {
		if !r.Significant(alpha) {
			continue
		}
		if r.Log2FoldChange > 0 {
			s.Up++
		} else if r.Log2FoldChange < 0 {
			s.Down++
		}
	}
	return s
}

// Significant returns the records with padj < alpha, in table order.
func (t *DETable) Significant(alpha float64) []DEResult {
	var out []DEResult
	for _, r := range t.Results {
		if r.Significant(alpha) {
			out = append(out, r)
		}
	}
	return out
}

// SortedByPAdj returns a copy of the results ordered by adjusted p-value, NA last.
func (t *DETable) SortedByPAdj() []DEResult {
	out := append([]DEResult(nil), t.Results...)
	sort.SliceStable(out, func(i, j int) bool {
		return lessNALast(out[i].PAdj, out[j].PAdj)
	})
	return out
}

// SortByPValue orders results by raw p-value, NA last, keeping input order for ties.
func SortByPValue(results []DEResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return lessNALast(results[i].PValue, results[j].PValue)
	})
}

func lessNALast(a, b float64) bool {
	switch {
	case IsNA(a):
		return false
	case IsNA(b):
		return true
	default:
		return a < b
	}
}
