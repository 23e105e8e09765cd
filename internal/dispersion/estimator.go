// Package dispersion estimates negative-binomial dispersions: gene-wise
// method-of-moments estimates, a mean-dependent trend, and empirical-Bayes
// shrinkage of the gene estimates toward the trend.
package dispersion

import (
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"rnadiff/domain/expression"
	"rnadiff/internal/errors"
	"rnadiff/internal/logging"
	rstats "rnadiff/internal/stats"
)

// Options controls the estimator. Zero values are replaced by the defaults below.
type Options struct {
	FitType          expression.TrendKind
	MinDisp          float64
	MaxDisp          float64
	TrendMaxIter     int
	MinPriorVariance float64
	OutlierSD        float64
	Logger           *log.Logger
}

const (
	DefaultMinDisp          = 1e-8
	DefaultMaxDisp          = 10
	DefaultTrendMaxIter     = 10
	DefaultMinPriorVariance = 0.25
	DefaultOutlierSD        = 2
)

func (o *Options) setDefaults() {
	if o.FitType == "" {
		o.FitType = expression.TrendParametric
	}
	if o.MinDisp <= 0 {
		o.MinDisp = DefaultMinDisp
	}
	if o.MaxDisp <= 0 {
		o.MaxDisp = DefaultMaxDisp
	}
	if o.TrendMaxIter <= 0 {
		o.TrendMaxIter = DefaultTrendMaxIter
	}
	if o.MinPriorVariance <= 0 {
		o.MinPriorVariance = DefaultMinPriorVariance
	}
	if o.OutlierSD <= 0 {
		o.OutlierSD = DefaultOutlierSD
	}
	o.Logger = logging.Component(o.Logger, "Dispersion")
}

// Input bundles what the estimator reads. Groups assigns every sample to a
// design level in [0, NumLevels).
type Input struct {
	GeneIDs     []string
	Normalized  [][]float64
	SizeFactors expression.SizeFactors
	Groups      []int
	NumLevels   int
}

// Estimate runs the full dispersion workflow and returns one table row per gene.
// A trend fit that fails to converge aborts with a convergence error.
func Estimate(in Input, opts Options) (*expression.DispersionTable, error) {
	opts.setDefaults()

	m := len(in.SizeFactors)
	df := m - in.NumLevels
	if df <= 0 {
		return nil, errors.InsufficientData(fmt.Sprintf(
			"%d samples for %d design levels leave no residual degrees of freedom for dispersion estimates", m, in.NumLevels))
	}
	if len(in.Normalized) == 0 {
		return nil, errors.InsufficientData("no genes to estimate dispersions for")
	}

	maxDisp := math.Max(opts.MaxDisp, float64(m))
	table := &expression.DispersionTable{
		GeneIDs:       in.GeneIDs,
		BaseMeans:     make([]float64, len(in.Normalized)),
		GeneEstimates: make([]float64, len(in.Normalized)),
		Trend:         make([]float64, len(in.Normalized)),
		Final:         make([]float64, len(in.Normalized)),
		Outlier:       make([]bool, len(in.Normalized)),
	}

	for i, row := range in.Normalized {
		mean, alpha := momentsEstimate(row, in.SizeFactors, in.Groups, in.NumLevels, df)
		table.BaseMeans[i] = mean
		table.GeneEstimates[i] = clamp(alpha, opts.MinDisp, maxDisp)
	}

	fit, err := fitTrend(table.BaseMeans, table.GeneEstimates, opts)
	if err != nil {
		return nil, err
	}
	for i, mu := range table.BaseMeans {
		table.Trend[i] = fit.At(mu)
	}

	samplingVar := rstats.Trigamma(float64(df) / 2)
	fit.PriorVariance = priorVariance(table, samplingVar, opts)
	table.Fit = fit

	shrink(table, samplingVar, maxDisp, opts)

	opts.Logger.Info("dispersions estimated",
		"genes", len(table.GeneIDs),
		"trend", fit.Kind,
		"asymptotic", fmt.Sprintf("%.4g", fit.Asymptotic),
		"extra_poisson", fmt.Sprintf("%.4g", fit.ExtraPoisson),
		"prior_var", fmt.Sprintf("%.3g", fit.PriorVariance),
		"outliers", table.OutlierCount())
	return table, nil
}

// momentsEstimate returns the base mean and the method-of-moments dispersion from the
// variance pooled within design levels: Var(q_j) = μ_g/s_j + α μ_g².
func momentsEstimate(row []float64, sf expression.SizeFactors, groups []int, numLevels, df int) (float64, float64) {
	groupSum := make([]float64, numLevels)
	groupN := make([]float64, numLevels)
	total := 0.0
	for j, q := range row {
		groupSum[groups[j]] += q
		groupN[groups[j]]++
		total += q
	}
	mean := total / float64(len(row))

	groupMean := make([]float64, numLevels)
	for g := range groupMean {
		if groupN[g] > 0 {
			groupMean[g] = groupSum[g] / groupN[g]
		}
	}

	ss, poisson, quad := 0.0, 0.0, 0.0
	for j, q := range row {
		mu := groupMean[groups[j]]
		d := q - mu
		ss += d * d
		poisson += mu / sf[j]
		quad += mu * mu
	}
	n := float64(len(row))
	poisson /= n
	quad /= n
	if quad == 0 {
		return mean, 0
	}
	s2 := ss / float64(df)
	return mean, (s2 - poisson) / quad
}

// fitTrend fits α(μ) = a0 + a1/μ, falling back to a constant trend when the
// parametric coefficients are not positive.
func fitTrend(means, disps []float64, opts Options) (expression.TrendFit, error) {
	var usableMeans, usableDisps []float64
	for i, d := range disps {
		if d >= 100*opts.MinDisp {
			usableMeans = append(usableMeans, means[i])
			usableDisps = append(usableDisps, d)
		}
	}

	if opts.FitType == expression.TrendParametric {
		fit, err := parametricFit(usableMeans, usableDisps, opts.TrendMaxIter)
		if err == nil {
			return fit, nil
		}
		if errors.HasCode(err, errors.CodeConvergence) {
			return expression.TrendFit{}, err
		}
		opts.Logger.Warn("parametric dispersion trend unusable, using mean trend", "reason", err)
	}
	return meanFit(usableDisps, opts.MinDisp), nil
}

var errNonPositiveTrend = fmt.Errorf("trend coefficients not positive")

func parametricFit(means, disps []float64, maxIter int) (expression.TrendFit, error) {
	if len(means) < 3 {
		return expression.TrendFit{}, fmt.Errorf("%d genes above the minimum dispersion: %w", len(means), errNonPositiveTrend)
	}

	coefs := [2]float64{0.1, 1}
	for iter := 1; ; iter++ {
		var gm, gd []float64
		for i, d := range disps {
			r := d / (coefs[0] + coefs[1]/means[i])
			if r > 1e-4 && r < 15 {
				gm = append(gm, means[i])
				gd = append(gd, d)
			}
		}
		if len(gm) < 3 {
			return expression.TrendFit{}, fmt.Errorf("%d genes inside the residual window: %w", len(gm), errNonPositiveTrend)
		}

		next, converged, err := gammaIdentityGLM(gm, gd, coefs)
		if err != nil {
			return expression.TrendFit{}, err
		}
		if next[0] <= 0 || next[1] <= 0 {
			return expression.TrendFit{}, fmt.Errorf("a0=%.3g a1=%.3g: %w", next[0], next[1], errNonPositiveTrend)
		}

		change := sq(math.Log(next[0]/coefs[0])) + sq(math.Log(next[1]/coefs[1]))
		coefs = next
		if change < 1e-6 && converged {
			return expression.TrendFit{
				Kind:         expression.TrendParametric,
				Asymptotic:   coefs[0],
				ExtraPoisson: coefs[1],
				Iterations:   iter,
			}, nil
		}
		if iter >= maxIter {
			return expression.TrendFit{}, errors.Convergence(fmt.Sprintf(
				"dispersion trend fit did not converge after %d iterations (a0=%.4g, a1=%.4g)", maxIter, coefs[0], coefs[1]))
		}
	}
}

// gammaIdentityGLM regresses disps on (1, 1/means) with a Gamma family and identity
// link by IRLS. Weights are 1/fitted², the inverse Gamma variance function.
func gammaIdentityGLM(means, disps []float64, start [2]float64) ([2]float64, bool, error) {
	const (
		maxIter = 25
		tol     = 1e-8
	)

	n := len(means)
	x := mat.NewDense(n, 2, nil)
	for i, mu := range means {
		x.Set(i, 0, 1)
		x.Set(i, 1, 1/mu)
	}

	beta := start
	w := make([]float64, n)
	devOld := math.Inf(1)
	for iter := 0; iter < maxIter; iter++ {
		for i := range w {
			fitted := beta[0] + beta[1]*x.At(i, 1)
			if fitted <= 0 {
				return beta, false, fmt.Errorf("fitted dispersion %.3g at mean %.3g: %w", fitted, means[i], errNonPositiveTrend)
			}
			w[i] = 1 / (fitted * fitted)
		}
		res, err := rstats.WeightedLeastSquares(x, w, disps, nil)
		if err != nil {
			return beta, false, fmt.Errorf("%v: %w", err, errNonPositiveTrend)
		}
		beta = [2]float64{res.Beta.AtVec(0), res.Beta.AtVec(1)}

		dev := 0.0
		for i, d := range disps {
			fitted := beta[0] + beta[1]*x.At(i, 1)
			if fitted <= 0 {
				return beta, false, fmt.Errorf("fitted dispersion %.3g: %w", fitted, errNonPositiveTrend)
			}
			dev += 2 * (-math.Log(d/fitted) + (d-fitted)/fitted)
		}
		if math.Abs(dev-devOld)/(math.Abs(dev)+0.1) < tol {
			return beta, true, nil
		}
		devOld = dev
	}
	return beta, false, nil
}

// meanFit averages the usable estimates; with none it sits at minDisp.
func meanFit(usable []float64, minDisp float64) expression.TrendFit {
	level := minDisp
	if len(usable) > 0 {
		level = floats.Sum(usable) / float64(len(usable))
	}
	return expression.TrendFit{Kind: expression.TrendMean, Asymptotic: level}
}

// priorVariance is the spread of log gene estimates around the trend that is not
// explained by sampling noise, measured robustly through the median absolute deviation.
func priorVariance(table *expression.DispersionTable, samplingVar float64, opts Options) float64 {
	var residuals []float64
	for i, d := range table.GeneEstimates {
		if d >= 100*opts.MinDisp {
			residuals = append(residuals, math.Log(d)-math.Log(table.Trend[i]))
		}
	}
	if len(residuals) < 3 {
		return opts.MinPriorVariance
	}
	mad, err := stats.MedianAbsoluteDeviation(residuals)
	if err != nil {
		return opts.MinPriorVariance
	}
	sd := 1.4826 * mad
	return math.Max(sd*sd-samplingVar, opts.MinPriorVariance)
}

// shrink combines gene estimates and trend on the log scale, weighting each by the
// inverse of its variance. Genes far above the trend keep their own estimate.
func shrink(table *expression.DispersionTable, samplingVar, maxDisp float64, opts Options) {
	prior := table.Fit.PriorVariance
	weight := prior / (prior + samplingVar)
	outlierCut := opts.OutlierSD * math.Sqrt(prior)

	for i, gene := range table.GeneEstimates {
		logGene := math.Log(gene)
		logTrend := math.Log(table.Trend[i])
		if logGene > logTrend+outlierCut {
			table.Outlier[i] = true
			table.Final[i] = gene
			continue
		}
		table.Final[i] = clamp(math.Exp(weight*logGene+(1-weight)*logTrend), opts.MinDisp, maxDisp)
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sq(v float64) float64 { return v * v }
