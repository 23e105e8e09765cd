// Package glm fits per-gene negative-binomial generalized linear models with a
// fixed dispersion and tests the contrast coefficient.
package glm

import (
	"math"

	"gonum.org/v1/gonum/mat"

	rstats "rnadiff/internal/stats"
)

const (
	DefaultMaxIter = 100
	DefaultTol     = 1e-8
	DefaultRidge   = 1e-6

	minMu = 1e-10
)

// GeneFit is the outcome of one gene's IRLS fit. Coefficients are on the natural log scale.
type GeneFit struct {
	Beta       []float64
	SE         []float64
	Deviance   float64
	Iterations int
	Converged  bool
}

// Design is a one-factor model matrix: an intercept plus one indicator column per
// non-reference level. Level 0 is the reference.
type Design struct {
	X         *mat.Dense
	NumLevels int
}

// NewDesign builds the model matrix from per-sample level indices.
func NewDesign(groups []int, numLevels int) Design {
	x := mat.NewDense(len(groups), numLevels, nil)
	for j, g := range groups {
		x.Set(j, 0, 1)
		if g > 0 {
			x.Set(j, g, 1)
		}
	}
	return Design{X: x, NumLevels: numLevels}
}

// InterceptOnly is the reduced design used by the likelihood-ratio test.
func InterceptOnly(samples int) Design {
	x := mat.NewDense(samples, 1, nil)
	for j := 0; j < samples; j++ {
		x.Set(j, 0, 1)
	}
	return Design{X: x, NumLevels: 1}
}

// FitGene runs IRLS for a single gene. counts and sizeFactors are indexed by sample.
func FitGene(counts []int64, sizeFactors []float64, alpha float64, d Design, maxIter int, tol, ridge float64) GeneFit {
	n, p := d.X.Dims()
	y := make([]float64, n)
	for j, c := range counts {
		y[j] = float64(c)
	}

	beta := initialBeta(y, sizeFactors, d)
	mu := make([]float64, n)
	w := make([]float64, n)
	z := make([]float64, n)
	lambda := make([]float64, p)
	for k := range lambda {
		lambda[k] = ridge
	}

	fit := GeneFit{Beta: beta}
	devOld := math.Inf(1)
	var last *rstats.WLSResult
	for iter := 1; iter <= maxIter; iter++ {
		fillMu(mu, beta, sizeFactors, d.X)
		for j := range y {
			w[j] = mu[j] / (1 + alpha*mu[j])
			z[j] = math.Log(mu[j]/sizeFactors[j]) + (y[j]-mu[j])/mu[j]
		}

		res, err := rstats.WeightedLeastSquares(d.X, w, z, lambda)
		if err != nil {
			fit.Iterations = iter
			return fit
		}
		last = res
		for k := 0; k < p; k++ {
			beta[k] = res.Beta.AtVec(k)
		}
		if !finite(beta) {
			fit.Iterations = iter
			return fit
		}

		fillMu(mu, beta, sizeFactors, d.X)
		dev := Deviance(y, mu, alpha)
		fit.Iterations = iter
		fit.Deviance = dev
		if math.Abs(dev-devOld)/(math.Abs(dev)+0.1) < tol {
			fit.Converged = true
			break
		}
		devOld = dev
	}
	if !fit.Converged || last == nil {
		return fit
	}

	// standard errors from the weights at the converged coefficients
	for j := range y {
		w[j] = mu[j] / (1 + alpha*mu[j])
	}
	final, err := rstats.WeightedLeastSquares(d.X, w, z, lambda)
	if err != nil {
		fit.Converged = false
		return fit
	}
	cov := final.SandwichCovariance()
	fit.SE = make([]float64, p)
	for k := 0; k < p; k++ {
		fit.SE[k] = math.Sqrt(cov.At(k, k))
	}
	return fit
}

// Deviance is the negative-binomial deviance of counts y under means mu.
func Deviance(y, mu []float64, alpha float64) float64 {
	dev := 0.0
	r := 1 / alpha
	for j := range y {
		m := math.Max(mu[j], minMu)
		if y[j] > 0 {
			dev += y[j] * math.Log(y[j]/m)
		}
		dev -= (y[j] + r) * math.Log((1+alpha*y[j])/(1+alpha*m))
	}
	return 2 * dev
}

// initialBeta starts from the log of the per-level mean normalized count.
func initialBeta(y, sf []float64, d Design) []float64 {
	n, p := d.X.Dims()
	sum := make([]float64, p)
	cnt := make([]float64, p)
	for j := 0; j < n; j++ {
		level := 0
		for k := 1; k < p; k++ {
			if d.X.At(j, k) == 1 {
				level = k
			}
		}
		sum[level] += y[j] / sf[j]
		cnt[level]++
	}
	beta := make([]float64, p)
	base := math.Log(sum[0]/math.Max(cnt[0], 1) + 0.1)
	beta[0] = base
	for k := 1; k < p; k++ {
		beta[k] = math.Log(sum[k]/math.Max(cnt[k], 1)+0.1) - base
	}
	return beta
}

func fillMu(mu, beta, sf []float64, x *mat.Dense) {
	n, p := x.Dims()
	for j := 0; j < n; j++ {
		eta := 0.0
		for k := 0; k < p; k++ {
			eta += x.At(j, k) * beta[k]
		}
		mu[j] = math.Max(sf[j]*math.Exp(eta), minMu)
	}
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
