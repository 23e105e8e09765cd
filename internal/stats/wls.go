package stats

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// WLSResult holds the solution of a (ridge-penalized) weighted least-squares problem.
type WLSResult struct {
	Beta *mat.VecDense
	// XtWX is the unpenalized information matrix XᵀWX.
	XtWX *mat.Dense
	// PenalizedInverse is (XᵀWX + Λ)⁻¹.
	PenalizedInverse *mat.Dense
}

// WeightedLeastSquares solves (XᵀWX + diag(ridge)) β = XᵀWz. ridge may be nil.
func WeightedLeastSquares(x *mat.Dense, w, z []float64, ridge []float64) (*WLSResult, error) {
	n, p := x.Dims()
	if len(w) != n || len(z) != n {
		return nil, fmt.Errorf("wls: %d rows but %d weights and %d responses", n, len(w), len(z))
	}

	xtw := mat.NewDense(p, n, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < p; k++ {
			xtw.Set(k, i, x.At(i, k)*w[i])
		}
	}

	xtwx := mat.NewDense(p, p, nil)
	xtwx.Mul(xtw, x)

	penalized := mat.DenseCopyOf(xtwx)
	for k := 0; k < p && k < len(ridge); k++ {
		penalized.Set(k, k, penalized.At(k, k)+ridge[k])
	}

	var xtwz mat.VecDense
	xtwz.MulVec(xtw, mat.NewVecDense(n, z))

	var inv mat.Dense
	if err := inv.Inverse(penalized); err != nil {
		return nil, fmt.Errorf("wls: singular information matrix: %w", err)
	}

	var beta mat.VecDense
	beta.MulVec(&inv, &xtwz)

	return &WLSResult{Beta: &beta, XtWX: xtwx, PenalizedInverse: &inv}, nil
}

// SandwichCovariance returns (XᵀWX + Λ)⁻¹ XᵀWX (XᵀWX + Λ)⁻¹.
func (r *WLSResult) SandwichCovariance() *mat.Dense {
	var tmp, cov mat.Dense
	tmp.Mul(r.PenalizedInverse, r.XtWX)
	cov.Mul(&tmp, r.PenalizedInverse)
	return &cov
}
