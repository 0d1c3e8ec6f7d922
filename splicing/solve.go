package splicing

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

func sqrtNonNeg(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

// factorize returns the Cholesky factorization of a. When a is not
// numerically positive definite, a jitter proportional to the mean diagonal
// is added, first 1e-8 and then 1e-4 of it.
func factorize(a *mat.SymDense) (*mat.Cholesky, bool) {
	var chol mat.Cholesky
	if chol.Factorize(a) {
		return &chol, true
	}

	n := a.SymmetricDim()
	trace := 0.0
	for i := 0; i < n; i++ {
		trace += a.At(i, i)
	}
	scale := trace / float64(n)
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1
	}

	jittered := mat.NewSymDense(n, nil)
	for _, eps := range []float64{1e-8, 1e-4} {
		jittered.CopySym(a)
		for i := 0; i < n; i++ {
			jittered.SetSym(i, i, jittered.At(i, i)+eps*scale)
		}
		if chol.Factorize(jittered) {
			return &chol, true
		}
	}
	return nil, false
}

// solveSPD solves a·x = b for symmetric positive (semi)definite a.
func solveSPD(a *mat.SymDense, b mat.Matrix) (*mat.Dense, bool) {
	chol, ok := factorize(a)
	if !ok {
		return nil, false
	}
	var x mat.Dense
	if err := chol.SolveTo(&x, b); err != nil {
		// condition warnings still yield a usable solution
		if _, isCond := err.(mat.Condition); !isCond {
			return nil, false
		}
	}
	return &x, true
}

// quadInverse returns ½·tr(dᵀ a⁻¹ d), or zero when a cannot be factorized.
func quadInverse(a *mat.SymDense, d *mat.Dense) float64 {
	x, ok := solveSPD(a, d)
	if !ok {
		return 0
	}
	return 0.5 * frobeniusInner(d, x)
}

// quadForm returns ½·tr(bᵀ a b).
func quadForm(a *mat.SymDense, b *mat.Dense) float64 {
	var ab mat.Dense
	ab.Mul(a, b)
	return 0.5 * frobeniusInner(b, &ab)
}

func frobeniusInner(a, b *mat.Dense) float64 {
	r, c := a.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += a.At(i, j) * b.At(i, j)
		}
	}
	return s
}
