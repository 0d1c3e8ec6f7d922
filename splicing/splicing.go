// Package splicing defines the contract between the selection path and the
// fitting primitive, and provides a reference Gaussian engine.
//
// A fit is a pure FitRequest -> FitResponse call against a read-only Cache.
// Engines may hold scratch buffers, so one Engine value must not be used by
// two goroutines at once; the path allocates one engine per worker slot.
package splicing

import (
	"gonum.org/v1/gonum/mat"
)

// FitRequest is the immutable input of one fit. Engines copy what they use
// and never write through its slices or matrices.
type FitRequest struct {
	SupportSize int     // number of active groups
	Lambda      float64 // ridge penalty

	// Warm start. Nil values mean "start from zero".
	Coef         *mat.Dense // p x m
	Intercept    []float64  // length m
	BoundaryDiff []float64  // length groups
	Active       []int      // group indices
}

// FitResponse is the output of one fit.
type FitResponse struct {
	Coef         *mat.Dense // p x m
	Intercept    []float64  // length m
	BoundaryDiff []float64  // length groups
	Active       []int      // sorted group indices

	TrainLoss   float64
	EffectiveDF float64
	Iterations  int
	Converged   bool
}

// Engine fits one model at a fixed support size and lambda.
type Engine interface {
	Fit(c *Cache, req FitRequest) FitResponse
}

// Factory creates independent Engine instances.
type Factory func() Engine

// Seed is the warm-start state carried from one fit to the next.
type Seed struct {
	Coef         *mat.Dense
	Intercept    []float64
	BoundaryDiff []float64
}

// Request builds a fresh request at the given grid point from the seed.
func (s Seed) Request(supportSize int, lambda float64) FitRequest {
	return FitRequest{
		SupportSize:  supportSize,
		Lambda:       lambda,
		Coef:         s.Coef,
		Intercept:    s.Intercept,
		BoundaryDiff: s.BoundaryDiff,
	}
}

// Seed returns the warm-start state captured from a response.
func (r FitResponse) Seed() Seed {
	return Seed{
		Coef:         r.Coef,
		Intercept:    r.Intercept,
		BoundaryDiff: r.BoundaryDiff,
	}
}

// MeanSeed averages seeds element-wise with equal weight. Nil members are
// treated as zero. It returns the zero Seed for an empty input.
func MeanSeed(seeds []Seed, p, m, groups int) Seed {
	if len(seeds) == 0 {
		return Seed{}
	}
	k := float64(len(seeds))
	coef := mat.NewDense(p, m, nil)
	intercept := make([]float64, m)
	bd := make([]float64, groups)
	for _, s := range seeds {
		if s.Coef != nil {
			coef.Add(coef, s.Coef)
		}
		for i, v := range s.Intercept {
			intercept[i] += v
		}
		for i, v := range s.BoundaryDiff {
			bd[i] += v
		}
	}
	coef.Scale(1/k, coef)
	for i := range intercept {
		intercept[i] /= k
	}
	for i := range bd {
		bd[i] /= k
	}
	return Seed{Coef: coef, Intercept: intercept, BoundaryDiff: bd}
}
