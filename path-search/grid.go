package pathsearch

import (
	"github.com/n0madic/go-bestsubset/splicing"
)

// Observer is called after every evaluated point with its score.
type Observer func(pt Point, cell Cell, score float64)

// Option configures Grid and Golden.
type Option func(*options)

type options struct {
	warmStart bool
	earlyStop bool
	observe   Observer
}

// WithWarmStart seeds every fit from the previous one on the path.
// Enabled by default.
func WithWarmStart(enabled bool) Option {
	return func(o *options) {
		o.warmStart = enabled
	}
}

// WithEarlyStop stops a grid path once the best score per row has not
// decreased for three consecutive rows.
func WithEarlyStop(enabled bool) Option {
	return func(o *options) {
		o.earlyStop = enabled
	}
}

// WithObserver installs a callback invoked after every evaluated point.
func WithObserver(fn Observer) Option {
	return func(o *options) {
		o.observe = fn
	}
}

func newOptions(opts []Option) *options {
	o := &options{warmStart: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Serpentine returns the column visiting order of a row: left to right on
// even rows and right to left on odd rows, so consecutive points stay
// adjacent in lambda across row boundaries.
func Serpentine(row, cols int) []int {
	order := make([]int, cols)
	for k := range order {
		if row%2 == 0 {
			order[k] = k
		} else {
			order[k] = cols - 1 - k
		}
	}
	return order
}

// Grid evaluates every (size, lambda) pair in serpentine order against t.
// The warm-start seed starts at zero and is carried across row boundaries.
func Grid(t Target, sizes []int, lambdas []float64, opts ...Option) *Matrices {
	o := newOptions(opts)

	m := &Matrices{
		Sizes:   append([]int(nil), sizes...),
		Lambdas: append([]float64(nil), lambdas...),
		Cells:   make([][]Cell, len(sizes)),
		Order:   make([]Point, 0, len(sizes)*len(lambdas)),
	}

	var seed splicing.Seed
	rowBest := make([]float64, 0, len(sizes))
	for i, size := range sizes {
		m.Cells[i] = make([]Cell, len(lambdas))
		best := 0.0
		for k, j := range Serpentine(i, len(lambdas)) {
			cell := t.Evaluate(seed.Request(size, lambdas[j]))
			if o.warmStart {
				seed = cell.Seed()
			}
			m.Cells[i][j] = cell
			pt := Point{Row: i, Col: j}
			m.Order = append(m.Order, pt)

			score := t.Score(cell)
			if k == 0 || Less(score, best) {
				best = score
			}
			if o.observe != nil {
				o.observe(pt, cell, score)
			}
		}
		rowBest = append(rowBest, best)
		if o.earlyStop && stalled(rowBest) {
			m.Truncate(i + 1)
			break
		}
	}
	return m
}

// stalled reports whether the last three row-to-row changes of best were
// all non-decreasing.
func stalled(best []float64) bool {
	k := len(best)
	if k < 4 {
		return false
	}
	return best[k-1] >= best[k-2] && best[k-2] >= best[k-3] && best[k-3] >= best[k-4]
}
