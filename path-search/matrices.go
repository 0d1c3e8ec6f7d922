// Package pathsearch walks the (support size × lambda) hyperparameter space
// of a splicing engine, either exhaustively along a serpentine grid path or
// adaptively through a golden-section search over support size.
package pathsearch

import (
	"math"

	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/metric"
	"github.com/n0madic/go-bestsubset/splicing"
	"gonum.org/v1/gonum/mat"
)

// Cell is the recorded outcome of one fit at one grid point.
type Cell struct {
	SupportSize int
	Lambda      float64

	Coef         *mat.Dense
	Intercept    []float64
	BoundaryDiff []float64
	Active       []int

	TrainLoss   float64
	IC          float64
	TestLoss    float64
	EffectiveDF float64
}

// NewCell records resp as the outcome at (supportSize, lambda).
func NewCell(supportSize int, lambda float64, resp splicing.FitResponse) Cell {
	return Cell{
		SupportSize:  supportSize,
		Lambda:       lambda,
		Coef:         resp.Coef,
		Intercept:    resp.Intercept,
		BoundaryDiff: resp.BoundaryDiff,
		Active:       resp.Active,
		TrainLoss:    resp.TrainLoss,
		EffectiveDF:  resp.EffectiveDF,
	}
}

// Seed returns the warm start carried from this cell.
func (c Cell) Seed() splicing.Seed {
	return splicing.Seed{
		Coef:         c.Coef,
		Intercept:    c.Intercept,
		BoundaryDiff: c.BoundaryDiff,
	}
}

// Response rebuilds the fit response recorded in the cell.
func (c Cell) Response() splicing.FitResponse {
	return splicing.FitResponse{
		Coef:         c.Coef,
		Intercept:    c.Intercept,
		BoundaryDiff: c.BoundaryDiff,
		Active:       c.Active,
		TrainLoss:    c.TrainLoss,
		EffectiveDF:  c.EffectiveDF,
	}
}

// Point addresses a cell by row (support size) and column (lambda).
type Point struct {
	Row, Col int
}

// Matrices holds every visited cell. Rows follow Sizes, columns follow
// Lambdas. For an adaptive search there is one column and Sizes lists the
// probes in evaluation order, so it is not sorted.
type Matrices struct {
	Sizes   []int
	Lambdas []float64
	Cells   [][]Cell
	Order   []Point
}

// Rows returns the number of visited rows.
func (m *Matrices) Rows() int {
	return len(m.Cells)
}

// Cols returns the number of lambda columns.
func (m *Matrices) Cols() int {
	return len(m.Lambdas)
}

// Truncate drops every row from rows on.
func (m *Matrices) Truncate(rows int) {
	if rows >= len(m.Cells) {
		return
	}
	m.Cells = m.Cells[:rows]
	m.Sizes = m.Sizes[:rows]
	kept := m.Order[:0]
	for _, pt := range m.Order {
		if pt.Row < rows {
			kept = append(kept, pt)
		}
	}
	m.Order = kept
}

// Surface returns the held-out loss (cv) or information criterion of every
// cell.
func (m *Matrices) Surface(cv bool) [][]float64 {
	out := make([][]float64, m.Rows())
	for i, row := range m.Cells {
		out[i] = make([]float64, len(row))
		for j, c := range row {
			if cv {
				out[i][j] = c.TestLoss
			} else {
				out[i][j] = c.IC
			}
		}
	}
	return out
}

// Target bundles what one path evaluates against: an engine, a metric, the
// training cache and, under cross-validation, the held-out slice.
type Target struct {
	Engine splicing.Engine
	Metric metric.Metric
	Train  *splicing.Cache
	Test   *dataset.Data
}

// Evaluate runs one fit and scores it. The information criterion is always
// recorded; the held-out loss only when Test is set.
func (t Target) Evaluate(req splicing.FitRequest) Cell {
	resp := t.Engine.Fit(t.Train, req)
	cell := NewCell(req.SupportSize, req.Lambda, resp)
	d := t.Train.Data
	cell.IC = t.Metric.IC(resp, d.N(), d.Groups())
	if t.Test != nil {
		cell.TestLoss = t.Metric.Loss(t.Test, resp)
	}
	return cell
}

// Score returns the quantity minimized for this target.
func (t Target) Score(c Cell) float64 {
	if t.Test != nil {
		return c.TestLoss
	}
	return c.IC
}

// Less reports whether score a beats score b. NaN never beats anything.
func Less(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

// Argmin returns the first cell in row-major order with the lowest score.
// NaN cells are skipped unless every cell is NaN, in which case (0, 0) is
// returned.
func Argmin(surface [][]float64) (row, col int) {
	best := math.NaN()
	for i, r := range surface {
		for j, v := range r {
			if Less(v, best) {
				best, row, col = v, i, j
			}
		}
	}
	return row, col
}
