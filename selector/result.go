package selector

import (
	"math"

	"github.com/n0madic/go-bestsubset/dataset"
	pathsearch "github.com/n0madic/go-bestsubset/path-search"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Result is the outcome of a selection run. The winning fit is reported on
// the original scale of the data; the per-point matrices keep every visited
// fit on the same scale.
type Result struct {
	RunID string

	// winner
	SupportSize int
	Lambda      float64
	Coef        *mat.Dense // p x m
	Intercept   []float64  // length m
	Active      []int      // group indices into the original data
	TrainLoss   float64
	IC          float64
	TestLoss    float64
	Row, Col    int

	// Sequence lists the support size of every row. For an adaptive search
	// it is the probe order and rows may repeat a size.
	Sequence []int
	Lambdas  []float64
	// Order lists the visited points in evaluation order.
	Order []pathsearch.Point

	CoefAll         [][]*mat.Dense
	InterceptAll    [][][]float64
	BoundaryDiffAll [][][]float64
	TrainLossAll    *mat.Dense
	ICAll           *mat.Dense
	TestLossAll     *mat.Dense
	EffectiveDFAll  *mat.Dense

	// Screened lists the groups kept by screening, nil without screening.
	Screened       []int
	CrossValidated bool
}

// newResult copies the visited cells into a Result with (row, col) as the
// winner. Matrices are copied so that later scaling never aliases a cell.
func newResult(m *pathsearch.Matrices, row, col int, cv bool) *Result {
	rows, cols := m.Rows(), m.Cols()
	res := &Result{
		Row:             row,
		Col:             col,
		Sequence:        append([]int(nil), m.Sizes...),
		Lambdas:         append([]float64(nil), m.Lambdas...),
		Order:           append([]pathsearch.Point(nil), m.Order...),
		CoefAll:         make([][]*mat.Dense, rows),
		InterceptAll:    make([][][]float64, rows),
		BoundaryDiffAll: make([][][]float64, rows),
		TrainLossAll:    mat.NewDense(rows, cols, nil),
		ICAll:           mat.NewDense(rows, cols, nil),
		TestLossAll:     mat.NewDense(rows, cols, nil),
		EffectiveDFAll:  mat.NewDense(rows, cols, nil),
		CrossValidated:  cv,
	}
	for i := 0; i < rows; i++ {
		res.CoefAll[i] = make([]*mat.Dense, cols)
		res.InterceptAll[i] = make([][]float64, cols)
		res.BoundaryDiffAll[i] = make([][]float64, cols)
		for j := 0; j < cols; j++ {
			c := m.Cells[i][j]
			if c.Coef != nil {
				res.CoefAll[i][j] = mat.DenseCopyOf(c.Coef)
			}
			res.InterceptAll[i][j] = append([]float64(nil), c.Intercept...)
			res.BoundaryDiffAll[i][j] = append([]float64(nil), c.BoundaryDiff...)
			res.TrainLossAll.Set(i, j, c.TrainLoss)
			res.ICAll.Set(i, j, c.IC)
			res.TestLossAll.Set(i, j, c.TestLoss)
			res.EffectiveDFAll.Set(i, j, c.EffectiveDF)
		}
	}
	if !cv {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				res.TestLossAll.Set(i, j, math.NaN())
			}
		}
	}

	win := m.Cells[row][col]
	res.SupportSize = win.SupportSize
	res.Lambda = win.Lambda
	res.Active = append([]int(nil), win.Active...)
	res.TrainLoss = win.TrainLoss
	res.IC = win.IC
	res.TestLoss = res.TestLossAll.At(row, col)
	res.Coef = res.CoefAll[row][col]
	res.Intercept = res.InterceptAll[row][col]
	return res
}

// denormalize maps every coefficient matrix and intercept back to the scale
// of the data before normalization. n is the number of observations the
// normalization used.
func (r *Result) denormalize(d *dataset.Data, n int) {
	if !d.Normalized {
		return
	}
	for i := range r.CoefAll {
		for j := range r.CoefAll[i] {
			if r.CoefAll[i][j] == nil {
				continue
			}
			unscale(d, n, r.CoefAll[i][j], r.InterceptAll[i][j])
		}
	}
}

// unscale rewrites coef and intercept in place.
//
//	β  = β·√n / ‖x‖
//	c  = ȳ − βᵀx̄     (centered)
//	c -= βᵀx̄         (explicit)
func unscale(d *dataset.Data, n int, coef *mat.Dense, intercept []float64) {
	p, m := coef.Dims()
	sqrtN := math.Sqrt(float64(n))
	for j := 0; j < p; j++ {
		floats.Scale(sqrtN/d.XNorm[j], coef.RawRowView(j))
	}

	if len(intercept) != m {
		return
	}
	shift := make([]float64, m)
	for k := 0; k < m; k++ {
		col := mat.Col(nil, k, coef)
		shift[k] = floats.Dot(col, d.XMean)
	}
	switch d.Variant {
	case dataset.InterceptCentered:
		for k := range intercept {
			intercept[k] = d.YMean[k] - shift[k]
		}
	case dataset.InterceptExplicit:
		floats.Sub(intercept, shift)
	}
}

// restore expands coefficients and boundary differences of the screened
// problem to every column and group of full. cols maps each reduced column
// to its original column.
func (r *Result) restore(full *dataset.Data, screened, cols []int) {
	p, groups := full.P(), full.Groups()
	for i := range r.CoefAll {
		for j := range r.CoefAll[i] {
			if c := r.CoefAll[i][j]; c != nil {
				_, m := c.Dims()
				wide := mat.NewDense(p, m, nil)
				for k, col := range cols {
					wide.SetRow(col, c.RawRowView(k))
				}
				r.CoefAll[i][j] = wide
			}
			if bd := r.BoundaryDiffAll[i][j]; len(bd) == len(screened) {
				wide := make([]float64, groups)
				for k, g := range screened {
					wide[g] = bd[k]
				}
				r.BoundaryDiffAll[i][j] = wide
			}
		}
	}
	active := make([]int, len(r.Active))
	for k, g := range r.Active {
		active[k] = screened[g]
	}
	r.Active = active
	r.Coef = r.CoefAll[r.Row][r.Col]
	r.Screened = append([]int(nil), screened...)
}
