package splicing

import (
	"github.com/n0madic/go-bestsubset/dataset"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Cache holds the training data of one fold (or the full data) together with
// quantities that are expensive to recompute for every grid point. It is
// read-only once built and may be shared between goroutines.
type Cache struct {
	Data *dataset.Data

	// Gram[g] = X_gᵀ W X_g for every group g, with X centered on its
	// weighted column means when the model has an intercept.
	Gram []*mat.SymDense

	// Covariance terms, nil unless built with covariance update.
	XTY   *mat.Dense // p x m, Xᵀ W Y
	XTOne []float64  // length p, Xᵀ W 1
}

// NewCache computes the group Gram blocks of d and, when covarianceUpdate is
// set, XᵀWY and XᵀW1.
func NewCache(d *dataset.Data, covarianceUpdate bool) *Cache {
	n, p := d.N(), d.P()
	c := &Cache{
		Data: d,
		Gram: make([]*mat.SymDense, d.Groups()),
	}

	x := d.X
	if d.Variant != dataset.InterceptNone && floats.Sum(d.Weights) > 0 {
		x = centered(d.X, d.Weights)
	}
	// rows of X scaled by sqrt(w) so that Gram blocks are plain inner products
	xw := weightedRows(x, d.Weights, true)
	for g := range c.Gram {
		first, size := d.Columns(g)
		block := xw.Slice(0, n, first, first+size)
		sym := mat.NewSymDense(size, nil)
		sym.SymOuterK(1, block.T())
		c.Gram[g] = sym
	}

	if covarianceUpdate {
		yw := weightedRows(d.Y, d.Weights, false)
		c.XTY = mat.NewDense(p, d.M(), nil)
		c.XTY.Mul(d.X.T(), yw)
		c.XTOne = make([]float64, p)
		w := mat.NewVecDense(n, append([]float64(nil), d.Weights...))
		mat.NewVecDense(p, c.XTOne).MulVec(d.X.T(), w)
	}
	return c
}

// centered returns a copy of a with the weighted mean of every column
// subtracted.
func centered(a *mat.Dense, w []float64) *mat.Dense {
	out := mat.DenseCopyOf(a)
	r, cols := out.Dims()
	col := make([]float64, r)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, out)
		floats.AddConst(-stat.Mean(col, w), col)
		out.SetCol(j, col)
	}
	return out
}

// weightedRows returns a copy of a with row i multiplied by w[i] (or
// sqrt(w[i]) when sqrt is set).
func weightedRows(a *mat.Dense, w []float64, sqrt bool) *mat.Dense {
	out := mat.DenseCopyOf(a)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		s := w[i]
		if sqrt {
			s = sqrtNonNeg(s)
		}
		row := out.RawRowView(i)
		for j := range row {
			row[j] *= s
		}
	}
	return out
}
