// Package dataset holds the design matrix, response, observation weights,
// predictor group structure and normalization metadata consumed by the
// selection path.
package dataset

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Variant describes how the intercept of a model relates to the centering
// means when coefficients are mapped back to the original scale.
type Variant int

const (
	// InterceptCentered is used by Gaussian models: the intercept is
	// recomputed as mean(y) - beta·mean(x).
	InterceptCentered Variant = iota
	// InterceptExplicit is used by models that fit their own intercept on
	// centered predictors: intercept -= beta·mean(x).
	InterceptExplicit
	// InterceptNone is used by models without an intercept.
	InterceptNone
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case InterceptCentered:
		return "centered"
	case InterceptExplicit:
		return "explicit"
	case InterceptNone:
		return "none"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Data is an immutable view over a regression problem. Methods never modify
// the receiver; Slice and SelectGroups return new values.
type Data struct {
	X       *mat.Dense // n x p design
	Y       *mat.Dense // n x m response
	Weights []float64  // length n

	GroupIndex []int // first column of each group
	GroupSize  []int // number of columns of each group

	Variant    Variant
	Normalized bool
	XMean      []float64 // length p, set when Normalized
	XNorm      []float64 // length p, set when Normalized
	YMean      []float64 // length m, set when Normalized
}

// Option configures New.
type Option func(*builder)

type builder struct {
	weights   []float64
	groups    []int
	variant   Variant
	normalize bool
}

// WithWeights sets per-observation weights. Defaults to all ones.
func WithWeights(w []float64) Option {
	return func(b *builder) {
		b.weights = w
	}
}

// WithGroups sets a group label per column. Columns of a group must be
// contiguous. Defaults to one group per column.
func WithGroups(labels []int) Option {
	return func(b *builder) {
		b.groups = labels
	}
}

// WithVariant sets the intercept variant used when denormalizing.
func WithVariant(v Variant) Option {
	return func(b *builder) {
		b.variant = v
	}
}

// WithNormalize centers and scales the design (and centers the response for
// InterceptCentered) so that every column has squared norm n.
func WithNormalize(normalize bool) Option {
	return func(b *builder) {
		b.normalize = normalize
	}
}

// New validates the inputs and builds a Data value. x and y are copied.
func New(x, y *mat.Dense, options ...Option) (*Data, error) {
	if x == nil || y == nil {
		return nil, errors.New("dataset: x and y must not be nil")
	}
	n, p := x.Dims()
	ny, m := y.Dims()
	if n == 0 || p == 0 || m == 0 {
		return nil, errors.New("dataset: empty design or response")
	}
	if ny != n {
		return nil, fmt.Errorf("dataset: x has %d rows but y has %d", n, ny)
	}

	b := &builder{}
	for _, opt := range options {
		opt(b)
	}

	weights := b.weights
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	} else {
		if len(weights) != n {
			return nil, fmt.Errorf("dataset: weights has length %d, want %d", len(weights), n)
		}
		for i, w := range weights {
			if w < 0 || math.IsNaN(w) {
				return nil, fmt.Errorf("dataset: weight %d is %v", i, w)
			}
		}
		weights = append([]float64(nil), weights...)
	}

	index, size, err := groupsFromLabels(b.groups, p)
	if err != nil {
		return nil, err
	}

	d := &Data{
		X:          mat.DenseCopyOf(x),
		Y:          mat.DenseCopyOf(y),
		Weights:    weights,
		GroupIndex: index,
		GroupSize:  size,
		Variant:    b.variant,
	}
	if b.normalize {
		d.normalize()
	}
	return d, nil
}

func groupsFromLabels(labels []int, p int) ([]int, []int, error) {
	if labels == nil {
		index := make([]int, p)
		size := make([]int, p)
		for j := 0; j < p; j++ {
			index[j] = j
			size[j] = 1
		}
		return index, size, nil
	}
	if len(labels) != p {
		return nil, nil, fmt.Errorf("dataset: %d group labels for %d columns", len(labels), p)
	}
	seen := make(map[int]bool)
	var index, size []int
	for j, g := range labels {
		if j > 0 && g == labels[j-1] {
			size[len(size)-1]++
			continue
		}
		if seen[g] {
			return nil, nil, fmt.Errorf("dataset: columns of group %d are not contiguous", g)
		}
		seen[g] = true
		index = append(index, j)
		size = append(size, 1)
	}
	return index, size, nil
}

func (d *Data) normalize() {
	n, p := d.X.Dims()
	_, m := d.Y.Dims()
	sqrtN := math.Sqrt(float64(n))

	d.XMean = make([]float64, p)
	d.XNorm = make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, d.X)
		mean := stat.Mean(col, d.Weights)
		floats.AddConst(-mean, col)
		norm := floats.Norm(col, 2)
		if norm == 0 {
			// constant column: keep it at zero and leave coefficients unscaled
			norm = sqrtN
		}
		floats.Scale(sqrtN/norm, col)
		d.X.SetCol(j, col)
		d.XMean[j] = mean
		d.XNorm[j] = norm
	}

	d.YMean = make([]float64, m)
	for k := 0; k < m; k++ {
		mat.Col(col, k, d.Y)
		d.YMean[k] = stat.Mean(col, d.Weights)
		if d.Variant == InterceptCentered {
			floats.AddConst(-d.YMean[k], col)
			d.Y.SetCol(k, col)
		}
	}
	d.Normalized = true
}

// N returns the number of observations.
func (d *Data) N() int {
	n, _ := d.X.Dims()
	return n
}

// P returns the number of columns of the design.
func (d *Data) P() int {
	_, p := d.X.Dims()
	return p
}

// M returns the number of response columns.
func (d *Data) M() int {
	_, m := d.Y.Dims()
	return m
}

// Groups returns the number of predictor groups.
func (d *Data) Groups() int {
	return len(d.GroupIndex)
}

// Slice returns the rows listed in rows, in that order. Group structure and
// normalization metadata are shared with the receiver.
func (d *Data) Slice(rows []int) *Data {
	out := *d
	out.Weights = make([]float64, len(rows))
	if len(rows) == 0 {
		out.X, out.Y = &mat.Dense{}, &mat.Dense{}
		return &out
	}

	out.X = mat.NewDense(len(rows), d.P(), nil)
	out.Y = mat.NewDense(len(rows), d.M(), nil)
	for i, r := range rows {
		out.X.SetRow(i, d.X.RawRowView(r))
		out.Y.SetRow(i, d.Y.RawRowView(r))
		out.Weights[i] = d.Weights[r]
	}
	return &out
}

// SelectGroups keeps only the listed groups (in the given order) and returns
// the reduced data together with the original column of every kept column.
func (d *Data) SelectGroups(groups []int) (*Data, []int, error) {
	var cols []int
	index := make([]int, 0, len(groups))
	size := make([]int, 0, len(groups))
	for _, g := range groups {
		if g < 0 || g >= d.Groups() {
			return nil, nil, fmt.Errorf("dataset: group %d out of range [0,%d)", g, d.Groups())
		}
		index = append(index, len(cols))
		size = append(size, d.GroupSize[g])
		for j := 0; j < d.GroupSize[g]; j++ {
			cols = append(cols, d.GroupIndex[g]+j)
		}
	}
	if len(cols) == 0 {
		return nil, nil, errors.New("dataset: no groups selected")
	}

	n := d.N()
	x := mat.NewDense(n, len(cols), nil)
	col := make([]float64, n)
	for k, j := range cols {
		mat.Col(col, j, d.X)
		x.SetCol(k, col)
	}

	out := *d
	out.X = x
	out.GroupIndex = index
	out.GroupSize = size
	if d.Normalized {
		out.XMean = make([]float64, len(cols))
		out.XNorm = make([]float64, len(cols))
		for k, j := range cols {
			out.XMean[k] = d.XMean[j]
			out.XNorm[k] = d.XNorm[j]
		}
	}
	return &out, cols, nil
}

// Columns returns the design columns that belong to group g.
func (d *Data) Columns(g int) (first, count int) {
	return d.GroupIndex[g], d.GroupSize[g]
}
