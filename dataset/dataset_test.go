package dataset

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randomProblem(n, p int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, p, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			x.Set(i, j, rng.NormFloat64()*3+float64(j))
		}
		y.Set(i, 0, rng.NormFloat64()+5)
	}
	return x, y
}

func TestNewValidation(t *testing.T) {
	x, y := randomProblem(5, 3, 42)

	tests := []struct {
		name string
		x, y *mat.Dense
		opts []Option
	}{
		{"nil x", nil, y, nil},
		{"row mismatch", x, mat.NewDense(4, 1, nil), nil},
		{"short weights", x, y, []Option{WithWeights([]float64{1, 1})}},
		{"negative weight", x, y, []Option{WithWeights([]float64{1, 1, -1, 1, 1})}},
		{"label count", x, y, []Option{WithGroups([]int{0, 1})}},
		{"split group", x, y, []Option{WithGroups([]int{0, 1, 0})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.x, tt.y, tt.opts...); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestNewCopiesInput(t *testing.T) {
	x, y := randomProblem(4, 2, 1)
	d, err := New(x, y)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	x.Set(0, 0, 1e9)
	if d.X.At(0, 0) == 1e9 {
		t.Errorf("design shares memory with the caller")
	}
	if d.N() != 4 || d.P() != 2 || d.M() != 1 || d.Groups() != 2 {
		t.Errorf("dims = %d,%d,%d,%d", d.N(), d.P(), d.M(), d.Groups())
	}
	for _, w := range d.Weights {
		if w != 1 {
			t.Errorf("default weight %v, want 1", w)
		}
	}
}

func TestGroups(t *testing.T) {
	x, y := randomProblem(4, 5, 1)
	d, err := New(x, y, WithGroups([]int{7, 7, 3, 9, 9}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if d.Groups() != 3 {
		t.Fatalf("Groups() = %d, want 3", d.Groups())
	}
	want := [][2]int{{0, 2}, {2, 1}, {3, 2}}
	for g, w := range want {
		first, count := d.Columns(g)
		if first != w[0] || count != w[1] {
			t.Errorf("group %d: got (%d,%d), want (%d,%d)", g, first, count, w[0], w[1])
		}
	}
}

func TestNormalize(t *testing.T) {
	const (
		n   = 50
		p   = 4
		tol = 1e-9
	)
	x, y := randomProblem(n, p, 42)
	d, err := New(x, y, WithNormalize(true))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, d.X)
		sum, sq := 0.0, 0.0
		for _, v := range col {
			sum += v
			sq += v * v
		}
		if math.Abs(sum) > tol {
			t.Errorf("column %d mean %g, want 0", j, sum/n)
		}
		if math.Abs(sq-n) > 1e-6 {
			t.Errorf("column %d squared norm %g, want %d", j, sq, n)
		}

		// original = scaled * norm / sqrt(n) + mean
		orig := d.X.At(3, j)*d.XNorm[j]/math.Sqrt(n) + d.XMean[j]
		if math.Abs(orig-x.At(3, j)) > tol {
			t.Errorf("column %d does not invert: %g vs %g", j, orig, x.At(3, j))
		}
	}

	mat.Col(col, 0, d.Y)
	sum := 0.0
	for _, v := range col {
		sum += v
	}
	if math.Abs(sum) > tol {
		t.Errorf("response not centered: mean %g", sum/n)
	}
	if math.Abs(d.Y.At(0, 0)+d.YMean[0]-y.At(0, 0)) > tol {
		t.Errorf("response mean not recorded")
	}
}

func TestNormalizeKeepsResponseForExplicitIntercept(t *testing.T) {
	x, y := randomProblem(10, 2, 3)
	d, err := New(x, y, WithNormalize(true), WithVariant(InterceptExplicit))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !mat.Equal(d.Y, y) {
		t.Errorf("response changed for explicit intercept")
	}
}

func TestNormalizeConstantColumn(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 5,
		2, 5,
		3, 5,
		4, 5,
	})
	y := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	d, err := New(x, y, WithNormalize(true))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if d.X.At(i, 1) != 0 {
			t.Errorf("constant column not zeroed at row %d: %g", i, d.X.At(i, 1))
		}
	}
	if d.XNorm[1] != 2 {
		t.Errorf("constant column norm = %g, want sqrt(4)", d.XNorm[1])
	}
}

func TestSlicePreservesOrder(t *testing.T) {
	x, y := randomProblem(6, 2, 9)
	d, err := New(x, y, WithWeights([]float64{1, 2, 3, 4, 5, 6}))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rows := []int{5, 1, 3}
	s := d.Slice(rows)
	if s.N() != 3 {
		t.Fatalf("N() = %d, want 3", s.N())
	}
	for i, r := range rows {
		if s.X.At(i, 1) != d.X.At(r, 1) || s.Y.At(i, 0) != d.Y.At(r, 0) {
			t.Errorf("row %d does not match source row %d", i, r)
		}
		if s.Weights[i] != float64(r+1) {
			t.Errorf("weight %d = %g, want %d", i, s.Weights[i], r+1)
		}
	}
	if s.Groups() != d.Groups() {
		t.Errorf("group structure lost")
	}
}

func TestSelectGroups(t *testing.T) {
	x, y := randomProblem(5, 5, 2)
	d, err := New(x, y, WithGroups([]int{0, 0, 1, 2, 2}), WithNormalize(true))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	r, cols, err := d.SelectGroups([]int{0, 2})
	if err != nil {
		t.Fatalf("SelectGroups failed: %v", err)
	}
	wantCols := []int{0, 1, 3, 4}
	if len(cols) != len(wantCols) {
		t.Fatalf("cols = %v, want %v", cols, wantCols)
	}
	for k, j := range wantCols {
		if cols[k] != j {
			t.Errorf("cols = %v, want %v", cols, wantCols)
		}
		if r.X.At(2, k) != d.X.At(2, j) {
			t.Errorf("column %d does not match source column %d", k, j)
		}
		if r.XNorm[k] != d.XNorm[j] || r.XMean[k] != d.XMean[j] {
			t.Errorf("metadata of column %d not carried", k)
		}
	}
	if r.Groups() != 2 {
		t.Errorf("Groups() = %d, want 2", r.Groups())
	}
	if first, count := r.Columns(1); first != 2 || count != 2 {
		t.Errorf("Columns(1) = (%d,%d), want (2,2)", first, count)
	}

	if _, _, err := d.SelectGroups([]int{3}); err == nil {
		t.Errorf("expected error for out of range group")
	}
}
