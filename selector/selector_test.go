package selector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/metric"
	"github.com/n0madic/go-bestsubset/splicing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var (
	trueCoef   = map[int]float64{1: 3, 4: -2, 6: 1.5}
	trueActive = []int{1, 4, 6}
)

// problem draws y = 2 + 3·x1 − 2·x4 + 1.5·x6 + noise with shifted, scaled
// predictors so that normalization has something to undo.
func problem(t testing.TB, n, p int, noise float64, seed int64, opts ...dataset.Option) *dataset.Data {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, p, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v := 2.0
		for j := 0; j < p; j++ {
			xij := rng.NormFloat64()*float64(j%3+1) + float64(j)
			x.Set(i, j, xij)
			v += trueCoef[j] * xij
		}
		y.Set(i, 0, v+noise*rng.NormFloat64())
	}
	d, err := dataset.New(x, y, opts...)
	require.NoError(t, err)
	return d
}

func seq(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for s := lo; s <= hi; s++ {
		out = append(out, s)
	}
	return out
}

// counting wraps engines and counts fits across every slot.
func counting(next splicing.Factory, fits *atomic.Int64) splicing.Factory {
	return func() splicing.Engine {
		return countingEngine{next: next(), fits: fits}
	}
}

type countingEngine struct {
	next splicing.Engine
	fits *atomic.Int64
}

func (e countingEngine) Fit(c *splicing.Cache, req splicing.FitRequest) splicing.FitResponse {
	e.fits.Add(1)
	return e.next.Fit(c, req)
}

func gic() metric.Metric {
	return metric.NewGaussian(metric.GIC, 1)
}

func TestRunInformationCriterionSelectsTrueSize(t *testing.T) {
	d := problem(t, 80, 9, 0, 42)
	s, err := New()
	require.NoError(t, err)

	res, err := s.Run(context.Background(), d, splicing.LinearFactory(), gic(), Grid{
		SupportSizes: seq(0, 8),
		Lambdas:      []float64{0},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.SupportSize)
	assert.Equal(t, trueActive, res.Active)
	assert.False(t, res.CrossValidated)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, seq(0, 8), res.Sequence)
	for j := 0; j < d.P(); j++ {
		assert.InDelta(t, trueCoef[j], res.Coef.At(j, 0), 1e-8, "coef %d", j)
	}
	assert.InDelta(t, 2, res.Intercept[0], 1e-8)

	rows, cols := res.ICAll.Dims()
	assert.Equal(t, 9, rows)
	assert.Equal(t, 1, cols)
	assert.True(t, math.IsNaN(res.TestLossAll.At(0, 0)), "held-out loss is undefined without folds")
	assert.Equal(t, res.ICAll.At(res.Row, res.Col), res.IC)
}

func TestRunDenormalizes(t *testing.T) {
	tests := []struct {
		name    string
		variant dataset.Variant
	}{
		{"centered", dataset.InterceptCentered},
		{"explicit", dataset.InterceptExplicit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := problem(t, 80, 9, 0, 7, dataset.WithNormalize(true), dataset.WithVariant(tt.variant))
			s, err := New()
			require.NoError(t, err)

			res, err := s.Run(context.Background(), d, splicing.LinearFactory(), gic(), Grid{
				SupportSizes: seq(0, 6),
				Lambdas:      []float64{0},
			})
			require.NoError(t, err)
			require.Equal(t, 3, res.SupportSize)

			for j := 0; j < d.P(); j++ {
				assert.InDelta(t, trueCoef[j], res.Coef.At(j, 0), 1e-6, "coef %d", j)
			}
			assert.InDelta(t, 2, res.Intercept[0], 1e-6)
			// every visited cell is on the original scale too
			assert.Same(t, res.CoefAll[res.Row][res.Col], res.Coef)
		})
	}
}

func TestUnscaleVariants(t *testing.T) {
	d := &dataset.Data{
		Variant:    dataset.InterceptNone,
		Normalized: true,
		XMean:      []float64{1, 2},
		XNorm:      []float64{2, 4},
		YMean:      []float64{10},
	}
	coef := mat.NewDense(2, 1, []float64{1, 1})
	intercept := []float64{5}
	unscale(d, 4, coef, intercept)

	assert.InDelta(t, 1, coef.At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, coef.At(1, 0), 1e-12)
	assert.Equal(t, 5.0, intercept[0])

	d.Variant = dataset.InterceptExplicit
	coef = mat.NewDense(2, 1, []float64{1, 1})
	unscale(d, 4, coef, intercept)
	assert.InDelta(t, 5-(1*1+0.5*2), intercept[0], 1e-12)

	d.Variant = dataset.InterceptCentered
	coef = mat.NewDense(2, 1, []float64{1, 1})
	unscale(d, 4, coef, intercept)
	assert.InDelta(t, 10-(1*1+0.5*2), intercept[0], 1e-12)
}

func TestRunCrossValidation(t *testing.T) {
	d := problem(t, 120, 10, 0.3, 3, dataset.WithNormalize(true))
	var fits atomic.Int64
	s, err := New(WithFolds(4), WithThreads(2))
	require.NoError(t, err)

	lambdas := []float64{0, 0.01}
	res, err := s.Run(context.Background(), d, counting(splicing.LinearFactory(), &fits), gic(), Grid{
		SupportSizes: seq(0, 6),
		Lambdas:      lambdas,
	})
	require.NoError(t, err)

	assert.True(t, res.CrossValidated)
	assert.GreaterOrEqual(t, res.SupportSize, 3)
	assert.Subset(t, res.Active, trueActive)
	assert.False(t, math.IsNaN(res.TestLoss))
	assert.Equal(t, res.TestLossAll.At(res.Row, res.Col), res.TestLoss)

	rows, cols := res.TestLossAll.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			assert.LessOrEqual(t, res.TestLoss, res.TestLossAll.At(i, j))
		}
	}
	// one path per fold plus one refit per cell
	assert.Equal(t, int64(4*7*2+7*2), fits.Load())
}

func TestRunTieBreak(t *testing.T) {
	d := problem(t, 30, 4, 0.1, 1)

	for _, folds := range []int{0, 3} {
		t.Run(fmt.Sprintf("folds_%d", folds), func(t *testing.T) {
			s, err := New(WithFolds(folds))
			require.NoError(t, err)

			res, err := s.Run(context.Background(), d, splicing.LinearFactory(), constantMetric{}, Grid{
				SupportSizes: seq(1, 3),
				Lambdas:      []float64{0, 0.1},
			})
			require.NoError(t, err)
			assert.Equal(t, 0, res.Row)
			assert.Equal(t, 0, res.Col)
			assert.Equal(t, 1, res.SupportSize)
			assert.Equal(t, folds > 0, res.CrossValidated)
		})
	}
}

// foldLossMetric scores a flat held-out loss on folds with wideTest rows
// and a loss falling with support size on every other fold.
type foldLossMetric struct{ wideTest int }

func (foldLossMetric) IC(splicing.FitResponse, int, int) float64 { return 0 }

func (m foldLossMetric) Loss(test *dataset.Data, resp splicing.FitResponse) float64 {
	if test.N() == m.wideTest {
		return 1
	}
	return 10 - float64(len(resp.Active))
}

func TestRunCrossValidationEarlyStopKeepsCommonRows(t *testing.T) {
	// 31 rows in 3 folds: the first fold holds 11 test rows, the others 10
	d := problem(t, 31, 8, 0.1, 5)
	reg := prometheus.NewRegistry()
	s, err := New(WithFolds(3), WithEarlyStop(true), WithRegisterer(reg))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), d, splicing.LinearFactory(), foldLossMetric{wideTest: 11}, Grid{
		SupportSizes: seq(0, 7),
		Lambdas:      []float64{0},
	})
	require.NoError(t, err)

	// the flat fold stalls after four rows, the others run all eight
	assert.Equal(t, []int{0, 1, 2, 3}, res.Sequence)
	assert.Equal(t, 20.0, testutil.ToFloat64(s.metrics.fits.WithLabelValues(phasePath)))
	assert.Equal(t, 4.0, testutil.ToFloat64(s.metrics.fits.WithLabelValues(phaseRefit)))

	rows, _ := res.TestLossAll.Dims()
	assert.Equal(t, 4, rows)
	assert.Len(t, res.CoefAll, 4)
	assert.Equal(t, 3, res.SupportSize)
	assert.InDelta(t, (1+2*7.0)/3, res.TestLoss, 1e-12)
}

type constantMetric struct{}

func (constantMetric) IC(splicing.FitResponse, int, int) float64 { return 1 }

func (constantMetric) Loss(*dataset.Data, splicing.FitResponse) float64 { return 1 }

// nanMetric reports NaN for every fit with two active groups.
type nanMetric struct{ metric.Metric }

func (m nanMetric) IC(resp splicing.FitResponse, n, groups int) float64 {
	if len(resp.Active) == 2 {
		return math.NaN()
	}
	return m.Metric.IC(resp, n, groups)
}

func TestRunNaNNeverWins(t *testing.T) {
	d := problem(t, 60, 5, 0.5, 8)
	reg := prometheus.NewRegistry()
	s, err := New(WithRegisterer(reg))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), d, splicing.LinearFactory(), nanMetric{gic()}, Grid{
		SupportSizes: seq(0, 4),
		Lambdas:      []float64{0},
	})
	require.NoError(t, err)
	assert.NotEqual(t, 2, res.SupportSize)
	assert.False(t, math.IsNaN(res.IC))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.nanScores))
}

func TestRunMetrics(t *testing.T) {
	d := problem(t, 40, 5, 0.2, 2)
	reg := prometheus.NewRegistry()
	s, err := New(WithRegisterer(reg), WithFolds(2))
	require.NoError(t, err)

	_, err = s.Run(context.Background(), d, splicing.LinearFactory(), gic(), Grid{
		SupportSizes: seq(0, 2),
		Lambdas:      []float64{0, 1},
	})
	require.NoError(t, err)

	assert.Equal(t, 12.0, testutil.ToFloat64(s.metrics.fits.WithLabelValues(phasePath)))
	assert.Equal(t, 6.0, testutil.ToFloat64(s.metrics.fits.WithLabelValues(phaseRefit)))
	assert.Equal(t, 2, testutil.CollectAndCount(s.metrics.duration))

	// a second selector on the same registry shares the collectors
	again, err := New(WithRegisterer(reg))
	require.NoError(t, err)
	assert.Same(t, s.metrics.fits, again.metrics.fits)
}

func TestRunAdaptive(t *testing.T) {
	d := problem(t, 80, 12, 0, 42)
	s, err := New()
	require.NoError(t, err)

	res, err := s.Run(context.Background(), d, splicing.LinearFactory(), gic(), Grid{
		Lambdas: []float64{0},
		SMin:    0,
		SMax:    12,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.SupportSize)
	assert.Equal(t, trueActive, res.Active)
	assert.Len(t, res.Lambdas, 1)
	assert.Less(t, len(res.Sequence), 13+5, "probes: %v", res.Sequence)
	assert.Len(t, res.Order, len(res.Sequence))
}

func TestRunAdaptiveCrossValidation(t *testing.T) {
	d := problem(t, 100, 10, 0.3, 5, dataset.WithNormalize(true))
	var fits atomic.Int64
	s, err := New(WithFolds(3), WithThreads(3))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), d, counting(splicing.LinearFactory(), &fits), gic(), Grid{
		Lambdas: []float64{0},
		SMin:    1,
		SMax:    8,
	})
	require.NoError(t, err)
	assert.True(t, res.CrossValidated)
	assert.GreaterOrEqual(t, res.SupportSize, 3)
	assert.Subset(t, res.Active, trueActive)
	// every probe fits the full data and each fold
	assert.Equal(t, int64(4*len(res.Sequence)), fits.Load())
}

func TestRunScreening(t *testing.T) {
	d := problem(t, 500, 30, 0, 9, dataset.WithNormalize(true))
	s, err := New(WithScreening(8))
	require.NoError(t, err)

	res, err := s.Run(context.Background(), d, splicing.LinearFactory(splicing.WithAlwaysSelect(20)), gic(), Grid{
		SupportSizes: seq(0, 5),
		Lambdas:      []float64{0},
	})
	require.NoError(t, err)

	require.Len(t, res.Screened, 8)
	assert.Subset(t, res.Screened, append([]int{20}, trueActive...))
	assert.Equal(t, []int{1, 4, 6, 20}, res.Active)

	p, _ := res.Coef.Dims()
	assert.Equal(t, 30, p)
	for j := 0; j < 30; j++ {
		if j == 20 {
			continue
		}
		assert.InDelta(t, trueCoef[j], res.Coef.At(j, 0), 1e-6, "coef %d", j)
	}
	for _, bd := range res.BoundaryDiffAll[res.Row] {
		assert.Len(t, bd, 30)
	}
}

func TestRunDeterministic(t *testing.T) {
	d := problem(t, 90, 8, 0.5, 4, dataset.WithNormalize(true))
	grid := Grid{SupportSizes: seq(0, 5), Lambdas: []float64{0, 0.05, 0.1}}

	run := func(threads int) *Result {
		s, err := New(WithFolds(3), WithThreads(threads), WithEarlyStop(true))
		require.NoError(t, err)
		res, err := s.Run(context.Background(), d, splicing.LinearFactory(), gic(), grid)
		require.NoError(t, err)
		return res
	}

	opts := cmp.Options{
		cmp.Comparer(func(a, b *mat.Dense) bool {
			if a == nil || b == nil {
				return a == b
			}
			return mat.Equal(a, b)
		}),
		cmpopts.IgnoreFields(Result{}, "RunID"),
		cmpopts.EquateNaNs(),
	}
	a, b, c := run(1), run(1), run(4)
	if diff := cmp.Diff(a, b, opts); diff != "" {
		t.Errorf("repeated runs differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(a, c, opts); diff != "" {
		t.Errorf("parallel run differs (-sequential +parallel):\n%s", diff)
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	d := problem(t, 20, 5, 0.1, 1)
	ok := Grid{SupportSizes: []int{0, 1, 2}, Lambdas: []float64{0}}

	tests := []struct {
		name  string
		opts  []Option
		data  *dataset.Data
		grid  Grid
		field string
	}{
		{"one fold", []Option{WithFolds(1)}, d, ok, "folds"},
		{"negative folds", []Option{WithFolds(-2)}, d, ok, "folds"},
		{"folds above n", []Option{WithFolds(21)}, d, ok, "folds"},
		{"nil data", nil, nil, ok, "data"},
		{"empty lambdas", nil, d, Grid{SupportSizes: []int{1}}, "lambdas"},
		{"negative lambda", nil, d, Grid{SupportSizes: []int{1}, Lambdas: []float64{-1}}, "lambdas"},
		{"nan lambda", nil, d, Grid{SupportSizes: []int{1}, Lambdas: []float64{math.NaN()}}, "lambdas"},
		{"negative size", nil, d, Grid{SupportSizes: []int{-1, 2}, Lambdas: []float64{0}}, "support_sizes"},
		{"unsorted sizes", nil, d, Grid{SupportSizes: []int{2, 1}, Lambdas: []float64{0}}, "support_sizes"},
		{"duplicate sizes", nil, d, Grid{SupportSizes: []int{1, 1}, Lambdas: []float64{0}}, "support_sizes"},
		{"size above groups", nil, d, Grid{SupportSizes: []int{6}, Lambdas: []float64{0}}, "support_sizes"},
		{"s_min above s_max", nil, d, Grid{SMin: 3, SMax: 2, Lambdas: []float64{0}}, "s_min"},
		{"s_max above groups", nil, d, Grid{SMax: 9, Lambdas: []float64{0}}, "s_max"},
		{"screening below support", []Option{WithScreening(1)}, d, ok, "screening_size"},
		{"negative screening", []Option{WithScreening(-1)}, d, ok, "screening_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fits atomic.Int64
			s, err := New(tt.opts...)
			require.NoError(t, err)

			_, err = s.Run(context.Background(), tt.data, counting(splicing.LinearFactory(), &fits), gic(), tt.grid)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.Zero(t, fits.Load(), "no fit may run before validation passes")
		})
	}
}

func TestRunNilCollaborators(t *testing.T) {
	d := problem(t, 20, 3, 0.1, 1)
	s, err := New()
	require.NoError(t, err)
	grid := Grid{SupportSizes: []int{1}, Lambdas: []float64{0}}

	_, err = s.Run(context.Background(), d, nil, gic(), grid)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = s.Run(context.Background(), d, splicing.LinearFactory(), nil, grid)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRunCancelled(t *testing.T) {
	d := problem(t, 40, 5, 0.1, 1)
	s, err := New(WithFolds(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Run(ctx, d, splicing.LinearFactory(), gic(), Grid{SupportSizes: []int{1}, Lambdas: []float64{0}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrConfiguration))
}

func TestResultSaveLoad(t *testing.T) {
	d := problem(t, 60, 6, 0.2, 6, dataset.WithNormalize(true))
	s, err := New(WithFolds(3))
	require.NoError(t, err)
	res, err := s.Run(context.Background(), d, splicing.LinearFactory(), gic(), Grid{
		SupportSizes: seq(0, 4),
		Lambdas:      []float64{0, 0.1},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, res.Save(&buf))
	loaded, err := Load(&buf)
	require.NoError(t, err)

	opts := cmp.Options{
		cmp.Comparer(func(a, b *mat.Dense) bool {
			if a == nil || b == nil {
				return a == b
			}
			return mat.Equal(a, b)
		}),
		cmpopts.EquateNaNs(),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(res, loaded, opts); diff != "" {
		t.Errorf("round trip differs (-saved +loaded):\n%s", diff)
	}

	_, err = Load(bytes.NewReader([]byte("not gob")))
	assert.Error(t, err)
}
