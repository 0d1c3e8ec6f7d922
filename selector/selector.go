// Package selector chooses the best sparse model among a grid of support
// sizes and lambdas. It validates the request, prepares folds, runs a
// serpentine grid path or a golden-section search per fold, aggregates the
// fold surfaces, refits the grid on the full data and maps coefficients back
// to the original scale.
package selector

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/dispatch"
	"github.com/n0madic/go-bestsubset/metric"
	pathsearch "github.com/n0madic/go-bestsubset/path-search"
	"github.com/n0madic/go-bestsubset/splicing"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Grid describes the hyperparameters to search. With SupportSizes set the
// full grid is evaluated; otherwise support sizes in [SMin, SMax] are
// searched adaptively at Lambdas[0].
type Grid struct {
	SupportSizes []int
	Lambdas      []float64
	SMin, SMax   int
}

// Adaptive reports whether the grid asks for a golden-section search.
func (g Grid) Adaptive() bool {
	return len(g.SupportSizes) == 0
}

func (g Grid) maxSupport() int {
	if g.Adaptive() {
		return g.SMax
	}
	return g.SupportSizes[len(g.SupportSizes)-1]
}

// Selector runs selections. It keeps no state between runs and may be used
// concurrently.
type Selector struct {
	folds            int
	foldSeed         int64
	shuffle          bool
	threads          int
	warmStart        bool
	earlyStop        bool
	covarianceUpdate bool
	screeningSize    int

	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics
}

// New creates a Selector. Without options it selects by information
// criterion on a single thread with warm starts.
func New(options ...Option) (*Selector, error) {
	s := &Selector{
		foldSeed:  123,
		shuffle:   true,
		threads:   1,
		warmStart: true,
		logger:    zap.NewNop(),
	}
	for _, opt := range options {
		opt(s)
	}

	m, err := newMetrics(s.registerer)
	if err != nil {
		return nil, err
	}
	s.metrics = m
	return s, nil
}

// CrossValidated reports whether runs score by held-out loss.
func (s *Selector) CrossValidated() bool {
	return s.folds != 0
}

// Run selects the best model for d. factory provides one engine per worker
// slot and m scores the fits. Every configuration problem is reported as an
// error matching ErrConfiguration before the first fit.
func (s *Selector) Run(ctx context.Context, d *dataset.Data, factory splicing.Factory, m metric.Metric, grid Grid) (*Result, error) {
	if err := s.validate(d, factory, m, grid); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := s.logger.With(zap.String("run", runID))
	log.Info("selection started",
		zap.Int("n", d.N()),
		zap.Int("p", d.P()),
		zap.Int("groups", d.Groups()),
		zap.Bool("adaptive", grid.Adaptive()),
		zap.Int("folds", s.folds),
		zap.Int("threads", dispatch.Workers(s.threads)))

	engines := make([]splicing.Engine, dispatch.Slots(s.threads, s.folds))
	for i := range engines {
		engines[i] = factory()
	}

	work := d
	var screened, cols []int
	if s.screeningSize > 0 && s.screeningSize < d.Groups() {
		var err error
		screened, err = s.screen(d, engines[0])
		if err != nil {
			return nil, err
		}
		if work, cols, err = d.SelectGroups(screened); err != nil {
			return nil, err
		}
		for i := range engines {
			engines[i] = restrict(engines[i], screened)
		}
		log.Debug("screening done", zap.Ints("groups", screened))
	}

	r := &run{
		Selector: s,
		ctx:      ctx,
		log:      log,
		data:     work,
		engines:  engines,
		metric:   m,
	}

	var (
		mats *pathsearch.Matrices
		err  error
	)
	if grid.Adaptive() {
		mats, err = r.adaptive(grid.SMin, grid.SMax, grid.Lambdas[0])
	} else {
		mats, err = r.grid(grid.SupportSizes, grid.Lambdas)
	}
	if err != nil {
		return nil, err
	}

	surface := mats.Surface(s.CrossValidated())
	row, col := pathsearch.Argmin(surface)
	res := newResult(mats, row, col, s.CrossValidated())
	res.RunID = runID
	res.denormalize(work, d.N())
	if screened != nil {
		res.restore(d, screened, cols)
	}

	log.Info("selection finished",
		zap.Int("support_size", res.SupportSize),
		zap.Float64("lambda", res.Lambda),
		zap.Float64("ic", res.IC),
		zap.Float64("test_loss", res.TestLoss),
		zap.Int("visited", len(mats.Order)))
	return res, nil
}

func (s *Selector) validate(d *dataset.Data, factory splicing.Factory, m metric.Metric, grid Grid) error {
	switch {
	case d == nil:
		return configErr("data", "nil")
	case factory == nil:
		return configErr("engine", "nil factory")
	case m == nil:
		return configErr("metric", "nil")
	}

	if s.folds < 0 || s.folds == 1 {
		return configErr("folds", "cross-validation needs at least 2 folds, got %d", s.folds)
	}
	if s.folds > d.N() {
		return configErr("folds", "%d folds for %d observations", s.folds, d.N())
	}

	if len(grid.Lambdas) == 0 {
		return configErr("lambdas", "empty sequence")
	}
	for i, l := range grid.Lambdas {
		if l < 0 || math.IsNaN(l) || math.IsInf(l, 0) {
			return configErr("lambdas", "element %d is %v", i, l)
		}
	}

	groups := d.Groups()
	if grid.Adaptive() {
		if grid.SMin < 0 {
			return configErr("s_min", "negative value %d", grid.SMin)
		}
		if grid.SMin > grid.SMax {
			return configErr("s_min", "%d exceeds s_max %d", grid.SMin, grid.SMax)
		}
		if grid.SMax > groups {
			return configErr("s_max", "%d exceeds the %d groups", grid.SMax, groups)
		}
	} else {
		if !sort.IntsAreSorted(grid.SupportSizes) {
			return configErr("support_sizes", "must be ascending")
		}
		for i, size := range grid.SupportSizes {
			if size < 0 {
				return configErr("support_sizes", "element %d is negative", i)
			}
			if i > 0 && size == grid.SupportSizes[i-1] {
				return configErr("support_sizes", "duplicate size %d", size)
			}
		}
		if grid.maxSupport() > groups {
			return configErr("support_sizes", "%d exceeds the %d groups", grid.maxSupport(), groups)
		}
	}

	if s.screeningSize < 0 {
		return configErr("screening_size", "negative value %d", s.screeningSize)
	}
	if s.screeningSize > 0 && s.screeningSize < grid.maxSupport() {
		return configErr("screening_size", "%d is below the largest support size %d", s.screeningSize, grid.maxSupport())
	}
	return nil
}

// run carries the per-invocation state shared by the path strategies.
type run struct {
	*Selector
	ctx     context.Context
	log     *zap.Logger
	data    *dataset.Data
	engines []splicing.Engine
	metric  metric.Metric
}

func (r *run) pathOptions(phase string) []pathsearch.Option {
	return []pathsearch.Option{
		pathsearch.WithWarmStart(r.warmStart),
		pathsearch.WithEarlyStop(r.earlyStop),
		pathsearch.WithObserver(func(pt pathsearch.Point, cell pathsearch.Cell, score float64) {
			if math.IsNaN(score) {
				r.metrics.nanScores.Inc()
				r.log.Warn("NaN score",
					zap.String("phase", phase),
					zap.Int("support_size", cell.SupportSize),
					zap.Float64("lambda", cell.Lambda))
			}
			r.log.Debug("point evaluated",
				zap.String("phase", phase),
				zap.Int("row", pt.Row),
				zap.Int("col", pt.Col),
				zap.Int("support_size", cell.SupportSize),
				zap.Float64("lambda", cell.Lambda),
				zap.Float64("score", score))
		}),
	}
}
