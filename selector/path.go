package selector

import (
	"fmt"

	"github.com/n0madic/go-bestsubset/dispatch"
	"github.com/n0madic/go-bestsubset/fold"
	pathsearch "github.com/n0madic/go-bestsubset/path-search"
	"github.com/n0madic/go-bestsubset/splicing"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// prepareFolds builds the partition and the per-fold caches.
func (r *run) prepareFolds() ([]*fold.Fold, error) {
	var opts []fold.Option
	if r.shuffle {
		opts = append(opts, fold.WithShuffle(r.foldSeed))
	}
	part, err := fold.Build(r.data.N(), r.folds, opts...)
	if err != nil {
		return nil, &ConfigError{Field: "folds", Reason: "cannot partition rows", Err: err}
	}
	return fold.Prepare(r.ctx, r.data, part, r.covarianceUpdate, r.threads)
}

// grid evaluates the explicit grid. Without cross-validation one path runs
// on the full data. With it, one path runs per fold, the held-out losses
// are averaged and every cell is refit on the full data from the fold-mean
// warm start.
func (r *run) grid(sizes []int, lambdas []float64) (*pathsearch.Matrices, error) {
	full := splicing.NewCache(r.data, r.covarianceUpdate)
	if !r.CrossValidated() {
		t := pathsearch.Target{
			Engine: r.metrics.wrap(r.engines[0], phasePath),
			Metric: r.metric,
			Train:  full,
		}
		return pathsearch.Grid(t, sizes, lambdas, r.pathOptions(phasePath)...), nil
	}

	folds, err := r.prepareFolds()
	if err != nil {
		return nil, err
	}

	perFold := make([]*pathsearch.Matrices, len(folds))
	err = dispatch.Run(r.ctx, len(folds), r.threads, func(slot, k int) error {
		t := pathsearch.Target{
			Engine: r.metrics.wrap(r.engines[slot], phasePath),
			Metric: r.metric,
			Train:  folds[k].Train,
			Test:   folds[k].Test,
		}
		perFold[k] = pathsearch.Grid(t, sizes, lambdas, r.pathOptions(phasePath)...)
		r.log.Debug("fold path done", zap.Int("fold", k), zap.Int("rows", perFold[k].Rows()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fold paths: %w", err)
	}

	// early stop may end folds at different rows; keep the common prefix
	rows := perFold[0].Rows()
	for _, m := range perFold[1:] {
		rows = min(rows, m.Rows())
	}
	for _, m := range perFold {
		m.Truncate(rows)
	}

	surface := meanSurface(perFold)
	out, err := r.refit(full, perFold, surface)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// meanSurface averages the held-out loss of every cell over the folds.
func meanSurface(perFold []*pathsearch.Matrices) [][]float64 {
	rows, cols := perFold[0].Rows(), perFold[0].Cols()
	k := float64(len(perFold))
	out := make([][]float64, rows)
	for i := range out {
		out[i] = make([]float64, cols)
		for j := range out[i] {
			for _, m := range perFold {
				out[i][j] += m.Cells[i][j].TestLoss / k
			}
		}
	}
	return out
}

// refit fits every cell on the full data, seeded by the fold-mean
// coefficients, intercept and boundary difference at that cell.
func (r *run) refit(full *splicing.Cache, perFold []*pathsearch.Matrices, surface [][]float64) (*pathsearch.Matrices, error) {
	ref := perFold[0]
	rows, cols := ref.Rows(), ref.Cols()
	d := r.data

	out := &pathsearch.Matrices{
		Sizes:   append([]int(nil), ref.Sizes...),
		Lambdas: append([]float64(nil), ref.Lambdas...),
		Cells:   make([][]pathsearch.Cell, rows),
		Order:   append([]pathsearch.Point(nil), ref.Order...),
	}
	for i := range out.Cells {
		out.Cells[i] = make([]pathsearch.Cell, cols)
	}

	err := dispatch.Run(r.ctx, rows*cols, r.threads, func(slot, idx int) error {
		i, j := idx/cols, idx%cols
		seeds := make([]splicing.Seed, len(perFold))
		for k, m := range perFold {
			seeds[k] = m.Cells[i][j].Seed()
		}
		seed := splicing.MeanSeed(seeds, d.P(), d.M(), d.Groups())

		t := pathsearch.Target{
			Engine: r.metrics.wrap(r.engines[slot], phaseRefit),
			Metric: r.metric,
			Train:  full,
		}
		cell := t.Evaluate(seed.Request(out.Sizes[i], out.Lambdas[j]))
		cell.TestLoss = surface[i][j]
		out.Cells[i][j] = cell
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("full-data refit: %w", err)
	}
	return out, nil
}

// adaptive runs the golden-section search over [smin, smax]. Each probe fits
// the full data; under cross-validation it also fits every fold, each warm
// started from its own previous probe, and scores by the mean held-out loss.
func (r *run) adaptive(smin, smax int, lambda float64) (*pathsearch.Matrices, error) {
	full := splicing.NewCache(r.data, r.covarianceUpdate)
	target := pathsearch.Target{
		Engine: r.metrics.wrap(r.engines[0], phaseSearch),
		Metric: r.metric,
		Train:  full,
	}

	var scorer pathsearch.Scorer
	var scoreErr error
	if !r.CrossValidated() {
		scorer = func(req splicing.FitRequest) (pathsearch.Cell, float64) {
			cell := target.Evaluate(req)
			return cell, cell.IC
		}
	} else {
		folds, err := r.prepareFolds()
		if err != nil {
			return nil, err
		}
		seeds := make([]splicing.Seed, len(folds))
		losses := make([]float64, len(folds))
		scorer = func(req splicing.FitRequest) (pathsearch.Cell, float64) {
			cell := target.Evaluate(req)
			err := dispatch.Run(r.ctx, len(folds), r.threads, func(slot, k int) error {
				engine := r.metrics.wrap(r.engines[slot], phaseSearch)
				resp := engine.Fit(folds[k].Train, seeds[k].Request(req.SupportSize, req.Lambda))
				if r.warmStart {
					seeds[k] = resp.Seed()
				}
				losses[k] = r.metric.Loss(folds[k].Test, resp)
				return nil
			})
			if err != nil && scoreErr == nil {
				scoreErr = err
			}
			cell.TestLoss = floats.Sum(losses) / float64(len(losses))
			return cell, cell.TestLoss
		}
	}

	search := pathsearch.Golden(smin, smax, lambda, scorer, r.pathOptions(phaseSearch)...)
	if scoreErr != nil {
		return nil, fmt.Errorf("adaptive search: %w", scoreErr)
	}
	r.log.Debug("adaptive search done",
		zap.Ints("sequence", search.Sizes),
		zap.Int("interior_probes", search.Interior),
		zap.Int("sweep_best", search.Sizes[search.Best]))
	return search.Matrices, nil
}
