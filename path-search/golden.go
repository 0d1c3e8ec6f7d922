package pathsearch

import (
	"math"

	"github.com/n0madic/go-bestsubset/splicing"
)

// Scorer fits one request and returns the recorded cell and its score.
type Scorer func(req splicing.FitRequest) (Cell, float64)

// Search is the outcome of a golden-section search. Its Matrices have a
// single column; row r holds the r-th probe.
type Search struct {
	*Matrices
	Scores []float64
	// Interior is the number of bracket probes before the final sweep.
	Interior int
	// Best is the row of the lowest-scoring sweep point.
	Best int
}

func lowerProbe(tmin, tmax int) int {
	return int(math.Round(0.618*float64(tmin) + 0.382*float64(tmax)))
}

func upperProbe(tmin, tmax int) int {
	return int(math.Round(0.382*float64(tmin) + 0.618*float64(tmax)))
}

// Golden searches support sizes in [smin, smax] at a fixed lambda. The
// bracket shrinks until both interior probes coincide; every size left in
// the bracket is then evaluated, because the score need not be unimodal.
// Ties go to the first evaluated point and NaN never wins.
func Golden(smin, smax int, lambda float64, score Scorer, opts ...Option) *Search {
	o := newOptions(opts)

	// bracket probes plus a sweep of at most three sizes in the common case
	capacity := smax - smin + 5
	s := &Search{
		Matrices: &Matrices{
			Sizes:   make([]int, 0, capacity),
			Lambdas: []float64{lambda},
			Cells:   make([][]Cell, 0, capacity),
			Order:   make([]Point, 0, capacity),
		},
		Scores: make([]float64, 0, capacity),
	}

	var seed splicing.Seed
	probe := func(size int) float64 {
		cell, sc := score(seed.Request(size, lambda))
		if o.warmStart {
			seed = cell.Seed()
		}
		pt := Point{Row: len(s.Cells), Col: 0}
		s.Sizes = append(s.Sizes, size)
		s.Cells = append(s.Cells, []Cell{cell})
		s.Order = append(s.Order, pt)
		s.Scores = append(s.Scores, sc)
		if o.observe != nil {
			o.observe(pt, cell, sc)
		}
		return sc
	}

	tmin, tmax := smin, smax
	tl, tr := lowerProbe(tmin, tmax), upperProbe(tmin, tmax)
	fl := probe(tl)
	fr := probe(tr)

	// the bracket shrinks on every step while it is wider than two
	for guard := 0; tl != tr && guard <= smax-smin; guard++ {
		if Less(fl, fr) {
			tmax = tr
			tr, fr = tl, fl
			tl = lowerProbe(tmin, tmax)
			fl = probe(tl)
		} else {
			tmin = tl
			tl, fl = tr, fr
			tr = upperProbe(tmin, tmax)
			fr = probe(tr)
		}
	}
	s.Interior = len(s.Scores)

	s.Best = -1
	for size := tmin; size <= tmax; size++ {
		sc := probe(size)
		if s.Best < 0 || Less(sc, s.Scores[s.Best]) {
			s.Best = len(s.Scores) - 1
		}
	}
	return s
}
