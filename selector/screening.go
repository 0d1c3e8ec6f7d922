package selector

import (
	"math"
	"sort"

	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/splicing"
)

// marginalScorer is implemented by engines that can rank groups before any
// fit. Larger scores are kept.
type marginalScorer interface {
	MarginalScores(c *splicing.Cache) []float64
}

// alwaysSelector is implemented by engines that force groups into every
// active set. Those groups survive screening.
type alwaysSelector interface {
	AlwaysSelect() []int
}

// restrictable is implemented by engines whose settings refer to group
// indices and must be renumbered after screening.
type restrictable interface {
	Restrict(groups []int) splicing.Engine
}

// screen keeps the screeningSize groups with the largest marginal score.
// The result is sorted ascending.
func (s *Selector) screen(d *dataset.Data, e splicing.Engine) ([]int, error) {
	scorer, ok := e.(marginalScorer)
	if !ok {
		return nil, configErr("screening_size", "engine %T cannot rank groups", e)
	}
	scores := scorer.MarginalScores(splicing.NewCache(d, s.covarianceUpdate))

	forced := make(map[int]bool)
	if as, ok := e.(alwaysSelector); ok {
		for _, g := range as.AlwaysSelect() {
			if g >= 0 && g < d.Groups() {
				forced[g] = true
			}
		}
	}
	if len(forced) > s.screeningSize {
		return nil, configErr("screening_size", "%d is below the %d always-selected groups", s.screeningSize, len(forced))
	}

	order := make([]int, 0, d.Groups())
	for g := 0; g < d.Groups(); g++ {
		if !forced[g] {
			order = append(order, g)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := scores[order[i]], scores[order[j]]
		if math.IsNaN(a) {
			return false
		}
		return math.IsNaN(b) || a > b
	})

	kept := make([]int, 0, s.screeningSize)
	for g := range forced {
		kept = append(kept, g)
	}
	kept = append(kept, order[:s.screeningSize-len(forced)]...)
	sort.Ints(kept)
	return kept, nil
}

func restrict(e splicing.Engine, groups []int) splicing.Engine {
	if r, ok := e.(restrictable); ok {
		return r.Restrict(groups)
	}
	return e
}
