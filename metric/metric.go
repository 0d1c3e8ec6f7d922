// Package metric scores fitted models, either in-sample through an
// information criterion or out-of-sample through a held-out loss.
package metric

import (
	"fmt"
	"math"
	"strings"

	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/splicing"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Metric scores fit responses. Implementations must be safe for concurrent
// use.
type Metric interface {
	// IC returns the information criterion of a fit on n training rows
	// drawn from a problem with the given number of groups.
	IC(resp splicing.FitResponse, n, groups int) float64
	// Loss returns the held-out loss of a fit on test.
	Loss(test *dataset.Data, resp splicing.FitResponse) float64
}

// Criterion selects the information criterion.
type Criterion int

const (
	AIC Criterion = iota + 1
	BIC
	GIC
	EBIC
)

// String implements fmt.Stringer.
func (c Criterion) String() string {
	switch c {
	case AIC:
		return "aic"
	case BIC:
		return "bic"
	case GIC:
		return "gic"
	case EBIC:
		return "ebic"
	default:
		return fmt.Sprintf("Criterion(%d)", int(c))
	}
}

// ParseCriterion maps a case-insensitive name to a Criterion.
func ParseCriterion(name string) (Criterion, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "aic":
		return AIC, nil
	case "bic":
		return BIC, nil
	case "gic", "":
		return GIC, nil
	case "ebic":
		return EBIC, nil
	default:
		return 0, fmt.Errorf("metric: unknown information criterion %q", name)
	}
}

// lossFloor keeps log(loss) finite for exact fits so that the penalty term
// still separates them.
const lossFloor = 1e-12

// Gaussian scores Gaussian fits: IC = n·log(loss) + penalty·df, held-out
// loss = weighted squared error / 2n.
type Gaussian struct {
	criterion Criterion
	coef      float64
}

// NewGaussian creates a Gaussian metric. coef multiplies the IC penalty and
// defaults to 1 when not positive.
func NewGaussian(criterion Criterion, coef float64) *Gaussian {
	if coef <= 0 {
		coef = 1
	}
	return &Gaussian{criterion: criterion, coef: coef}
}

// Criterion returns the configured criterion.
func (g *Gaussian) Criterion() Criterion {
	return g.criterion
}

// IC implements Metric.
func (g *Gaussian) IC(resp splicing.FitResponse, n, groups int) float64 {
	nf := float64(n)
	loss := resp.TrainLoss
	if loss < lossFloor {
		loss = lossFloor
	}
	fit := nf * math.Log(loss)

	var penalty float64
	switch g.criterion {
	case AIC:
		penalty = 2
	case BIC:
		penalty = math.Log(nf)
	case EBIC:
		penalty = math.Log(nf) + 2*math.Log(float64(groups))
	default:
		penalty = math.Log(float64(groups)) * math.Log(math.Log(nf))
	}
	return fit + g.coef*penalty*resp.EffectiveDF
}

// Loss implements Metric.
func (g *Gaussian) Loss(test *dataset.Data, resp splicing.FitResponse) float64 {
	n := test.N()
	if n == 0 {
		return math.NaN()
	}
	pred := mat.NewDense(n, test.M(), nil)
	pred.Mul(test.X, resp.Coef)

	total := 0.0
	for i := 0; i < n; i++ {
		row := pred.RawRowView(i)
		floats.Add(row, resp.Intercept)
		floats.SubTo(row, test.Y.RawRowView(i), row)
		total += test.Weights[i] * floats.Dot(row, row)
	}
	return total / (2 * float64(n))
}
