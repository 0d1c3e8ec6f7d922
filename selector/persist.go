package selector

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	pathsearch "github.com/n0madic/go-bestsubset/path-search"
	"gonum.org/v1/gonum/mat"
)

// ResultState is the serializable form of a Result.
type ResultState struct {
	Version int    `gob:"version"`
	RunID   string `gob:"run_id"`

	P        int       `gob:"p"`
	M        int       `gob:"m"`
	Sequence []int     `gob:"sequence"`
	Lambdas  []float64 `gob:"lambdas"`
	Order    []int     `gob:"order"` // row, col pairs
	Row      int       `gob:"row"`
	Col      int       `gob:"col"`

	CoefData      [][]float64 `gob:"coef_data"` // row-major cells, each p*m; empty for unvisited
	InterceptData [][]float64 `gob:"intercept_data"`
	BoundaryData  [][]float64 `gob:"boundary_data"`
	TrainLoss     []float64   `gob:"train_loss"` // rows*cols
	IC            []float64   `gob:"ic"`
	TestLoss      []float64   `gob:"test_loss"`
	EffectiveDF   []float64   `gob:"effective_df"`

	Active         []int `gob:"active"`
	Screened       []int `gob:"screened"`
	CrossValidated bool  `gob:"cross_validated"`
}

const stateVersion = 1

// Save serializes the result to gob format.
func (r *Result) Save(w io.Writer) error {
	rows, cols := len(r.Sequence), len(r.Lambdas)
	state := ResultState{
		Version:        stateVersion,
		RunID:          r.RunID,
		Sequence:       r.Sequence,
		Lambdas:        r.Lambdas,
		Order:          make([]int, 0, 2*len(r.Order)),
		Row:            r.Row,
		Col:            r.Col,
		CoefData:       make([][]float64, 0, rows*cols),
		InterceptData:  make([][]float64, 0, rows*cols),
		BoundaryData:   make([][]float64, 0, rows*cols),
		TrainLoss:      flatten(r.TrainLossAll),
		IC:             flatten(r.ICAll),
		TestLoss:       flatten(r.TestLossAll),
		EffectiveDF:    flatten(r.EffectiveDFAll),
		Active:         r.Active,
		Screened:       r.Screened,
		CrossValidated: r.CrossValidated,
	}
	if r.Coef != nil {
		state.P, state.M = r.Coef.Dims()
	}
	for _, pt := range r.Order {
		state.Order = append(state.Order, pt.Row, pt.Col)
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var raw []float64
			if c := r.CoefAll[i][j]; c != nil {
				raw = flatten(c)
			}
			state.CoefData = append(state.CoefData, raw)
			state.InterceptData = append(state.InterceptData, r.InterceptAll[i][j])
			state.BoundaryData = append(state.BoundaryData, r.BoundaryDiffAll[i][j])
		}
	}

	return gob.NewEncoder(w).Encode(state)
}

// Load deserializes a result written by Save.
func Load(rd io.Reader) (*Result, error) {
	var state ResultState
	if err := gob.NewDecoder(rd).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != stateVersion {
		return nil, fmt.Errorf("unsupported result version %d", state.Version)
	}

	rows, cols := len(state.Sequence), len(state.Lambdas)
	cells := rows * cols
	if rows == 0 || cols == 0 {
		return nil, errors.New("empty result")
	}
	if len(state.CoefData) != cells || len(state.TrainLoss) != cells || len(state.IC) != cells ||
		len(state.TestLoss) != cells || len(state.EffectiveDF) != cells {
		return nil, errors.New("invalid cell data length")
	}
	if state.Row < 0 || state.Row >= rows || state.Col < 0 || state.Col >= cols {
		return nil, errors.New("winner out of range")
	}
	if len(state.Order)%2 != 0 {
		return nil, errors.New("invalid order length")
	}

	r := &Result{
		RunID:           state.RunID,
		Row:             state.Row,
		Col:             state.Col,
		Sequence:        state.Sequence,
		Lambdas:         state.Lambdas,
		Active:          state.Active,
		Screened:        state.Screened,
		CrossValidated:  state.CrossValidated,
		CoefAll:         make([][]*mat.Dense, rows),
		InterceptAll:    make([][][]float64, rows),
		BoundaryDiffAll: make([][][]float64, rows),
		TrainLossAll:    mat.NewDense(rows, cols, state.TrainLoss),
		ICAll:           mat.NewDense(rows, cols, state.IC),
		TestLossAll:     mat.NewDense(rows, cols, state.TestLoss),
		EffectiveDFAll:  mat.NewDense(rows, cols, state.EffectiveDF),
	}
	for k := 0; k < len(state.Order); k += 2 {
		r.Order = append(r.Order, pathsearch.Point{Row: state.Order[k], Col: state.Order[k+1]})
	}
	for i := 0; i < rows; i++ {
		r.CoefAll[i] = make([]*mat.Dense, cols)
		r.InterceptAll[i] = make([][]float64, cols)
		r.BoundaryDiffAll[i] = make([][]float64, cols)
		for j := 0; j < cols; j++ {
			idx := i*cols + j
			if raw := state.CoefData[idx]; len(raw) > 0 {
				if len(raw) != state.P*state.M {
					return nil, errors.New("invalid coef data length")
				}
				r.CoefAll[i][j] = mat.NewDense(state.P, state.M, raw)
			}
			if idx < len(state.InterceptData) {
				r.InterceptAll[i][j] = state.InterceptData[idx]
			}
			if idx < len(state.BoundaryData) {
				r.BoundaryDiffAll[i][j] = state.BoundaryData[idx]
			}
		}
	}

	r.SupportSize = state.Sequence[r.Row]
	r.Lambda = state.Lambdas[r.Col]
	r.Coef = r.CoefAll[r.Row][r.Col]
	r.Intercept = r.InterceptAll[r.Row][r.Col]
	r.TrainLoss = r.TrainLossAll.At(r.Row, r.Col)
	r.IC = r.ICAll.At(r.Row, r.Col)
	r.TestLoss = r.TestLossAll.At(r.Row, r.Col)
	return r, nil
}

func flatten(a *mat.Dense) []float64 {
	rows, cols := a.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, a.RawRowView(i)...)
	}
	return out
}
