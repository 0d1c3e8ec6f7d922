package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// csvTable is a numeric CSV split into predictors and responses.
type csvTable struct {
	X, Y       *mat.Dense
	Predictors []string
}

func readTable(r io.Reader, header bool, responses int) (*csvTable, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	var names []string
	if header && len(records) > 0 {
		names, records = records[0], records[1:]
	}
	if len(records) == 0 {
		return nil, errors.New("csv has no data rows")
	}

	cols := len(records[0])
	p := cols - responses
	if p < 1 {
		return nil, fmt.Errorf("csv has %d columns, need more than %d responses", cols, responses)
	}

	x := mat.NewDense(len(records), p, nil)
	y := mat.NewDense(len(records), responses, nil)
	for i, rec := range records {
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i+1, j+1, err)
			}
			if j < p {
				x.Set(i, j, v)
			} else {
				y.Set(i, j-p, v)
			}
		}
	}

	t := &csvTable{X: x, Y: y, Predictors: make([]string, p)}
	for j := range t.Predictors {
		if j < len(names) {
			t.Predictors[j] = names[j]
		} else {
			t.Predictors[j] = fmt.Sprintf("x%d", j+1)
		}
	}
	return t, nil
}
