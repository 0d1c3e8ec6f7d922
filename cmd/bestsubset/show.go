package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/n0madic/go-bestsubset/selector"
	"github.com/spf13/cobra"
)

var showSurface bool

var showCmd = &cobra.Command{
	Use:   "show [result-file]",
	Short: "Print a result written by \"bestsubset run --out\"",
	Args:  cobra.ExactArgs(1),
	RunE:  showResult,
}

func init() {
	showCmd.Flags().BoolVar(&showSurface, "surface", false, "Also print the score of every visited point")
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Faint(true)
)

func showResult(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open result: %w", err)
	}
	defer f.Close()

	res, err := selector.Load(f)
	if err != nil {
		return fmt.Errorf("failed to load result: %w", err)
	}

	w := cmd.OutOrStdout()
	printResult(w, res, nil)
	if showSurface {
		printSurface(w, res)
	}
	return nil
}

func printResult(w io.Writer, res *selector.Result, names []string) {
	fmt.Fprintln(w, titleStyle.Render("Selected model"))
	field := func(label string, value any) {
		fmt.Fprintf(w, "  %s %v\n", labelStyle.Render(label+":"), value)
	}
	field("run", res.RunID)
	field("support size", res.SupportSize)
	field("lambda", res.Lambda)
	field("train loss", res.TrainLoss)
	if res.CrossValidated {
		field("test loss", res.TestLoss)
	} else {
		field("ic", res.IC)
	}
	for k, c := range res.Intercept {
		field(fmt.Sprintf("intercept[%d]", k), c)
	}

	if res.Coef == nil {
		return
	}
	p, m := res.Coef.Dims()
	headers := []string{"predictor"}
	for k := 0; k < m; k++ {
		headers = append(headers, fmt.Sprintf("y%d", k+1))
	}
	t := table.New().Border(lipgloss.NormalBorder()).Headers(headers...)
	for j := 0; j < p; j++ {
		row := res.Coef.RawRowView(j)
		nonzero := false
		for _, v := range row {
			nonzero = nonzero || v != 0
		}
		if !nonzero {
			continue
		}
		name := "x" + strconv.Itoa(j+1)
		if j < len(names) {
			name = names[j]
		}
		cells := []string{name}
		for _, v := range row {
			cells = append(cells, strconv.FormatFloat(v, 'g', 6, 64))
		}
		t.Row(cells...)
	}
	fmt.Fprintln(w, t.String())
}

func printSurface(w io.Writer, res *selector.Result) {
	surface := res.ICAll
	title := "Information criterion"
	if res.CrossValidated {
		surface, title = res.TestLossAll, "Held-out loss"
	}
	fmt.Fprintln(w, titleStyle.Render(title))

	headers := []string{"size \\ lambda"}
	for _, l := range res.Lambdas {
		headers = append(headers, strconv.FormatFloat(l, 'g', 4, 64))
	}
	t := table.New().Border(lipgloss.NormalBorder()).Headers(headers...)
	rows, cols := surface.Dims()
	for i := 0; i < rows; i++ {
		cells := []string{strconv.Itoa(res.Sequence[i])}
		for j := 0; j < cols; j++ {
			v := surface.At(i, j)
			s := strconv.FormatFloat(v, 'g', 6, 64)
			if math.IsNaN(v) {
				s = "-"
			}
			if i == res.Row && j == res.Col {
				s += " *"
			}
			cells = append(cells, s)
		}
		t.Row(cells...)
	}
	fmt.Fprintln(w, t.String())
}
