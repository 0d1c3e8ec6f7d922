package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/n0madic/go-bestsubset/config"
	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/selector"
	"github.com/n0madic/go-bestsubset/splicing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	dataPath    string
	outPath     string
	showMetrics bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a selection on a CSV table",
	Long: `Reads the table given by --data. The last data.responses columns are the
response, every other column is a predictor. The winning model is printed and,
with --out, the full result is written in gob format for "bestsubset show".
--metrics appends the fit counters and timings in Prometheus text format.

Example:
  bestsubset run --config selection.yaml --data prostate.csv --out result.gob`,
	RunE: runSelection,
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML configuration (defaults when empty)")
	runCmd.Flags().StringVarP(&dataPath, "data", "d", "", "CSV table (required)")
	runCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the result to this file")
	runCmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print fit metrics after the result")
	_ = runCmd.MarkFlagRequired("data")
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// newLogger builds the logger of one invocation from the configuration and
// the --verbose flag.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := cfg.Logger(verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

func runSelection(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	f, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("failed to open data: %w", err)
	}
	defer f.Close()

	table, err := readTable(f, cfg.Data.Header, cfg.Data.Responses)
	if err != nil {
		return err
	}
	dopts, err := cfg.DatasetOptions()
	if err != nil {
		return err
	}
	d, err := dataset.New(table.X, table.Y, dopts...)
	if err != nil {
		return err
	}

	m, err := cfg.BuildMetric()
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	sel, err := selector.New(cfg.SelectorOptions(logger, reg)...)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := sel.Run(ctx, d, splicing.LinearFactory(cfg.EngineOptions()...), m, cfg.Grid(d.Groups()))
	if err != nil {
		return err
	}
	logger.Debug("result ready", zap.String("run", res.RunID))

	printResult(cmd.OutOrStdout(), res, table.Predictors)
	if showMetrics {
		if err := writeMetrics(cmd.OutOrStdout(), reg); err != nil {
			return err
		}
	}

	if outPath != "" {
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		if err := res.Save(out); err != nil {
			out.Close()
			return fmt.Errorf("failed to write result: %w", err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return nil
}
