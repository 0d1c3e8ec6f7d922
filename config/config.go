// Package config loads the YAML description of a selection run and turns it
// into selector, engine, metric and dataset options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/metric"
	"github.com/n0madic/go-bestsubset/selector"
	"github.com/n0madic/go-bestsubset/splicing"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the complete description of a selection run.
type Config struct {
	Selection SelectionConfig `yaml:"selection"`
	Metric    MetricConfig    `yaml:"metric"`
	Engine    EngineConfig    `yaml:"engine"`
	Data      DataConfig      `yaml:"data"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SelectionConfig configures the path. Empty support sizes select the
// adaptive search over [s_min, s_max], and an s_max of 0 means every group.
// Zero folds score by information criterion; zero threads use every
// processor.
type SelectionConfig struct {
	SupportSizes     []int     `yaml:"support_sizes,omitempty"`
	SMin             int       `yaml:"s_min"`
	SMax             int       `yaml:"s_max"`
	Lambdas          []float64 `yaml:"lambdas"`
	Folds            int       `yaml:"folds"`
	FoldSeed         int64     `yaml:"fold_seed"`
	OrderedFolds     bool      `yaml:"ordered_folds"`
	Threads          int       `yaml:"threads"`
	WarmStart        bool      `yaml:"warm_start"`
	EarlyStop        bool      `yaml:"early_stop"`
	CovarianceUpdate bool      `yaml:"covariance_update"`
	ScreeningSize    int       `yaml:"screening_size"`
}

// MetricConfig chooses the information criterion: aic, bic, gic or ebic.
type MetricConfig struct {
	Criterion string  `yaml:"criterion"`
	Coef      float64 `yaml:"coef"`
}

// EngineConfig configures the splicing engine. A negative tau is chosen
// automatically.
type EngineConfig struct {
	MaxIter      int     `yaml:"max_iter"`
	ExchangeNum  int     `yaml:"exchange_num"`
	Tau          float64 `yaml:"tau"`
	AlwaysSelect []int   `yaml:"always_select,omitempty"`
}

// DataConfig describes how input tables are read and prepared. The last
// Responses columns of a table are the response. Variant is centered,
// explicit or none, and Groups holds one group label per predictor column.
type DataConfig struct {
	Responses int    `yaml:"responses"`
	Header    bool   `yaml:"header"`
	Normalize bool   `yaml:"normalize"`
	Variant   string `yaml:"variant"`
	Groups    []int  `yaml:"groups,omitempty"`
}

// LoggingConfig configures the zap logger built by Logger. Level is debug,
// info, warn or error; Format is json or console.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Selection: SelectionConfig{
			Lambdas:   []float64{0},
			FoldSeed:  123,
			Threads:   1,
			WarmStart: true,
		},
		Metric: MetricConfig{
			Criterion: "gic",
			Coef:      1,
		},
		Engine: EngineConfig{
			MaxIter:     20,
			ExchangeNum: 5,
			Tau:         -1,
		},
		Data: DataConfig{
			Responses: 1,
			Header:    true,
			Normalize: true,
			Variant:   "centered",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the settings that do not depend on the data. Grid checks
// against the group count happen in selector.Run.
func (c *Config) Validate() error {
	var errs []error
	if _, err := metric.ParseCriterion(c.Metric.Criterion); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseVariant(c.Data.Variant); err != nil {
		errs = append(errs, err)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Data.Responses < 1 {
		errs = append(errs, fmt.Errorf("data.responses: need at least 1, got %d", c.Data.Responses))
	}
	if len(c.Selection.Lambdas) == 0 {
		errs = append(errs, errors.New("selection.lambdas: empty sequence"))
	}
	return errors.Join(errs...)
}

// Grid returns the hyperparameter grid for data with the given number of
// groups. An unset s_max means every group.
func (c *Config) Grid(groups int) selector.Grid {
	g := selector.Grid{
		SupportSizes: append([]int(nil), c.Selection.SupportSizes...),
		Lambdas:      append([]float64(nil), c.Selection.Lambdas...),
		SMin:         c.Selection.SMin,
		SMax:         c.Selection.SMax,
	}
	if g.Adaptive() && g.SMax == 0 {
		g.SMax = groups
	}
	return g
}

// SelectorOptions converts the selection settings.
func (c *Config) SelectorOptions(logger *zap.Logger, reg prometheus.Registerer) []selector.Option {
	s := c.Selection
	opts := []selector.Option{
		selector.WithFolds(s.Folds),
		selector.WithThreads(s.Threads),
		selector.WithWarmStart(s.WarmStart),
		selector.WithEarlyStop(s.EarlyStop),
		selector.WithCovarianceUpdate(s.CovarianceUpdate),
		selector.WithScreening(s.ScreeningSize),
		selector.WithLogger(logger),
		selector.WithRegisterer(reg),
	}
	if s.OrderedFolds {
		opts = append(opts, selector.WithOrderedFolds())
	} else {
		opts = append(opts, selector.WithFoldSeed(s.FoldSeed))
	}
	return opts
}

// EngineOptions converts the engine settings.
func (c *Config) EngineOptions() []splicing.Option {
	return []splicing.Option{
		splicing.WithMaxIter(c.Engine.MaxIter),
		splicing.WithExchangeNum(c.Engine.ExchangeNum),
		splicing.WithTau(c.Engine.Tau),
		splicing.WithAlwaysSelect(c.Engine.AlwaysSelect...),
	}
}

// BuildMetric builds the Gaussian metric.
func (c *Config) BuildMetric() (*metric.Gaussian, error) {
	crit, err := metric.ParseCriterion(c.Metric.Criterion)
	if err != nil {
		return nil, err
	}
	return metric.NewGaussian(crit, c.Metric.Coef), nil
}

// DatasetOptions converts the data preparation settings.
func (c *Config) DatasetOptions() ([]dataset.Option, error) {
	v, err := parseVariant(c.Data.Variant)
	if err != nil {
		return nil, err
	}
	opts := []dataset.Option{
		dataset.WithVariant(v),
		dataset.WithNormalize(c.Data.Normalize),
	}
	if len(c.Data.Groups) > 0 {
		opts = append(opts, dataset.WithGroups(c.Data.Groups))
	}
	return opts, nil
}

// Logger builds a zap logger at the configured level. verbose forces debug.
func (c *Config) Logger(verbose bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc := zap.NewProductionConfig()
	if c.Logging.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func parseVariant(s string) (dataset.Variant, error) {
	switch strings.ToLower(s) {
	case "", "centered":
		return dataset.InterceptCentered, nil
	case "explicit":
		return dataset.InterceptExplicit, nil
	case "none":
		return dataset.InterceptNone, nil
	default:
		return 0, fmt.Errorf("data.variant: unknown variant %q", s)
	}
}
