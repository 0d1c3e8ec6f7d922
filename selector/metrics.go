package selector

import (
	"errors"
	"time"

	"github.com/n0madic/go-bestsubset/splicing"
	"github.com/prometheus/client_golang/prometheus"
)

// fit phases used as the "phase" label
const (
	phasePath   = "path"
	phaseSearch = "search"
	phaseRefit  = "refit"
)

type metrics struct {
	fits      *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	nanScores prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bestsubset_fits_total",
			Help: "Total splicing fits by phase",
		}, []string{"phase"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bestsubset_fit_duration_seconds",
			Help:    "Duration of one splicing fit",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1, 10},
		}, []string{"phase"}),
		nanScores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bestsubset_nan_scores_total",
			Help: "Grid points whose score was NaN",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.fits, err = register(reg, m.fits); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.nanScores, err = register(reg, m.nanScores); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing an identical collector registered by an
// earlier Selector.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// instrumented counts and times the fits of an engine.
type instrumented struct {
	next    splicing.Engine
	phase   string
	metrics *metrics
}

func (m *metrics) wrap(e splicing.Engine, phase string) splicing.Engine {
	return instrumented{next: e, phase: phase, metrics: m}
}

func (e instrumented) Fit(c *splicing.Cache, req splicing.FitRequest) splicing.FitResponse {
	start := time.Now()
	resp := e.next.Fit(c, req)
	e.metrics.fits.WithLabelValues(e.phase).Inc()
	e.metrics.duration.WithLabelValues(e.phase).Observe(time.Since(start).Seconds())
	return resp
}
