package selector

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option is a function type for configuring a Selector.
type Option func(*Selector)

// WithFolds enables K-fold cross-validation. 0 disables it; any other value
// must be at least 2.
func WithFolds(k int) Option {
	return func(s *Selector) {
		s.folds = k
	}
}

// WithFoldSeed sets the seed of the row permutation used to assign folds.
func WithFoldSeed(seed int64) Option {
	return func(s *Selector) {
		s.foldSeed = seed
		s.shuffle = true
	}
}

// WithOrderedFolds assigns consecutive rows to folds without shuffling.
func WithOrderedFolds() Option {
	return func(s *Selector) {
		s.shuffle = false
	}
}

// WithThreads sets the number of worker goroutines. 0 uses every processor,
// 1 disables parallel dispatch.
func WithThreads(n int) Option {
	return func(s *Selector) {
		s.threads = n
	}
}

// WithWarmStart enables seeding each fit from the previous one on the path.
func WithWarmStart(enabled bool) Option {
	return func(s *Selector) {
		s.warmStart = enabled
	}
}

// WithEarlyStop stops a grid path after three rows without improvement.
func WithEarlyStop(enabled bool) Option {
	return func(s *Selector) {
		s.earlyStop = enabled
	}
}

// WithCovarianceUpdate caches XᵀWY and XᵀW1 next to the group Gram blocks.
func WithCovarianceUpdate(enabled bool) Option {
	return func(s *Selector) {
		s.covarianceUpdate = enabled
	}
}

// WithScreening keeps only the n most promising groups before the path runs.
// 0 disables screening.
func WithScreening(n int) Option {
	return func(s *Selector) {
		s.screeningSize = n
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegisterer registers the fit metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Selector) {
		s.registerer = reg
	}
}
