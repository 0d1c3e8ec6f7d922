// Package fold partitions observations for K-fold cross-validation and
// prepares the per-fold caches reused by every grid point of a path.
package fold

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/n0madic/go-bestsubset/dataset"
	"github.com/n0madic/go-bestsubset/dispatch"
	"github.com/n0madic/go-bestsubset/splicing"
)

// ErrConfiguration reports an impossible fold setup.
var ErrConfiguration = errors.New("fold: invalid configuration")

// Partition is a set of K disjoint test index sets covering [0, n).
type Partition struct {
	n     int
	test  [][]int
	train [][]int
}

// Option configures Build.
type Option func(*options)

type options struct {
	shuffle bool
	seed    int64
}

// WithShuffle assigns rows to folds through a permutation drawn from seed.
// The same seed always yields the same partition.
func WithShuffle(seed int64) Option {
	return func(o *options) {
		o.shuffle = true
		o.seed = seed
	}
}

// Build splits [0, n) into k folds whose sizes differ by at most one; the
// first n mod k folds receive the extra row.
func Build(n, k int, opts ...Option) (*Partition, error) {
	if k <= 1 {
		return nil, fmt.Errorf("%w: need at least 2 folds, got %d", ErrConfiguration, k)
	}
	if k > n {
		return nil, fmt.Errorf("%w: %d folds for %d observations", ErrConfiguration, k, n)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if o.shuffle {
		order = rand.New(rand.NewSource(o.seed)).Perm(n)
	}

	p := &Partition{
		n:     n,
		test:  make([][]int, k),
		train: make([][]int, k),
	}
	base, extra := n/k, n%k
	start := 0
	for f := 0; f < k; f++ {
		size := base
		if f < extra {
			size++
		}
		test := append([]int(nil), order[start:start+size]...)
		sort.Ints(test)
		p.test[f] = test
		start += size
	}

	for f := 0; f < k; f++ {
		inTest := make([]bool, n)
		for _, i := range p.test[f] {
			inTest[i] = true
		}
		train := make([]int, 0, n-len(p.test[f]))
		for i := 0; i < n; i++ {
			if !inTest[i] {
				train = append(train, i)
			}
		}
		p.train[f] = train
	}
	return p, nil
}

// K returns the number of folds.
func (p *Partition) K() int {
	return len(p.test)
}

// N returns the number of partitioned observations.
func (p *Partition) N() int {
	return p.n
}

// Test returns the ascending held-out rows of fold f.
func (p *Partition) Test(f int) []int {
	return p.test[f]
}

// Train returns the ascending training rows of fold f.
func (p *Partition) Train(f int) []int {
	return p.train[f]
}

// Fold is the prepared training cache and held-out slice of one fold.
type Fold struct {
	Index int
	Train *splicing.Cache
	Test  *dataset.Data
}

// Prepare slices d along p and builds every fold's cache once. Folds are
// prepared concurrently according to threads.
func Prepare(ctx context.Context, d *dataset.Data, p *Partition, covarianceUpdate bool, threads int) ([]*Fold, error) {
	if p.N() != d.N() {
		return nil, fmt.Errorf("%w: partition of %d rows for data with %d", ErrConfiguration, p.N(), d.N())
	}
	folds := make([]*Fold, p.K())
	err := dispatch.Run(ctx, p.K(), threads, func(_, f int) error {
		folds[f] = &Fold{
			Index: f,
			Train: splicing.NewCache(d.Slice(p.Train(f)), covarianceUpdate),
			Test:  d.Slice(p.Test(f)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folds, nil
}
