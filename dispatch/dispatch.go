// Package dispatch fans independent, index-addressed work items out over a
// bounded set of worker goroutines.
//
// Every worker owns a slot number in [0, workers). A slot is never used by
// two goroutines at the same time, so callers can keep one mutable resource
// (such as a fitting engine) per slot without locking.
package dispatch

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Workers resolves a thread setting: 0 means all processors, values below
// zero are treated as 1.
func Workers(threads int) int {
	switch {
	case threads == 0:
		return runtime.NumCPU()
	case threads < 0:
		return 1
	default:
		return threads
	}
}

// Slots returns how many per-slot resources to allocate for the given thread
// setting and fold count.
func Slots(threads, folds int) int {
	return max(folds, Workers(threads), 1)
}

// Run calls fn(slot, i) for every i in [0, n). With one worker the calls run
// in order on the calling goroutine. The first error stops the scheduling of
// further items and is returned once running items finish.
func Run(ctx context.Context, n, threads int, fn func(slot, i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := min(Workers(threads), n)

	if workers == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(0, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var next atomic.Int64
	for slot := 0; slot < workers; slot++ {
		slot := slot
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(slot, i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
