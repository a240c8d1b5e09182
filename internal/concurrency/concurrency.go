// Package concurrency holds the goroutine pool shared by the worker pool and the sweeper.
package concurrency

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// NewPool returns a pool of at most maxGoroutines whose context is canceled on
// the first error. Wait returns that error.
func NewPool(ctx context.Context, maxGoroutines int) *pool.ContextPool {
	if maxGoroutines < 1 {
		maxGoroutines = 1
	}
	return pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(maxGoroutines)
}
