// Package pool runs independent fetch tasks on a fixed number of workers.
package pool

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultSize is the worker count used when none is configured.
const DefaultSize = 32

// Pool is a bounded task executor. It holds no goroutines between calls;
// each Map starts at most Size workers and waits for them.
type Pool struct {
	size int
}

// New creates a Pool with size workers; size <= 0 selects DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{size: size}
}

// Size returns the worker bound.
func (p *Pool) Size() int { return p.size }

type job[T any] struct {
	index int
	item  T
}

type result[R any] struct {
	index int
	value R
}

// Map applies fn to every item using at most p.Size() concurrent workers
// and returns the results in input order. Items not started before ctx is
// cancelled are still passed to fn, which is expected to observe ctx.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) R) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}

	workers := min(p.size, len(items))
	jobs := make(chan job[T], workers)
	results := make(chan result[R], workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			slog.Debug("pool worker started", slog.Int("id", id))
			for j := range jobs {
				results <- result[R]{index: j.index, value: fn(ctx, j.item)}
			}
		}(i)
	}

	go func() {
		for i, item := range items {
			jobs <- job[T]{index: i, item: item}
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		out[r.index] = r.value
	}
	return out
}
