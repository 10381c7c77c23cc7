// Package threadpool implements a fork-join worker pool: a single CPU
// kernel may fan out over it for data-parallel inner loops (in this core,
// the elementwise unary/binary kernels in package tensor), but the
// fan-out is strictly fork-join around one operation — no user-visible
// task survives the call's return.
package threadpool

import (
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tensorcore/tensorcore/internal/envconfig"
)

// Size returns the worker count to fan a kernel out over: the
// TENSORCORE_NUM_THREADS override if set, else runtime.NumCPU().
func Size() int {
	if n := envconfig.NumThreads(); n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// ParallelFor splits [0, n) into contiguous chunks, one per worker, and
// runs fn(start, end) on each concurrently. It blocks until every chunk
// completes (the fork-join barrier) and returns the first error
// encountered, if any. For small n (below the threshold it isn't worth
// spinning up goroutines for) it runs fn(0, n) inline.
func ParallelFor(n int, fn func(start, end int) error) error {
	if n <= 0 {
		return nil
	}
	workers := Size()
	if workers < 1 {
		workers = 1
	}
	const minChunk = 4096
	if n < minChunk || workers <= 1 {
		return fn(0, n)
	}
	chunk := (n + workers - 1) / workers
	if chunk < 1 {
		chunk = 1
	}

	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		end := start + chunk
		if end > n {
			end = n
		}
		start, end := start, end
		g.Go(func() error {
			return fn(start, end)
		})
	}
	return g.Wait()
}
