// Package envconfig exposes the one runtime knob the core library reads
// from the environment, using a getenv-plus-sync.Once idiom: lazy parse,
// cached for the process lifetime.
package envconfig

import (
	"os"
	"strconv"
	"sync"
)

var (
	numThreadsOnce sync.Once
	numThreads     int
)

// NumThreads returns TENSORCORE_NUM_THREADS if set to a positive integer,
// otherwise 0 (meaning: let the caller fall back to runtime.NumCPU()).
func NumThreads() int {
	numThreadsOnce.Do(func() {
		v := os.Getenv("TENSORCORE_NUM_THREADS")
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return
		}
		numThreads = n
	})
	return numThreads
}
