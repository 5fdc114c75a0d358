// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package heap2local

import (
	"sync"

	"github.com/dotandev/wasmgcopt/internal/ir"
)

// runParallel runs fn over every element of fns using a worker pool
// bounded by workers, per §5's function-isolation concurrency model:
// each function's IR tree is disjoint, so no synchronization is needed
// beyond collecting results. workers <= 1 runs sequentially.
func runParallel(fns []*ir.Function, workers int, fn func(*ir.Function) Report) []Report {
	reports := make([]Report, len(fns))

	if workers <= 1 || len(fns) <= 1 {
		for i, f := range fns {
			reports[i] = fn(f)
		}
		return reports
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				reports[i] = fn(fns[i])
			}
		}()
	}
	for i := range fns {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return reports
}
