// Package parallel は CPU コア数に応じた単純な並列実行ヘルパーを提供します。
// 木の学習（各木を独立に）と TreeSHAP（行ごと）の分配に使われます。
package parallel

import (
	"runtime"
	"sync"
)

// Workers は nJobs 指定を実際のワーカー数に解決する。
// nJobs <= 0 は利用可能な全コア（-1 と同じ扱い）
func Workers(nJobs int) int {
	if nJobs <= 0 {
		return runtime.NumCPU()
	}
	return nJobs
}

// ParallelizeN divides items into contiguous ranges, one per worker, and
// executes fn for each range (start, end) concurrently. workers <= 0 means
// one per CPU core.
func ParallelizeN(items, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}
	if workers == 1 {
		fn(0, items)
		return
	}

	// ceiling division
	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold は items が threshold 以下なら呼び出し元の
// goroutine で fn(0, items) を一度だけ実行する。単一レコードの推論で
// goroutine を立てないために使う。
func ParallelizeWithThreshold(items, threshold, workers int, fn func(start, end int)) {
	if items <= threshold {
		if items > 0 {
			fn(0, items)
		}
		return
	}
	ParallelizeN(items, workers, fn)
}

// ForEach runs fn(i) for every i in [0, items) on up to workers goroutines
// and returns the first non-nil error. Every index is visited even after an
// error so callers may rely on fully populated outputs when err is nil.
func ForEach(items, workers int, fn func(i int) error) error {
	var (
		mu       sync.Mutex
		firstErr error
	)
	ParallelizeN(items, workers, func(start, end int) {
		for i := start; i < end; i++ {
			if err := fn(i); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}
	})
	return firstErr
}
