package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ParallelResult holds the result of one item processed by ParallelCollect.
type ParallelResult[R any] struct {
	Value R
	Err   error
}

// ParallelCollect fans items out over a bounded worker pool and collects one
// result per processed item. The first failure cancels the remaining work;
// the returned error is the first non-context error seen.
//
// onProgress, when non-nil, is called after each item completes successfully.
func ParallelCollect[T any, R any](
	ctx context.Context,
	items []T,
	workers int,
	process func(ctx context.Context, item T) (R, error),
	onProgress func(done int64, total int64),
) ([]ParallelResult[R], error) {
	if len(items) == 0 {
		return nil, nil
	}

	workers = normalizeWorkers(workers, len(items))
	total := int64(len(items))

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan T, len(items))
	results := make(chan ParallelResult[R], len(items))
	var done int64

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				if workerCtx.Err() != nil {
					return
				}
				value, err := process(workerCtx, item)
				if err != nil {
					results <- ParallelResult[R]{Err: err}
					cancel()
					continue
				}
				n := atomic.AddInt64(&done, 1)
				if onProgress != nil {
					onProgress(n, total)
				}
				results <- ParallelResult[R]{Value: value}
			}
		}()
	}

	for _, item := range items {
		jobs <- item
	}
	close(jobs)
	wg.Wait()
	close(results)

	out := make([]ParallelResult[R], 0, len(items))
	var firstErr error
	var firstNonCancelErr error
	for res := range results {
		out = append(out, res)
		if res.Err != nil {
			if firstErr == nil {
				firstErr = res.Err
			}
			if firstNonCancelErr == nil && !errors.Is(res.Err, context.Canceled) {
				firstNonCancelErr = res.Err
			}
		}
	}

	// Cancellation errors are a consequence of the first real failure, so a
	// non-cancel error wins when both occurred.
	if firstNonCancelErr != nil {
		return out, firstNonCancelErr
	}
	return out, firstErr
}

// normalizeWorkers clamps the worker count to [1, itemCount].
func normalizeWorkers(workers, itemCount int) int {
	if workers < 1 {
		workers = 1
	}
	if workers > itemCount {
		workers = itemCount
	}
	return workers
}
