// Package runner executes independent top-level jobs with bounded
// parallelism and live progress reporting. Ordering of results matches
// the input regardless of completion order.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
)

// RunAll runs handler over every item with at most concurrency workers.
// Results land at their item's original index. The first handler error
// cancels the batch for the caller: no new items are claimed, in-flight
// handlers finish undisturbed, and that first error is returned.
func RunAll[T, R any](
	ctx context.Context,
	items []T,
	concurrency int,
	progress *Progress,
	handler func(ctx context.Context, index int, item T) (R, error),
) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	var (
		cursor   atomic.Int64
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
		failed   atomic.Bool
	)

	wg.Add(concurrency)
	for w := 0; w < concurrency; w++ {
		go func() {
			defer wg.Done()
			for {
				if failed.Load() || ctx.Err() != nil {
					return
				}
				idx := int(cursor.Add(1)) - 1
				if idx >= len(items) {
					return
				}

				if progress != nil {
					progress.jobStarted()
				}
				result, err := handler(ctx, idx, items[idx])
				if progress != nil {
					progress.jobFinished(err)
				}

				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						failed.Store(true)
					})
					return
				}
				results[idx] = result
			}
		}()
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
