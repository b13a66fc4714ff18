// Package async provides panic-safe, timeout-bound goroutine helpers.
//
// Use SafeGo instead of bare `go func()` for fire-and-forget work (cache
// invalidation, post-charge bookkeeping) so a panic in background work never
// takes the process down and abandoned goroutines cannot leak.
package async

import (
	"context"
	"log"
	"runtime/debug"
	"sync"
	"time"
)

// SafeGo executes a function in a goroutine with context cancellation,
// panic recovery, timeout enforcement and error logging.
//
// Example:
//
//	SafeGo(r.Context(), 5*time.Second, "invalidate balance cache", func(ctx context.Context) error {
//	    return cache.Invalidate(ctx, accountID)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.Printf("[SafeGo] PANIC in %s: %v\nStack trace:\n%s",
					taskName, r, string(debug.Stack()))
			}
		}()

		if err := fn(ctx); err != nil {
			log.Printf("[SafeGo] Error in %s: %v", taskName, err)
		}
	}()
}

// Batch processes a slice of items concurrently with a bounded number of
// workers, each task panic-recovered and timeout-bound. Returns the errors
// encountered, in no particular order.
//
// The reconciliation sweep uses this to sync many accounts without letting a
// single slow billing-source lookup serialize the whole run.
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	if workers <= 0 {
		workers = 1
	}

	workCh := make(chan T)
	errCh := make(chan error, len(items))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				func() {
					taskCtx, cancel := context.WithTimeout(ctx, timeout)
					defer cancel()
					defer func() {
						if r := recover(); r != nil {
							log.Printf("[Batch] PANIC in %s: %v\nStack trace:\n%s",
								taskName, r, string(debug.Stack()))
						}
					}()

					if err := fn(taskCtx, item); err != nil {
						errCh <- err
					}
				}()
			}
		}()
	}

	for _, item := range items {
		select {
		case workCh <- item:
		case <-ctx.Done():
			close(workCh)
			wg.Wait()
			close(errCh)
			errs := []error{ctx.Err()}
			for err := range errCh {
				errs = append(errs, err)
			}
			return errs
		}
	}
	close(workCh)
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}
