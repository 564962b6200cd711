package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/shelver/internal/logging"
)

// Processor defaults.
const (
	DefaultSubBatchSize = 10
	DefaultConcurrency  = 3
)

// ProcessOptions tunes ProcessBatch. Zero values use the defaults.
type ProcessOptions struct {
	SubBatchSize int
	Concurrency  int
	OnProgress   ProgressCallback
}

// ItemFailure is one item whose function returned an error or panicked.
type ItemFailure[T any] struct {
	Item  T
	Index int
	Err   error
}

// ProcessResult holds per-item outcomes. Results[i] is the zero value for a
// failed item.
type ProcessResult[T, R any] struct {
	Results  []R
	Failures []ItemFailure[T]
}

// Succeeded is the number of items that did not fail.
func (r ProcessResult[T, R]) Succeeded() int {
	return len(r.Results) - len(r.Failures)
}

// ProcessBatch runs fn over items in sub-batches of SubBatchSize, at most
// Concurrency sub-batches at a time. Items inside a sub-batch run in order.
// A failing or panicking item never stops the others. OnProgress calls are
// serialized and report (completed, total) after every item.
//
// ProcessBatch returns early only when ctx is cancelled; items not started
// by then are recorded as failures with ctx.Err().
func ProcessBatch[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), opts ProcessOptions) ProcessResult[T, R] {
	size := opts.SubBatchSize
	if size <= 0 {
		size = DefaultSubBatchSize
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	total := len(items)
	out := ProcessResult[T, R]{Results: make([]R, total)}

	var (
		mu        sync.Mutex
		completed int
		failures  = make([]*ItemFailure[T], total)
	)
	finish := func(i int, res R, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures[i] = &ItemFailure[T]{Item: items[i], Index: i, Err: err}
		} else {
			out.Results[i] = res
		}
		completed++
		if opts.OnProgress != nil {
			opts.OnProgress(completed, total)
		}
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for start := 0; start < total; start += size {
		end := min(start+size, total)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := ctx.Err(); err != nil {
					finish(i, *new(R), err)
					continue
				}
				res, err := safeCall(ctx, items[i], fn)
				finish(i, res, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failures {
		if f != nil {
			out.Failures = append(out.Failures, *f)
		}
	}
	return out
}

func safeCall[T, R any](ctx context.Context, item T, fn func(context.Context, T) (R, error)) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("item panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, item)
}
