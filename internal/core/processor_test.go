package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestProcessBatch_AllSucceed(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23}

	res := ProcessBatch(context.Background(), items, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}, ProcessOptions{SubBatchSize: 5, Concurrency: 2})

	if len(res.Failures) != 0 {
		t.Fatalf("Failures = %v, want none", res.Failures)
	}
	if res.Succeeded() != len(items) {
		t.Errorf("Succeeded() = %d, want %d", res.Succeeded(), len(items))
	}
	for i, n := range items {
		if res.Results[i] != n*2 {
			t.Errorf("Results[%d] = %d, want %d", i, res.Results[i], n*2)
		}
	}
}

func TestProcessBatch_IsolatesFailures(t *testing.T) {
	items := []string{"ok", "fail", "ok", "panic", "ok"}
	boom := errors.New("boom")

	res := ProcessBatch(context.Background(), items, func(_ context.Context, s string) (string, error) {
		switch s {
		case "fail":
			return "", boom
		case "panic":
			panic("kaboom")
		}
		return s, nil
	}, ProcessOptions{SubBatchSize: 2, Concurrency: 3})

	if len(res.Failures) != 2 {
		t.Fatalf("len(Failures) = %d, want 2", len(res.Failures))
	}
	if res.Failures[0].Index != 1 || !errors.Is(res.Failures[0].Err, boom) {
		t.Errorf("Failures[0] = %+v, want index 1 with boom", res.Failures[0])
	}
	if res.Failures[1].Index != 3 || res.Failures[1].Err.Error() != "panic: kaboom" {
		t.Errorf("Failures[1] = %+v, want index 3 with panic", res.Failures[1])
	}
	if res.Succeeded() != 3 {
		t.Errorf("Succeeded() = %d, want 3", res.Succeeded())
	}
}

func TestProcessBatch_BoundsConcurrency(t *testing.T) {
	items := make([]int, 40)
	var (
		running int32
		peak    int32
	)

	ProcessBatch(context.Background(), items, func(_ context.Context, _ int) (struct{}, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return struct{}{}, nil
	}, ProcessOptions{SubBatchSize: 4, Concurrency: 3})

	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestProcessBatch_SequentialWithinSubBatch(t *testing.T) {
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	var (
		mu    sync.Mutex
		order []int
	)

	ProcessBatch(context.Background(), items, func(_ context.Context, n int) (int, error) {
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		return n, nil
	}, ProcessOptions{SubBatchSize: 10, Concurrency: 4})

	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestProcessBatch_Progress(t *testing.T) {
	items := make([]int, 17)
	var (
		calls []int
		total int
	)

	ProcessBatch(context.Background(), items, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, ProcessOptions{
		SubBatchSize: 3,
		Concurrency:  3,
		OnProgress: func(completed, n int) {
			calls = append(calls, completed)
			total = n
		},
	})

	if len(calls) != len(items) {
		t.Fatalf("progress calls = %d, want %d", len(calls), len(items))
	}
	for i, c := range calls {
		if c != i+1 {
			t.Errorf("calls[%d] = %d, want %d", i, c, i+1)
		}
	}
	if total != len(items) {
		t.Errorf("total = %d, want %d", total, len(items))
	}
}

func TestProcessBatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called int32
	res := ProcessBatch(ctx, []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		atomic.AddInt32(&called, 1)
		return n, nil
	}, ProcessOptions{})

	if called != 0 {
		t.Errorf("fn called %d times, want 0", called)
	}
	if len(res.Failures) != 3 {
		t.Fatalf("len(Failures) = %d, want 3", len(res.Failures))
	}
	if !errors.Is(res.Failures[0].Err, context.Canceled) {
		t.Errorf("Failures[0].Err = %v, want context.Canceled", res.Failures[0].Err)
	}
}

func TestProcessBatch_Empty(t *testing.T) {
	res := ProcessBatch(context.Background(), nil, func(_ context.Context, n int) (int, error) {
		return n, nil
	}, ProcessOptions{})
	if len(res.Results) != 0 || len(res.Failures) != 0 {
		t.Errorf("ProcessBatch(nil) = %+v, want empty", res)
	}
}
