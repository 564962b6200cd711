package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type ctxKey string

func TestTaskRunner_DetachedFromParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey("k"), "v"))
	r := NewTaskRunner(parent)
	cancel()

	got := make(chan error, 1)
	value := make(chan any, 1)
	if _, err := r.Submit(Job{Run: func(ctx context.Context) error {
		value <- ctx.Value(ctxKey("k"))
		got <- ctx.Err()
		return nil
	}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := <-got; err != nil {
		t.Errorf("job ctx.Err() = %v, want nil", err)
	}
	if v := <-value; v != "v" {
		t.Errorf("job ctx value = %v, want v", v)
	}
}

func TestTaskRunner_WaitDrainsAndStops(t *testing.T) {
	r := NewTaskRunner(context.Background())
	var ran int32
	for i := 0; i < 5; i++ {
		id, err := r.Submit(Job{Run: func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		if err != nil || id == "" {
			t.Fatalf("Submit() = %q, %v", id, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if ran != 5 {
		t.Errorf("jobs run = %d, want 5", ran)
	}

	if !r.Stopped() {
		t.Error("Stopped() = false after Wait")
	}
	if _, err := r.Submit(Job{Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrRunnerStopped) {
		t.Errorf("Submit() after Wait error = %v, want ErrRunnerStopped", err)
	}
}

func TestTaskRunner_ShutdownCancelsStragglers(t *testing.T) {
	r := NewTaskRunner(context.Background())
	cancelled := make(chan struct{})
	r.Submit(Job{Run: func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want deadline exceeded", err)
	}

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled by Shutdown")
	}
}

func TestTaskRunner_RecoversPanics(t *testing.T) {
	r := NewTaskRunner(context.Background())
	r.Submit(Job{Run: func(context.Context) error { panic("boom") }})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Errorf("Wait() error = %v, want nil", err)
	}
}
