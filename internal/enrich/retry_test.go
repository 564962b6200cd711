package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

func TestRetrier_Delay(t *testing.T) {
	r := Retrier{BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
	}

	for _, tt := range tests {
		if got := r.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetry_BacksOffOnTransient(t *testing.T) {
	var slept []time.Duration
	r := Retrier{Attempts: 3, BaseDelay: time.Second, Sleeper: func(d time.Duration) { slept = append(slept, d) }}

	calls := 0
	_, n, err := Retry(context.Background(), r, 0, func(context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.KindTransient, "test", "timeout")
	})

	if err == nil {
		t.Fatal("Retry() expected error")
	}
	if calls != 3 || n != 3 {
		t.Errorf("calls = %d, reported = %d, want 3", calls, n)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Errorf("slept = %v, want %v", slept, want)
	}
}

func TestRetry_StopsOnInvalidPayload(t *testing.T) {
	r := Retrier{Attempts: 3, BaseDelay: time.Second, Sleeper: func(time.Duration) {}}

	calls := 0
	_, n, err := Retry(context.Background(), r, 0, func(context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.KindInvalidPayload, "test", "not json")
	})

	if !apperr.Is(err, apperr.KindInvalidPayload) {
		t.Errorf("Retry() error = %v, want invalid payload", err)
	}
	if calls != 1 || n != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_SucceedsAfterFailure(t *testing.T) {
	r := Retrier{Attempts: 3, BaseDelay: time.Millisecond, Sleeper: func(time.Duration) {}}

	calls := 0
	got, n, err := Retry(context.Background(), r, 0, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", apperr.New(apperr.KindTransient, "test", "503")
		}
		return "done", nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if got != "done" || n != 2 {
		t.Errorf("Retry() = %q after %d calls, want %q after 2", got, n, "done")
	}
}

func TestRetry_PerAttemptTimeout(t *testing.T) {
	r := Retrier{Attempts: 2, Sleeper: func(time.Duration) {}}

	calls := 0
	_, n, err := Retry(context.Background(), r, 10*time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Retry() error = %v, want deadline exceeded", err)
	}
	if calls != 2 || n != 2 {
		t.Errorf("calls = %d, want 2 (timeouts are retryable)", calls)
	}
}

func TestRetry_ParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := Retrier{Attempts: 5, Sleeper: func(time.Duration) {}}

	calls := 0
	_, _, err := Retry(ctx, r, 0, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, apperr.New(apperr.KindTransient, "test", "reset")
	})

	if err == nil {
		t.Fatal("Retry() expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after parent cancel", calls)
	}
}
