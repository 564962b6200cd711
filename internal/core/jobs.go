package core

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/shelver/internal/logging"
)

// ErrRunnerStopped is returned by Submit after Wait has begun.
var ErrRunnerStopped = errors.New("task runner stopped")

// Job is a unit of background work.
type Job struct {
	ID      string
	BatchID string
	Run     func(ctx context.Context) error
}

// TaskRunner runs jobs on its own context, detached from the request that
// submitted them. The context is cancelled only by Shutdown.
type TaskRunner struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewTaskRunner creates a runner whose jobs inherit values from parent but
// never its cancellation.
func NewTaskRunner(parent context.Context) *TaskRunner {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &TaskRunner{ctx: ctx, cancel: cancel}
}

// Submit starts job in the background and returns its id.
func (r *TaskRunner) Submit(job Job) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return "", ErrRunnerStopped
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx := r.ctx
		if job.BatchID != "" {
			ctx = logging.ForBatch(ctx, job.BatchID)
		}
		log := logging.FromContext(ctx).With("job_id", job.ID)
		defer func() {
			if p := recover(); p != nil {
				log.Error("job panicked", "panic", p)
			}
		}()
		if err := job.Run(ctx); err != nil {
			log.Error("job failed", "error", err)
		}
	}()
	return job.ID, nil
}

// Stopped reports whether the runner has stopped accepting jobs.
func (r *TaskRunner) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Wait stops accepting jobs and blocks until every running job returns or
// ctx ends.
func (r *TaskRunner) Wait(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown waits like Wait and then cancels the jobs' context, whether or not
// they finished.
func (r *TaskRunner) Shutdown(ctx context.Context) error {
	err := r.Wait(ctx)
	r.cancel()
	return err
}
