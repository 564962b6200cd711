package core

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/shelver/internal/enrich"
	"github.com/JonMunkholm/shelver/internal/metrics"
)

// Enricher resolves metadata for one record. *enrich.Chain satisfies it.
type Enricher interface {
	Enrich(ctx context.Context, req enrich.Request) *enrich.Result
}

// ImageStore saves uploaded cover images and returns a reference to store
// on the record.
type ImageStore interface {
	Save(ctx context.Context, batchID string, img Image) (string, error)
}

// Options configures a Service. Zero values use the package defaults.
type Options struct {
	BatchLimit             int
	DefaultSectionCapacity int
	MaxConcurrentBatches   int
	MaxWaitTime            time.Duration
	// BatchTimeout bounds one background batch job. Zero means no bound.
	BatchTimeout time.Duration
	Processing   ProcessOptions
	Placement    PlacementOptions
}

// Service ingests manifests and tracks their batches.
type Service struct {
	store    Store
	ledger   *Ledger
	placer   *Placer
	enricher Enricher
	images   ImageStore
	runner   *TaskRunner
	limiter  *BatchLimiter
	recorder metrics.Recorder
	opts     Options
	now      func() time.Time

	mu     sync.RWMutex
	active map[string]*activeBatch
}

// activeBatch is the in-memory view of a running batch job.
type activeBatch struct {
	StartedAt time.Time
	Completed int
	Total     int
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithImageStore sets where uploaded images are saved. Without one, images
// are ignored.
func WithImageStore(images ImageStore) ServiceOption {
	return func(s *Service) { s.images = images }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithTaskRunner sets the runner background jobs are submitted to.
func WithTaskRunner(r *TaskRunner) ServiceOption {
	return func(s *Service) { s.runner = r }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service over store and enricher.
func NewService(store Store, enricher Enricher, opts Options, options ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		enricher: enricher,
		recorder: metrics.Nop{},
		opts:     opts,
		now:      time.Now,
		active:   make(map[string]*activeBatch),
	}
	for _, o := range options {
		o(s)
	}
	if s.runner == nil {
		s.runner = NewTaskRunner(context.Background())
	}
	s.ledger = NewLedger(store, opts.DefaultSectionCapacity)
	s.placer = NewPlacer(s.ledger, opts.Placement, s.recorder)
	s.limiter = NewBatchLimiter(opts.MaxConcurrentBatches, opts.MaxWaitTime)
	return s
}

// Ledger exposes the capacity ledger, for operator tooling.
func (s *Service) Ledger() *Ledger { return s.ledger }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Wait blocks until every background batch job has finished or ctx ends.
// No new batches are accepted afterwards.
func (s *Service) Wait(ctx context.Context) error { return s.runner.Wait(ctx) }

// Shutdown drains background jobs and then cancels any still running.
func (s *Service) Shutdown(ctx context.Context) error { return s.runner.Shutdown(ctx) }

func (s *Service) track(batchID string, total int) {
	s.mu.Lock()
	s.active[batchID] = &activeBatch{StartedAt: s.now(), Total: total}
	s.mu.Unlock()
}

func (s *Service) progress(batchID string, completed, total int) {
	s.mu.Lock()
	if a, ok := s.active[batchID]; ok {
		a.Completed, a.Total = completed, total
	}
	s.mu.Unlock()
}

func (s *Service) untrack(batchID string) {
	s.mu.Lock()
	delete(s.active, batchID)
	s.mu.Unlock()
}
