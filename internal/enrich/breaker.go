package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
)

// ErrCircuitOpen is returned without calling the provider while its breaker is open.
var ErrCircuitOpen = &apperr.Error{Kind: apperr.KindUnavailable, Err: errors.New("circuit breaker open")}

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker defaults.
const (
	DefaultBreakerThreshold    = 0.5
	DefaultBreakerWindow       = 10 * time.Second
	DefaultBreakerBuckets      = 10
	DefaultBreakerMinRequests  = 5
	DefaultBreakerResetTimeout = 30 * time.Second
)

// BreakerConfig tunes a Breaker. Zero values take the defaults above.
type BreakerConfig struct {
	// Threshold is the error rate in (0, 1] at which the breaker opens.
	Threshold float64
	// Window is the rolling period the error rate is measured over.
	Window time.Duration
	// Buckets splits Window; older buckets fall off as time advances.
	Buckets int
	// MinRequests is the sample size required before opening.
	MinRequests int
	// ResetTimeout is how long the breaker stays open before one trial call.
	ResetTimeout time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(from, to State)
}

type bucket struct {
	epoch    int64
	success  int
	failures int
}

// Breaker is a rolling-window circuit breaker guarding one provider.
type Breaker struct {
	cfg   BreakerConfig
	width time.Duration

	mu       sync.Mutex
	state    State
	openedAt time.Time
	trial    bool
	buckets  []bucket
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultBreakerThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerWindow
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = DefaultBreakerBuckets
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = DefaultBreakerMinRequests
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultBreakerResetTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	width := cfg.Window / time.Duration(cfg.Buckets)
	if width <= 0 {
		width = time.Millisecond
	}
	return &Breaker{
		cfg:     cfg,
		width:   width,
		buckets: make([]bucket, cfg.Buckets),
	}
}

// State returns the current state, promoting open to half-open once the
// reset timeout has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Counts returns successes and failures inside the rolling window.
func (b *Breaker) Counts() (success, failures int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.countsLocked(b.cfg.Now())
}

// Protect runs fn through the breaker. While open it returns ErrCircuitOpen
// without calling fn. In half-open exactly one caller is admitted as a trial.
func Protect[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	out, err := fn(ctx)
	b.record(err)
	return out, err
}

func (b *Breaker) allow() error {
	var changes [][2]State
	defer func() { b.notify(changes) }()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			return ErrCircuitOpen
		}
		changes = append(changes, b.setLocked(StateHalfOpen))
		b.trial = true
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	var changes [][2]State
	defer func() { b.notify(changes) }()

	failed := countsAsFailure(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.cfg.Now()

	if b.state == StateHalfOpen {
		b.trial = false
		if errors.Is(err, context.Canceled) {
			// No verdict; the next call runs a fresh trial.
			return
		}
		if failed {
			b.openedAt = now
			changes = append(changes, b.setLocked(StateOpen))
			return
		}
		b.resetLocked()
		changes = append(changes, b.setLocked(StateClosed))
		return
	}

	b.addLocked(now, failed)

	if b.state == StateClosed && failed {
		success, failures := b.countsLocked(now)
		total := success + failures
		if total >= b.cfg.MinRequests && float64(failures)/float64(total) >= b.cfg.Threshold {
			b.openedAt = now
			changes = append(changes, b.setLocked(StateOpen))
		}
	}
}

// countsAsFailure ignores outcomes that say nothing about provider health:
// the item was simply unknown, or our own caller gave up.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if apperr.Is(err, apperr.KindNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (b *Breaker) setLocked(to State) [2]State {
	from := b.state
	b.state = to
	return [2]State{from, to}
}

func (b *Breaker) notify(changes [][2]State) {
	if b.cfg.OnStateChange == nil {
		return
	}
	for _, c := range changes {
		if c[0] != c[1] {
			b.cfg.OnStateChange(c[0], c[1])
		}
	}
}

func (b *Breaker) epoch(now time.Time) int64 {
	return now.UnixNano() / int64(b.width)
}

func (b *Breaker) addLocked(now time.Time, failed bool) {
	e := b.epoch(now)
	idx := int(e % int64(len(b.buckets)))
	if b.buckets[idx].epoch != e {
		b.buckets[idx] = bucket{epoch: e}
	}
	if failed {
		b.buckets[idx].failures++
	} else {
		b.buckets[idx].success++
	}
}

func (b *Breaker) countsLocked(now time.Time) (success, failures int) {
	current := b.epoch(now)
	oldest := current - int64(len(b.buckets)) + 1
	for _, bk := range b.buckets {
		if bk.epoch >= oldest && bk.epoch <= current {
			success += bk.success
			failures += bk.failures
		}
	}
	return success, failures
}

func (b *Breaker) resetLocked() {
	for i := range b.buckets {
		b.buckets[i] = bucket{}
	}
}
