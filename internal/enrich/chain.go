package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/shelver/internal/apperr"
	"github.com/JonMunkholm/shelver/internal/logging"
	"github.com/JonMunkholm/shelver/internal/metrics"
)

// Link is one provider in the chain with its own breaker and attempt timeout.
type Link struct {
	Provider Provider
	Breaker  *Breaker
	Timeout  time.Duration
}

// Chain tries providers in order until one yields usable metadata.
type Chain struct {
	links    []Link
	retry    Retrier
	cache    *Cache
	recorder metrics.Recorder
	now      func() time.Time
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithRetrier overrides the per-provider retry ladder.
func WithRetrier(r Retrier) ChainOption {
	return func(c *Chain) { c.retry = r }
}

// WithCache attaches a result cache. A nil cache disables caching.
func WithCache(cache *Cache) ChainOption {
	return func(c *Chain) { c.cache = cache }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) ChainOption {
	return func(c *Chain) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithClock overrides the clock used for attempt timing.
func WithClock(now func() time.Time) ChainOption {
	return func(c *Chain) {
		if now != nil {
			c.now = now
		}
	}
}

// NewChain builds a chain over links in the given order. Links without a
// breaker get a default one.
func NewChain(links []Link, opts ...ChainOption) *Chain {
	c := &Chain{
		retry: Retrier{
			Attempts:  DefaultRetryAttempts,
			BaseDelay: DefaultRetryBaseDelay,
		},
		recorder: metrics.Nop{},
		now:      time.Now,
	}
	for _, l := range links {
		if l.Provider == nil {
			continue
		}
		if l.Breaker == nil {
			l.Breaker = NewBreaker(BreakerConfig{})
		}
		c.links = append(c.links, l)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Providers returns the provider kinds in chain order.
func (c *Chain) Providers() []Kind {
	out := make([]Kind, len(c.links))
	for i, l := range c.links {
		out[i] = l.Provider.Kind()
	}
	return out
}

// BreakerStates reports each provider's breaker state.
func (c *Chain) BreakerStates() map[Kind]State {
	out := make(map[Kind]State, len(c.links))
	for _, l := range c.links {
		out[l.Provider.Kind()] = l.Breaker.State()
	}
	return out
}

// Enrich resolves metadata for req. It never returns nil and never panics
// outward: when every provider fails the result is built from req.Known,
// tagged degraded if that data names the item and failed otherwise.
func (c *Chain) Enrich(ctx context.Context, req Request) *Result {
	logger := logging.FromContext(ctx).With("identifiers", req.Describe())

	key := req.Key()
	if cached, ok := c.cache.Get(key); ok {
		cached.Cached = true
		logger.Debug("enrichment cache hit", "source", cached.Source)
		return &cached
	}

	result := &Result{}
	var lastErr error

	if req.Empty() {
		lastErr = apperr.New(apperr.KindValidation, "enrich", "no identifiers to look up")
	}

	for _, link := range c.links {
		if req.Empty() {
			break
		}
		kind := link.Provider.Kind()
		md, attempt := c.try(ctx, link, req.Identifiers)
		result.Attempts = append(result.Attempts, attempt)

		if attempt.Err == nil {
			logger.Info("enrichment succeeded", "provider", kind, "calls", attempt.Calls)
			result.Metadata = md
			result.Source = string(kind)
			result.Status = StatusCompleted
			c.cache.Put(key, *result)
			return result
		}

		lastErr = attempt.Err
		if attempt.Skipped {
			logger.Warn("enrichment provider skipped, circuit open", "provider", kind)
		} else {
			logger.Warn("enrichment provider failed",
				"provider", kind,
				"calls", attempt.Calls,
				"kind", apperr.KindOf(attempt.Err).String(),
				"error", attempt.Err,
			)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no enrichment providers configured")
	}

	result.Metadata = req.Known
	result.Source = SourceManifest
	result.Err = fmt.Errorf("all enrichment providers failed: %w", lastErr)
	if req.Known.Usable() {
		result.Status = StatusDegraded
	} else {
		result.Status = StatusFailed
	}
	logger.Warn("enrichment degraded", "status", result.Status, "error", lastErr)
	return result
}

func (c *Chain) try(ctx context.Context, link Link, id Identifiers) (md Metadata, attempt Attempt) {
	kind := link.Provider.Kind()
	attempt.Provider = kind
	start := c.now()

	defer func() {
		attempt.Elapsed = c.now().Sub(start)
		c.recorder.ProviderAttempt(string(kind), outcome(attempt), attempt.Calls, attempt.Elapsed)
	}()

	md, err := Protect(ctx, link.Breaker, func(ctx context.Context) (Metadata, error) {
		out, calls, err := Retry(ctx, c.retry, link.Timeout, func(ctx context.Context) (Metadata, error) {
			return lookup(ctx, link.Provider, id)
		})
		attempt.Calls = calls
		return out, err
	})
	if errors.Is(err, ErrCircuitOpen) && attempt.Calls == 0 {
		attempt.Skipped = true
	}
	attempt.Err = err
	return md, attempt
}

// lookup converts a provider panic into an error so the breaker still
// records the outcome.
func lookup(ctx context.Context, p Provider, id Identifiers) (md Metadata, err error) {
	defer func() {
		if r := recover(); r != nil {
			md = Metadata{}
			err = apperr.New(apperr.KindInternal, string(p.Kind()), fmt.Sprintf("provider panic: %v", r))
		}
	}()

	md, err = p.Lookup(ctx, id)
	if err != nil {
		return Metadata{}, err
	}
	if !md.Usable() {
		return Metadata{}, apperr.New(apperr.KindInvalidPayload, string(p.Kind()), "result missing title and author")
	}
	return md, nil
}

func outcome(a Attempt) string {
	switch {
	case a.Skipped:
		return "skipped"
	case a.Err != nil:
		return "error"
	default:
		return "completed"
	}
}

// BreakerLogger returns an OnStateChange hook that logs and records
// transitions for provider kind.
func BreakerLogger(kind Kind, logger *slog.Logger, recorder metrics.Recorder) func(from, to State) {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return func(from, to State) {
		logger.Warn("circuit breaker state change", "provider", kind, "from", from.String(), "to", to.String())
		recorder.BreakerTransition(string(kind), from.String(), to.String())
	}
}
