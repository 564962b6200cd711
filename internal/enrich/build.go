package enrich

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/shelver/internal/config"
	"github.com/JonMunkholm/shelver/internal/metrics"
)

// FromConfig assembles the provider chain described by cfg. Disabled
// providers are left out, as are language models without an API key.
func FromConfig(cfg config.EnrichmentConfig, logger *slog.Logger, recorder metrics.Recorder) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	order, err := ParseOrder(cfg.Order)
	if err != nil {
		return nil, err
	}
	if len(order) == 0 {
		order = DefaultOrder()
	}

	var links []Link
	for _, kind := range order {
		pc, _ := cfg.Provider(string(kind))
		if !pc.Enabled {
			logger.Info("enrichment provider disabled", "provider", kind)
			continue
		}
		if kind.IsAI() && pc.APIKey == "" {
			logger.Info("enrichment provider skipped, no api key", "provider", kind)
			continue
		}

		timeout := cfg.LookupTimeout
		if kind.IsAI() {
			timeout = cfg.AITimeout
		}

		provider, err := newProvider(kind, pc, &http.Client{Timeout: timeout + time.Second})
		if err != nil {
			return nil, err
		}

		links = append(links, Link{
			Provider: provider,
			Timeout:  timeout,
			Breaker: NewBreaker(BreakerConfig{
				Threshold:     cfg.BreakerThreshold,
				Window:        cfg.BreakerWindow,
				Buckets:       cfg.BreakerBuckets,
				MinRequests:   cfg.BreakerMinRequests,
				ResetTimeout:  cfg.BreakerResetTimeout,
				OnStateChange: BreakerLogger(kind, logger, recorder),
			}),
		})
	}

	chain := NewChain(links,
		WithRetrier(Retrier{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}),
		WithCache(NewCache(cfg.CacheSize, cfg.CacheTTL, nil)),
		WithRecorder(recorder),
	)
	logger.Info("enrichment chain ready", "providers", chain.Providers())
	return chain, nil
}

func newProvider(kind Kind, pc config.ProviderConfig, client *http.Client) (Provider, error) {
	switch kind {
	case OpenLibrary:
		return NewOpenLibrary(pc.BaseURL, client), nil
	case GoogleBooks:
		return NewGoogleBooks(pc.BaseURL, pc.APIKey, client), nil
	case Claude:
		return NewModelProvider(Claude, ClaudeCompleter(pc.BaseURL, pc.APIKey, pc.Model, client)), nil
	case OpenAI:
		return NewModelProvider(OpenAI, OpenAICompleter(pc.BaseURL, pc.APIKey, pc.Model, client)), nil
	case Gemini:
		return NewModelProvider(Gemini, GeminiCompleter(pc.APIKey, pc.Model)), nil
	}
	return nil, fmt.Errorf("unknown enrichment provider %q", kind)
}
