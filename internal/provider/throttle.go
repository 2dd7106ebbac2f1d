// Package provider wires the concrete cloud adapters behind the shared
// throttling, retry, and error-classification discipline the aggregator
// relies on.
package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/time/rate"

	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/metrics"
	"github.com/cloudarb/cloudarb/pkg/adapter"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// Throttled wraps an adapter with the provider's I/O discipline: a QPS
// limiter, transient retry with exponential backoff and jitter, and a
// min-poll-interval floor. Non-retryable failures (auth, schema) pass
// through unchanged so the aggregator can quarantine or skip.
type Throttled struct {
	inner   adapter.Adapter
	limiter *rate.Limiter
	backoff config.BackoffConfig
	minPoll time.Duration

	lastFetch time.Time
}

// Throttle builds the wrapper, resolving zero config values from the
// adapter's own capabilities.
func Throttle(inner adapter.Adapter, cfg config.AdapterConfig) *Throttled {
	caps := inner.Capabilities()
	qps := cfg.RateLimitQPS
	if qps <= 0 {
		qps = caps.SustainableQPS
	}
	if qps <= 0 {
		qps = 1
	}
	minPoll := cfg.MinPollInterval
	if minPoll <= 0 {
		minPoll = caps.MinPollInterval
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(qps), 1),
		backoff: cfg.Backoff,
		minPoll: minPoll,
	}
}

func (t *Throttled) Name() pricing.Provider { return t.inner.Name() }

func (t *Throttled) Capabilities() adapter.Capabilities { return t.inner.Capabilities() }

// MinPollInterval is the effective floor after config overrides.
func (t *Throttled) MinPollInterval() time.Duration { return t.minPoll }

// FetchPricing drives the inner adapter under the rate limit, retrying
// transient failures. After the retry budget is exhausted the error surfaces
// with code Stale so the aggregator retains (and ages) the prior entries.
func (t *Throttled) FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error) {
	if since := time.Since(t.lastFetch); t.lastFetch != (time.Time{}) && since < t.minPoll {
		// The cycle driver normally respects minPoll; this is the backstop
		// for ad-hoc callers.
		select {
		case <-time.After(t.minPoll - since):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	name := string(t.inner.Name())
	var points []pricing.PricePoint

	attempts := t.backoff.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	err := retry.Do(
		func() error {
			if err := t.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			start := time.Now()
			pts, err := t.inner.FetchPricing(ctx, filter)
			metrics.AdapterFetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			if err != nil {
				if !Retryable(err) {
					return retry.Unrecoverable(err)
				}
				metrics.AdapterErrors.WithLabelValues(name, "transient").Inc()
				return err
			}
			points = pts
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(t.backoff.InitialDelay),
		retry.MaxDelay(t.backoff.MaxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		switch pricing.CodeOf(err) {
		case pricing.CodeAuthFailed:
			metrics.AdapterErrors.WithLabelValues(name, "auth").Inc()
			return nil, err
		case pricing.CodeParseError:
			metrics.AdapterErrors.WithLabelValues(name, "parse").Inc()
			return nil, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		slog.Warn("adapter: fetch exhausted retry budget", "provider", name, "error", err)
		return nil, pricing.WrapError(pricing.CodeStale, err, "%s pricing fetch failed after %d attempts", name, attempts)
	}

	t.lastFetch = time.Now()
	return points, nil
}

// Retryable reports whether an adapter error is transient. Auth and schema
// failures are terminal for the cycle.
func Retryable(err error) bool {
	switch pricing.CodeOf(err) {
	case pricing.CodeAuthFailed, pricing.CodeParseError:
		return false
	}
	return true
}
