// Package aggregator drives the fetch cycle: it fans out to the provider
// adapters, merges their observations into an immutable pricing table, and
// publishes each new generation to subscribers.
package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/metrics"
	"github.com/cloudarb/cloudarb/internal/provider"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// Aggregator owns the pricing table. The table is an atomic pointer to an
// immutable snapshot; readers never block writers and always see a complete
// generation.
type Aggregator struct {
	cfg      config.AggregatorConfig
	adapters []*provider.Throttled
	history  *store.History

	table      atomic.Pointer[pricing.Snapshot]
	generation atomic.Uint64

	mu          sync.Mutex
	subscribers map[int]chan uint64
	nextSubID   int
	lastFetch   map[pricing.Provider]time.Time
	quarantined map[pricing.Provider]bool

	readyOnce sync.Once
	ready     chan struct{}
}

func New(cfg config.AggregatorConfig, adapters []*provider.Throttled, history *store.History) *Aggregator {
	a := &Aggregator{
		cfg:         cfg,
		adapters:    adapters,
		history:     history,
		subscribers: make(map[int]chan uint64),
		lastFetch:   make(map[pricing.Provider]time.Time),
		quarantined: make(map[pricing.Provider]bool),
		ready:       make(chan struct{}),
	}
	a.table.Store(&pricing.Snapshot{Points: map[pricing.LineKey]pricing.PricePoint{}})
	return a
}

// Run executes fetch cycles until the context is cancelled. The first cycle
// starts immediately.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CycleInterval)
	defer ticker.Stop()

	a.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runCycle(ctx)
		}
	}
}

// Snapshot returns the current table generation. Never nil.
func (a *Aggregator) Snapshot() *pricing.Snapshot {
	return a.table.Load()
}

// WaitReady blocks until the first publish with at least one line, the grace
// period elapses, or the context ends. It returns a PricingUnavailable error
// in the latter two cases.
func (a *Aggregator) WaitReady(ctx context.Context) error {
	select {
	case <-a.ready:
		return nil
	default:
	}
	grace := a.cfg.ColdStartGrace
	if grace <= 0 {
		grace = 15 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-a.ready:
		return nil
	case <-timer.C:
		return pricing.NewError(pricing.CodePricingUnavailable, "no pricing data after %v cold-start grace", grace)
	case <-ctx.Done():
		return pricing.WrapError(pricing.CodePricingUnavailable, ctx.Err(), "waiting for first pricing publish")
	}
}

// Subscribe registers a generation listener. The channel is buffered; when a
// slow subscriber falls behind, intermediate generations are coalesced into
// the latest one rather than queued. Cancel must be called to release the
// subscription.
func (a *Aggregator) Subscribe() (<-chan uint64, func()) {
	buf := a.cfg.SubscriberBuffer
	if buf < 1 {
		buf = 1
	}
	ch := make(chan uint64, buf)

	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = ch
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		delete(a.subscribers, id)
		a.mu.Unlock()
	}
	return ch, cancel
}

// Quarantined reports the providers currently excluded after auth failures.
func (a *Aggregator) Quarantined() []pricing.Provider {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []pricing.Provider
	for p := range a.quarantined {
		out = append(out, p)
	}
	return out
}

// Unquarantine clears a provider's quarantine, typically after a credential
// rotation and SIGHUP.
func (a *Aggregator) Unquarantine(p pricing.Provider) {
	a.mu.Lock()
	delete(a.quarantined, p)
	a.mu.Unlock()
	metrics.AdapterQuarantined.WithLabelValues(string(p)).Set(0)
}

type fetchResult struct {
	provider pricing.Provider
	points   []pricing.PricePoint
	err      error
}

// runCycle fans out to all eligible adapters under the cycle deadline, then
// merges whatever arrived. Adapters that miss the deadline contribute nothing
// this cycle; their previous entries age toward the staleness ceiling.
func (a *Aggregator) runCycle(ctx context.Context) {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, a.cfg.CycleDeadline)
	defer cancel()

	eligible := a.eligibleAdapters(start)

	results := make([]fetchResult, len(eligible))
	g, gctx := errgroup.WithContext(cycleCtx)
	for i, ad := range eligible {
		i, ad := i, ad
		g.Go(func() error {
			points, err := ad.FetchPricing(gctx, pricing.Filter{})
			results[i] = fetchResult{provider: ad.Name(), points: points, err: err}
			return nil
		})
	}
	g.Wait()

	fresh := make(map[pricing.Provider][]pricing.PricePoint, len(results))
	for _, res := range results {
		if res.err != nil {
			a.handleFetchError(res.provider, res.err)
			continue
		}
		a.mu.Lock()
		a.lastFetch[res.provider] = time.Now()
		a.mu.Unlock()
		fresh[res.provider] = res.points
	}

	a.publish(fresh)

	metrics.CycleDuration.Observe(time.Since(start).Seconds())
	metrics.CyclesTotal.Inc()
}

// eligibleAdapters filters out quarantined providers and those inside their
// min poll interval.
func (a *Aggregator) eligibleAdapters(now time.Time) []*provider.Throttled {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*provider.Throttled
	for _, ad := range a.adapters {
		name := ad.Name()
		if a.quarantined[name] {
			continue
		}
		if last, ok := a.lastFetch[name]; ok && now.Sub(last) < ad.MinPollInterval() {
			continue
		}
		out = append(out, ad)
	}
	return out
}

func (a *Aggregator) handleFetchError(p pricing.Provider, err error) {
	name := string(p)
	switch pricing.CodeOf(err) {
	case pricing.CodeAuthFailed:
		a.mu.Lock()
		first := !a.quarantined[p]
		a.quarantined[p] = true
		a.mu.Unlock()
		if first {
			metrics.AdapterQuarantined.WithLabelValues(name).Set(1)
			slog.Error("aggregator: provider quarantined after auth failure", "provider", name, "error", err)
		}
	case pricing.CodeParseError:
		slog.Error("aggregator: provider response failed schema validation", "provider", name, "error", err)
	default:
		slog.Warn("aggregator: provider fetch failed, retaining prior entries", "provider", name, "error", err)
	}
}

// publish merges fresh observations over the previous snapshot and swaps in
// the next generation. Merge rules: a fresh valid point replaces the prior
// entry for its line when its observation is newer, or equally fresh while
// adding a spot price the prior entry lacks; entries past their provider's
// staleness ceiling are evicted.
func (a *Aggregator) publish(fresh map[pricing.Provider][]pricing.PricePoint) {
	prev := a.table.Load()
	now := time.Now()

	merged := make(map[pricing.LineKey]pricing.PricePoint, prev.Len())
	for key, p := range prev.Points {
		if now.Sub(p.ObservedAt) > a.cfg.StalenessCeilingFor(string(p.Provider)) {
			metrics.StaleEvictions.WithLabelValues(string(p.Provider)).Inc()
			continue
		}
		merged[key] = p
	}

	var recorded []pricing.PricePoint
	for prov, points := range fresh {
		name := string(prov)
		for _, p := range points {
			if !p.Valid() {
				metrics.PointsDropped.WithLabelValues(name, "invalid").Inc()
				continue
			}
			if p.Provider != prov {
				metrics.PointsDropped.WithLabelValues(name, "mismatched_provider").Inc()
				continue
			}
			key := p.Key()
			if cur, ok := merged[key]; ok {
				if cur.ObservedAt.After(p.ObservedAt) {
					metrics.PointsDropped.WithLabelValues(name, "older_observation").Inc()
					continue
				}
				// Equal timestamps keep the stored entry, unless the incoming
				// point adds a spot price the stored one lacks.
				if cur.ObservedAt.Equal(p.ObservedAt) && (p.Spot == nil || cur.Spot != nil) {
					metrics.PointsDropped.WithLabelValues(name, "duplicate_observation").Inc()
					continue
				}
			}
			merged[key] = p
			recorded = append(recorded, p)
			metrics.PointsMerged.WithLabelValues(name).Inc()
		}
	}

	gen := a.generation.Add(1)
	next := &pricing.Snapshot{
		Generation: gen,
		BuiltAt:    now,
		Points:     merged,
	}
	a.table.Store(next)
	metrics.TableGeneration.Set(float64(gen))
	metrics.TableSize.Set(float64(len(merged)))

	if len(merged) > 0 {
		a.readyOnce.Do(func() { close(a.ready) })
	}

	if err := a.history.Record(recorded); err != nil {
		slog.Warn("aggregator: history write failed", "error", err)
	}

	a.notify(gen)
}

// notify delivers the generation to every subscriber without blocking. A full
// buffer means the subscriber still has an unconsumed older generation; it is
// replaced by the newest one.
func (a *Aggregator) notify(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- gen:
			continue
		default:
		}
		select {
		case <-ch:
			metrics.SubscriberCoalesced.Inc()
		default:
		}
		select {
		case ch <- gen:
		default:
		}
	}
}
