package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/provider"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/adapter"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

type fakeAdapter struct {
	name   pricing.Provider
	points []pricing.PricePoint
	err    error
}

func (f *fakeAdapter) Name() pricing.Provider { return f.name }

func (f *fakeAdapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{SustainableQPS: 1000}
}

func (f *fakeAdapter) FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error) {
	return f.points, f.err
}

func testConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		CycleInterval:    time.Minute,
		CycleDeadline:    5 * time.Second,
		StalenessCeiling: 10 * time.Minute,
		ColdStartGrace:   50 * time.Millisecond,
		SubscriberBuffer: 1,
	}
}

func wrap(f *fakeAdapter) *provider.Throttled {
	return provider.Throttle(f, config.AdapterConfig{
		RateLimitQPS: 1000,
		Backoff:      config.BackoffConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
}

func point(prov pricing.Provider, it, region string, od float64, at time.Time) pricing.PricePoint {
	return pricing.PricePoint{
		Provider: prov, InstanceType: it, Region: region,
		GPUKind: "a100", GPUCount: 1, OnDemand: od, ObservedAt: at,
	}
}

func TestPublishMergesAndBumpsGeneration(t *testing.T) {
	now := time.Now()
	f1 := &fakeAdapter{name: pricing.ProviderAWS, points: []pricing.PricePoint{
		point(pricing.ProviderAWS, "p4d.24xlarge", "us-east-1", 32.77, now),
	}}
	f2 := &fakeAdapter{name: pricing.ProviderGCP, points: []pricing.PricePoint{
		point(pricing.ProviderGCP, "a2-highgpu-1g", "us-central1", 3.67, now),
	}}

	agg := New(testConfig(), []*provider.Throttled{wrap(f1), wrap(f2)}, store.NewHistory(nil))
	if gen := agg.Snapshot().Generation; gen != 0 {
		t.Fatalf("initial generation = %d, want 0", gen)
	}

	agg.runCycle(context.Background())

	snap := agg.Snapshot()
	if snap.Generation != 1 {
		t.Errorf("generation = %d, want 1", snap.Generation)
	}
	if snap.Len() != 2 {
		t.Errorf("table size = %d, want 2", snap.Len())
	}

	agg.runCycle(context.Background())
	if gen := agg.Snapshot().Generation; gen != 2 {
		t.Errorf("generation after second cycle = %d, want 2", gen)
	}
}

func TestPublishKeepsNewerObservation(t *testing.T) {
	now := time.Now()
	f := &fakeAdapter{name: pricing.ProviderAWS, points: []pricing.PricePoint{
		point(pricing.ProviderAWS, "g5.xlarge", "us-east-1", 1.00, now),
	}}
	agg := New(testConfig(), []*provider.Throttled{wrap(f)}, store.NewHistory(nil))
	agg.runCycle(context.Background())

	// The next fetch reports an older observation; the table keeps the
	// newer price.
	f.points = []pricing.PricePoint{
		point(pricing.ProviderAWS, "g5.xlarge", "us-east-1", 9.99, now.Add(-time.Hour)),
	}
	agg.lastFetch = map[pricing.Provider]time.Time{} // allow an immediate refetch
	agg.runCycle(context.Background())

	p, ok := agg.Snapshot().Lookup(pricing.LineKey{Provider: pricing.ProviderAWS, InstanceType: "g5.xlarge", Region: "us-east-1"})
	if !ok {
		t.Fatalf("line missing")
	}
	if p.OnDemand != 1.00 {
		t.Errorf("on-demand = %v, want the newer 1.00 kept", p.OnDemand)
	}
}

func TestPublishEqualTimestampKeepsSpot(t *testing.T) {
	now := time.Now()
	spot := 0.40
	withSpot := point(pricing.ProviderAWS, "g5.xlarge", "us-east-1", 1.00, now)
	withSpot.Spot = &spot
	f := &fakeAdapter{name: pricing.ProviderAWS, points: []pricing.PricePoint{withSpot}}
	agg := New(testConfig(), []*provider.Throttled{wrap(f)}, store.NewHistory(nil))
	agg.runCycle(context.Background())

	// A republish of the same observation without a spot price must not
	// wipe the stored spot.
	f.points = []pricing.PricePoint{point(pricing.ProviderAWS, "g5.xlarge", "us-east-1", 1.00, now)}
	agg.lastFetch = map[pricing.Provider]time.Time{}
	agg.runCycle(context.Background())

	p, ok := agg.Snapshot().Lookup(withSpot.Key())
	if !ok {
		t.Fatalf("line missing")
	}
	if p.Spot == nil || *p.Spot != 0.40 {
		t.Errorf("spot = %v, want 0.40 retained across an equal-timestamp republish", p.Spot)
	}

	// The converse holds: an equal-timestamp point that adds a spot price
	// replaces the stored entry.
	f2 := &fakeAdapter{name: pricing.ProviderGCP, points: []pricing.PricePoint{
		point(pricing.ProviderGCP, "a2-highgpu-1g", "us-central1", 3.67, now),
	}}
	agg2 := New(testConfig(), []*provider.Throttled{wrap(f2)}, store.NewHistory(nil))
	agg2.runCycle(context.Background())

	gcpSpot := 1.10
	upgraded := point(pricing.ProviderGCP, "a2-highgpu-1g", "us-central1", 3.67, now)
	upgraded.Spot = &gcpSpot
	f2.points = []pricing.PricePoint{upgraded}
	agg2.lastFetch = map[pricing.Provider]time.Time{}
	agg2.runCycle(context.Background())

	p, ok = agg2.Snapshot().Lookup(upgraded.Key())
	if !ok {
		t.Fatalf("line missing")
	}
	if p.Spot == nil || *p.Spot != 1.10 {
		t.Errorf("spot = %v, want the added 1.10 taken on an equal timestamp", p.Spot)
	}
}

func TestPublishDropsInvalidPoints(t *testing.T) {
	now := time.Now()
	bad := point(pricing.ProviderAWS, "p3.2xlarge", "us-east-1", 0, now) // nonpositive
	spot := 99.0
	inverted := point(pricing.ProviderAWS, "p5.48xlarge", "us-east-1", 10, now)
	inverted.Spot = &spot // spot above on-demand
	good := point(pricing.ProviderAWS, "g5.xlarge", "us-east-1", 1.0, now)

	f := &fakeAdapter{name: pricing.ProviderAWS, points: []pricing.PricePoint{bad, inverted, good}}
	agg := New(testConfig(), []*provider.Throttled{wrap(f)}, store.NewHistory(nil))
	agg.runCycle(context.Background())

	snap := agg.Snapshot()
	if snap.Len() != 1 {
		t.Errorf("table size = %d, want only the valid point", snap.Len())
	}
	if _, ok := snap.Lookup(good.Key()); !ok {
		t.Errorf("valid point missing from table")
	}
}

func TestStalenessEviction(t *testing.T) {
	cfg := testConfig()
	cfg.StalenessCeiling = time.Minute

	stale := point(pricing.ProviderAWS, "p3.2xlarge", "us-east-1", 3.06, time.Now().Add(-2*time.Minute))
	f := &fakeAdapter{name: pricing.ProviderAWS, points: []pricing.PricePoint{stale}}
	agg := New(cfg, []*provider.Throttled{wrap(f)}, store.NewHistory(nil))
	agg.runCycle(context.Background())

	// The stale point merges in (it is fresh relative to nothing), then the
	// next publish evicts it because its observation is past the ceiling.
	f.points = nil
	agg.lastFetch = map[pricing.Provider]time.Time{}
	agg.runCycle(context.Background())

	if n := agg.Snapshot().Len(); n != 0 {
		t.Errorf("table size = %d, want 0 after eviction", n)
	}
}

func TestQuarantineOnAuthFailure(t *testing.T) {
	f := &fakeAdapter{name: pricing.ProviderRunPod, err: pricing.NewError(pricing.CodeAuthFailed, "key rejected")}
	agg := New(testConfig(), []*provider.Throttled{wrap(f)}, store.NewHistory(nil))
	agg.runCycle(context.Background())

	q := agg.Quarantined()
	if len(q) != 1 || q[0] != pricing.ProviderRunPod {
		t.Fatalf("quarantined = %v, want [runpod]", q)
	}

	// A quarantined provider is skipped on later cycles even when it would
	// now succeed.
	f.err = nil
	f.points = []pricing.PricePoint{point(pricing.ProviderRunPod, "NVIDIA L40S", "global", 1.03, time.Now())}
	agg.lastFetch = map[pricing.Provider]time.Time{}
	agg.runCycle(context.Background())
	if n := agg.Snapshot().Len(); n != 0 {
		t.Errorf("quarantined provider contributed %d points", n)
	}

	agg.Unquarantine(pricing.ProviderRunPod)
	agg.runCycle(context.Background())
	if n := agg.Snapshot().Len(); n != 1 {
		t.Errorf("unquarantined provider should feed the table, size = %d", n)
	}
}

func TestSubscribeCoalesces(t *testing.T) {
	f := &fakeAdapter{name: pricing.ProviderAWS, points: []pricing.PricePoint{
		point(pricing.ProviderAWS, "g5.xlarge", "us-east-1", 1.0, time.Now()),
	}}
	agg := New(testConfig(), []*provider.Throttled{wrap(f)}, store.NewHistory(nil))

	gens, cancel := agg.Subscribe()
	defer cancel()

	// Three publishes with no consumer: the buffer holds one generation and
	// it must be the newest.
	for i := 0; i < 3; i++ {
		agg.lastFetch = map[pricing.Provider]time.Time{}
		agg.runCycle(context.Background())
	}

	select {
	case gen := <-gens:
		if gen != 3 {
			t.Errorf("coalesced generation = %d, want newest 3", gen)
		}
	default:
		t.Fatalf("no generation delivered")
	}
	select {
	case gen := <-gens:
		t.Errorf("extra generation %d queued, want coalescing", gen)
	default:
	}
}

func TestWaitReadyColdStart(t *testing.T) {
	f := &fakeAdapter{name: pricing.ProviderAWS}
	agg := New(testConfig(), []*provider.Throttled{wrap(f)}, store.NewHistory(nil))

	start := time.Now()
	err := agg.WaitReady(context.Background())
	if !pricing.IsCode(err, pricing.CodePricingUnavailable) {
		t.Fatalf("error = %v, want PricingUnavailable", err)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Errorf("WaitReady returned before the grace period")
	}

	// After a publish with data, WaitReady returns immediately.
	f.points = []pricing.PricePoint{point(pricing.ProviderAWS, "g5.xlarge", "us-east-1", 1.0, time.Now())}
	agg.runCycle(context.Background())
	if err := agg.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady after publish: %v", err)
	}
}
