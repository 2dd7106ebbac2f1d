// Package arbitrage watches pricing table generations for cross-provider
// price dislocations and broadcasts them as scored opportunities.
package arbitrage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudarb/cloudarb/internal/aggregator"
	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/forecast"
	"github.com/cloudarb/cloudarb/internal/metrics"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// Opportunity is one detected dislocation: the same GPU kind is cheaper on
// the target line than on the source line by at least the threshold.
type Opportunity struct {
	ID      string          `json:"id"`
	GPUKind string          `json:"gpuKind"`
	From    pricing.LineKey `json:"from"`
	To      pricing.LineKey `json:"to"`
	// Per-GPU effective hourly prices on each side.
	FromPricePerGPU float64 `json:"fromPricePerGPU"`
	ToPricePerGPU   float64 `json:"toPricePerGPU"`
	SavingsFraction float64 `json:"savingsFraction"`
	// UsesSpot marks targets priced against the spot market.
	UsesSpot   bool      `json:"usesSpot"`
	RiskScore  float64   `json:"riskScore"`
	Generation uint64    `json:"generation"`
	DetectedAt time.Time `json:"detectedAt"`
}

type pairKey struct {
	from, to pricing.LineKey
}

// Detector consumes table generations and emits opportunities. One detection
// pass runs per consumed generation; generations coalesce while a pass runs.
type Detector struct {
	cfg     config.ArbitrageConfig
	agg     *aggregator.Aggregator
	scorer  riskScorer
	regions regionClassifier

	mu          sync.Mutex
	lastEmitted map[pairKey]time.Time
	subscribers map[int]chan Opportunity
	nextSubID   int
	recent      []Opportunity
}

// recentCap bounds the opportunity history served to late API readers.
const recentCap = 100

func New(cfg config.ArbitrageConfig, agg *aggregator.Aggregator, history *store.History, fc forecast.Source) *Detector {
	return &Detector{
		cfg:         cfg,
		agg:         agg,
		scorer:      riskScorer{history: history, forecast: fc},
		regions:     regionClassifier{overrides: cfg.RegionClasses},
		lastEmitted: make(map[pairKey]time.Time),
		subscribers: make(map[int]chan Opportunity),
	}
}

// Run consumes generations until the context ends.
func (d *Detector) Run(ctx context.Context) {
	gens, cancel := d.agg.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case gen := <-gens:
			d.detect(ctx, gen)
		}
	}
}

// Subscribe registers an opportunity listener. When a subscriber's buffer
// fills, the oldest queued opportunity is dropped in favor of the newest.
func (d *Detector) Subscribe() (<-chan Opportunity, func()) {
	buf := d.cfg.BufferSize
	if buf < 1 {
		buf = 64
	}
	ch := make(chan Opportunity, buf)

	d.mu.Lock()
	id := d.nextSubID
	d.nextSubID++
	d.subscribers[id] = ch
	d.mu.Unlock()

	return ch, func() {
		d.mu.Lock()
		delete(d.subscribers, id)
		d.mu.Unlock()
	}
}

// Recent returns the most recently emitted opportunities, newest first.
func (d *Detector) Recent() []Opportunity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Opportunity, len(d.recent))
	for i, o := range d.recent {
		out[len(d.recent)-1-i] = o
	}
	return out
}

// line is one snapshot entry with its per-GPU effective price.
type line struct {
	point       pricing.PricePoint
	perGPUPrice float64
	usesSpot    bool
}

func (d *Detector) detect(ctx context.Context, gen uint64) {
	snap := d.agg.Snapshot()
	if snap.Generation != gen {
		// A newer generation landed while we were queued; score that one.
		gen = snap.Generation
	}

	byKind := make(map[string][]line)
	for _, p := range snap.Lines(pricing.Filter{}) {
		if p.GPUCount <= 0 {
			continue
		}
		effective := p.OnDemand
		usesSpot := false
		if p.Spot != nil && *p.Spot < effective {
			effective = *p.Spot
			usesSpot = true
		}
		byKind[p.GPUKind] = append(byKind[p.GPUKind], line{
			point:       p,
			perGPUPrice: effective / float64(p.GPUCount),
			usesSpot:    usesSpot,
		})
	}

	now := time.Now().UTC()
	for kind, lines := range byKind {
		if len(lines) < 2 {
			continue
		}
		// Every compatible cheaper line past the threshold is its own
		// opportunity; the per-pair cooldown keeps repeats quiet.
		for _, from := range lines {
			for _, to := range lines {
				if to.point.Key() == from.point.Key() {
					continue
				}
				if !d.regions.compatible(from.point.Region, to.point.Region) {
					continue
				}
				savings := (from.perGPUPrice - to.perGPUPrice) / from.perGPUPrice
				if savings < d.cfg.Threshold {
					continue
				}

				key := pairKey{from: from.point.Key(), to: to.point.Key()}
				if d.inCooldown(key, now) {
					metrics.OpportunitiesSuppressed.Inc()
					continue
				}

				opp := Opportunity{
					ID:              uuid.NewString(),
					GPUKind:         kind,
					From:            key.from,
					To:              key.to,
					FromPricePerGPU: from.perGPUPrice,
					ToPricePerGPU:   to.perGPUPrice,
					SavingsFraction: savings,
					UsesSpot:        to.usesSpot,
					RiskScore:       d.scorer.score(ctx, to.point, to.usesSpot),
					Generation:      gen,
					DetectedAt:      now,
				}
				d.emit(opp, now)
			}
		}
	}
}

func (d *Detector) inCooldown(key pairKey, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastEmitted[key]; ok && now.Sub(last) < d.cfg.Cooldown {
		return true
	}
	return false
}

func (d *Detector) emit(opp Opportunity, now time.Time) {
	d.mu.Lock()
	d.lastEmitted[pairKey{from: opp.From, to: opp.To}] = now
	d.pruneCooldowns(now)
	d.recent = append(d.recent, opp)
	if len(d.recent) > recentCap {
		d.recent = d.recent[len(d.recent)-recentCap:]
	}
	subs := make([]chan Opportunity, 0, len(d.subscribers))
	for _, ch := range d.subscribers {
		subs = append(subs, ch)
	}
	d.mu.Unlock()

	metrics.OpportunitiesEmitted.WithLabelValues(opp.GPUKind).Inc()
	slog.Info("arbitrage: opportunity detected",
		"gpu_kind", opp.GPUKind,
		"from", opp.From.Provider, "to", opp.To.Provider,
		"savings", opp.SavingsFraction,
		"risk", opp.RiskScore)

	for _, ch := range subs {
		select {
		case ch <- opp:
			continue
		default:
		}
		// Full buffer: drop the oldest queued event to keep the stream
		// fresh for the slow subscriber.
		select {
		case <-ch:
			metrics.OpportunityDrops.Inc()
		default:
		}
		select {
		case ch <- opp:
		default:
		}
	}
}

// pruneCooldowns drops expired entries so the map does not grow with line
// churn. Callers hold the lock.
func (d *Detector) pruneCooldowns(now time.Time) {
	if len(d.lastEmitted) < 4096 {
		return
	}
	for k, t := range d.lastEmitted {
		if now.Sub(t) >= d.cfg.Cooldown {
			delete(d.lastEmitted, k)
		}
	}
}
