package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Aggregator metrics
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cloudarb",
		Name:      "aggregator_cycle_duration_seconds",
		Help:      "Wall-clock duration of one aggregation cycle",
		Buckets:   prometheus.DefBuckets,
	})

	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "aggregator_cycles_total",
		Help:      "Total aggregation cycles run",
	})

	TableGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cloudarb",
		Name:      "pricing_table_generation",
		Help:      "Current pricing table generation",
	})

	TableSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cloudarb",
		Name:      "pricing_table_lines",
		Help:      "Number of lines in the current pricing table",
	})

	PointsMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "pricing_points_merged_total",
		Help:      "Price points merged into the table",
	}, []string{"provider"})

	PointsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "pricing_points_dropped_total",
		Help:      "Price points dropped at validation",
	}, []string{"provider", "reason"}) // "nonpositive", "spot_above_od", "stale_observation"

	StaleEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "pricing_stale_evictions_total",
		Help:      "Entries evicted for exceeding the staleness ceiling",
	}, []string{"provider"})

	SubscriberCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "aggregator_generation_coalesced_total",
		Help:      "Generation bumps coalesced for slow subscribers",
	})

	// Adapter metrics
	AdapterFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cloudarb",
		Name:      "adapter_fetch_duration_seconds",
		Help:      "Duration of adapter pricing fetches",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "adapter_errors_total",
		Help:      "Adapter fetch errors by kind",
	}, []string{"provider", "kind"}) // "transient", "auth", "parse"

	AdapterQuarantined = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cloudarb",
		Name:      "adapter_quarantined",
		Help:      "1 when the adapter is quarantined after an auth failure",
	}, []string{"provider"})

	// Engine metrics
	SolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cloudarb",
		Name:      "solve_duration_seconds",
		Help:      "Wall-clock duration of optimization solves",
		Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60},
	})

	SolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "solves_total",
		Help:      "Optimization solves by resulting status",
	}, []string{"status"})

	SolutionCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "solution_cache_total",
		Help:      "Solution cache lookups",
	}, []string{"result"}) // "hit", "miss", "coalesced"

	// Arbitrage metrics
	OpportunitiesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "opportunities_emitted_total",
		Help:      "Arbitrage opportunities emitted",
	}, []string{"gpu_kind"})

	OpportunitiesSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "opportunities_suppressed_total",
		Help:      "Opportunities suppressed by the per-pair cooldown",
	})

	OpportunityDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudarb",
		Name:      "opportunity_subscriber_drops_total",
		Help:      "Opportunity events dropped for slow subscribers",
	})
)
