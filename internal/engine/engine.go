// Package engine turns optimization requests into allocations: it reads the
// current pricing table, builds a MILP over the candidate lines, and runs the
// solver under a bounded pool with a per-generation solution cache.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/cloudarb/cloudarb/internal/aggregator"
	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/metrics"
	"github.com/cloudarb/cloudarb/internal/solver"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// determinismEps is the per-line objective perturbation that breaks cost
// ties, on-demand lines before spot and canonical order within each, keeping
// solutions stable across runs.
const determinismEps = 1e-9

type cacheKey struct {
	Fingerprint uint64
	Generation  uint64
}

// Engine coordinates solves. Safe for concurrent use.
type Engine struct {
	cfg     config.SolverConfig
	agg     *aggregator.Aggregator
	catalog *store.Catalog

	pool  *semaphore.Weighted
	cache *lru.Cache[cacheKey, Result]
	group singleflight.Group

	runs *runRegistry
}

func New(cfg config.SolverConfig, agg *aggregator.Aggregator, catalog *store.Catalog) (*Engine, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[cacheKey, Result](size)
	if err != nil {
		return nil, fmt.Errorf("building solution cache: %w", err)
	}
	poolSize := cfg.PoolSize
	if poolSize < 1 {
		poolSize = 1
	}
	return &Engine{
		cfg:     cfg,
		agg:     agg,
		catalog: catalog,
		pool:    semaphore.NewWeighted(int64(poolSize)),
		cache:   cache,
		runs:    newRunRegistry(),
	}, nil
}

// Optimize validates, waits out a cold start if needed, and solves. Identical
// requests against the same table generation are answered from cache, and
// concurrent identical requests share one solve.
func (e *Engine) Optimize(ctx context.Context, req Request) (Result, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if err := e.agg.WaitReady(ctx); err != nil {
		return Result{}, err
	}

	snap := e.agg.Snapshot()
	fp, err := hashstructure.Hash(req, hashstructure.FormatV2, nil)
	if err != nil {
		return Result{}, pricing.WrapError(pricing.CodeSolverFailure, err, "fingerprinting request")
	}
	key := cacheKey{Fingerprint: fp, Generation: snap.Generation}

	if res, ok := e.cache.Get(key); ok {
		metrics.SolutionCacheHits.WithLabelValues("hit").Inc()
		res.FromCache = true
		return res, nil
	}
	metrics.SolutionCacheHits.WithLabelValues("miss").Inc()

	v, err, shared := e.group.Do(fmt.Sprintf("%d/%d", key.Generation, key.Fingerprint), func() (any, error) {
		return e.solve(ctx, req, snap, key)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if shared {
		metrics.SolutionCacheHits.WithLabelValues("coalesced").Inc()
	}
	return res, nil
}

// Snapshot exposes the current pricing table for the API layer.
func (e *Engine) Snapshot() *pricing.Snapshot { return e.agg.Snapshot() }

func (e *Engine) solve(ctx context.Context, req Request, snap *pricing.Snapshot, key cacheKey) (Result, error) {
	if err := e.pool.Acquire(ctx, 1); err != nil {
		return Result{}, pricing.WrapError(pricing.CodeSolverFailure, err, "waiting for solver slot")
	}
	defer e.pool.Release(1)

	solveCtx, cancel := context.WithTimeout(ctx, e.solveDeadline(req))
	defer cancel()

	start := time.Now()
	res, err := e.solveModel(solveCtx, req, snap)
	elapsed := time.Since(start)
	metrics.SolveDuration.Observe(elapsed.Seconds())
	if err != nil {
		metrics.SolvesTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}
	res.SolveTime = elapsed
	res.Generation = snap.Generation
	metrics.SolvesTotal.WithLabelValues(res.Status).Inc()

	e.cache.Add(key, res)
	return res, nil
}

// solveDeadline is the hard cap for one solve: the configured default,
// tightened by the request's own deadline when one is set.
func (e *Engine) solveDeadline(req Request) time.Duration {
	deadline := e.cfg.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	if req.SolverDeadlineMs > 0 {
		if d := time.Duration(req.SolverDeadlineMs * float64(time.Millisecond)); d < deadline {
			deadline = d
		}
	}
	return deadline
}

// candidate is one line after preprocessing, with its effective price,
// performance score, and the workload item it can serve.
type candidate struct {
	point   pricing.PricePoint
	item    int
	price   float64 // effective hourly price per instance
	perf    float64
	upper   float64
	useSpot bool
}

// solveModel builds the MILP over the candidate lines and maps the solver
// outcome back to allocations.
func (e *Engine) solveModel(ctx context.Context, req Request, snap *pricing.Snapshot) (Result, error) {
	cands, matched := e.buildCandidates(req, snap)
	if len(cands) == 0 {
		return Result{Status: "infeasible", BindingConstraint: diagnoseInfeasible(req, cands, matched)}, nil
	}

	prob := e.buildProblem(req, cands)
	sol, err := solver.Solve(ctx, prob, solver.Options{Gap: e.cfg.Gap})
	if err != nil {
		return Result{}, pricing.WrapError(pricing.CodeSolverFailure, err, "solving allocation model")
	}

	switch sol.Status {
	case solver.StatusInfeasible:
		return Result{Status: "infeasible", BindingConstraint: diagnoseInfeasible(req, cands, matched)}, nil
	case solver.StatusTimeout:
		return Result{Status: "timeout"}, nil
	}

	res := Result{
		Status: string(sol.Status),
		Gap:    sol.Gap,
	}
	perItem := make([]int, len(req.Workloads))
	for j, c := range cands {
		count := int(math.Round(sol.X[j]))
		if count <= 0 {
			continue
		}
		res.Allocations = append(res.Allocations, Allocation{
			Provider:     c.point.Provider,
			InstanceType: c.point.InstanceType,
			Region:       c.point.Region,
			Count:        count,
			GPUs:         count * c.point.GPUCount,
			UseSpot:      c.useSpot,
			HourlyPrice:  c.price,
			HourlyCost:   float64(count) * c.price,
		})
		perItem[c.item] += count * c.point.GPUCount
		res.TotalGPUs += count * c.point.GPUCount
		res.HourlyCost += float64(count) * c.price
		res.PerformanceScore += float64(count) * c.perf
	}
	res.TotalCost = res.HourlyCost * req.DurationHours

	for i, w := range req.Workloads {
		if perItem[i] < w.MinCount || perItem[i] > w.MaxCount {
			// The solver proved feasibility, so this indicates a model bug.
			slog.Error("engine: solution outside workload bounds",
				"gpu_kind", w.GPUKind, "min", w.MinCount, "max", w.MaxCount, "got", perItem[i])
			return Result{}, pricing.NewError(pricing.CodeSolverFailure, "solution violates workload bounds for %s", w.GPUKind)
		}
	}
	return res, nil
}

// diagnoseInfeasible names the constraint that ruled out every solution:
// an item with no matching lines is a coverage failure; too little reachable
// capacity without a budget in play is a capacity failure; otherwise the
// budget was the binder.
func diagnoseInfeasible(req Request, cands []candidate, matched []int) string {
	for _, m := range matched {
		if m == 0 {
			return "coverage"
		}
	}
	if req.MaxHourlyBudget <= 0 {
		return "capacity"
	}
	coverable := make([]float64, len(req.Workloads))
	for _, c := range cands {
		coverable[c.item] += c.upper * float64(c.point.GPUCount)
	}
	for i, w := range req.Workloads {
		if coverable[i] < float64(w.MinCount) && matched[i] == itemCandidates(cands, i) {
			return "capacity"
		}
	}
	return "budget"
}

func itemCandidates(cands []candidate, item int) int {
	n := 0
	for _, c := range cands {
		if c.item == item {
			n++
		}
	}
	return n
}

// buildCandidates filters and prices the snapshot lines per workload item,
// also reporting how many lines matched each item before the budget cut.
// Lines come back in canonical order per item, which the tie-break
// perturbation relies on.
func (e *Engine) buildCandidates(req Request, snap *pricing.Snapshot) ([]candidate, []int) {
	// Spot weighting: the effective price blends on-demand and spot by the
	// workload's risk tolerance. Zero tolerance prices pure on-demand even
	// for interruptible workloads.
	alpha := math.Max(0, 1-req.RiskTolerance)

	var out []candidate
	matched := make([]int, len(req.Workloads))
	for i, w := range req.Workloads {
		lines := snap.Lines(pricing.Filter{
			GPUKinds:  []string{w.GPUKind},
			Regions:   req.Regions,
			Providers: req.Providers,
		})
		for _, p := range lines {
			if p.GPUCount <= 0 {
				continue
			}
			matched[i]++
			price := p.OnDemand
			useSpot := false
			if req.Interruptible && p.Spot != nil && alpha < 1 {
				price = alpha*p.OnDemand + (1-alpha)**p.Spot
				useSpot = true
			}
			// A single instance already over budget can never appear in a
			// feasible solution.
			if req.MaxHourlyBudget > 0 && price > req.MaxHourlyBudget {
				continue
			}

			// Never take more instances than the item's ceiling admits.
			upper := math.Ceil(float64(w.MaxCount) / float64(p.GPUCount))
			if cap := e.catalog.Capacity(p.Provider, p.InstanceType); cap > 0 {
				upper = math.Min(upper, float64(cap))
			}

			out = append(out, candidate{
				point:   p,
				item:    i,
				price:   price,
				perf:    e.catalog.PerfScore(p.Provider, p.InstanceType, p.GPUKind, p.GPUCount),
				upper:   upper,
				useSpot: useSpot,
			})
		}
	}
	return out, matched
}

// buildProblem assembles the MILP: integer instance counts per candidate,
// a [min, max] GPU window per workload item, and a budget constraint when
// one is set.
func (e *Engine) buildProblem(req Request, cands []candidate) solver.Problem {
	n := len(cands)
	c := make([]float64, n)
	upper := make([]float64, n)
	integer := make([]bool, n)

	var maxPrice, maxPerf float64
	for _, cd := range cands {
		maxPrice = math.Max(maxPrice, cd.price)
		maxPerf = math.Max(maxPerf, cd.perf)
	}
	lambda := e.cfg.BalanceLambda

	for j, cd := range cands {
		switch req.Objective {
		case ObjectiveMinCost:
			c[j] = cd.price
		case ObjectiveMaxPerformance:
			c[j] = -cd.perf
		case ObjectiveBalanced:
			c[j] = lambda*(cd.price/maxPrice) - (1-lambda)*(cd.perf/maxPerf)
		}
		upper[j] = cd.upper
		integer[j] = true
	}

	// Tie-break perturbation: cost ties resolve toward on-demand lines
	// first, then toward the earliest line in canonical order, so repeated
	// solves concentrate on the same lines.
	rank := 0
	for j, cd := range cands {
		if !cd.useSpot {
			c[j] += float64(rank) * determinismEps
			rank++
		}
	}
	for j, cd := range cands {
		if cd.useSpot {
			c[j] += float64(rank) * determinismEps
			rank++
		}
	}

	var a [][]float64
	var b []float64

	// Per item: min <= sum(gpus_j * x_j) <= max.
	for i, w := range req.Workloads {
		lo := make([]float64, n)
		hi := make([]float64, n)
		for j, cd := range cands {
			if cd.item != i {
				continue
			}
			lo[j] = -float64(cd.point.GPUCount)
			hi[j] = float64(cd.point.GPUCount)
		}
		a = append(a, lo)
		b = append(b, -float64(w.MinCount))
		a = append(a, hi)
		b = append(b, float64(w.MaxCount))
	}

	if req.MaxHourlyBudget > 0 {
		budget := make([]float64, n)
		for j, cd := range cands {
			budget[j] = cd.price
		}
		a = append(a, budget)
		b = append(b, req.MaxHourlyBudget)
	}

	return solver.Problem{C: c, A: a, B: b, Upper: upper, Integer: integer}
}
