package engine

import (
	"time"

	"github.com/cloudarb/cloudarb/pkg/gpu"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// Objective selects what the solver optimizes.
type Objective string

const (
	// ObjectiveMinCost minimizes hourly spend subject to the GPU requirement.
	ObjectiveMinCost Objective = "min-cost"
	// ObjectiveMaxPerformance maximizes aggregate benchmark score within the
	// budget.
	ObjectiveMaxPerformance Objective = "max-performance"
	// ObjectiveBalanced trades normalized cost against normalized performance.
	ObjectiveBalanced Objective = "balanced"
)

// WorkloadItem pins one GPU requirement: the allocation must place at least
// MinCount and at most MaxCount GPUs of this kind.
type WorkloadItem struct {
	GPUKind  string `json:"gpuKind" hash:"gpuKind"`
	MinCount int    `json:"minCount" hash:"minCount"`
	// MaxCount caps over-allocation from coarse instance sizes. Zero means
	// exactly MinCount.
	MaxCount int `json:"maxCount,omitempty" hash:"maxCount"`
}

// Request describes the workloads to place. GPUKind/GPUCount is shorthand for
// a single exact-count item.
type Request struct {
	Workloads []WorkloadItem `json:"workloads,omitempty" hash:"workloads"`
	GPUKind   string         `json:"gpuKind,omitempty" hash:"gpuKind"`
	GPUCount  int            `json:"gpuCount,omitempty" hash:"gpuCount"`
	// MaxHourlyBudget in USD. Zero means unconstrained.
	MaxHourlyBudget float64 `json:"maxHourlyBudget" hash:"maxHourlyBudget"`
	DurationHours   float64 `json:"durationHours" hash:"durationHours"`
	// Interruptible permits spot capacity. RiskTolerance in [0, 1] weights
	// how aggressively spot prices count toward the effective price.
	Interruptible bool    `json:"interruptible" hash:"interruptible"`
	RiskTolerance float64 `json:"riskTolerance" hash:"riskTolerance"`
	// SolverDeadlineMs caps this request's solve; the effective deadline is
	// the smaller of this and the configured default.
	SolverDeadlineMs float64 `json:"solverDeadlineMs,omitempty" hash:"solverDeadlineMs"`
	// Regions and Providers restrict placement. Empty means no restriction.
	Regions   []string           `json:"regions,omitempty" hash:"regions"`
	Providers []pricing.Provider `json:"providers,omitempty" hash:"providers"`
	Objective Objective          `json:"objective" hash:"objective"`
}

// Normalize canonicalizes fields and fills defaults. The shorthand folds into
// Workloads so equivalent requests fingerprint identically.
func (r *Request) Normalize() {
	if len(r.Workloads) == 0 && r.GPUKind != "" {
		r.Workloads = []WorkloadItem{{GPUKind: r.GPUKind, MinCount: r.GPUCount}}
	}
	r.GPUKind = ""
	r.GPUCount = 0
	for i := range r.Workloads {
		w := &r.Workloads[i]
		w.GPUKind = gpu.Canonicalize(w.GPUKind)
		if w.MaxCount == 0 {
			w.MaxCount = w.MinCount
		}
	}
	if r.Objective == "" {
		r.Objective = ObjectiveMinCost
	}
	if r.DurationHours <= 0 {
		r.DurationHours = 1
	}
}

// Validate fails fast with InvalidRequest before any pricing or solver work.
func (r *Request) Validate() error {
	if len(r.Workloads) == 0 {
		return pricing.NewError(pricing.CodeInvalidRequest, "at least one workload item is required")
	}
	seen := make(map[string]bool, len(r.Workloads))
	for i, w := range r.Workloads {
		if w.GPUKind == "" {
			return pricing.NewError(pricing.CodeInvalidRequest, "workloads[%d]: gpuKind is required", i)
		}
		if seen[w.GPUKind] {
			return pricing.NewError(pricing.CodeInvalidRequest, "workloads[%d]: duplicate gpuKind %q", i, w.GPUKind)
		}
		seen[w.GPUKind] = true
		if w.MinCount <= 0 {
			return pricing.NewError(pricing.CodeInvalidRequest, "workloads[%d]: minCount must be positive, got %d", i, w.MinCount)
		}
		if w.MaxCount < w.MinCount {
			return pricing.NewError(pricing.CodeInvalidRequest, "workloads[%d]: maxCount %d is below minCount %d", i, w.MaxCount, w.MinCount)
		}
	}
	if r.MaxHourlyBudget < 0 {
		return pricing.NewError(pricing.CodeInvalidRequest, "maxHourlyBudget must be non-negative, got %v", r.MaxHourlyBudget)
	}
	if r.RiskTolerance < 0 || r.RiskTolerance > 1 {
		return pricing.NewError(pricing.CodeInvalidRequest, "riskTolerance must be in [0, 1], got %v", r.RiskTolerance)
	}
	if r.SolverDeadlineMs < 0 {
		return pricing.NewError(pricing.CodeInvalidRequest, "solverDeadlineMs must be non-negative, got %v", r.SolverDeadlineMs)
	}
	switch r.Objective {
	case ObjectiveMinCost, ObjectiveMaxPerformance, ObjectiveBalanced:
	default:
		return pricing.NewError(pricing.CodeInvalidRequest, "unknown objective %q", r.Objective)
	}
	if r.Objective == ObjectiveMaxPerformance && r.MaxHourlyBudget <= 0 {
		return pricing.NewError(pricing.CodeInvalidRequest, "max-performance requires a positive maxHourlyBudget")
	}
	return nil
}

// Allocation is one placed line in a solution.
type Allocation struct {
	Provider     pricing.Provider `json:"provider"`
	InstanceType string           `json:"instanceType"`
	Region       string           `json:"region"`
	Count        int              `json:"count"`
	GPUs         int              `json:"gpus"`
	// UseSpot marks allocations priced against the spot market.
	UseSpot bool `json:"useSpot"`
	// HourlyPrice is the effective per-instance price used by the solve.
	HourlyPrice float64 `json:"hourlyPrice"`
	HourlyCost  float64 `json:"hourlyCost"`
}

// Result is a completed optimization.
type Result struct {
	Status string `json:"status"`
	// BindingConstraint names what made an infeasible request infeasible:
	// "coverage" (no matching lines), "budget", or "capacity".
	BindingConstraint string       `json:"bindingConstraint,omitempty"`
	Allocations       []Allocation `json:"allocations"`
	TotalGPUs         int          `json:"totalGPUs"`
	// HourlyCost across all allocations; TotalCost scales by duration.
	HourlyCost       float64 `json:"hourlyCost"`
	TotalCost        float64 `json:"totalCost"`
	PerformanceScore float64 `json:"performanceScore"`
	// Generation is the pricing table generation the solve ran against.
	Generation uint64        `json:"generation"`
	Gap        float64       `json:"gap"`
	SolveTime  time.Duration `json:"solveTime"`
	FromCache  bool          `json:"fromCache,omitempty"`
}
