// Package adapter defines the contract every provider pricing adapter
// implements. Concrete adapters live under internal/provider.
package adapter

import (
	"context"
	"time"

	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// Capabilities describes what a provider's pricing surface supports and how
// hard the adapter may drive it.
type Capabilities struct {
	// SupportsSpot is false for providers without a spot market
	// (Lambda Labs, RunPod); their points carry a nil Spot field.
	SupportsSpot bool
	// RegionGranularity is false when the provider quotes a single
	// global price list rather than per-region prices.
	RegionGranularity bool
	// SustainableQPS is the request rate the adapter keeps below the
	// provider's documented limits.
	SustainableQPS float64
	// MinPollInterval is the shortest useful gap between full fetches;
	// the aggregator will not drive the adapter faster than this.
	MinPollInterval time.Duration
}

// Adapter translates one provider's price catalog into normalized
// PricePoints. Implementations must honor ctx cancellation promptly, return
// a finite unordered set, and may include duplicates within a call (the
// aggregator deduplicates on merge).
type Adapter interface {
	Name() pricing.Provider
	FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error)
	Capabilities() Capabilities
}
