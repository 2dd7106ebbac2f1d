package arbitrage

import (
	"context"
	"time"

	"github.com/cloudarb/cloudarb/internal/forecast"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// Risk factor weights. They sum to 1 so the composite score stays in [0, 1].
const (
	weightSpot        = 0.4
	weightReliability = 0.2
	weightRegion      = 0.15
	weightVolatility  = 0.15
	weightPerfVar     = 0.1
)

// providerReliability is the historical fulfillment reliability per provider,
// on a 0..1 scale. The hyperscalers score higher than the GPU specialists.
var providerReliability = map[pricing.Provider]float64{
	pricing.ProviderAWS:        0.95,
	pricing.ProviderGCP:        0.93,
	pricing.ProviderAzure:      0.91,
	pricing.ProviderLambdaLabs: 0.88,
	pricing.ProviderRunPod:     0.85,
}

// perfVariance is the expected run-to-run performance variance per provider.
// Dedicated instances vary less than community pools.
var perfVariance = map[pricing.Provider]float64{
	pricing.ProviderAWS:        0.05,
	pricing.ProviderGCP:        0.05,
	pricing.ProviderAzure:      0.08,
	pricing.ProviderLambdaLabs: 0.10,
	pricing.ProviderRunPod:     0.20,
}

// volatilityWindow is how many recent observations feed the price volatility
// factor.
const volatilityWindow = 24

// riskScorer composes the per-factor risks into one score for the target
// line of an opportunity.
type riskScorer struct {
	history  *store.History
	forecast forecast.Source
}

// score rates the risk of moving onto the target line, 0 safest. The spot
// factor dominates: capturing a spot discount carries reclaim risk, scaled
// up when the demand forecast expects contention for the GPU kind.
func (r riskScorer) score(ctx context.Context, target pricing.PricePoint, usesSpot bool) float64 {
	spotRisk := 0.0
	if usesSpot {
		spotRisk = 0.5
		if r.forecast != nil {
			if sig, err := r.forecast.DemandSignal(ctx, target.GPUKind, 24*time.Hour); err == nil {
				spotRisk += 0.5 * sig.Demand * sig.Confidence
			}
		}
	}

	reliability, ok := providerReliability[target.Provider]
	if !ok {
		reliability = 0.8
	}

	regionRisk := 0.0
	if target.Region == "global" {
		// No region pinning means no placement guarantee.
		regionRisk = 0.5
	}

	volatility := 0.0
	if r.history != nil {
		volatility = r.history.Volatility(target.Key(), volatilityWindow)
		if volatility > 1 {
			volatility = 1
		}
	}

	variance, ok := perfVariance[target.Provider]
	if !ok {
		variance = 0.1
	}

	return weightSpot*spotRisk +
		weightReliability*(1-reliability) +
		weightRegion*regionRisk +
		weightVolatility*volatility +
		weightPerfVar*variance
}
