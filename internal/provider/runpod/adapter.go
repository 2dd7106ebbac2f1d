// Package runpod fetches GPU pod pricing from the RunPod API.
package runpod

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudarb/cloudarb/internal/provider"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/adapter"
	"github.com/cloudarb/cloudarb/pkg/gpu"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

const podPricingURL = "https://api.runpod.io/v2/pods/pricing"

// globalRegion is the single pseudo-region for providers that quote one
// price worldwide.
const globalRegion = "global"

// Adapter queries pod pricing with bearer auth. RunPod quotes secure-cloud
// and community-cloud prices per GPU type; community maps to the spot slot
// since those pods are interruptible.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	catalog *store.Catalog
}

func New(apiKey string, catalog *store.Catalog) *Adapter {
	return &Adapter{
		apiKey:  apiKey,
		baseURL: podPricingURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		catalog: catalog,
	}
}

func (a *Adapter) Name() pricing.Provider { return pricing.ProviderRunPod }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSpot:      true,
		RegionGranularity: false,
		SustainableQPS:    1,
		MinPollInterval:   60 * time.Second,
	}
}

type podPricingResponse struct {
	Data []struct {
		GPUType        string  `json:"gpu_type"`
		SecurePrice    float64 `json:"secure_price"`
		CommunityPrice float64 `json:"community_price"`
		Available      bool    `json:"available"`
		MemoryGB       int     `json:"memory_gb"`
		VCPU           int     `json:"vcpu_count"`
	} `json:"data"`
}

func (a *Adapter) FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error) {
	if a.apiKey == "" {
		return nil, pricing.NewError(pricing.CodeAuthFailed, "runpod API key not configured")
	}
	if !filter.MatchRegion(globalRegion) {
		return nil, nil
	}

	var resp podPricingResponse
	if err := provider.GetJSON(ctx, a.client, a.baseURL, a.apiKey, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var points []pricing.PricePoint
	for _, d := range resp.Data {
		if !d.Available || d.SecurePrice <= 0 {
			continue
		}

		kind := gpu.Canonicalize(d.GPUType)
		count := 1
		vcpu, mem := d.VCPU, d.MemoryGB
		if cat, ok := a.catalog.Lookup(pricing.ProviderRunPod, d.GPUType); ok {
			kind = cat.GPUKind
			count = cat.GPUCount
			if vcpu == 0 {
				vcpu = cat.VCPU
			}
			if mem == 0 {
				mem = cat.MemoryGB
			}
		}
		if !filter.MatchKind(kind) {
			continue
		}

		p := pricing.PricePoint{
			Provider:     pricing.ProviderRunPod,
			InstanceType: d.GPUType,
			Region:       globalRegion,
			GPUKind:      kind,
			GPUCount:     count,
			VCPU:         vcpu,
			MemoryGB:     mem,
			OnDemand:     d.SecurePrice,
			ObservedAt:   now,
		}
		if d.CommunityPrice > 0 && d.CommunityPrice <= d.SecurePrice {
			spot := d.CommunityPrice
			p.Spot = &spot
		}
		points = append(points, p)
	}
	return points, nil
}
