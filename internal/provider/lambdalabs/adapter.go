// Package lambdalabs fetches instance pricing from the Lambda Labs cloud API.
package lambdalabs

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

const instanceTypesURL = "https://cloud.lambdalabs.com/api/v1/instance-types"

// Adapter queries the instance-types endpoint with bearer auth. Lambda Labs
// quotes in cents per hour and has no spot market.
type Adapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	catalog *store.Catalog
}

func New(apiKey string, catalog *store.Catalog) *Adapter {
	return &Adapter{
		apiKey:  apiKey,
		baseURL: instanceTypesURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		catalog: catalog,
	}
}

func (a *Adapter) Name() pricing.Provider { return pricing.ProviderLambdaLabs }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSpot:      false,
		RegionGranularity: true,
		SustainableQPS:    1,
		MinPollInterval:   60 * time.Second,
	}
}

// instanceTypesResponse mirrors the /instance-types payload: a map from
// instance type name to its description and the regions with capacity.
type instanceTypesResponse struct {
	Data map[string]struct {
		InstanceType struct {
			Name              string `json:"name"`
			PriceCentsPerHour int    `json:"price_cents_per_hour"`
			Specs             struct {
				VCPUs    int `json:"vcpus"`
				MemoryGB int `json:"memory_gib"`
				GPUs     int `json:"gpus"`
			} `json:"specs"`
			GPUDescription string `json:"gpu_description"`
		} `json:"instance_type"`
		RegionsWithCapacityAvailable []struct {
			Name string `json:"name"`
		} `json:"regions_with_capacity_available"`
	} `json:"data"`
}

func (a *Adapter) FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error) {
	if a.apiKey == "" {
		return nil, pricing.NewError(pricing.CodeAuthFailed, "lambda labs API key not configured")
	}

	var resp instanceTypesResponse
	if err := provider.GetJSON(ctx, a.client, a.baseURL, a.apiKey, &resp); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var points []pricing.PricePoint
	for _, entry := range resp.Data {
		it := entry.InstanceType
		if it.PriceCentsPerHour <= 0 || len(entry.RegionsWithCapacityAvailable) == 0 {
			continue
		}

		kind := gpu.Canonicalize(it.GPUDescription)
		count := it.Specs.GPUs
		if cat, ok := a.catalog.Lookup(pricing.ProviderLambdaLabs, it.Name); ok {
			kind = cat.GPUKind
			if count == 0 {
				count = cat.GPUCount
			}
		}
		if count == 0 || !filter.MatchKind(kind) {
			continue
		}

		hourly := float64(it.PriceCentsPerHour) / 100
		for _, region := range entry.RegionsWithCapacityAvailable {
			if !filter.MatchRegion(region.Name) {
				continue
			}
			points = append(points, pricing.PricePoint{
				Provider:     pricing.ProviderLambdaLabs,
				InstanceType: it.Name,
				Region:       region.Name,
				GPUKind:      kind,
				GPUCount:     count,
				VCPU:         it.Specs.VCPUs,
				MemoryGB:     it.Specs.MemoryGB,
				OnDemand:     hourly,
				ObservedAt:   now,
			})
		}
	}
	return points, nil
}
