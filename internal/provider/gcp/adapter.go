// Package gcp derives GPU instance pricing from the Cloud Billing Catalog
// API. GCP prices machine components (vCPU, memory, accelerator) separately,
// so instance prices are assembled from per-component SKU rates.
package gcp

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/cloudarb/cloudarb/internal/provider"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/adapter"
	"github.com/cloudarb/cloudarb/pkg/gpu"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// computeServiceID is the Compute Engine service in the billing catalog.
const computeServiceID = "6F81-5844-456A"

const catalogBaseURL = "https://cloudbilling.googleapis.com/v1/services/" + computeServiceID + "/skus"

// maxPages caps pageToken pagination; the compute catalog is large but never
// legitimately this large for our filter.
const maxPages = 50

type Adapter struct {
	regions []string
	apiKey  string
	baseURL string
	client  *http.Client
	catalog *store.Catalog
}

// New builds the adapter. Auth prefers application default credentials; when
// none are available and an API key is configured, the key is sent as a query
// parameter instead.
func New(ctx context.Context, regions []string, apiKey string, catalog *store.Catalog) (*Adapter, error) {
	a := &Adapter{
		regions: regions,
		apiKey:  apiKey,
		baseURL: catalogBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		catalog: catalog,
	}
	ts, err := google.DefaultTokenSource(ctx, "https://www.googleapis.com/auth/cloud-platform.read-only")
	if err == nil {
		a.client = oauth2.NewClient(ctx, ts)
		a.client.Timeout = 30 * time.Second
	} else if apiKey == "" {
		return nil, pricing.WrapError(pricing.CodeAuthFailed, err, "gcp: no default credentials and no API key configured")
	}
	return a, nil
}

func (a *Adapter) Name() pricing.Provider { return pricing.ProviderGCP }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSpot:      true,
		RegionGranularity: true,
		SustainableQPS:    2,
		MinPollInterval:   60 * time.Second,
	}
}

type skuListResponse struct {
	SKUs          []catalogSKU `json:"skus"`
	NextPageToken string       `json:"nextPageToken"`
}

type catalogSKU struct {
	Description string `json:"description"`
	Category    struct {
		ResourceFamily string `json:"resourceFamily"`
		ResourceGroup  string `json:"resourceGroup"`
		UsageType      string `json:"usageType"`
	} `json:"category"`
	ServiceRegions []string         `json:"serviceRegions"`
	PricingInfo    []skuPricingInfo `json:"pricingInfo"`
}

type skuPricingInfo struct {
	PricingExpression struct {
		UsageUnit   string `json:"usageUnit"`
		TieredRates []struct {
			UnitPrice struct {
				Units string `json:"units"`
				Nanos int64  `json:"nanos"`
			} `json:"unitPrice"`
		} `json:"tieredRates"`
	} `json:"pricingExpression"`
}

// componentRates holds the per-region hourly rates assembled from SKUs:
// per-GPU by kind, per-vCPU and per-GB by machine family.
type componentRates struct {
	gpuOnDemand map[string]float64 // gpu kind -> $/gpu-hr
	gpuSpot     map[string]float64
	cpuOnDemand map[string]float64 // family -> $/vcpu-hr
	cpuSpot     map[string]float64
	ramOnDemand map[string]float64 // family -> $/GB-hr
	ramSpot     map[string]float64
}

func newComponentRates() *componentRates {
	return &componentRates{
		gpuOnDemand: make(map[string]float64),
		gpuSpot:     make(map[string]float64),
		cpuOnDemand: make(map[string]float64),
		cpuSpot:     make(map[string]float64),
		ramOnDemand: make(map[string]float64),
		ramSpot:     make(map[string]float64),
	}
}

func (a *Adapter) FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error) {
	rates, err := a.fetchRates(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var points []pricing.PricePoint
	for _, region := range a.regions {
		if !filter.MatchRegion(region) {
			continue
		}
		regionRates, ok := rates[region]
		if !ok {
			continue
		}
		for _, entry := range a.catalog.Entries(pricing.ProviderGCP) {
			if entry.GPUCount == 0 || !filter.MatchKind(entry.GPUKind) {
				continue
			}
			family := machineFamily(entry.Name)
			od, ok := assemblePrice(regionRates, entry, family, false)
			if !ok {
				continue
			}
			p := pricing.PricePoint{
				Provider:     pricing.ProviderGCP,
				InstanceType: entry.Name,
				Region:       region,
				GPUKind:      entry.GPUKind,
				GPUCount:     entry.GPUCount,
				VCPU:         entry.VCPU,
				MemoryGB:     entry.MemoryGB,
				OnDemand:     od,
				ObservedAt:   now,
			}
			if spot, ok := assemblePrice(regionRates, entry, family, true); ok && spot <= od {
				p.Spot = &spot
			}
			points = append(points, p)
		}
	}
	return points, nil
}

// fetchRates pages through the compute catalog collecting GPU, CPU, and RAM
// hourly rates per region.
func (a *Adapter) fetchRates(ctx context.Context) (map[string]*componentRates, error) {
	want := make(map[string]bool, len(a.regions))
	for _, r := range a.regions {
		want[r] = true
	}
	rates := make(map[string]*componentRates)

	pageToken := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("currencyCode", "USD")
		q.Set("pageSize", "5000")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		if a.apiKey != "" {
			q.Set("key", a.apiKey)
		}

		var resp skuListResponse
		if err := provider.GetJSON(ctx, a.client, a.baseURL+"?"+q.Encode(), "", &resp); err != nil {
			return nil, err
		}

		for _, sku := range resp.SKUs {
			if sku.Category.ResourceFamily != "Compute" {
				continue
			}
			var spot bool
			switch sku.Category.UsageType {
			case "OnDemand":
				spot = false
			case "Preemptible":
				spot = true
			default:
				continue
			}
			rate, ok := hourlyRate(sku.PricingInfo)
			if !ok {
				continue
			}
			for _, region := range sku.ServiceRegions {
				if !want[region] {
					continue
				}
				r := rates[region]
				if r == nil {
					r = newComponentRates()
					rates[region] = r
				}
				classifySKU(r, sku.Description, sku.Category.ResourceGroup, rate, spot)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return rates, nil
}

// hourlyRate extracts the first positive tiered rate as USD per hour.
func hourlyRate(info []skuPricingInfo) (float64, bool) {
	for _, pi := range info {
		if u := pi.PricingExpression.UsageUnit; u != "h" && u != "GiBy.h" {
			continue
		}
		for _, tier := range pi.PricingExpression.TieredRates {
			units, _ := strconv.ParseFloat(tier.UnitPrice.Units, 64)
			rate := units + float64(tier.UnitPrice.Nanos)/1e9
			if rate > 0 {
				return rate, true
			}
		}
	}
	return 0, false
}

// classifySKU routes one SKU's rate into the per-component maps based on its
// resource group and description.
func classifySKU(r *componentRates, description, group string, rate float64, spot bool) {
	switch group {
	case "GPU":
		kind := gpuKindFromDescription(description)
		if kind == "" {
			return
		}
		if spot {
			keepMin(r.gpuSpot, kind, rate)
		} else {
			keepMin(r.gpuOnDemand, kind, rate)
		}
	case "CPU":
		family := familyFromDescription(description)
		if family == "" {
			return
		}
		if spot {
			keepMin(r.cpuSpot, family, rate)
		} else {
			keepMin(r.cpuOnDemand, family, rate)
		}
	case "RAM":
		family := familyFromDescription(description)
		if family == "" {
			return
		}
		if spot {
			keepMin(r.ramSpot, family, rate)
		} else {
			keepMin(r.ramOnDemand, family, rate)
		}
	}
}

func keepMin(m map[string]float64, key string, rate float64) {
	if prev, ok := m[key]; !ok || rate < prev {
		m[key] = rate
	}
}

// gpuKindFromDescription maps SKU descriptions like "Nvidia Tesla A100 GPU
// running in Americas" to canonical kinds.
func gpuKindFromDescription(desc string) string {
	d := strings.ToLower(desc)
	for _, marker := range []string{"h100", "a100", "v100", "l4", "t4", "k80"} {
		if strings.Contains(d, marker) {
			return gpu.Canonicalize(marker)
		}
	}
	return ""
}

// familyFromDescription maps component SKU descriptions to machine families.
func familyFromDescription(desc string) string {
	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "a3 instance"):
		return "a3"
	case strings.Contains(d, "a2 instance"):
		return "a2"
	case strings.Contains(d, "g2 instance"):
		return "g2"
	case strings.Contains(d, "n1 predefined"):
		return "n1"
	}
	return ""
}

// machineFamily derives the family from a catalog instance name.
func machineFamily(name string) string {
	if i := strings.IndexByte(name, '-'); i > 0 {
		return name[:i]
	}
	return name
}

// assemblePrice sums the component rates for one shape. A2, A3, and G2 bundle
// the GPU into the machine type, but the catalog still prices the accelerator
// as a separate component, so the sum holds across families.
func assemblePrice(r *componentRates, entry store.CatalogEntry, family string, spot bool) (float64, bool) {
	gpuRates, cpuRates, ramRates := r.gpuOnDemand, r.cpuOnDemand, r.ramOnDemand
	if spot {
		gpuRates, cpuRates, ramRates = r.gpuSpot, r.cpuSpot, r.ramSpot
	}
	gpuRate, ok := gpuRates[entry.GPUKind]
	if !ok {
		return 0, false
	}
	cpuRate, ok := cpuRates[family]
	if !ok {
		return 0, false
	}
	ramRate, ok := ramRates[family]
	if !ok {
		return 0, false
	}
	price := float64(entry.GPUCount)*gpuRate + float64(entry.VCPU)*cpuRate + float64(entry.MemoryGB)*ramRate
	if price <= 0 {
		return 0, false
	}
	return price, true
}
