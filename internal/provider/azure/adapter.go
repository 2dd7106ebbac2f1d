// Package azure fetches VM pricing from the Azure Retail Prices API. The API
// is unauthenticated; spot quotes appear as separate meters on the same SKU.
package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudarb/cloudarb/internal/provider"
	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/adapter"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

const retailPricesURL = "https://prices.azure.com/api/retail/prices"

// maxPages caps NextPageLink pagination so a misbehaving filter cannot spin
// the cycle forever.
const maxPages = 20

type Adapter struct {
	regions []string
	baseURL string
	client  *http.Client
	catalog *store.Catalog
}

func New(regions []string, catalog *store.Catalog) *Adapter {
	return &Adapter{
		regions: regions,
		baseURL: retailPricesURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		catalog: catalog,
	}
}

func (a *Adapter) Name() pricing.Provider { return pricing.ProviderAzure }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSpot:      true,
		RegionGranularity: true,
		SustainableQPS:    2,
		MinPollInterval:   60 * time.Second,
	}
}

type retailPricesResponse struct {
	Items []struct {
		ArmSkuName    string  `json:"armSkuName"`
		ArmRegionName string  `json:"armRegionName"`
		SkuName       string  `json:"skuName"`
		ProductName   string  `json:"productName"`
		MeterName     string  `json:"meterName"`
		RetailPrice   float64 `json:"retailPrice"`
		UnitOfMeasure string  `json:"unitOfMeasure"`
		Type          string  `json:"type"`
	} `json:"Items"`
	NextPageLink string `json:"NextPageLink"`
}

func (a *Adapter) FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error) {
	entries := a.catalog.Entries(pricing.ProviderAzure)
	wanted := make(map[string]store.CatalogEntry, len(entries))
	for _, e := range entries {
		if e.GPUCount > 0 && filter.MatchKind(e.GPUKind) {
			wanted[e.Name] = e
		}
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	var points []pricing.PricePoint
	for _, region := range a.regions {
		if !filter.MatchRegion(region) {
			continue
		}
		onDemand, spot, err := a.fetchRegion(ctx, region, wanted)
		if err != nil {
			return nil, err
		}
		for sku, price := range onDemand {
			e := wanted[sku]
			p := pricing.PricePoint{
				Provider:     pricing.ProviderAzure,
				InstanceType: sku,
				Region:       region,
				GPUKind:      e.GPUKind,
				GPUCount:     e.GPUCount,
				VCPU:         e.VCPU,
				MemoryGB:     e.MemoryGB,
				OnDemand:     price,
				ObservedAt:   now,
			}
			if s, ok := spot[sku]; ok && s > 0 && s <= price {
				p.Spot = &s
			}
			points = append(points, p)
		}
	}
	return points, nil
}

// fetchRegion pages through the retail prices for one region and splits the
// meters into pay-as-you-go and spot prices keyed by armSkuName.
func (a *Adapter) fetchRegion(ctx context.Context, region string, wanted map[string]store.CatalogEntry) (onDemand, spot map[string]float64, err error) {
	skuFilters := make([]string, 0, len(wanted))
	for sku := range wanted {
		skuFilters = append(skuFilters, fmt.Sprintf("armSkuName eq '%s'", sku))
	}
	filter := fmt.Sprintf(
		"serviceName eq 'Virtual Machines' and priceType eq 'Consumption' and armRegionName eq '%s' and (%s)",
		region, strings.Join(skuFilters, " or "))
	next := a.baseURL + "?currencyCode=USD&$filter=" + url.QueryEscape(filter)

	onDemand = make(map[string]float64)
	spot = make(map[string]float64)
	for page := 0; next != "" && page < maxPages; page++ {
		var resp retailPricesResponse
		if err := provider.GetJSON(ctx, a.client, next, "", &resp); err != nil {
			return nil, nil, err
		}
		for _, item := range resp.Items {
			if item.RetailPrice <= 0 || item.UnitOfMeasure != "1 Hour" {
				continue
			}
			// Windows meters share the armSkuName; keep the Linux ones.
			if strings.Contains(item.ProductName, "Windows") {
				continue
			}
			switch {
			case strings.Contains(item.SkuName, "Low Priority"):
				// Deprecated tier, superseded by Spot.
			case strings.Contains(item.SkuName, "Spot") || strings.Contains(item.MeterName, "Spot"):
				if prev, ok := spot[item.ArmSkuName]; !ok || item.RetailPrice < prev {
					spot[item.ArmSkuName] = item.RetailPrice
				}
			default:
				if prev, ok := onDemand[item.ArmSkuName]; !ok || item.RetailPrice < prev {
					onDemand[item.ArmSkuName] = item.RetailPrice
				}
			}
		}
		next = resp.NextPageLink
	}
	return onDemand, spot, nil
}
