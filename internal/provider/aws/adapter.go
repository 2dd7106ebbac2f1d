// Package aws translates the AWS Pricing API and EC2 spot price history into
// normalized price points for the aggregator.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	awspricing "github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"

	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/adapter"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// regionLocations maps region codes to the "location" strings the Pricing
// API filters on.
var regionLocations = map[string]string{
	"us-east-1":      "US East (N. Virginia)",
	"us-east-2":      "US East (Ohio)",
	"us-west-1":      "US West (N. California)",
	"us-west-2":      "US West (Oregon)",
	"eu-west-1":      "Europe (Ireland)",
	"eu-central-1":   "Europe (Frankfurt)",
	"ap-southeast-1": "Asia Pacific (Singapore)",
	"ap-northeast-1": "Asia Pacific (Tokyo)",
}

// Adapter fetches on-demand prices from the Pricing API and spot prices from
// per-region EC2 spot price history. It owns its SDK clients; credentials
// come from the SDK's default chain.
type Adapter struct {
	pricingClient *awspricing.Client
	ec2Clients    map[string]*ec2.Client
	regions       []string
	catalog       *store.Catalog
}

// New builds the adapter for the configured regions.
func New(ctx context.Context, regions []string, catalog *store.Catalog) (*Adapter, error) {
	// The AWS Pricing API is only available in us-east-1.
	pricingCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion("us-east-1"))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	ec2Clients := make(map[string]*ec2.Client, len(regions))
	for _, region := range regions {
		regionCfg := pricingCfg.Copy()
		regionCfg.Region = region
		ec2Clients[region] = ec2.NewFromConfig(regionCfg)
	}

	return &Adapter{
		pricingClient: awspricing.NewFromConfig(pricingCfg),
		ec2Clients:    ec2Clients,
		regions:       regions,
		catalog:       catalog,
	}, nil
}

func (a *Adapter) Name() pricing.Provider { return pricing.ProviderAWS }

func (a *Adapter) Capabilities() adapter.Capabilities {
	return adapter.Capabilities{
		SupportsSpot:      true,
		RegionGranularity: true,
		SustainableQPS:    1,
		MinPollInterval:   60 * time.Second,
	}
}

// FetchPricing queries on-demand prices per (instance type, region) pair the
// catalog knows about, then overlays the latest spot observation per line.
func (a *Adapter) FetchPricing(ctx context.Context, filter pricing.Filter) ([]pricing.PricePoint, error) {
	types := a.gpuInstanceTypes(filter)
	if len(types) == 0 {
		return nil, nil
	}

	var points []pricing.PricePoint
	for _, region := range a.regions {
		if !filter.MatchRegion(region) {
			continue
		}
		spot, err := a.fetchSpotPrices(ctx, region, types)
		if err != nil {
			// Spot history is an overlay; missing it degrades points to
			// on-demand only rather than failing the fetch.
			slog.Warn("aws: spot price history unavailable", "region", region, "error", err)
			spot = nil
		}
		for _, entry := range types {
			od, err := a.fetchOnDemandPrice(ctx, entry.Name, region)
			if err != nil {
				return nil, err
			}
			if od <= 0 {
				continue
			}
			p := pricing.PricePoint{
				Provider:     pricing.ProviderAWS,
				InstanceType: entry.Name,
				Region:       region,
				GPUKind:      entry.GPUKind,
				GPUCount:     entry.GPUCount,
				VCPU:         entry.VCPU,
				MemoryGB:     entry.MemoryGB,
				OnDemand:     od,
				ObservedAt:   time.Now().UTC(),
			}
			if s, ok := spot[entry.Name]; ok && s > 0 && s <= od {
				p.Spot = &s
			}
			points = append(points, p)
		}
	}
	return points, nil
}

// gpuInstanceTypes returns the catalog's AWS GPU shapes passing the filter.
func (a *Adapter) gpuInstanceTypes(filter pricing.Filter) []store.CatalogEntry {
	var out []store.CatalogEntry
	for _, e := range a.catalog.Entries(pricing.ProviderAWS) {
		if e.GPUCount > 0 && filter.MatchKind(e.GPUKind) {
			out = append(out, e)
		}
	}
	return out
}

// fetchOnDemandPrice queries GetProducts for one (instance type, region).
func (a *Adapter) fetchOnDemandPrice(ctx context.Context, instanceType, region string) (float64, error) {
	location, ok := regionLocations[region]
	if !ok {
		location = region
	}
	filters := []pricingtypes.Filter{
		{Type: pricingtypes.FilterTypeTermMatch, Field: awssdk.String("ServiceCode"), Value: awssdk.String("AmazonEC2")},
		{Type: pricingtypes.FilterTypeTermMatch, Field: awssdk.String("instanceType"), Value: awssdk.String(instanceType)},
		{Type: pricingtypes.FilterTypeTermMatch, Field: awssdk.String("location"), Value: awssdk.String(location)},
		{Type: pricingtypes.FilterTypeTermMatch, Field: awssdk.String("operatingSystem"), Value: awssdk.String("Linux")},
		{Type: pricingtypes.FilterTypeTermMatch, Field: awssdk.String("tenancy"), Value: awssdk.String("Shared")},
		{Type: pricingtypes.FilterTypeTermMatch, Field: awssdk.String("preInstalledSw"), Value: awssdk.String("NA")},
		{Type: pricingtypes.FilterTypeTermMatch, Field: awssdk.String("capacitystatus"), Value: awssdk.String("Used")},
	}

	out, err := a.pricingClient.GetProducts(ctx, &awspricing.GetProductsInput{
		ServiceCode: awssdk.String("AmazonEC2"),
		Filters:     filters,
		MaxResults:  awssdk.Int32(10),
	})
	if err != nil {
		if isAuthError(err) {
			return 0, pricing.WrapError(pricing.CodeAuthFailed, err, "aws pricing API rejected credentials")
		}
		return 0, fmt.Errorf("getting pricing products: %w", err)
	}

	for _, item := range out.PriceList {
		if price, ok := parsePriceListItem(item); ok {
			return price, nil
		}
	}
	return 0, nil
}

// parsePriceListItem extracts the hourly on-demand USD price from one
// PriceList JSON document.
func parsePriceListItem(priceJSON string) (float64, bool) {
	var item struct {
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					Unit         string            `json:"unit"`
					PricePerUnit map[string]string `json:"pricePerUnit"`
				} `json:"priceDimensions"`
			} `json:"OnDemand"`
		} `json:"terms"`
	}
	if err := json.Unmarshal([]byte(priceJSON), &item); err != nil {
		return 0, false
	}
	for _, offer := range item.Terms.OnDemand {
		for _, dim := range offer.PriceDimensions {
			if dim.Unit != "Hrs" {
				continue
			}
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			p, err := strconv.ParseFloat(usd, 64)
			if err != nil || p <= 0 {
				continue
			}
			return p, true
		}
	}
	return 0, false
}

// fetchSpotPrices returns the most recent spot price per instance type from
// the last hour of history, taking the cheapest availability zone.
func (a *Adapter) fetchSpotPrices(ctx context.Context, region string, types []store.CatalogEntry) (map[string]float64, error) {
	client, ok := a.ec2Clients[region]
	if !ok {
		return nil, fmt.Errorf("no ec2 client for region %s", region)
	}

	names := make([]ec2types.InstanceType, 0, len(types))
	for _, t := range types {
		names = append(names, ec2types.InstanceType(t.Name))
	}

	now := time.Now().UTC()
	out, err := client.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       names,
		ProductDescriptions: []string{"Linux/UNIX"},
		StartTime:           awssdk.Time(now.Add(-1 * time.Hour)),
		EndTime:             awssdk.Time(now),
	})
	if err != nil {
		if isAuthError(err) {
			return nil, pricing.WrapError(pricing.CodeAuthFailed, err, "aws ec2 API rejected credentials")
		}
		return nil, fmt.Errorf("describing spot price history: %w", err)
	}

	latest := make(map[string]time.Time)
	prices := make(map[string]float64)
	for _, h := range out.SpotPriceHistory {
		if h.SpotPrice == nil || h.Timestamp == nil {
			continue
		}
		p, err := strconv.ParseFloat(*h.SpotPrice, 64)
		if err != nil || p <= 0 {
			continue
		}
		name := string(h.InstanceType)
		ts := *h.Timestamp
		switch prev, ok := latest[name]; {
		case !ok || ts.After(prev):
			latest[name] = ts
			prices[name] = p
		case ts.Equal(prev) && p < prices[name]:
			prices[name] = p
		}
	}
	return prices, nil
}

// isAuthError detects credential rejections in SDK error chains.
func isAuthError(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"UnauthorizedOperation", "AccessDenied", "InvalidClientTokenId", "AuthFailure", "ExpiredToken"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
