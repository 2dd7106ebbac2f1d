package azure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/gpu"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

type retailItem struct {
	ArmSkuName    string  `json:"armSkuName"`
	ArmRegionName string  `json:"armRegionName"`
	SkuName       string  `json:"skuName"`
	ProductName   string  `json:"productName"`
	MeterName     string  `json:"meterName"`
	RetailPrice   float64 `json:"retailPrice"`
	UnitOfMeasure string  `json:"unitOfMeasure"`
	Type          string  `json:"type"`
}

func testAdapter(t *testing.T, pages ...[]retailItem) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		page := 0
		if p := r.URL.Query().Get("page"); p != "" {
			page = int(p[0] - '0')
		}
		next := ""
		if page+1 < len(pages) {
			next = srv.URL + "/?page=" + string(rune('0'+page+1))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Items":        pages[page],
			"NextPageLink": next,
		})
	})

	a := New([]string{"eastus"}, store.NewCatalog(nil))
	a.baseURL = srv.URL
	return a
}

func TestFetchPricingSplitsSpotMeters(t *testing.T) {
	a := testAdapter(t, []retailItem{
		{ArmSkuName: "Standard_NC24ads_A100_v4", ArmRegionName: "eastus", SkuName: "NC24ads A100 v4", ProductName: "Virtual Machines NCads A100 v4 Series", MeterName: "NC24ads A100 v4", RetailPrice: 3.67, UnitOfMeasure: "1 Hour", Type: "Consumption"},
		{ArmSkuName: "Standard_NC24ads_A100_v4", ArmRegionName: "eastus", SkuName: "NC24ads A100 v4 Spot", ProductName: "Virtual Machines NCads A100 v4 Series", MeterName: "NC24ads A100 v4 Spot", RetailPrice: 1.47, UnitOfMeasure: "1 Hour", Type: "Consumption"},
		{ArmSkuName: "Standard_NC24ads_A100_v4", ArmRegionName: "eastus", SkuName: "NC24ads A100 v4 Low Priority", ProductName: "Virtual Machines NCads A100 v4 Series", MeterName: "NC24ads A100 v4 Low Priority", RetailPrice: 1.10, UnitOfMeasure: "1 Hour", Type: "Consumption"},
		{ArmSkuName: "Standard_NC24ads_A100_v4", ArmRegionName: "eastus", SkuName: "NC24ads A100 v4", ProductName: "Virtual Machines NCads A100 v4 Series Windows", MeterName: "NC24ads A100 v4", RetailPrice: 5.00, UnitOfMeasure: "1 Hour", Type: "Consumption"},
	})

	points, err := a.FetchPricing(context.Background(), pricing.Filter{})
	if err != nil {
		t.Fatalf("FetchPricing: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}

	p := points[0]
	if p.OnDemand != 3.67 {
		t.Errorf("on-demand = %v, want Linux pay-as-you-go 3.67", p.OnDemand)
	}
	if p.Spot == nil || *p.Spot != 1.47 {
		t.Errorf("spot = %v, want the Spot meter 1.47 (not Low Priority)", p.Spot)
	}
	if p.GPUKind != gpu.KindA100 || p.GPUCount != 1 {
		t.Errorf("catalog enrichment wrong: %s x%d", p.GPUKind, p.GPUCount)
	}
}

func TestFetchPricingFollowsPagination(t *testing.T) {
	a := testAdapter(t,
		[]retailItem{
			{ArmSkuName: "Standard_NC6s_v3", ArmRegionName: "eastus", SkuName: "NC6s v3", ProductName: "Virtual Machines NCSv3 Series", MeterName: "NC6s v3", RetailPrice: 3.06, UnitOfMeasure: "1 Hour", Type: "Consumption"},
		},
		[]retailItem{
			{ArmSkuName: "Standard_ND96isr_H100_v5", ArmRegionName: "eastus", SkuName: "ND96isr H100 v5", ProductName: "Virtual Machines NDSH100v5 Series", MeterName: "ND96isr H100 v5", RetailPrice: 98.32, UnitOfMeasure: "1 Hour", Type: "Consumption"},
		},
	)

	points, err := a.FetchPricing(context.Background(), pricing.Filter{})
	if err != nil {
		t.Fatalf("FetchPricing: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points across pages, want 2", len(points))
	}
}

func TestFetchPricingSendsODataFilter(t *testing.T) {
	var gotFilter string
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		json.NewEncoder(w).Encode(map[string]any{"Items": []retailItem{}})
	})

	a := New([]string{"eastus"}, store.NewCatalog(nil))
	a.baseURL = srv.URL
	if _, err := a.FetchPricing(context.Background(), pricing.Filter{GPUKinds: []string{gpu.KindH100}}); err != nil {
		t.Fatalf("FetchPricing: %v", err)
	}

	if !strings.Contains(gotFilter, "armRegionName eq 'eastus'") {
		t.Errorf("filter missing region clause: %q", gotFilter)
	}
	if !strings.Contains(gotFilter, "Standard_ND96isr_H100_v5") {
		t.Errorf("filter missing the H100 SKU: %q", gotFilter)
	}
	if strings.Contains(gotFilter, "Standard_NC6s_v3") {
		t.Errorf("filter should exclude non-H100 SKUs: %q", gotFilter)
	}
}
