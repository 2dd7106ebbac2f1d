package gcp

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudarb/cloudarb/internal/store"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// One catalog page with the component SKUs needed to price the a2 family in
// us-central1: the A100 accelerator, A2 cores, and A2 memory, each with an
// on-demand and a preemptible rate.
const sampleCatalogPage = `{
  "skus": [
    {
      "description": "Nvidia Tesla A100 GPU running in Americas",
      "category": {"resourceFamily": "Compute", "resourceGroup": "GPU", "usageType": "OnDemand"},
      "serviceRegions": ["us-central1"],
      "pricingInfo": [{"pricingExpression": {"usageUnit": "h", "tieredRates": [{"unitPrice": {"units": "2", "nanos": 0}}]}}]
    },
    {
      "description": "Nvidia Tesla A100 GPU attached to Spot Preemptible VMs running in Americas",
      "category": {"resourceFamily": "Compute", "resourceGroup": "GPU", "usageType": "Preemptible"},
      "serviceRegions": ["us-central1"],
      "pricingInfo": [{"pricingExpression": {"usageUnit": "h", "tieredRates": [{"unitPrice": {"units": "0", "nanos": 800000000}}]}}]
    },
    {
      "description": "A2 Instance Core running in Americas",
      "category": {"resourceFamily": "Compute", "resourceGroup": "CPU", "usageType": "OnDemand"},
      "serviceRegions": ["us-central1"],
      "pricingInfo": [{"pricingExpression": {"usageUnit": "h", "tieredRates": [{"unitPrice": {"units": "0", "nanos": 30000000}}]}}]
    },
    {
      "description": "A2 Instance Core attached to Spot Preemptible VMs running in Americas",
      "category": {"resourceFamily": "Compute", "resourceGroup": "CPU", "usageType": "Preemptible"},
      "serviceRegions": ["us-central1"],
      "pricingInfo": [{"pricingExpression": {"usageUnit": "h", "tieredRates": [{"unitPrice": {"units": "0", "nanos": 10000000}}]}}]
    },
    {
      "description": "A2 Instance Ram running in Americas",
      "category": {"resourceFamily": "Compute", "resourceGroup": "RAM", "usageType": "OnDemand"},
      "serviceRegions": ["us-central1"],
      "pricingInfo": [{"pricingExpression": {"usageUnit": "GiBy.h", "tieredRates": [{"unitPrice": {"units": "0", "nanos": 4000000}}]}}]
    },
    {
      "description": "A2 Instance Ram attached to Spot Preemptible VMs running in Americas",
      "category": {"resourceFamily": "Compute", "resourceGroup": "RAM", "usageType": "Preemptible"},
      "serviceRegions": ["us-central1"],
      "pricingInfo": [{"pricingExpression": {"usageUnit": "GiBy.h", "tieredRates": [{"unitPrice": {"units": "0", "nanos": 1000000}}]}}]
    },
    {
      "description": "Network Internet Egress from Americas to Americas",
      "category": {"resourceFamily": "Network", "resourceGroup": "PremiumInternetEgress", "usageType": "OnDemand"},
      "serviceRegions": ["us-central1"],
      "pricingInfo": [{"pricingExpression": {"usageUnit": "GiBy", "tieredRates": [{"unitPrice": {"units": "0", "nanos": 120000000}}]}}]
    }
  ]
}`

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	return &Adapter{
		regions: []string{"us-central1"},
		apiKey:  "test-key",
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Second},
		catalog: store.NewCatalog(nil),
	}
}

func TestFetchPricingAssemblesComponents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing API key in query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(sampleCatalogPage))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	points, err := a.FetchPricing(context.Background(), pricing.Filter{GPUKinds: []string{"a100"}})
	if err != nil {
		t.Fatalf("FetchPricing: %v", err)
	}

	// Both a2 shapes price; the n1/v100 and a3/h100 shapes lack component
	// rates and are skipped.
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2: %+v", len(points), points)
	}
	byType := make(map[string]pricing.PricePoint)
	for _, p := range points {
		byType[p.InstanceType] = p
	}

	p, ok := byType["a2-highgpu-1g"]
	if !ok {
		t.Fatalf("no a2-highgpu-1g point")
	}
	// 1 gpu x 2.00 + 12 vcpu x 0.03 + 85 GB x 0.004
	if math.Abs(p.OnDemand-2.70) > 1e-9 {
		t.Errorf("a2-highgpu-1g on-demand = %v, want 2.70", p.OnDemand)
	}
	if p.Spot == nil {
		t.Fatalf("a2-highgpu-1g has no spot price")
	}
	// 1 x 0.80 + 12 x 0.01 + 85 x 0.001
	if math.Abs(*p.Spot-1.005) > 1e-9 {
		t.Errorf("a2-highgpu-1g spot = %v, want 1.005", *p.Spot)
	}

	p8 := byType["a2-highgpu-8g"]
	if math.Abs(p8.OnDemand-21.60) > 1e-9 {
		t.Errorf("a2-highgpu-8g on-demand = %v, want 21.60", p8.OnDemand)
	}
}

func TestFetchPricingSkipsUnwantedRegion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCatalogPage))
	}))
	defer srv.Close()

	a := newTestAdapter(t, srv.URL)
	a.regions = []string{"europe-west4"}
	points, err := a.FetchPricing(context.Background(), pricing.Filter{})
	if err != nil {
		t.Fatalf("FetchPricing: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("got %d points for a region the page does not cover", len(points))
	}
}

func TestGPUKindFromDescription(t *testing.T) {
	cases := []struct {
		desc string
		want string
	}{
		{"Nvidia Tesla A100 GPU running in Americas", "a100"},
		{"Nvidia H100 80GB GPU running in EMEA", "h100"},
		{"Nvidia L4 GPU running in Americas", "l4"},
		{"Commitment v1: GPU in Americas", ""},
	}
	for _, c := range cases {
		if got := gpuKindFromDescription(c.desc); got != c.want {
			t.Errorf("gpuKindFromDescription(%q) = %q, want %q", c.desc, got, c.want)
		}
	}
}

func TestMachineFamily(t *testing.T) {
	if got := machineFamily("a2-highgpu-8g"); got != "a2" {
		t.Errorf("machineFamily = %q, want a2", got)
	}
	if got := machineFamily("n1-standard-8-t4"); got != "n1" {
		t.Errorf("machineFamily = %q, want n1", got)
	}
}
