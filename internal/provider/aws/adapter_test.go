package aws

import (
	"errors"
	"testing"
)

const samplePriceListItem = `{
  "product": {"sku": "ABC123", "attributes": {"instanceType": "p4d.24xlarge"}},
  "terms": {
    "OnDemand": {
      "ABC123.JRTCKXETXF": {
        "priceDimensions": {
          "ABC123.JRTCKXETXF.6YS6EN2CT7": {
            "unit": "Hrs",
            "pricePerUnit": {"USD": "32.7726000000"}
          }
        }
      }
    }
  }
}`

func TestParsePriceListItem(t *testing.T) {
	price, ok := parsePriceListItem(samplePriceListItem)
	if !ok {
		t.Fatalf("parsePriceListItem: no price extracted")
	}
	if price != 32.7726 {
		t.Errorf("price = %v, want 32.7726", price)
	}
}

func TestParsePriceListItemSkipsNonHourly(t *testing.T) {
	item := `{"terms": {"OnDemand": {"X": {"priceDimensions": {"Y": {"unit": "Quantity", "pricePerUnit": {"USD": "5000"}}}}}}}`
	if _, ok := parsePriceListItem(item); ok {
		t.Errorf("non-hourly dimension produced a price")
	}
}

func TestParsePriceListItemRejectsZeroAndGarbage(t *testing.T) {
	zero := `{"terms": {"OnDemand": {"X": {"priceDimensions": {"Y": {"unit": "Hrs", "pricePerUnit": {"USD": "0.0000000000"}}}}}}}`
	if _, ok := parsePriceListItem(zero); ok {
		t.Errorf("zero price accepted")
	}
	if _, ok := parsePriceListItem("not json"); ok {
		t.Errorf("malformed document accepted")
	}
}

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("operation error Pricing: GetProducts, https response error StatusCode: 403, api error AccessDeniedException"), true},
		{errors.New("api error UnauthorizedOperation: You are not authorized"), true},
		{errors.New("ExpiredToken: The security token included in the request is expired"), true},
		{errors.New("operation error EC2: DescribeSpotPriceHistory, exceeded maximum number of attempts"), false},
		{errors.New("dial tcp: lookup api.pricing.us-east-1.amazonaws.com: no such host"), false},
	}
	for _, c := range cases {
		if got := isAuthError(c.err); got != c.want {
			t.Errorf("isAuthError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
