package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudarb/cloudarb/pkg/pricing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHistoryNilSafe(t *testing.T) {
	h := NewHistory(nil)
	if err := h.Record([]pricing.PricePoint{{Provider: "aws", OnDemand: 1}}); err != nil {
		t.Errorf("nil-db Record should be a no-op, got %v", err)
	}
	if v := h.Volatility(pricing.LineKey{}, 24); v != 0 {
		t.Errorf("nil-db Volatility = %v, want 0", v)
	}
}

func TestHistoryRecordAndVolatility(t *testing.T) {
	db := openTestDB(t)
	h := NewHistory(db.RawDB())

	key := pricing.LineKey{Provider: pricing.ProviderAWS, InstanceType: "g5.xlarge", Region: "us-east-1"}
	base := time.Now().Add(-time.Hour)
	spot := 0.5
	var batch []pricing.PricePoint
	for i, price := range []float64{1.0, 1.1, 0.9, 1.05, 0.95} {
		batch = append(batch, pricing.PricePoint{
			Provider:     key.Provider,
			InstanceType: key.InstanceType,
			Region:       key.Region,
			OnDemand:     price,
			Spot:         &spot,
			ObservedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	if err := h.Record(batch); err != nil {
		t.Fatalf("Record: %v", err)
	}

	v := h.Volatility(key, 24)
	if v <= 0 {
		t.Errorf("Volatility = %v, want positive for varying prices", v)
	}
	if v > 0.2 {
		t.Errorf("Volatility = %v, implausibly high for ~7%% swings", v)
	}

	// A line with a single observation has no measurable volatility.
	other := pricing.LineKey{Provider: pricing.ProviderGCP, InstanceType: "g2-standard-4", Region: "us-central1"}
	if err := h.Record([]pricing.PricePoint{{
		Provider: other.Provider, InstanceType: other.InstanceType, Region: other.Region,
		OnDemand: 0.7, ObservedAt: time.Now(),
	}}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if v := h.Volatility(other, 24); v != 0 {
		t.Errorf("single-point Volatility = %v, want 0", v)
	}
}

func TestCleanupPrunesOldHistory(t *testing.T) {
	db := openTestDB(t)
	h := NewHistory(db.RawDB())

	old := pricing.PricePoint{
		Provider: pricing.ProviderAWS, InstanceType: "p3.2xlarge", Region: "us-east-1",
		OnDemand: 3.06, ObservedAt: time.Now().AddDate(0, 0, -120),
	}
	recent := old
	recent.ObservedAt = time.Now()
	if err := h.Record([]pricing.PricePoint{old, recent}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := db.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	var n int
	if err := db.RawDB().QueryRow("SELECT COUNT(*) FROM price_points").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows after cleanup = %d, want 1", n)
	}
}
