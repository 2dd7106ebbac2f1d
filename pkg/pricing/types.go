package pricing

import (
	"sort"
	"time"
)

// Provider identifies a cloud provider integrated with the pricing pipeline.
type Provider string

const (
	ProviderAWS        Provider = "aws"
	ProviderGCP        Provider = "gcp"
	ProviderAzure      Provider = "azure"
	ProviderLambdaLabs Provider = "lambdalabs"
	ProviderRunPod     Provider = "runpod"
)

// AllProviders lists every known provider in registration order.
var AllProviders = []Provider{
	ProviderAWS, ProviderGCP, ProviderAzure, ProviderLambdaLabs, ProviderRunPod,
}

// LineKey identifies a line: the (provider, instance type, region) tuple at
// which prices are quoted and allocations are selected.
type LineKey struct {
	Provider     Provider
	InstanceType string
	Region       string
}

// PricePoint is a normalized price observation for one line. OnDemand is
// always USD per hour; adapters scale per-second or per-minute quotes before
// emitting. Spot is nil for providers without a spot market.
type PricePoint struct {
	Provider     Provider
	InstanceType string
	Region       string
	GPUKind      string
	GPUCount     int
	VCPU         int
	MemoryGB     int
	OnDemand     float64
	Spot         *float64
	ObservedAt   time.Time
}

// Key returns the line key for this point.
func (p PricePoint) Key() LineKey {
	return LineKey{Provider: p.Provider, InstanceType: p.InstanceType, Region: p.Region}
}

// Valid reports whether the point satisfies the table invariants:
// on-demand > 0 and spot, if present, <= on-demand.
func (p PricePoint) Valid() bool {
	if p.OnDemand <= 0 {
		return false
	}
	if p.Spot != nil && (*p.Spot <= 0 || *p.Spot > p.OnDemand) {
		return false
	}
	return true
}

// Filter restricts a fetch or a snapshot read to the GPU kinds, regions, and
// providers actually required. Empty slices match everything. GPU kinds are
// compared after canonicalization by the caller; regions are opaque strings.
type Filter struct {
	GPUKinds  []string
	Regions   []string
	Providers []Provider
}

// MatchKind reports whether the canonical GPU kind passes the filter.
func (f Filter) MatchKind(kind string) bool {
	if len(f.GPUKinds) == 0 {
		return true
	}
	for _, k := range f.GPUKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// MatchRegion reports whether the region passes the filter.
func (f Filter) MatchRegion(region string) bool {
	if len(f.Regions) == 0 {
		return true
	}
	for _, r := range f.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// MatchProvider reports whether the provider passes the filter.
func (f Filter) MatchProvider(p Provider) bool {
	if len(f.Providers) == 0 {
		return true
	}
	for _, fp := range f.Providers {
		if fp == p {
			return true
		}
	}
	return false
}

// Match applies all three filter dimensions to a point.
func (f Filter) Match(p PricePoint) bool {
	return f.MatchProvider(p.Provider) && f.MatchKind(p.GPUKind) && f.MatchRegion(p.Region)
}

// Snapshot is an immutable view of the pricing table at one generation.
// Readers must not mutate Points; the aggregator swaps in a fresh map on
// every publish.
type Snapshot struct {
	Generation uint64
	BuiltAt    time.Time
	Points     map[LineKey]PricePoint
}

// Lookup returns the latest point for a line.
func (s *Snapshot) Lookup(key LineKey) (PricePoint, bool) {
	p, ok := s.Points[key]
	return p, ok
}

// Len returns the number of lines in the snapshot.
func (s *Snapshot) Len() int { return len(s.Points) }

// Lines returns the points matching the filter, sorted by provider name,
// then region, then instance type. The ordering is part of the solve
// determinism contract, so callers must not rely on map iteration instead.
func (s *Snapshot) Lines(f Filter) []PricePoint {
	out := make([]PricePoint, 0, len(s.Points))
	for _, p := range s.Points {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		return a.InstanceType < b.InstanceType
	})
	return out
}
