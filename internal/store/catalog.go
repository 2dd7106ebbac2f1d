package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cloudarb/cloudarb/pkg/gpu"
	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// CatalogEntry is one instance_types row: the long-lived shape of an
// instance type, as opposed to its fast-moving price.
type CatalogEntry struct {
	Provider pricing.Provider
	Name     string
	GPUKind  string
	GPUCount int
	VCPU     int
	MemoryGB int
	// Capacity bounds how many instances a single allocation may take from
	// this type. 0 means unbounded.
	Capacity int
	// PerfScore overrides the per-GPU benchmark when the row carries one.
	PerfScore float64
}

// Catalog holds the providers and instance_types rows, loaded at startup and
// reloaded on signal. All methods are nil-safe: a Catalog built from a nil DB
// serves the embedded seed entries only.
type Catalog struct {
	db *sql.DB

	mu      sync.RWMutex
	entries map[catalogKey]CatalogEntry
}

type catalogKey struct {
	provider pricing.Provider
	name     string
}

// NewCatalog builds a catalog from the database, overlaying rows on the
// embedded seed set so a fresh deployment works before any rows are written.
func NewCatalog(db *sql.DB) *Catalog {
	c := &Catalog{entries: make(map[catalogKey]CatalogEntry)}
	if db != nil {
		c.db = db
	}
	for _, e := range seedEntries {
		c.entries[catalogKey{e.Provider, e.Name}] = e
	}
	if err := c.Reload(); err != nil {
		slog.Warn("catalog: initial load failed, using seed entries", "error", err)
	}
	return c
}

// Reload re-reads instance_types, overlaying rows on the seed set. Called at
// startup and on SIGHUP.
func (c *Catalog) Reload() error {
	if c.db == nil {
		return nil
	}
	rows, err := c.db.Query(
		`SELECT provider, name, gpu_kind, gpu_count, vcpu, memory_gb, capacity, perf_score
		 FROM instance_types`)
	if err != nil {
		return fmt.Errorf("querying instance_types: %w", err)
	}
	defer rows.Close()

	loaded := make(map[catalogKey]CatalogEntry, len(seedEntries))
	for _, e := range seedEntries {
		loaded[catalogKey{e.Provider, e.Name}] = e
	}
	n := 0
	for rows.Next() {
		var e CatalogEntry
		var prov string
		if err := rows.Scan(&prov, &e.Name, &e.GPUKind, &e.GPUCount, &e.VCPU, &e.MemoryGB, &e.Capacity, &e.PerfScore); err != nil {
			return fmt.Errorf("scanning instance_types row: %w", err)
		}
		e.Provider = pricing.Provider(prov)
		e.GPUKind = gpu.Canonicalize(e.GPUKind)
		loaded[catalogKey{e.Provider, e.Name}] = e
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading instance_types rows: %w", err)
	}

	c.mu.Lock()
	c.entries = loaded
	c.mu.Unlock()
	slog.Info("catalog: reloaded", "rows", n, "total", len(loaded))
	return nil
}

// Entries returns all catalog entries for one provider, sorted by instance
// type name.
func (c *Catalog) Entries(provider pricing.Provider) []CatalogEntry {
	c.mu.RLock()
	out := make([]CatalogEntry, 0, len(c.entries))
	for k, e := range c.entries {
		if k.provider == provider {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the catalog entry for an instance type.
func (c *Catalog) Lookup(provider pricing.Provider, name string) (CatalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[catalogKey{provider, name}]
	return e, ok
}

// Capacity returns the per-line instance cap, 0 meaning unbounded.
func (c *Catalog) Capacity(provider pricing.Provider, name string) int {
	e, ok := c.Lookup(provider, name)
	if !ok {
		return 0
	}
	return e.Capacity
}

// PerfScore returns the per-instance performance score: the catalog override
// when present, otherwise gpu-count times the per-GPU benchmark.
func (c *Catalog) PerfScore(provider pricing.Provider, name, gpuKind string, gpuCount int) float64 {
	if e, ok := c.Lookup(provider, name); ok && e.PerfScore > 0 {
		return e.PerfScore
	}
	return float64(gpuCount) * gpu.Benchmark(gpuKind)
}
