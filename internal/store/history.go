package store

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/cloudarb/cloudarb/pkg/pricing"
)

// History appends merged price points to the price_points table and serves
// the volatility estimates the risk scorers consume. Nil-safe: with a nil DB
// writes are no-ops and volatility falls back to zero.
type History struct {
	db *sql.DB
}

func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record appends a batch of points inside one transaction. Failures are
// returned but callers treat them as non-fatal; history is advisory.
func (h *History) Record(points []pricing.PricePoint) error {
	if h.db == nil || len(points) == 0 {
		return nil
	}
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning history transaction: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO price_points (provider, instance_type, region, on_demand, spot, observed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		var spot any
		if p.Spot != nil {
			spot = *p.Spot
		}
		if _, err := stmt.Exec(string(p.Provider), p.InstanceType, p.Region, p.OnDemand, spot, p.ObservedAt.Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting price point: %w", err)
		}
	}
	return tx.Commit()
}

// Volatility returns the coefficient of variation of a line's recent
// on-demand prices over the last `window` observations. Zero when there is
// not enough history to say anything.
func (h *History) Volatility(key pricing.LineKey, window int) float64 {
	if h.db == nil || window < 2 {
		return 0
	}
	rows, err := h.db.Query(
		`SELECT on_demand FROM price_points
		 WHERE provider = ? AND instance_type = ? AND region = ?
		 ORDER BY observed_at DESC LIMIT ?`,
		string(key.Provider), key.InstanceType, key.Region, window)
	if err != nil {
		return 0
	}
	defer rows.Close()

	var prices []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			continue
		}
		prices = append(prices, p)
	}
	if len(prices) < 2 {
		return 0
	}

	var sum float64
	for _, p := range prices {
		sum += p
	}
	mean := sum / float64(len(prices))
	if mean <= 0 {
		return 0
	}
	var sq float64
	for _, p := range prices {
		d := p - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(prices))) / mean
}
