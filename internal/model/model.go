// Package model defines the core domain types shared across the price engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Demand signals (scores, request counts, trends) are dimensionless and
// stay float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimal places for price rounding.
// SOL amounts carry lamport precision (1e-9).
const PriceScale int32 = 9

// AdjustmentInterval is the scheduled cadence between batch cycles.
const AdjustmentInterval = 4 * time.Hour

// HistoryCap bounds the adjustment history; commits insert-then-trim.
const HistoryCap = 50

// CatalogEntry describes one priced service operation. Entries are
// immutable configuration data supplied by the catalog provider.
type CatalogEntry struct {
	ServiceID   string          `json:"service_id"`
	DisplayName string          `json:"display_name"`
	Cost        decimal.Decimal `json:"cost"`         // measured per-call operating cost, SOL
	Baseline24h float64         `json:"baseline_24h"` // simulated baseline request volume
}

// FloorPrice is the minimum permissible price: cost x 2 (100% margin).
func (e CatalogEntry) FloorPrice() decimal.Decimal {
	return e.Cost.Mul(decimal.NewFromInt(2)).Round(PriceScale)
}

// TargetPrice is the maximum permissible price: cost x 3 (200% margin),
// held at high demand.
func (e CatalogEntry) TargetPrice() decimal.Decimal {
	return e.Cost.Mul(decimal.NewFromInt(3)).Round(PriceScale)
}

// ServicePriceState is the live pricing state for one service. One exists
// per catalog entry for the lifetime of the process; the store owns all
// mutation.
type ServicePriceState struct {
	ServiceID   string          `json:"service_id" db:"service_id"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Cost        decimal.Decimal `json:"cost" db:"cost"`
	FloorPrice  decimal.Decimal `json:"floor_price" db:"floor_price"`
	TargetPrice decimal.Decimal `json:"target_price" db:"target_price"`

	// CurrentPrice always satisfies floor <= price <= target.
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`

	// LastAdjusted and LastDemandScore reflect only committed scheduler
	// batches, never the inter-cycle random walk.
	LastAdjusted    time.Time `json:"last_adjusted" db:"last_adjusted"`
	NextAdjustment  time.Time `json:"next_adjustment" db:"next_adjustment"` // advisory
	LastDemandScore float64   `json:"last_demand_score" db:"last_demand_score"`
}

// PriceChange is one service's entry in an adjustment batch. OldPrice is
// whatever price was live immediately before the commit, including any
// random-walk drift accumulated since the previous batch.
type PriceChange struct {
	ServiceID   string          `json:"service_id"`
	DisplayName string          `json:"display_name"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	Demand      float64         `json:"demand"`
}

// AdjustmentRecord is an immutable log entry capturing one committed batch.
// IDs are assigned at commit time and strictly increase in commit order.
type AdjustmentRecord struct {
	ID               int64         `json:"id"`
	BatchRef         string        `json:"batch_ref"` // uuid, stable external reference
	AdjustedAt       time.Time     `json:"adjusted_at"`
	Changes          []PriceChange `json:"changes"`
	ServicesAdjusted int           `json:"services_adjusted"` // changes where old != new
}

// CountAdjusted returns how many changes in a batch moved the price.
func CountAdjusted(changes []PriceChange) int {
	n := 0
	for _, c := range changes {
		if !c.OldPrice.Equal(c.NewPrice) {
			n++
		}
	}
	return n
}
