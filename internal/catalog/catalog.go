// Package catalog supplies the closed set of priced service operations:
// per-service operating cost, display name, and simulated demand baseline.
// The catalog is read-only configuration; floor and target prices derive
// from cost (x2 / x3).
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
)

var (
	// ErrEmptyCatalog is returned when a catalog source yields no entries.
	ErrEmptyCatalog = errors.New("catalog: no entries")

	// ErrDuplicateService is returned when two entries share a service ID.
	ErrDuplicateService = errors.New("catalog: duplicate service id")
)

// Default is the built-in catalog of Solana service operations, used when
// no CATALOG_PATH is configured. Costs are measured per-call operating
// costs in SOL; baselines are simulated 24h request volumes.
func Default() []model.CatalogEntry {
	return []model.CatalogEntry{
		{ServiceID: "wallet-report", DisplayName: "Wallet Activity Report", Cost: decimal.NewFromFloat(0.004), Baseline24h: 1200},
		{ServiceID: "token-audit", DisplayName: "Token Holder Audit", Cost: decimal.NewFromFloat(0.01), Baseline24h: 850},
		{ServiceID: "nft-snapshot", DisplayName: "NFT Collection Snapshot", Cost: decimal.NewFromFloat(0.008), Baseline24h: 640},
		{ServiceID: "stake-optimizer", DisplayName: "Stake Account Optimizer", Cost: decimal.NewFromFloat(0.006), Baseline24h: 430},
		{ServiceID: "tx-inspector", DisplayName: "Transaction Inspector", Cost: decimal.NewFromFloat(0.002), Baseline24h: 2100},
		{ServiceID: "priority-fee-feed", DisplayName: "Priority Fee Feed", Cost: decimal.NewFromFloat(0.001), Baseline24h: 3600},
	}
}

// Load returns catalog entries from the JSON file at path, or the built-in
// default catalog when path is empty. Entry order is preserved — adjustment
// batches iterate the catalog in this order.
func Load(path string) ([]model.CatalogEntry, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var entries []model.CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	if err := Validate(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Validate checks catalog invariants: at least one entry, unique service
// IDs, and a positive cost for every entry (which in turn guarantees
// 0 < floor <= target).
func Validate(entries []model.CatalogEntry) error {
	if len(entries) == 0 {
		return ErrEmptyCatalog
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ServiceID == "" {
			return errors.New("catalog: entry with empty service id")
		}
		if seen[e.ServiceID] {
			return fmt.Errorf("%w: %s", ErrDuplicateService, e.ServiceID)
		}
		seen[e.ServiceID] = true

		if !e.Cost.IsPositive() {
			return fmt.Errorf("catalog: service %s: cost must be positive, got %s", e.ServiceID, e.Cost)
		}
		if e.Baseline24h < 0 {
			return fmt.Errorf("catalog: service %s: baseline must be >= 0", e.ServiceID)
		}
	}
	return nil
}
