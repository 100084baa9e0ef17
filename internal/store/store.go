// Package store owns all mutable pricing state: the live per-service
// price table and the capped, newest-first adjustment history. All
// mutation funnels through two operations — the batch commit and the
// per-read random walk.
//
// Implementations include in-memory (source of truth for the
// single-instance design), PostgreSQL (durable backend for the
// horizontal-scaling migration path), and a Redis read-through cache.
package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
	"github.com/solcat/price-engine/internal/policy"
)

// ErrServiceNotFound is returned when a service ID has no price state.
var ErrServiceNotFound = errors.New("store: service not found")

// WalkStep is the random-walk bound: each walk draws a delta uniformly
// from [-WalkStep, +WalkStep] of the current price.
const WalkStep = 0.05

// Sampler yields a uniform draw from [lo, hi]. Injected at construction
// so tests can pin walk deltas and assert exact clamp behavior.
type Sampler func(lo, hi float64) float64

// DefaultSampler draws from math/rand/v2.
func DefaultSampler(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}

// Store is the persistence interface for pricing state. The in-memory
// implementation is the single-instance source of truth; the interface is
// kept stable so the state can migrate to a shared backend without
// touching the engine.
type Store interface {
	// Init seeds one price state per catalog entry, initialized
	// optimistically at target price with demand 1.0. Entries already
	// present are left untouched.
	Init(ctx context.Context, entries []model.CatalogEntry, now time.Time) error

	// ServiceState returns a copy of one service's price state.
	ServiceState(ctx context.Context, serviceID string) (*model.ServicePriceState, error)

	// Snapshot returns copies of all price states in catalog order.
	Snapshot(ctx context.Context) ([]model.ServicePriceState, error)

	// ApplyAdjustments commits one batch: overwrites each named
	// service's price, demand score, and adjustment timestamps, then
	// appends an AdjustmentRecord with a fresh monotone ID and trims
	// history to the cap. Changes naming unknown services are silently
	// skipped. The commit is atomic with respect to readers.
	ApplyAdjustments(ctx context.Context, changes []model.PriceChange, now time.Time) (*model.AdjustmentRecord, error)

	// ApplyRandomWalk perturbs one service's live price multiplicatively
	// by a bounded uniform delta, clamps into [floor, target], and
	// persists the result. LastAdjusted and LastDemandScore are not
	// touched — those reflect scheduler decisions only.
	ApplyRandomWalk(ctx context.Context, serviceID string) (decimal.Decimal, error)

	// History returns adjustment records newest-first, filtered to those
	// with AdjustedAt within the window ending at now, truncated to
	// min(limit, HistoryCap).
	History(ctx context.Context, limit int, window time.Duration, now time.Time) ([]model.AdjustmentRecord, error)
}

// clampLimit normalizes a history limit into [1, HistoryCap].
func clampLimit(limit int) int {
	if limit < 1 || limit > model.HistoryCap {
		return model.HistoryCap
	}
	return limit
}

// walkPrice applies one bounded walk step to price: multiplicative delta,
// clamp into [floor, target], round to price scale. Shared by all store
// implementations so the walk semantics cannot drift between backends.
func walkPrice(price, floor, target decimal.Decimal, sample Sampler) decimal.Decimal {
	delta := sample(-WalkStep, WalkStep)
	next := price.Mul(decimal.NewFromFloat(1 + delta))
	return policy.Clamp(next, floor, target).Round(model.PriceScale)
}
