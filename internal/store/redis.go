package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// adjustment history. Live price reads always hit the primary — every
// price read performs a walk write, so caching the price table would
// defeat the inter-cycle simulation. Batch commits invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Passthrough (price table is never cached) ---

func (s *CachedStore) Init(ctx context.Context, entries []model.CatalogEntry, now time.Time) error {
	return s.primary.Init(ctx, entries, now)
}

func (s *CachedStore) ServiceState(ctx context.Context, serviceID string) (*model.ServicePriceState, error) {
	return s.primary.ServiceState(ctx, serviceID)
}

func (s *CachedStore) Snapshot(ctx context.Context) ([]model.ServicePriceState, error) {
	return s.primary.Snapshot(ctx)
}

func (s *CachedStore) ApplyRandomWalk(ctx context.Context, serviceID string) (decimal.Decimal, error) {
	return s.primary.ApplyRandomWalk(ctx, serviceID)
}

// --- Write-through (commit to primary, invalidate cache) ---

func (s *CachedStore) ApplyAdjustments(ctx context.Context, changes []model.PriceChange, now time.Time) (*model.AdjustmentRecord, error) {
	record, err := s.primary.ApplyAdjustments(ctx, changes, now)
	if err != nil {
		return nil, err
	}

	// Drop every cached history window; next read re-populates.
	iter := s.rdb.Scan(ctx, 0, historyKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
	return record, nil
}

// --- Read-through ---

func (s *CachedStore) History(ctx context.Context, limit int, window time.Duration, now time.Time) ([]model.AdjustmentRecord, error) {
	limit = clampLimit(limit)
	key := historyKey(fmt.Sprintf("%d:%d", limit, int(window/time.Hour)))

	// Try cache. The window filter is time-relative, so cached entries
	// live only for the short TTL.
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var records []model.AdjustmentRecord
		if json.Unmarshal(data, &records) == nil {
			return records, nil
		}
	}

	// Cache miss.
	records, err := s.primary.History(ctx, limit, window, now)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(records); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return records, nil
}

func historyKey(suffix string) string { return "pricing:history:" + suffix }
