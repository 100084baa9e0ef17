package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
)

// MemoryStore implements Store with mutex-guarded in-process maps. This is
// the source of truth for the single-instance design: one scheduled writer
// (the batch commit) plus many readers, each of which performs the small
// per-service walk write.
type MemoryStore struct {
	mu      sync.RWMutex
	states  map[string]*model.ServicePriceState
	order   []string                 // catalog iteration order
	history []model.AdjustmentRecord // newest-first, len <= HistoryCap
	nextID  int64
	sample  Sampler
}

// NewMemoryStore creates an in-memory store. A nil sampler falls back to
// math/rand/v2 uniform draws.
func NewMemoryStore(sample Sampler) *MemoryStore {
	if sample == nil {
		sample = DefaultSampler
	}
	return &MemoryStore{
		states: make(map[string]*model.ServicePriceState),
		nextID: 1,
		sample: sample,
	}
}

func (s *MemoryStore) Init(_ context.Context, entries []model.CatalogEntry, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if _, ok := s.states[e.ServiceID]; ok {
			continue
		}
		s.states[e.ServiceID] = &model.ServicePriceState{
			ServiceID:   e.ServiceID,
			DisplayName: e.DisplayName,
			Cost:        e.Cost,
			FloorPrice:  e.FloorPrice(),
			TargetPrice: e.TargetPrice(),
			// Optimistic start: hold the ceiling until demand says otherwise.
			CurrentPrice:    e.TargetPrice(),
			LastAdjusted:    now,
			NextAdjustment:  now.Add(model.AdjustmentInterval),
			LastDemandScore: 1.0,
		}
		s.order = append(s.order, e.ServiceID)
	}
	return nil
}

func (s *MemoryStore) ServiceState(_ context.Context, serviceID string) (*model.ServicePriceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[serviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) Snapshot(_ context.Context) ([]model.ServicePriceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]model.ServicePriceState, 0, len(s.order))
	for _, id := range s.order {
		states = append(states, *s.states[id])
	}
	return states, nil
}

// ApplyAdjustments holds the write lock for the whole batch, so readers
// never observe a half-applied commit.
func (s *MemoryStore) ApplyAdjustments(_ context.Context, changes []model.PriceChange, now time.Time) (*model.AdjustmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range changes {
		st, ok := s.states[c.ServiceID]
		if !ok {
			// Defensive: unreachable with a closed catalog.
			continue
		}
		st.CurrentPrice = c.NewPrice
		st.LastDemandScore = c.Demand
		st.LastAdjusted = now
		st.NextAdjustment = now.Add(model.AdjustmentInterval)
	}

	record := model.AdjustmentRecord{
		ID:               s.nextID,
		BatchRef:         uuid.New().String(),
		AdjustedAt:       now,
		Changes:          changes,
		ServicesAdjusted: model.CountAdjusted(changes),
	}
	s.nextID++

	// Prepend, then trim to the cap.
	s.history = append([]model.AdjustmentRecord{record}, s.history...)
	if len(s.history) > model.HistoryCap {
		s.history = s.history[:model.HistoryCap]
	}

	return &record, nil
}

func (s *MemoryStore) ApplyRandomWalk(_ context.Context, serviceID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[serviceID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}

	st.CurrentPrice = walkPrice(st.CurrentPrice, st.FloorPrice, st.TargetPrice, s.sample)
	return st.CurrentPrice, nil
}

func (s *MemoryStore) History(_ context.Context, limit int, window time.Duration, now time.Time) ([]model.AdjustmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit)
	cutoff := now.Add(-window)

	records := make([]model.AdjustmentRecord, 0, limit)
	for _, r := range s.history {
		if r.AdjustedAt.Before(cutoff) {
			// History is newest-first; everything past the cutoff is older.
			break
		}
		records = append(records, r)
		if len(records) == limit {
			break
		}
	}
	return records, nil
}
