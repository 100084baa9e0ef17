package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testEntries() []model.CatalogEntry {
	return []model.CatalogEntry{
		{ServiceID: "svc-a", DisplayName: "Service A", Cost: d(0.01), Baseline24h: 100},
		{ServiceID: "svc-b", DisplayName: "Service B", Cost: d(0.004), Baseline24h: 500},
	}
}

func seedStore(t *testing.T, sample Sampler) *MemoryStore {
	t.Helper()
	ms := NewMemoryStore(sample)
	if err := ms.Init(context.Background(), testEntries(), time.Now().UTC()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	return ms
}

func TestInit_OptimisticStart(t *testing.T) {
	ms := seedStore(t, nil)

	st, err := ms.ServiceState(context.Background(), "svc-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.CurrentPrice.Equal(d(0.03)) {
		t.Errorf("expected initial price at target 0.03, got %s", st.CurrentPrice)
	}
	if !st.FloorPrice.Equal(d(0.02)) {
		t.Errorf("expected floor 0.02, got %s", st.FloorPrice)
	}
	if st.LastDemandScore != 1.0 {
		t.Errorf("expected initial demand 1.0, got %v", st.LastDemandScore)
	}
}

func TestInit_Idempotent(t *testing.T) {
	ms := seedStore(t, func(lo, hi float64) float64 { return lo })

	// Walk svc-a down, then re-init; the walked price must survive.
	before, _ := ms.ApplyRandomWalk(context.Background(), "svc-a")
	if err := ms.Init(context.Background(), testEntries(), time.Now().UTC()); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	st, _ := ms.ServiceState(context.Background(), "svc-a")
	if !st.CurrentPrice.Equal(before) {
		t.Errorf("re-init reset price: %s != %s", st.CurrentPrice, before)
	}
}

func TestServiceState_Unknown(t *testing.T) {
	ms := seedStore(t, nil)
	if _, err := ms.ServiceState(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown service")
	}
}

func TestSnapshot_CatalogOrder(t *testing.T) {
	ms := seedStore(t, nil)

	states, err := ms.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states[0].ServiceID != "svc-a" || states[1].ServiceID != "svc-b" {
		t.Errorf("snapshot out of catalog order: %s, %s", states[0].ServiceID, states[1].ServiceID)
	}
}

func TestApplyAdjustments_OverwritesState(t *testing.T) {
	ms := seedStore(t, nil)
	now := time.Now().UTC()

	changes := []model.PriceChange{
		{ServiceID: "svc-a", DisplayName: "Service A", OldPrice: d(0.03), NewPrice: d(0.025), Demand: 0.55},
		{ServiceID: "svc-b", DisplayName: "Service B", OldPrice: d(0.012), NewPrice: d(0.012), Demand: 0.9},
	}
	record, err := ms.ApplyAdjustments(context.Background(), changes, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if record.ServicesAdjusted != 1 {
		t.Errorf("expected 1 service adjusted, got %d", record.ServicesAdjusted)
	}

	st, _ := ms.ServiceState(context.Background(), "svc-a")
	if !st.CurrentPrice.Equal(d(0.025)) {
		t.Errorf("expected price 0.025, got %s", st.CurrentPrice)
	}
	if st.LastDemandScore != 0.55 {
		t.Errorf("expected demand 0.55, got %v", st.LastDemandScore)
	}
	if !st.LastAdjusted.Equal(now) {
		t.Errorf("expected lastAdjusted %v, got %v", now, st.LastAdjusted)
	}
	if !st.NextAdjustment.Equal(now.Add(model.AdjustmentInterval)) {
		t.Errorf("expected nextAdjustment 4h out, got %v", st.NextAdjustment)
	}
}

func TestApplyAdjustments_SkipsUnknownService(t *testing.T) {
	ms := seedStore(t, nil)

	changes := []model.PriceChange{
		{ServiceID: "ghost", OldPrice: d(1), NewPrice: d(2), Demand: 0.5},
	}
	record, err := ms.ApplyAdjustments(context.Background(), changes, time.Now().UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record even for skipped changes")
	}
}

func TestApplyAdjustments_MonotoneIDs(t *testing.T) {
	ms := seedStore(t, nil)
	now := time.Now().UTC()

	var prev int64
	for i := 0; i < 5; i++ {
		record, err := ms.ApplyAdjustments(context.Background(), nil, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if record.ID <= prev {
			t.Fatalf("ids not strictly increasing: %d after %d", record.ID, prev)
		}
		if record.BatchRef == "" {
			t.Error("expected non-empty batch ref")
		}
		prev = record.ID
	}
}

func TestHistory_CapAfterSixtyCommits(t *testing.T) {
	ms := seedStore(t, nil)
	now := time.Now().UTC()

	var lastID int64
	for i := 0; i < 60; i++ {
		record, err := ms.ApplyAdjustments(context.Background(), nil, now)
		if err != nil {
			t.Fatalf("commit %d failed: %v", i, err)
		}
		lastID = record.ID
	}

	records, err := ms.History(context.Background(), model.HistoryCap, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != model.HistoryCap {
		t.Fatalf("expected history capped at %d, got %d", model.HistoryCap, len(records))
	}

	// Newest-first, exactly the 50 most recent IDs.
	for i, r := range records {
		want := lastID - int64(i)
		if r.ID != want {
			t.Fatalf("record %d: expected id %d, got %d", i, want, r.ID)
		}
	}
}

func TestHistory_EvictsOldestOnFiftyFirstCommit(t *testing.T) {
	ms := seedStore(t, nil)
	now := time.Now().UTC()

	for i := 0; i < model.HistoryCap; i++ {
		ms.ApplyAdjustments(context.Background(), nil, now)
	}
	records, _ := ms.History(context.Background(), model.HistoryCap, 24*time.Hour, now)
	oldest := records[len(records)-1].ID

	ms.ApplyAdjustments(context.Background(), nil, now)
	records, _ = ms.History(context.Background(), model.HistoryCap, 24*time.Hour, now)

	if len(records) != model.HistoryCap {
		t.Fatalf("expected length %d, got %d", model.HistoryCap, len(records))
	}
	for _, r := range records {
		if r.ID == oldest {
			t.Fatalf("oldest record %d should have been evicted", oldest)
		}
	}
}

func TestHistory_WindowFilter(t *testing.T) {
	ms := seedStore(t, nil)
	now := time.Now().UTC()

	ms.ApplyAdjustments(context.Background(), nil, now.Add(-30*time.Hour))
	ms.ApplyAdjustments(context.Background(), nil, now.Add(-1*time.Hour))

	records, err := ms.History(context.Background(), model.HistoryCap, 24*time.Hour, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record inside 24h window, got %d", len(records))
	}
	if records[0].AdjustedAt.Before(now.Add(-24 * time.Hour)) {
		t.Error("returned record older than window")
	}
}

func TestHistory_LimitTruncates(t *testing.T) {
	ms := seedStore(t, nil)
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		ms.ApplyAdjustments(context.Background(), nil, now)
	}
	records, _ := ms.History(context.Background(), 3, 24*time.Hour, now)
	if len(records) != 3 {
		t.Errorf("expected 3 records, got %d", len(records))
	}
}

// A batch commit must be all-or-nothing to readers: no snapshot may see
// one service at the new batch timestamp and another at the old one.
func TestApplyAdjustments_AtomicVisibility(t *testing.T) {
	ms := seedStore(t, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			now := time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
			changes := []model.PriceChange{
				{ServiceID: "svc-a", DisplayName: "Service A", OldPrice: d(0.03), NewPrice: d(0.025), Demand: 0.55},
				{ServiceID: "svc-b", DisplayName: "Service B", OldPrice: d(0.012), NewPrice: d(0.010), Demand: 0.5},
			}
			if _, err := ms.ApplyAdjustments(context.Background(), changes, now); err != nil {
				t.Errorf("commit failed: %v", err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				states, err := ms.Snapshot(context.Background())
				if err != nil {
					t.Errorf("snapshot failed: %v", err)
					return
				}
				if !states[0].LastAdjusted.Equal(states[1].LastAdjusted) {
					t.Errorf("torn snapshot: %v vs %v", states[0].LastAdjusted, states[1].LastAdjusted)
					return
				}
				if _, err := ms.History(context.Background(), model.HistoryCap, 24*time.Hour, time.Now().UTC()); err != nil {
					t.Errorf("history failed: %v", err)
					return
				}
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestApplyRandomWalk_StaysWithinBand(t *testing.T) {
	ms := seedStore(t, nil)

	for i := 0; i < 500; i++ {
		price, err := ms.ApplyRandomWalk(context.Background(), "svc-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if price.LessThan(d(0.02)) || price.GreaterThan(d(0.03)) {
			t.Fatalf("walked price %s escaped [0.02, 0.03]", price)
		}
	}
}

func TestApplyRandomWalk_ClampsAtFloor(t *testing.T) {
	// Always step down the maximum amount; the floor must hold.
	ms := seedStore(t, func(lo, hi float64) float64 { return lo })

	var price decimal.Decimal
	for i := 0; i < 50; i++ {
		price, _ = ms.ApplyRandomWalk(context.Background(), "svc-a")
	}
	if !price.Equal(d(0.02)) {
		t.Errorf("expected price pinned at floor 0.02, got %s", price)
	}
}

func TestApplyRandomWalk_ClampsAtTarget(t *testing.T) {
	// Always step up; price starts at target and must stay there.
	ms := seedStore(t, func(lo, hi float64) float64 { return hi })

	price, err := ms.ApplyRandomWalk(context.Background(), "svc-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !price.Equal(d(0.03)) {
		t.Errorf("expected price pinned at target 0.03, got %s", price)
	}
}

func TestApplyRandomWalk_DoesNotTouchSchedulerFields(t *testing.T) {
	ms := seedStore(t, nil)

	before, _ := ms.ServiceState(context.Background(), "svc-a")
	ms.ApplyRandomWalk(context.Background(), "svc-a")
	after, _ := ms.ServiceState(context.Background(), "svc-a")

	if !after.LastAdjusted.Equal(before.LastAdjusted) {
		t.Error("walk mutated lastAdjusted")
	}
	if after.LastDemandScore != before.LastDemandScore {
		t.Error("walk mutated lastDemandScore")
	}
}

func TestApplyRandomWalk_ConsecutiveStepsCorrelated(t *testing.T) {
	// Each walk must start from the previously walked value, not from the
	// committed price.
	steps := []float64{-0.05, -0.05}
	i := 0
	ms := seedStore(t, func(lo, hi float64) float64 {
		v := steps[i%len(steps)]
		i++
		return v
	})

	first, _ := ms.ApplyRandomWalk(context.Background(), "svc-a")
	second, _ := ms.ApplyRandomWalk(context.Background(), "svc-a")
	if !second.LessThan(first) {
		t.Errorf("expected second walk to continue from first: %s then %s", first, second)
	}
}

func TestApplyRandomWalk_UnknownService(t *testing.T) {
	ms := seedStore(t, nil)
	if _, err := ms.ApplyRandomWalk(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unknown service")
	}
}
