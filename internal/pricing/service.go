// Package pricing provides the HTTP handlers and business logic for the
// autonomous price-adjustment engine: the scheduled batch cycle, the live
// price table with its inter-cycle random walk, and the adjustment history.
//
// All monetary values use shopspring/decimal — never float64 for money.
package pricing

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/demand"
	"github.com/solcat/price-engine/internal/metrics"
	"github.com/solcat/price-engine/internal/model"
	"github.com/solcat/price-engine/internal/policy"
	"github.com/solcat/price-engine/internal/store"
)

// HistoryWindow is the time window GET /history reports over.
const HistoryWindow = 24 * time.Hour

// Price status classifications reported by GET /prices.
const (
	StatusTarget       = "target"
	StatusFloor        = "floor"
	StatusInterpolated = "interpolated"
)

// Service handles pricing operations. A mutex serializes batch cycles:
// overlapping triggers queue behind the in-flight commit.
type Service struct {
	store     store.Store
	catalog   []model.CatalogEntry
	estimator *demand.Estimator
	secret    []byte
	mu        sync.Mutex
	hub       *Hub // optional, for broadcasting committed batches
}

// NewService creates a pricing service. Pass nil for hub if websocket
// broadcasting is not needed.
func NewService(st store.Store, entries []model.CatalogEntry, est *demand.Estimator, adminSecret string, hub *Hub) *Service {
	return &Service{
		store:     st,
		catalog:   entries,
		estimator: est,
		secret:    []byte(adminSecret),
		hub:       hub,
	}
}

// RunAdjustment executes one full batch cycle: demand estimation and the
// pricing policy over every catalog entry, then a single atomic commit.
// Per-service faults are logged and leave that service unchanged for the
// cycle; they never abort the batch.
func (s *Service) RunAdjustment(ctx context.Context, now time.Time) (*model.AdjustmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := make([]model.PriceChange, 0, len(s.catalog))
	for _, entry := range s.catalog {
		change, err := s.computeChange(ctx, entry)
		if err != nil {
			slog.Warn("adjustment skipped for service", "service", entry.ServiceID, "err", err)
			continue
		}
		changes = append(changes, change)
	}

	record, err := s.store.ApplyAdjustments(ctx, changes, now)
	if err != nil {
		return nil, err
	}

	metrics.AdjustmentBatchesTotal.Inc()
	metrics.ServicesAdjustedTotal.Add(float64(record.ServicesAdjusted))
	for _, c := range record.Changes {
		metrics.CurrentPrice.WithLabelValues(c.ServiceID).Set(c.NewPrice.InexactFloat64())
		metrics.DemandScore.WithLabelValues(c.ServiceID).Set(c.Demand)
	}

	slog.Info("adjustment batch committed",
		"id", record.ID,
		"batch_ref", record.BatchRef,
		"services_adjusted", record.ServicesAdjusted,
		"total_services", len(record.Changes),
	)

	if s.hub != nil {
		s.hub.BroadcastRecord(record)
	}
	return record, nil
}

// computeChange prices one service from a fresh demand score. OldPrice is
// the live pre-commit price, walk drift included.
func (s *Service) computeChange(ctx context.Context, entry model.CatalogEntry) (model.PriceChange, error) {
	state, err := s.store.ServiceState(ctx, entry.ServiceID)
	if err != nil {
		return model.PriceChange{}, err
	}

	score := s.estimator.ComputeScore(entry)
	newPrice := policy.DemandToPrice(score.Score, state.FloorPrice, state.TargetPrice)

	slog.Debug("demand computed",
		"service", entry.ServiceID,
		"score", score.Score,
		"requests_24h", score.RequestCount24h,
		"trend_7d", score.Trend7d,
	)

	return model.PriceChange{
		ServiceID:   entry.ServiceID,
		DisplayName: entry.DisplayName,
		OldPrice:    state.CurrentPrice,
		NewPrice:    newPrice,
		Demand:      score.Score,
	}, nil
}

// --- Request/Response types ---

// adjustRequest is the JSON body for POST /adjust. Only the literal cron
// trigger marker is accepted.
type adjustRequest struct {
	Trigger string `json:"trigger"`
}

// AdjustResponse is the JSON body returned from POST /adjust.
type AdjustResponse struct {
	OK               bool                `json:"ok"`
	Adjusted         bool                `json:"adjusted"`
	AdjustedAt       time.Time           `json:"adjusted_at"`
	ServicesAdjusted int                 `json:"services_adjusted"`
	NextAdjustment   time.Time           `json:"next_adjustment"`
	Changes          []model.PriceChange `json:"changes"`
}

// ServicePrice is one service's row in the GET /prices response.
type ServicePrice struct {
	ServiceID       string          `json:"service_id"`
	DisplayName     string          `json:"display_name"`
	Cost            decimal.Decimal `json:"cost"`
	FloorPrice      decimal.Decimal `json:"floor_price"`
	TargetPrice     decimal.Decimal `json:"target_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	MarginPercent   decimal.Decimal `json:"margin_percent"`
	PriceStatus     string          `json:"price_status"`
	LastDemandScore float64         `json:"last_demand_score"`
	LastAdjusted    time.Time       `json:"last_adjusted"`
	NextAdjustment  time.Time       `json:"next_adjustment"`
}

// PricesResponse is the JSON body returned from GET /prices.
type PricesResponse struct {
	OK        bool           `json:"ok"`
	FetchedAt time.Time      `json:"fetched_at"`
	Count     int            `json:"count"`
	Services  []ServicePrice `json:"services"`
}

// HistoryResponse is the JSON body returned from GET /history.
type HistoryResponse struct {
	OK                   bool                     `json:"ok"`
	FetchedAt            time.Time                `json:"fetched_at"`
	Count                int                      `json:"count"`
	TotalServicesChanged int                      `json:"total_services_changed"`
	History              []model.AdjustmentRecord `json:"history"`
}

// --- HTTP Handlers ---

// HandleAdjust handles POST /api/v1/adjust. Requires the shared admin
// secret and the exact cron trigger body; nothing mutates on rejection.
func (s *Service) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	if !s.authorized(r) {
		metrics.AdjustRejectionsTotal.WithLabelValues("unauthorized").Inc()
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Trigger != "cron" {
		metrics.AdjustRejectionsTotal.WithLabelValues("bad_request").Inc()
		writeError(w, "invalid trigger body", http.StatusBadRequest)
		return
	}

	record, err := s.RunAdjustment(r.Context(), time.Now().UTC())
	if err != nil {
		slog.Error("adjustment batch failed", "err", err)
		writeError(w, "adjustment failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AdjustResponse{
		OK:               true,
		Adjusted:         record.ServicesAdjusted > 0,
		AdjustedAt:       record.AdjustedAt,
		ServicesAdjusted: record.ServicesAdjusted,
		NextAdjustment:   record.AdjustedAt.Add(model.AdjustmentInterval),
		Changes:          record.Changes,
	})
}

// HandlePrices handles GET /api/v1/prices. Each read nudges every live
// price through one bounded random walk step, so consecutive reads are
// correlated rather than static between batches.
func (s *Service) HandlePrices(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	ctx := r.Context()

	states, err := s.store.Snapshot(ctx)
	if err != nil {
		slog.Error("price snapshot failed", "err", err)
		writeError(w, "failed to load prices", http.StatusInternalServerError)
		return
	}

	services := make([]ServicePrice, 0, len(states))
	for _, st := range states {
		price, err := s.store.ApplyRandomWalk(ctx, st.ServiceID)
		if err != nil {
			slog.Error("random walk failed", "service", st.ServiceID, "err", err)
			writeError(w, "failed to load prices", http.StatusInternalServerError)
			return
		}
		metrics.RandomWalkStepsTotal.Inc()
		metrics.CurrentPrice.WithLabelValues(st.ServiceID).Set(price.InexactFloat64())

		services = append(services, ServicePrice{
			ServiceID:       st.ServiceID,
			DisplayName:     st.DisplayName,
			Cost:            st.Cost,
			FloorPrice:      st.FloorPrice,
			TargetPrice:     st.TargetPrice,
			CurrentPrice:    price,
			MarginPercent:   marginPercent(price, st.Cost),
			PriceStatus:     classifyPrice(price, st.FloorPrice, st.TargetPrice),
			LastDemandScore: st.LastDemandScore,
			LastAdjusted:    st.LastAdjusted,
			NextAdjustment:  st.NextAdjustment,
		})
	}

	writeJSON(w, http.StatusOK, PricesResponse{
		OK:        true,
		FetchedAt: time.Now().UTC(),
		Count:     len(services),
		Services:  services,
	})
}

// HandleHistory handles GET /api/v1/history?limit=N.
func (s *Service) HandleHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	limit := model.HistoryCap
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = clamp(n, 1, model.HistoryCap)
		}
	}

	records, err := s.store.History(r.Context(), limit, HistoryWindow, time.Now().UTC())
	if err != nil {
		slog.Error("history query failed", "err", err)
		writeError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []model.AdjustmentRecord{}
	}

	total := 0
	for _, rec := range records {
		total += rec.ServicesAdjusted
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		OK:                   true,
		FetchedAt:            time.Now().UTC(),
		Count:                len(records),
		TotalServicesChanged: total,
		History:              records,
	})
}

// authorized compares the admin secret header in constant time. An
// unconfigured secret rejects every trigger.
func (s *Service) authorized(r *http.Request) bool {
	if len(s.secret) == 0 {
		return false
	}
	provided := []byte(r.Header.Get("X-Admin-Secret"))
	return subtle.ConstantTimeCompare(provided, s.secret) == 1
}

// marginPercent computes (price - cost) / cost * 100 at two decimals.
func marginPercent(price, cost decimal.Decimal) decimal.Decimal {
	if !cost.IsPositive() {
		return decimal.Zero
	}
	return price.Sub(cost).Div(cost).Mul(decimal.NewFromInt(100)).Round(2)
}

// classifyPrice labels a live price against its band: within 1% of target
// is "target", within 1% of floor is "floor", otherwise "interpolated".
func classifyPrice(price, floor, target decimal.Decimal) string {
	if price.GreaterThanOrEqual(target.Mul(decimal.NewFromFloat(0.99))) {
		return StatusTarget
	}
	if price.LessThanOrEqual(floor.Mul(decimal.NewFromFloat(1.01))) {
		return StatusFloor
	}
	return StatusInterpolated
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
