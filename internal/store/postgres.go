package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
)

// PostgresStore implements Store on PostgreSQL. All monetary values are
// stored as NUMERIC for exact decimal precision; batch payloads are JSONB.
// Record IDs come from a BIGSERIAL, which preserves the strictly
// increasing commit order.
type PostgresStore struct {
	pool   *pgxpool.Pool
	sample Sampler
}

// NewPostgresStore creates a PostgreSQL-backed store. A nil sampler falls
// back to math/rand/v2 uniform draws.
func NewPostgresStore(pool *pgxpool.Pool, sample Sampler) *PostgresStore {
	if sample == nil {
		sample = DefaultSampler
	}
	return &PostgresStore{pool: pool, sample: sample}
}

// EnsureSchema creates the pricing tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_prices (
			service_id        TEXT PRIMARY KEY,
			display_name      TEXT NOT NULL,
			cost              NUMERIC NOT NULL,
			floor_price       NUMERIC NOT NULL,
			target_price      NUMERIC NOT NULL,
			current_price     NUMERIC NOT NULL,
			last_adjusted     TIMESTAMPTZ NOT NULL,
			next_adjustment   TIMESTAMPTZ NOT NULL,
			last_demand_score DOUBLE PRECISION NOT NULL,
			position          INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS adjustment_records (
			id                BIGSERIAL PRIMARY KEY,
			batch_ref         TEXT NOT NULL,
			adjusted_at       TIMESTAMPTZ NOT NULL,
			services_adjusted INTEGER NOT NULL,
			changes           JSONB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Init(ctx context.Context, entries []model.CatalogEntry, now time.Time) error {
	for i, e := range entries {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO service_prices
			   (service_id, display_name, cost, floor_price, target_price,
			    current_price, last_adjusted, next_adjustment, last_demand_score, position)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)
			 ON CONFLICT (service_id) DO NOTHING`,
			e.ServiceID, e.DisplayName, e.Cost.String(),
			e.FloorPrice().String(), e.TargetPrice().String(), e.TargetPrice().String(),
			now, now.Add(model.AdjustmentInterval), 1.0, i,
		)
		if err != nil {
			return fmt.Errorf("store: init %s: %w", e.ServiceID, err)
		}
	}
	return nil
}

const stateColumns = `service_id, display_name,
	cost::TEXT, floor_price::TEXT, target_price::TEXT, current_price::TEXT,
	last_adjusted, next_adjustment, last_demand_score`

func scanState(row pgx.Row) (*model.ServicePriceState, error) {
	var st model.ServicePriceState
	var cost, floor, target, current string

	if err := row.Scan(&st.ServiceID, &st.DisplayName,
		&cost, &floor, &target, &current,
		&st.LastAdjusted, &st.NextAdjustment, &st.LastDemandScore); err != nil {
		return nil, err
	}

	st.Cost, _ = decimal.NewFromString(cost)
	st.FloorPrice, _ = decimal.NewFromString(floor)
	st.TargetPrice, _ = decimal.NewFromString(target)
	st.CurrentPrice, _ = decimal.NewFromString(current)
	return &st, nil
}

func (s *PostgresStore) ServiceState(ctx context.Context, serviceID string) (*model.ServicePriceState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM service_prices WHERE service_id = $1`, serviceID)

	st, err := scanState(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}
	return st, nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) ([]model.ServicePriceState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stateColumns+` FROM service_prices ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []model.ServicePriceState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *st)
	}
	return states, rows.Err()
}

// ApplyAdjustments runs the whole commit in one transaction so readers
// never observe a half-applied batch.
func (s *PostgresStore) ApplyAdjustments(ctx context.Context, changes []model.PriceChange, now time.Time) (*model.AdjustmentRecord, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range changes {
		// Unknown service IDs affect zero rows and are thereby skipped.
		_, err := tx.Exec(ctx,
			`UPDATE service_prices
			 SET current_price = $2::NUMERIC,
			     last_demand_score = $3,
			     last_adjusted = $4,
			     next_adjustment = $5
			 WHERE service_id = $1`,
			c.ServiceID, c.NewPrice.String(), c.Demand,
			now, now.Add(model.AdjustmentInterval),
		)
		if err != nil {
			return nil, fmt.Errorf("store: apply %s: %w", c.ServiceID, err)
		}
	}

	payload, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("store: encode changes: %w", err)
	}

	record := model.AdjustmentRecord{
		BatchRef:         uuid.New().String(),
		AdjustedAt:       now,
		Changes:          changes,
		ServicesAdjusted: model.CountAdjusted(changes),
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO adjustment_records (batch_ref, adjusted_at, services_adjusted, changes)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		record.BatchRef, record.AdjustedAt, record.ServicesAdjusted, payload).
		Scan(&record.ID)
	if err != nil {
		return nil, fmt.Errorf("store: insert record: %w", err)
	}

	// Insert-then-trim: keep only the newest HistoryCap records.
	_, err = tx.Exec(ctx,
		`DELETE FROM adjustment_records
		 WHERE id NOT IN (SELECT id FROM adjustment_records ORDER BY id DESC LIMIT $1)`,
		model.HistoryCap,
	)
	if err != nil {
		return nil, fmt.Errorf("store: trim history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit batch: %w", err)
	}
	return &record, nil
}

// ApplyRandomWalk locks the service row, computes the bounded step in Go
// with the injected sampler, and writes the clamped result back.
func (s *PostgresStore) ApplyRandomWalk(ctx context.Context, serviceID string) (decimal.Decimal, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("store: begin walk: %w", err)
	}
	defer tx.Rollback(ctx)

	var current, floor, target string
	err = tx.QueryRow(ctx,
		`SELECT current_price::TEXT, floor_price::TEXT, target_price::TEXT
		 FROM service_prices WHERE service_id = $1 FOR UPDATE`, serviceID).
		Scan(&current, &floor, &target)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrServiceNotFound, serviceID)
	}

	cur, _ := decimal.NewFromString(current)
	flo, _ := decimal.NewFromString(floor)
	tgt, _ := decimal.NewFromString(target)

	next := walkPrice(cur, flo, tgt, s.sample)

	_, err = tx.Exec(ctx,
		`UPDATE service_prices SET current_price = $2::NUMERIC WHERE service_id = $1`,
		serviceID, next.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("store: walk %s: %w", serviceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("store: commit walk: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) History(ctx context.Context, limit int, window time.Duration, now time.Time) ([]model.AdjustmentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, batch_ref, adjusted_at, services_adjusted, changes
		 FROM adjustment_records
		 WHERE adjusted_at >= $1
		 ORDER BY id DESC
		 LIMIT $2`,
		now.Add(-window), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AdjustmentRecord
	for rows.Next() {
		var r model.AdjustmentRecord
		var payload []byte
		if err := rows.Scan(&r.ID, &r.BatchRef, &r.AdjustedAt, &r.ServicesAdjusted, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &r.Changes); err != nil {
			return nil, fmt.Errorf("store: decode record %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
