package demand

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
)

// fixedSource cycles through a fixed sequence of uniform draws.
func fixedSource(draws ...float64) Source {
	i := 0
	return func() float64 {
		v := draws[i%len(draws)]
		i++
		return v
	}
}

func TestBoxMuller_ZeroAtMedianDraws(t *testing.T) {
	// u1=1 → sqrt(-2 ln 1) = 0, so any u2 yields exactly 0.
	if got := boxMuller(1.0, 0.25); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestBoxMuller_HandlesZeroU1(t *testing.T) {
	got := boxMuller(0, 0.5)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("expected finite sample for u1=0, got %v", got)
	}
}

func TestSimulateRequestCount24h_FlooredAtZero(t *testing.T) {
	// u1 tiny and u2=0.5 → cos(pi) = -1 → large negative normal sample,
	// which must not produce a negative count.
	est := NewEstimator(fixedSource(1e-12, 0.5))
	if got := est.SimulateRequestCount24h(100); got != 0 {
		t.Errorf("expected count floored at 0, got %v", got)
	}
}

func TestSimulateRequestCount24h_NoNoiseAtZeroNormal(t *testing.T) {
	est := NewEstimator(fixedSource(1.0, 0.25))
	if got := est.SimulateRequestCount24h(800); got != 800 {
		t.Errorf("expected baseline back with zero noise, got %v", got)
	}
}

func TestSimulateTrend7d_WithinBounds(t *testing.T) {
	est := NewEstimator(nil)
	for i := 0; i < 1000; i++ {
		trend := est.SimulateTrend7d()
		if trend < -0.20 || trend > 0.40 {
			t.Fatalf("trend %v outside [-0.20, 0.40]", trend)
		}
	}
}

func TestNormaliseCount_SaturatesAtTwiceBaseline(t *testing.T) {
	tests := []struct {
		count, baseline, want float64
	}{
		{0, 100, 0},
		{100, 100, 0.5},
		{200, 100, 1.0},
		{500, 100, 1.0},
	}
	for _, tt := range tests {
		if got := NormaliseCount(tt.count, tt.baseline); got != tt.want {
			t.Errorf("NormaliseCount(%v, %v) = %v, want %v", tt.count, tt.baseline, got, tt.want)
		}
	}
}

func TestNormaliseCount_ZeroBaselineIsNeutral(t *testing.T) {
	if got := NormaliseCount(123, 0); got != 0.5 {
		t.Errorf("expected neutral 0.5 for zero baseline, got %v", got)
	}
}

func TestNormaliseTrend_Clamped(t *testing.T) {
	tests := []struct {
		trend, want float64
	}{
		{-1.5, 0},
		{-1.0, 0},
		{0, 0.5},
		{0.4, 0.7},
		{1.0, 1.0},
		{2.0, 1.0},
	}
	for _, tt := range tests {
		got := NormaliseTrend(tt.trend)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("NormaliseTrend(%v) = %v, want %v", tt.trend, got, tt.want)
		}
	}
}

func TestComputeScore_AlwaysInUnitInterval(t *testing.T) {
	entry := model.CatalogEntry{
		ServiceID:   "tx-inspector",
		Cost:        decimal.NewFromFloat(0.002),
		Baseline24h: 2100,
	}
	est := NewEstimator(nil)
	for i := 0; i < 1000; i++ {
		score := est.ComputeScore(entry)
		if score.Score < 0 || score.Score > 1 {
			t.Fatalf("score %v outside [0,1]", score.Score)
		}
	}
}

func TestComputeScore_DeterministicWithPinnedSource(t *testing.T) {
	entry := model.CatalogEntry{ServiceID: "token-audit", Baseline24h: 800}

	// Draws: u1=1, u2=0.25 (zero noise → count = baseline), then 0.5 for
	// trend → trend = -0.20 + 0.5*0.60 = 0.10.
	est := NewEstimator(fixedSource(1.0, 0.25, 0.5))
	score := est.ComputeScore(entry)

	if score.RequestCount24h != 800 {
		t.Errorf("expected count 800, got %v", score.RequestCount24h)
	}
	if math.Abs(score.Trend7d-0.10) > 1e-12 {
		t.Errorf("expected trend 0.10, got %v", score.Trend7d)
	}
	// 0.6*0.5 + 0.4*0.55 = 0.52
	if math.Abs(score.Score-0.52) > 1e-12 {
		t.Errorf("expected score 0.52, got %v", score.Score)
	}
}

func TestComputeScore_ZeroBaselineDoesNotPanic(t *testing.T) {
	entry := model.CatalogEntry{ServiceID: "idle-svc", Baseline24h: 0}
	est := NewEstimator(fixedSource(1.0, 0.25, 0.5))
	score := est.ComputeScore(entry)
	if score.Score < 0 || score.Score > 1 {
		t.Errorf("score %v outside [0,1] for zero baseline", score.Score)
	}
}
