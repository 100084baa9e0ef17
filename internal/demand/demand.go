// Package demand synthesizes per-service demand signals without real
// telemetry: a Gaussian-noised 24h request count around a configured
// baseline, and a growth-biased uniform 7-day trend, combined into a
// composite score in [0,1].
package demand

import (
	"math"
	"math/rand/v2"

	"github.com/solcat/price-engine/internal/model"
)

// Signal weights: request volume dominates, trend leans the result.
const (
	countWeight = 0.6
	trendWeight = 0.4

	// noiseStdDevRatio is the request-count noise standard deviation as
	// a fraction of baseline.
	noiseStdDevRatio = 0.30

	// Trend draws are asymmetric, biased toward growth.
	trendMin = -0.20
	trendMax = 0.40
)

// Source yields uniform samples in [0, 1). Injected so tests can pin the
// draws; the default wiring uses math/rand/v2.
type Source func() float64

// Score bundles the composite demand score with the raw simulated signals
// that produced it, for logging and history payloads.
type Score struct {
	Score           float64
	RequestCount24h float64
	Trend7d         float64
}

// Estimator produces demand scores from an injected uniform source.
type Estimator struct {
	uniform Source
}

// NewEstimator creates an estimator drawing from the given uniform source.
// A nil source falls back to math/rand/v2.
func NewEstimator(uniform Source) *Estimator {
	if uniform == nil {
		uniform = rand.Float64
	}
	return &Estimator{uniform: uniform}
}

// boxMuller converts two independent uniforms in (0,1) into one standard
// normal sample. Keeps the engine free of any distribution library.
func boxMuller(u1, u2 float64) float64 {
	if u1 <= 0 {
		u1 = math.SmallestNonzeroFloat64
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// SimulateRequestCount24h returns the baseline volume plus Gaussian noise
// with stddev 30% of baseline, floored at zero.
func (e *Estimator) SimulateRequestCount24h(baseline float64) float64 {
	noise := boxMuller(e.uniform(), e.uniform())
	count := baseline + noise*(noiseStdDevRatio*baseline)
	if count < 0 {
		return 0
	}
	return count
}

// SimulateTrend7d draws a weekly growth trend uniformly from
// [-0.20, +0.40].
func (e *Estimator) SimulateTrend7d() float64 {
	return trendMin + e.uniform()*(trendMax-trendMin)
}

// NormaliseCount maps a request count onto [0,1]; a count at twice the
// baseline saturates to 1. A zero baseline yields the neutral 0.5 rather
// than dividing by zero.
func NormaliseCount(count, baseline float64) float64 {
	if baseline == 0 {
		return 0.5
	}
	return math.Min(1.0, count/(baseline*2))
}

// NormaliseTrend maps a trend in [-1,1] onto [0,1], clamped.
func NormaliseTrend(trend float64) float64 {
	n := (trend + 1.0) / 2.0
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// ComputeScore produces the composite demand score for one catalog entry:
// 0.6 x normalised count + 0.4 x normalised trend. Always in [0,1].
func (e *Estimator) ComputeScore(entry model.CatalogEntry) Score {
	count := e.SimulateRequestCount24h(entry.Baseline24h)
	trend := e.SimulateTrend7d()

	score := countWeight*NormaliseCount(count, entry.Baseline24h) +
		trendWeight*NormaliseTrend(trend)

	return Score{
		Score:           score,
		RequestCount24h: count,
		Trend7d:         trend,
	}
}
