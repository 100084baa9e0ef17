// Package policy implements the bounded-interpolation pricing rule that
// maps a demand score onto a service's [floor, target] price band.
//
// The rule is piecewise: high demand holds the target (ceiling), low
// demand drops to the floor, and the middle band interpolates linearly.
// All monetary values use shopspring/decimal — never float64 for money.
package policy

import (
	"github.com/shopspring/decimal"

	"github.com/solcat/price-engine/internal/model"
)

const (
	// HighDemandThreshold is the demand score at or above which the
	// price holds at target.
	HighDemandThreshold = 0.70

	// LowDemandThreshold is the demand score below which the price
	// drops to floor.
	LowDemandThreshold = 0.40
)

// DemandToPrice maps a demand score in [0,1] onto the [floor, target]
// band:
//
//	demand >= 0.70          → target
//	demand <  0.40          → floor
//	otherwise               → floor + t*(target-floor), t = (d-0.40)/0.30
//
// The result is never below floor: the trailing clamp guarantees floor
// dominance even if the thresholds above are ever retuned.
func DemandToPrice(demand float64, floor, target decimal.Decimal) decimal.Decimal {
	var price decimal.Decimal

	switch {
	case demand >= HighDemandThreshold:
		price = target
	case demand < LowDemandThreshold:
		price = floor
	default:
		t := (demand - LowDemandThreshold) / (HighDemandThreshold - LowDemandThreshold)
		span := target.Sub(floor)
		price = floor.Add(span.Mul(decimal.NewFromFloat(t)))
	}

	price = price.Round(model.PriceScale)

	// Hard floor clamp. Unreachable through the branches above but load-
	// bearing for the floor guarantee under any future threshold change.
	if price.LessThan(floor) {
		return floor
	}
	return price
}

// Clamp bounds a price into [floor, target].
func Clamp(price, floor, target decimal.Decimal) decimal.Decimal {
	if price.LessThan(floor) {
		return floor
	}
	if price.GreaterThan(target) {
		return target
	}
	return price
}
