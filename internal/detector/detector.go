// Package detector decides whether a freshly computed snapshot set differs from
// the last persisted one.
package detector

import (
	"github.com/shopspring/decimal"

	"trailing-return-alerts/internal/market"
)

// Detector compares snapshot sets. Returns within Tolerance percentage points
// of each other are considered equal; a zero tolerance means exact equality.
type Detector struct {
	Tolerance decimal.Decimal
}

// New builds a Detector from a tolerance in percentage points.
func New(tolerancePct float64) Detector {
	if tolerancePct <= 0 {
		return Detector{}
	}
	return Detector{Tolerance: decimal.NewFromFloat(tolerancePct)}
}

// HasChanged reports whether current differs from previous.
func (d Detector) HasChanged(current, previous market.SnapshotSet) bool {
	return HasChanged(current, previous, d.Tolerance)
}

// HasChanged reports whether current differs from previous. An empty previous
// set always counts as a change, as does any difference in the ticker set.
// As-of dates are not compared.
func HasChanged(current, previous market.SnapshotSet, tolerance decimal.Decimal) bool {
	if len(previous) == 0 {
		return true
	}
	if len(current) != len(previous) {
		return true
	}
	for ticker, cur := range current {
		prev, ok := previous[ticker]
		if !ok {
			return true
		}
		if !equalWithin(cur.Return, prev.Return, tolerance) {
			return true
		}
	}
	return false
}

func equalWithin(a, b, tolerance decimal.Decimal) bool {
	if !tolerance.IsPositive() {
		return a.Equal(b)
	}
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}
