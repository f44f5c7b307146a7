package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"trailing-return-alerts/internal/market"
)

var asOf = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func set(pairs ...any) market.SnapshotSet {
	out := make(market.SnapshotSet)
	for i := 0; i < len(pairs); i += 2 {
		ticker := pairs[i].(string)
		out[ticker] = market.Snapshot{Ticker: ticker, AsOf: asOf, Return: decimal.RequireFromString(pairs[i+1].(string))}
	}
	return out
}

func TestHasChanged(t *testing.T) {
	current := set("A", "5", "B", "12.3")

	tests := []struct {
		name     string
		previous market.SnapshotSet
		want     bool
	}{
		{"empty previous", market.SnapshotSet{}, true},
		{"nil previous", nil, true},
		{"identical", set("A", "5", "B", "12.3"), false},
		{"same value different scale", set("A", "5.00", "B", "12.30"), false},
		{"return moved", set("A", "5", "B", "12.31"), true},
		{"ticker missing", set("A", "5"), true},
		{"ticker swapped", set("A", "5", "C", "12.3"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasChanged(current, tt.previous, decimal.Zero))
		})
	}
}

func TestHasChangedIgnoresAsOf(t *testing.T) {
	previous := set("A", "5")
	current := set("A", "5")
	snap := current["A"]
	snap.AsOf = asOf.AddDate(0, 0, 1)
	current["A"] = snap

	assert.False(t, HasChanged(current, previous, decimal.Zero))
}

func TestDetectorTolerance(t *testing.T) {
	d := New(0.05)
	assert.False(t, d.HasChanged(set("A", "5.04"), set("A", "5")))
	assert.True(t, d.HasChanged(set("A", "5.06"), set("A", "5")))

	strict := New(0)
	assert.True(t, strict.HasChanged(set("A", "5.00000001"), set("A", "5")))
}
