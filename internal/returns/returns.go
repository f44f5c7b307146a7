package returns

import (
	"time"

	"github.com/shopspring/decimal"

	"trailing-return-alerts/internal/market"
)

// StoredPlaces is the scale at which returns are persisted and compared.
const StoredPlaces = 8

var hundred = decimal.NewFromInt(100)

// Period is a calendar lookback.
type Period struct {
	Years  int
	Months int
	Days   int
}

// OneYear is the default trailing window.
var OneYear = Period{Years: 1}

// Before returns the date lookback before t. A day of month that does not exist
// in the target month clamps to its last day (2024-02-29 minus a year is 2023-02-28).
func (p Period) Before(t time.Time) time.Time {
	y, m, d := market.Day(t).Date()
	first := time.Date(y-p.Years, m-time.Month(p.Months), 1, 0, 0, 0, 0, time.UTC)
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1-p.Days)
}

// IsZero reports whether the period spans no time.
func (p Period) IsZero() bool {
	return p.Years == 0 && p.Months == 0 && p.Days == 0
}

// LastBarOnOrBefore returns the latest bar dated at or before target.
func LastBarOnOrBefore(bars []market.PriceBar, target time.Time) (market.PriceBar, bool) {
	target = market.Day(target)
	var (
		best  market.PriceBar
		found bool
	)
	for _, bar := range bars {
		d := market.Day(bar.Date)
		if d.After(target) {
			continue
		}
		if !found || d.After(market.Day(best.Date)) {
			best = bar
			found = true
		}
	}
	return best, found
}

// SumDividends totals dividends dated within [from, to].
func SumDividends(divs []market.Dividend, from, to time.Time) decimal.Decimal {
	w := market.Window{From: from, To: to}
	total := decimal.Zero
	for _, d := range divs {
		if w.Contains(d.Date) {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// TrailingReturn computes end_close / (start_close - dividends) - 1 as a percentage.
// Boundary closes are taken from the last bar at or before asOf and asOf-lookback.
func TrailingReturn(series market.Series, asOf time.Time, lookback Period) (market.Snapshot, error) {
	const op = "trailing return"
	if lookback.IsZero() {
		lookback = OneYear
	}

	end, ok := LastBarOnOrBefore(series.Bars, asOf)
	if !ok {
		return market.Snapshot{}, market.Faultf(market.ErrInsufficientHistory, op, series.Ticker,
			"no close at or before %s", asOf.Format(time.DateOnly))
	}

	startTarget := lookback.Before(asOf)
	start, ok := LastBarOnOrBefore(series.Bars, startTarget)
	if !ok {
		return market.Snapshot{}, market.Faultf(market.ErrInsufficientHistory, op, series.Ticker,
			"no close at or before %s", startTarget.Format(time.DateOnly))
	}

	divs := SumDividends(series.Dividends, start.Date, end.Date)
	denom := start.Close.Sub(divs)
	if denom.Sign() <= 0 {
		return market.Snapshot{}, market.Faultf(market.ErrDegenerateReturn, op, series.Ticker,
			"start close %s minus dividends %s is not positive", start.Close, divs)
	}

	pct := end.Close.Div(denom).Sub(decimal.NewFromInt(1)).Mul(hundred)
	return market.Snapshot{
		Ticker: series.Ticker,
		AsOf:   market.Day(asOf),
		Return: pct.Round(StoredPlaces),
	}, nil
}
