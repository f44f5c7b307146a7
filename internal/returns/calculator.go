package returns

import (
	"context"
	"fmt"
	"time"

	"trailing-return-alerts/internal/market"
)

// SeriesReader loads persisted observations.
type SeriesReader interface {
	PricesBetween(ctx context.Context, ticker string, from, to time.Time) ([]market.PriceBar, error)
	DividendsBetween(ctx context.Context, ticker string, from, to time.Time) ([]market.Dividend, error)
	// LastPriceOnOrBefore returns the latest bar dated at or before day.
	LastPriceOnOrBefore(ctx context.Context, ticker string, day time.Time) (market.PriceBar, bool, error)
}

// Calculator recomputes trailing returns from the durable store.
type Calculator struct {
	reader   SeriesReader
	lookback Period
}

// NewCalculator builds a calculator over reader.
func NewCalculator(reader SeriesReader, lookback Period) *Calculator {
	if lookback.IsZero() {
		lookback = OneYear
	}
	return &Calculator{reader: reader, lookback: lookback}
}

// Compute returns the trailing return for ticker as of asOf. The start close is
// the last stored bar at or before the lookback boundary, however old.
func (c *Calculator) Compute(ctx context.Context, ticker string, asOf time.Time) (market.Snapshot, error) {
	to := market.Day(asOf)
	target := c.lookback.Before(to)

	start, ok, err := c.reader.LastPriceOnOrBefore(ctx, ticker, target)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("load start price for %s: %w", ticker, err)
	}
	if !ok {
		return market.Snapshot{}, market.Faultf(market.ErrInsufficientHistory, "trailing return", ticker,
			"no close at or before %s", target.Format(time.DateOnly))
	}

	from := market.Day(start.Date)
	bars, err := c.reader.PricesBetween(ctx, ticker, from, to)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("load prices for %s: %w", ticker, err)
	}
	divs, err := c.reader.DividendsBetween(ctx, ticker, from, to)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("load dividends for %s: %w", ticker, err)
	}

	return TrailingReturn(market.Series{Ticker: ticker, Bars: bars, Dividends: divs}, to, c.lookback)
}
