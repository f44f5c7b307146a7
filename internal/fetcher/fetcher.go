package fetcher

import (
	"context"

	"trailing-return-alerts/internal/market"
)

// SeriesFetcher retrieves daily bars and dividends for a ticker.
type SeriesFetcher interface {
	FetchSeries(ctx context.Context, ticker string, window market.Window) (market.Series, error)
}

// SnapshotFetcher retrieves a precomputed one-year trailing return for a ticker.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, ticker string) (market.Snapshot, error)
}
