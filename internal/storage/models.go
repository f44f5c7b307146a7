package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trailing-return-alerts/internal/market"
)

// SnapshotRecord is one persisted trailing return.
type SnapshotRecord struct {
	RunID      uuid.UUID
	Ticker     string
	AsOf       time.Time
	Return     decimal.Decimal
	RecordedAt time.Time
}

// MergeCounts reports rows newly inserted into durable tables by one merge.
type MergeCounts struct {
	Prices    int64
	Dividends int64
}

// Total sums the per-table counts.
func (c MergeCounts) Total() int64 {
	return c.Prices + c.Dividends
}

// RowError describes one observation the store refused.
type RowError struct {
	Table  string
	Index  int
	Date   time.Time
	Reason string
}

func (e RowError) String() string {
	return fmt.Sprintf("%s[%d] %s: %s", e.Table, e.Index, e.Date.Format(time.DateOnly), e.Reason)
}

// RejectedRowsError lists every row-level error of a refused batch.
type RejectedRowsError struct {
	Ticker string
	Rows   []RowError
}

func (e *RejectedRowsError) Error() string {
	parts := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%d rejected rows for %s: %s", len(e.Rows), e.Ticker, strings.Join(parts, "; "))
}

// ObservationStore persists price bars and dividends through the staging area.
type ObservationStore interface {
	TruncateStaging(ctx context.Context) error
	MergeSeries(ctx context.Context, runID uuid.UUID, series market.Series) (MergeCounts, error)
	PricesBetween(ctx context.Context, ticker string, from, to time.Time) ([]market.PriceBar, error)
	LastPriceOnOrBefore(ctx context.Context, ticker string, day time.Time) (market.PriceBar, bool, error)
	DividendsBetween(ctx context.Context, ticker string, from, to time.Time) ([]market.Dividend, error)
	LatestDates(ctx context.Context, tickers []string) (map[string]time.Time, error)
}

// SnapshotStore persists the snapshot sets used for change detection.
type SnapshotStore interface {
	LatestSnapshotSet(ctx context.Context) (market.SnapshotSet, error)
	InsertSnapshotSet(ctx context.Context, runID uuid.UUID, set market.SnapshotSet) error
	ListSnapshots(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error)
	ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error)
}

// Repository is the full durable store.
type Repository interface {
	ObservationStore
	SnapshotStore
	Close()
}

// ValidateSeries returns the row-level errors that would make the store refuse series.
func ValidateSeries(series market.Series) []RowError {
	var rows []RowError
	for i, bar := range series.Bars {
		reason := ""
		switch {
		case bar.Ticker != series.Ticker:
			reason = fmt.Sprintf("ticker %q does not match series %q", bar.Ticker, series.Ticker)
		case bar.Date.IsZero():
			reason = "missing trade date"
		case !bar.Close.IsPositive():
			reason = "close must be positive"
		case bar.Open.IsNegative() || bar.High.IsNegative() || bar.Low.IsNegative() || bar.AdjClose.IsNegative():
			reason = "negative price"
		case bar.Volume < 0:
			reason = "negative volume"
		}
		if reason != "" {
			rows = append(rows, RowError{Table: "price_bars", Index: i, Date: bar.Date, Reason: reason})
		}
	}
	for i, div := range series.Dividends {
		reason := ""
		switch {
		case div.Ticker != series.Ticker:
			reason = fmt.Sprintf("ticker %q does not match series %q", div.Ticker, series.Ticker)
		case div.Date.IsZero():
			reason = "missing ex date"
		case div.Amount.IsNegative():
			reason = "negative amount"
		}
		if reason != "" {
			rows = append(rows, RowError{Table: "dividends", Index: i, Date: div.Date, Reason: reason})
		}
	}
	return rows
}

func rejectRows(series market.Series) error {
	rows := ValidateSeries(series)
	if series.Ticker == "" {
		rows = append(rows, RowError{Table: "series", Reason: "empty ticker"})
	}
	if len(rows) == 0 {
		return nil
	}
	return market.NewFault(market.ErrWriteRejected, "storage.merge", series.Ticker,
		&RejectedRowsError{Ticker: series.Ticker, Rows: rows})
}
