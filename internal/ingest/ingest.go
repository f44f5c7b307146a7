// Package ingest merges freshly fetched observations into the durable store.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/storage"
)

// PricePlaces is the precision prices and dividends are stored at.
const PricePlaces = 2

// MergeResult accumulates what a run wrote so far.
type MergeResult struct {
	RowsWritten int64
	Prices      int64
	Dividends   int64
	Tickers     int
}

func (r *MergeResult) add(c storage.MergeCounts) {
	r.Prices += c.Prices
	r.Dividends += c.Dividends
	r.RowsWritten += c.Total()
	r.Tickers++
}

// Engine stages and merges one run's series. Each ticker merges atomically;
// a failure leaves earlier tickers merged and is reported with the partial total.
type Engine struct {
	store  storage.ObservationStore
	logger zerolog.Logger

	mu     sync.Mutex
	runID  uuid.UUID
	result MergeResult
}

// NewEngine builds an Engine over store.
func NewEngine(store storage.ObservationStore, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// Begin truncates the staging area and resets the run totals.
func (e *Engine) Begin(ctx context.Context, runID uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.TruncateStaging(ctx); err != nil {
		return err
	}
	e.runID = runID
	e.result = MergeResult{}
	return nil
}

// MergeSeries normalises series and merges it. The returned result is the
// run total including this ticker on success, or excluding it on failure.
func (e *Engine) MergeSeries(ctx context.Context, series market.Series) (MergeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runID == uuid.Nil {
		return e.result, fmt.Errorf("ingest: MergeSeries called before Begin")
	}

	normalized := Normalize(series)
	counts, err := e.store.MergeSeries(ctx, e.runID, normalized)
	if err != nil {
		e.logger.Error().Err(err).Str("ticker", series.Ticker).Int64("rows_written", e.result.RowsWritten).Msg("merge failed")
		return e.result, err
	}
	e.result.add(counts)

	e.logger.Debug().
		Str("ticker", series.Ticker).
		Int("fetched", series.Len()).
		Int("staged", normalized.Len()).
		Int64("prices", counts.Prices).
		Int64("dividends", counts.Dividends).
		Msg("series merged")
	return e.result, nil
}

// MergeAll merges every series in order and stops at the first failure.
func (e *Engine) MergeAll(ctx context.Context, batch []market.Series) (MergeResult, error) {
	result := e.Result()
	for _, series := range batch {
		var err error
		result, err = e.MergeSeries(ctx, series)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// Result returns the run total so far.
func (e *Engine) Result() MergeResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Normalize rounds values to PricePlaces, truncates dates to the calendar day,
// drops repeated dates keeping the first occurrence, and sorts by date.
func Normalize(series market.Series) market.Series {
	out := market.Series{Ticker: series.Ticker}

	seenBars := make(map[int64]struct{}, len(series.Bars))
	for _, bar := range series.Bars {
		bar.Date = market.Day(bar.Date)
		key := bar.Date.Unix()
		if _, ok := seenBars[key]; ok {
			continue
		}
		seenBars[key] = struct{}{}
		bar.Open = bar.Open.Round(PricePlaces)
		bar.High = bar.High.Round(PricePlaces)
		bar.Low = bar.Low.Round(PricePlaces)
		bar.Close = bar.Close.Round(PricePlaces)
		bar.AdjClose = bar.AdjClose.Round(PricePlaces)
		out.Bars = append(out.Bars, bar)
	}

	seenDivs := make(map[int64]struct{}, len(series.Dividends))
	for _, div := range series.Dividends {
		div.Date = market.Day(div.Date)
		key := div.Date.Unix()
		if _, ok := seenDivs[key]; ok {
			continue
		}
		seenDivs[key] = struct{}{}
		div.Amount = div.Amount.Round(PricePlaces)
		out.Dividends = append(out.Dividends, div)
	}

	sort.SliceStable(out.Bars, func(i, j int) bool { return out.Bars[i].Date.Before(out.Bars[j].Date) })
	sort.SliceStable(out.Dividends, func(i, j int) bool { return out.Dividends[i].Date.Before(out.Dividends[j].Date) })
	return out
}
