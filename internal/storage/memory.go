package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"trailing-return-alerts/internal/market"
)

type dayKey struct {
	ticker string
	day    time.Time
}

// Memory is an in-process Repository for dry runs and tests.
type Memory struct {
	mu        sync.RWMutex
	bars      map[dayKey]market.PriceBar
	dividends map[dayKey]market.Dividend
	snapshots []SnapshotRecord
	now       func() time.Time
}

var _ Repository = (*Memory)(nil)

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		bars:      make(map[dayKey]market.PriceBar),
		dividends: make(map[dayKey]market.Dividend),
		now:       time.Now,
	}
}

// Close is a no-op.
func (m *Memory) Close() {}

// TruncateStaging is a no-op; merges never leave staged rows behind.
func (m *Memory) TruncateStaging(context.Context) error { return nil }

// MergeSeries inserts observations whose key is not yet present. Duplicates
// inside the batch resolve to the first occurrence.
func (m *Memory) MergeSeries(ctx context.Context, _ uuid.UUID, series market.Series) (MergeCounts, error) {
	if err := ctx.Err(); err != nil {
		return MergeCounts{}, rejected("merge", series.Ticker, err)
	}
	if err := rejectRows(series); err != nil {
		return MergeCounts{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var counts MergeCounts
	for _, bar := range series.Bars {
		key := dayKey{bar.Ticker, market.Day(bar.Date)}
		if _, ok := m.bars[key]; ok {
			continue
		}
		bar.Date = key.day
		m.bars[key] = bar
		counts.Prices++
	}
	for _, div := range series.Dividends {
		key := dayKey{div.Ticker, market.Day(div.Date)}
		if _, ok := m.dividends[key]; ok {
			continue
		}
		div.Date = key.day
		m.dividends[key] = div
		counts.Dividends++
	}
	return counts, nil
}

// PricesBetween lists a ticker's bars inside the inclusive date range.
func (m *Memory) PricesBetween(_ context.Context, ticker string, from, to time.Time) ([]market.PriceBar, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := market.Window{From: from, To: to}
	bars := make([]market.PriceBar, 0)
	for key, bar := range m.bars {
		if key.ticker == ticker && window.Contains(key.day) {
			bars = append(bars, bar)
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// LastPriceOnOrBefore returns the latest bar dated at or before day.
func (m *Memory) LastPriceOnOrBefore(_ context.Context, ticker string, day time.Time) (market.PriceBar, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day = market.Day(day)
	var (
		best  market.PriceBar
		found bool
	)
	for key, bar := range m.bars {
		if key.ticker != ticker || key.day.After(day) {
			continue
		}
		if !found || key.day.After(best.Date) {
			best, found = bar, true
		}
	}
	return best, found, nil
}

// DividendsBetween lists a ticker's dividends inside the inclusive date range.
func (m *Memory) DividendsBetween(_ context.Context, ticker string, from, to time.Time) ([]market.Dividend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	window := market.Window{From: from, To: to}
	divs := make([]market.Dividend, 0)
	for key, div := range m.dividends {
		if key.ticker == ticker && window.Contains(key.day) {
			divs = append(divs, div)
		}
	}
	sort.Slice(divs, func(i, j int) bool { return divs[i].Date.Before(divs[j].Date) })
	return divs, nil
}

// LatestDates returns the most recent stored trade date per ticker.
func (m *Memory) LatestDates(_ context.Context, tickers []string) (map[string]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		wanted[t] = struct{}{}
	}
	latest := make(map[string]time.Time, len(tickers))
	for key := range m.bars {
		if _, ok := wanted[key.ticker]; !ok {
			continue
		}
		if cur, ok := latest[key.ticker]; !ok || key.day.After(cur) {
			latest[key.ticker] = key.day
		}
	}
	return latest, nil
}

// LatestSnapshotSet returns the newest row per ticker for the tickers of the most
// recently recorded set, or an empty set.
func (m *Memory) LatestSnapshotSet(context.Context) (market.SnapshotSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := make(market.SnapshotSet)
	if len(m.snapshots) == 0 {
		return set, nil
	}
	last := m.snapshots[len(m.snapshots)-1].RunID
	for _, rec := range m.snapshots {
		if rec.RunID == last {
			set[rec.Ticker] = market.Snapshot{}
		}
	}
	// Rows are kept in recording order, so later rows win on equal as-of.
	for _, rec := range m.snapshots {
		cur, ok := set[rec.Ticker]
		if !ok || rec.AsOf.Before(cur.AsOf) {
			continue
		}
		set[rec.Ticker] = market.Snapshot{Ticker: rec.Ticker, AsOf: rec.AsOf, Return: rec.Return}
	}
	return set, nil
}

// InsertSnapshotSet records a snapshot set under runID. A row for the same
// (ticker, as_of) is replaced.
func (m *Memory) InsertSnapshotSet(_ context.Context, runID uuid.UUID, set market.SnapshotSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := m.now()
	tickers := make([]string, 0, len(set))
	for ticker := range set {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	for _, ticker := range tickers {
		snap := set[ticker]
		rec := SnapshotRecord{
			RunID:      runID,
			Ticker:     snap.Ticker,
			AsOf:       market.Day(snap.AsOf),
			Return:     snap.Return,
			RecordedAt: recorded,
		}
		kept := m.snapshots[:0]
		for _, old := range m.snapshots {
			if old.Ticker != rec.Ticker || !old.AsOf.Equal(rec.AsOf) {
				kept = append(kept, old)
			}
		}
		m.snapshots = append(kept, rec)
	}
	return nil
}

// ListSnapshots lists snapshots recorded within [from, to).
func (m *Memory) ListSnapshots(_ context.Context, from, to time.Time) ([]SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SnapshotRecord, 0)
	for _, rec := range m.snapshots {
		if !rec.RecordedAt.Before(from) && rec.RecordedAt.Before(to) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ListRecentSnapshots lists the newest snapshot rows, newest first.
func (m *Memory) ListRecentSnapshots(_ context.Context, limit int) ([]SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		return []SnapshotRecord{}, nil
	}
	out := make([]SnapshotRecord, 0, limit)
	for i := len(m.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.snapshots[i])
	}
	return out, nil
}

// Counts reports how many bars and dividends are stored.
func (m *Memory) Counts() MergeCounts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MergeCounts{Prices: int64(len(m.bars)), Dividends: int64(len(m.dividends))}
}
