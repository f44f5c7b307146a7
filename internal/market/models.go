package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceBar is one daily bar for a ticker.
type PriceBar struct {
	Ticker   string
	Date     time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	AdjClose decimal.Decimal
	Volume   int64
}

// Dividend is a cash distribution paid on Date.
type Dividend struct {
	Ticker string
	Date   time.Time
	Amount decimal.Decimal
}

// Series groups the observations fetched for one ticker.
type Series struct {
	Ticker    string
	Bars      []PriceBar
	Dividends []Dividend
}

// Len reports the total number of observations in the series.
func (s Series) Len() int {
	return len(s.Bars) + len(s.Dividends)
}

// Window is an inclusive range of calendar dates.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether d falls inside the window.
func (w Window) Contains(d time.Time) bool {
	d = Day(d)
	return !d.Before(Day(w.From)) && !d.After(Day(w.To))
}

// Snapshot is a trailing return for a ticker as of a date. Return is a percentage.
type Snapshot struct {
	Ticker string
	AsOf   time.Time
	Return decimal.Decimal
}

// SnapshotSet maps ticker to its snapshot.
type SnapshotSet map[string]Snapshot

// Returns projects the set to ticker -> return.
func (s SnapshotSet) Returns() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s))
	for ticker, snap := range s {
		out[ticker] = snap.Return
	}
	return out
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
