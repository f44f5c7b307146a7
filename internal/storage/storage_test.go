package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailing-return-alerts/internal/market"
)

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bar(ticker, date, closePrice string) market.PriceBar {
	c := decimal.RequireFromString(closePrice)
	return market.PriceBar{Ticker: ticker, Date: day(date), Open: c, High: c, Low: c, Close: c, AdjClose: c, Volume: 100}
}

func sampleSeries() market.Series {
	return market.Series{
		Ticker: "VFV.TO",
		Bars: []market.PriceBar{
			bar("VFV.TO", "2024-01-02", "100"),
			bar("VFV.TO", "2024-01-03", "101"),
			bar("VFV.TO", "2024-01-03", "999"),
		},
		Dividends: []market.Dividend{
			{Ticker: "VFV.TO", Date: day("2024-01-03"), Amount: decimal.RequireFromString("0.5")},
		},
	}
}

func TestMemoryMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	series := sampleSeries()

	first, err := store.MergeSeries(ctx, uuid.New(), series)
	require.NoError(t, err)
	assert.Equal(t, MergeCounts{Prices: 2, Dividends: 1}, first)

	second, err := store.MergeSeries(ctx, uuid.New(), series)
	require.NoError(t, err)
	assert.Zero(t, second.Total())
	assert.Equal(t, MergeCounts{Prices: 2, Dividends: 1}, store.Counts())

	bars, err := store.PricesBetween(ctx, "VFV.TO", day("2024-01-01"), day("2024-01-31"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[1].Close.Equal(decimal.NewFromInt(101)), "first occurrence wins")
}

func TestMemoryRejectsInvalidRows(t *testing.T) {
	store := NewMemory()
	series := sampleSeries()
	series.Bars[1].Close = decimal.Zero
	series.Dividends[0].Ticker = "XEQT.TO"

	_, err := store.MergeSeries(context.Background(), uuid.New(), series)
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrWriteRejected)

	var rejectedRows *RejectedRowsError
	require.True(t, errors.As(err, &rejectedRows))
	assert.Len(t, rejectedRows.Rows, 2)
	assert.Zero(t, store.Counts().Total(), "a rejected batch writes nothing")
}

func TestMemoryLatestDates(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_, err := store.MergeSeries(ctx, uuid.New(), sampleSeries())
	require.NoError(t, err)

	latest, err := store.LatestDates(ctx, []string{"VFV.TO", "XEQT.TO"})
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Time{"VFV.TO": day("2024-01-03")}, latest)
}

func TestMemorySnapshotSets(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	empty, err := store.LatestSnapshotSet(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	older := market.SnapshotSet{"A": {Ticker: "A", AsOf: day("2024-01-01"), Return: decimal.NewFromInt(5)}}
	newer := market.SnapshotSet{
		"A": {Ticker: "A", AsOf: day("2024-02-01"), Return: decimal.NewFromInt(6)},
		"B": {Ticker: "B", AsOf: day("2024-02-01"), Return: decimal.NewFromInt(7)},
	}
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), older))
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), newer))

	latest, err := store.LatestSnapshotSet(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 2)
	assert.True(t, latest["A"].Return.Equal(decimal.NewFromInt(6)))

	recent, err := store.ListRecentSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestMemorySnapshotSameDayRerunReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	first := market.SnapshotSet{"A": {Ticker: "A", AsOf: day("2024-03-06"), Return: decimal.NewFromInt(5)}}
	second := market.SnapshotSet{"A": {Ticker: "A", AsOf: day("2024-03-06"), Return: decimal.NewFromInt(6)}}
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), first))
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), second))

	rows, err := store.ListRecentSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1, "one row per (ticker, as_of)")
	assert.True(t, rows[0].Return.Equal(decimal.NewFromInt(6)))

	latest, err := store.LatestSnapshotSet(ctx)
	require.NoError(t, err)
	assert.True(t, latest["A"].Return.Equal(decimal.NewFromInt(6)))
}

func TestMemoryLatestSnapshotSetFollowsLastRunTickers(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), market.SnapshotSet{
		"A":   {Ticker: "A", AsOf: day("2024-03-05"), Return: decimal.NewFromInt(1)},
		"OLD": {Ticker: "OLD", AsOf: day("2024-03-05"), Return: decimal.NewFromInt(2)},
	}))
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), market.SnapshotSet{
		"A": {Ticker: "A", AsOf: day("2024-03-06"), Return: decimal.NewFromInt(3)},
	}))

	latest, err := store.LatestSnapshotSet(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, day("2024-03-06"), latest["A"].AsOf)
}

func TestMemoryLastPriceOnOrBefore(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_, err := store.MergeSeries(ctx, uuid.New(), sampleSeries())
	require.NoError(t, err)

	got, ok, err := store.LastPriceOnOrBefore(ctx, "VFV.TO", day("2024-02-15"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-03"), got.Date)

	_, ok, err = store.LastPriceOnOrBefore(ctx, "VFV.TO", day("2024-01-01"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidateSeries(t *testing.T) {
	series := sampleSeries()
	assert.Empty(t, ValidateSeries(series))

	series.Bars[0].Volume = -1
	series.Bars[2].Date = time.Time{}
	rows := ValidateSeries(series)
	require.Len(t, rows, 2)
	assert.Equal(t, "negative volume", rows[0].Reason)
	assert.Equal(t, 2, rows[1].Index)
}

func TestMigrateURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@localhost:5432/db?sslmode=disable": "pgx5://u:p@localhost:5432/db?sslmode=disable",
		"postgresql://localhost/db":                        "pgx5://localhost/db",
		"pgx5://localhost/db":                              "pgx5://localhost/db",
	}
	for in, want := range cases {
		got, err := migrateURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := migrateURL("host=localhost dbname=db")
	assert.Error(t, err)
}

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "26.31578947", "-3.5", "120000"} {
		d := decimal.RequireFromString(s)
		back, err := fromNumeric(toNumeric(d))
		require.NoError(t, err)
		assert.True(t, d.Equal(back), s)
	}
}
