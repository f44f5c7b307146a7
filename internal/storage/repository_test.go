package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailing-return-alerts/internal/config"
	"trailing-return-alerts/internal/market"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("HOTPOTATO_TEST_DSN")
	if dsn == "" {
		t.Skip("HOTPOTATO_TEST_DSN not set")
	}
	_, err := Migrate(dsn)
	require.NoError(t, err)

	ctx := context.Background()
	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 2})
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE price_bars, dividends, return_snapshots, stage_price_bars, stage_dividends`)
	require.NoError(t, err)

	store := NewStore(pool, 10*time.Second)
	t.Cleanup(store.Close)
	return store
}

func TestStoreMergeSeries(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.TruncateStaging(ctx))

	counts, err := store.MergeSeries(ctx, uuid.New(), sampleSeries())
	require.NoError(t, err)
	assert.Equal(t, MergeCounts{Prices: 2, Dividends: 1}, counts)

	again, err := store.MergeSeries(ctx, uuid.New(), sampleSeries())
	require.NoError(t, err)
	assert.Zero(t, again.Total())

	bars, err := store.PricesBetween(ctx, "VFV.TO", day("2024-01-01"), day("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[1].Close.Equal(decimal.NewFromInt(101)))

	latest, err := store.LatestDates(ctx, []string{"VFV.TO"})
	require.NoError(t, err)
	assert.True(t, latest["VFV.TO"].Equal(day("2024-01-03")))

	last, ok, err := store.LastPriceOnOrBefore(ctx, "VFV.TO", day("2024-06-01"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Date.Equal(day("2024-01-03")))

	_, ok, err = store.LastPriceOnOrBefore(ctx, "VFV.TO", day("2023-12-31"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreSnapshotSets(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	set := market.SnapshotSet{
		"A": {Ticker: "A", AsOf: day("2024-02-01"), Return: decimal.RequireFromString("12.34567891")},
	}
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), set))

	latest, err := store.LatestSnapshotSet(ctx)
	require.NoError(t, err)
	require.Contains(t, latest, "A")
	assert.True(t, latest["A"].Return.Equal(set["A"].Return))
}

func TestStoreSnapshotSameDayRerunReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := market.SnapshotSet{"A": {Ticker: "A", AsOf: day("2024-03-06"), Return: decimal.NewFromInt(5)}}
	second := market.SnapshotSet{"A": {Ticker: "A", AsOf: day("2024-03-06"), Return: decimal.NewFromInt(6)}}
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), first))
	require.NoError(t, store.InsertSnapshotSet(ctx, uuid.New(), second))

	rows, err := store.ListRecentSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Return.Equal(decimal.NewFromInt(6)))

	latest, err := store.LatestSnapshotSet(ctx)
	require.NoError(t, err)
	assert.True(t, latest["A"].Return.Equal(decimal.NewFromInt(6)))
}
