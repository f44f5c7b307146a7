package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"trailing-return-alerts/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

var (
	stagePriceColumns    = []string{"run_id", "seq", "ticker", "trade_date", "open", "high", "low", "close", "adj_close", "volume"}
	stageDividendColumns = []string{"run_id", "seq", "ticker", "ex_date", "amount"}
)

const (
	truncateStagingSQL = `TRUNCATE stage_price_bars, stage_dividends;`

	clearStagePricesSQL    = `DELETE FROM stage_price_bars WHERE ticker = $1;`
	clearStageDividendsSQL = `DELETE FROM stage_dividends WHERE ticker = $1;`

	mergePricesSQL = `INSERT INTO price_bars (
        ticker,
        trade_date,
        open,
        high,
        low,
        close,
        adj_close,
        volume
    )
    SELECT DISTINCT ON (ticker, trade_date)
        ticker, trade_date, open, high, low, close, adj_close, volume
    FROM stage_price_bars
    WHERE ticker = $1
      AND run_id = $2
    ORDER BY ticker, trade_date, seq
    ON CONFLICT (ticker, trade_date) DO NOTHING;`

	mergeDividendsSQL = `INSERT INTO dividends (
        ticker,
        ex_date,
        amount
    )
    SELECT DISTINCT ON (ticker, ex_date)
        ticker, ex_date, amount
    FROM stage_dividends
    WHERE ticker = $1
      AND run_id = $2
    ORDER BY ticker, ex_date, seq
    ON CONFLICT (ticker, ex_date) DO NOTHING;`

	pricesBetweenSQL = `SELECT
        ticker,
        trade_date,
        open,
        high,
        low,
        close,
        adj_close,
        volume
    FROM price_bars
    WHERE ticker = $1
      AND trade_date >= $2
      AND trade_date <= $3
    ORDER BY trade_date;`

	lastPriceOnOrBeforeSQL = `SELECT
        ticker,
        trade_date,
        open,
        high,
        low,
        close,
        adj_close,
        volume
    FROM price_bars
    WHERE ticker = $1
      AND trade_date <= $2
    ORDER BY trade_date DESC
    LIMIT 1;`

	dividendsBetweenSQL = `SELECT
        ticker,
        ex_date,
        amount
    FROM dividends
    WHERE ticker = $1
      AND ex_date >= $2
      AND ex_date <= $3
    ORDER BY ex_date;`

	latestDatesSQL = `SELECT ticker, MAX(trade_date)
    FROM price_bars
    WHERE ticker = ANY($1)
    GROUP BY ticker;`

	latestSnapshotSetSQL = `SELECT DISTINCT ON (s.ticker)
        s.run_id,
        s.ticker,
        s.as_of,
        s.return_pct,
        s.recorded_at
    FROM return_snapshots s
    WHERE s.ticker IN (
        SELECT ticker
        FROM return_snapshots
        WHERE run_id = (
            SELECT run_id
            FROM return_snapshots
            ORDER BY recorded_at DESC, run_id
            LIMIT 1
        )
    )
    ORDER BY s.ticker, s.as_of DESC, s.recorded_at DESC;`

	insertSnapshotSQL = `INSERT INTO return_snapshots (
        run_id,
        ticker,
        as_of,
        return_pct
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (ticker, as_of) DO UPDATE SET
        run_id = EXCLUDED.run_id,
        return_pct = EXCLUDED.return_pct,
        recorded_at = now();`

	listSnapshotsBetweenSQL = `SELECT
        run_id,
        ticker,
        as_of,
        return_pct,
        recorded_at
    FROM return_snapshots
    WHERE recorded_at >= $1
      AND recorded_at < $2
    ORDER BY recorded_at, ticker;`

	listRecentSnapshotsSQL = `SELECT
        run_id,
        ticker,
        as_of,
        return_pct,
        recorded_at
    FROM return_snapshots
    ORDER BY recorded_at DESC, ticker
    LIMIT $1;`
)

// Store is the PostgreSQL-backed Repository.
type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

var _ Repository = (*Store)(nil)

// NewStore wires a pgx pool into a Store. Every call is bounded by timeout when positive.
func NewStore(pool *pgxpool.Pool, timeout time.Duration) *Store {
	return &Store{pool: pool, timeout: timeout}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return pool.Ping(ctx)
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// rejected classifies every warehouse failure, timeouts included, as a write rejection.
func rejected(op, ticker string, err error) error {
	return market.NewFault(market.ErrWriteRejected, "storage."+op, ticker, err)
}

// TruncateStaging empties the staging tables at the start of a run.
func (s *Store) TruncateStaging(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := pool.Exec(ctx, truncateStagingSQL); err != nil {
		return rejected("truncate_staging", "", err)
	}
	return nil
}

// MergeSeries stages one ticker's observations and merges them into the durable
// tables inside a single transaction. Keys already present are left untouched.
func (s *Store) MergeSeries(ctx context.Context, runID uuid.UUID, series market.Series) (MergeCounts, error) {
	if err := rejectRows(series); err != nil {
		return MergeCounts{}, err
	}
	pool, err := s.getPool()
	if err != nil {
		return MergeCounts{}, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return MergeCounts{}, rejected("merge", series.Ticker, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	counts, err := mergeInTx(ctx, tx, runID, series)
	if err != nil {
		return MergeCounts{}, rejected("merge", series.Ticker, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return MergeCounts{}, rejected("merge", series.Ticker, fmt.Errorf("commit: %w", err))
	}
	return counts, nil
}

func mergeInTx(ctx context.Context, tx pgx.Tx, runID uuid.UUID, series market.Series) (MergeCounts, error) {
	var counts MergeCounts
	ticker := series.Ticker

	if _, err := tx.Exec(ctx, clearStagePricesSQL, ticker); err != nil {
		return counts, fmt.Errorf("clear staged prices: %w", err)
	}
	if _, err := tx.Exec(ctx, clearStageDividendsSQL, ticker); err != nil {
		return counts, fmt.Errorf("clear staged dividends: %w", err)
	}

	if len(series.Bars) > 0 {
		rows := make([][]any, 0, len(series.Bars))
		for i, bar := range series.Bars {
			rows = append(rows, []any{
				pgUUID(runID), int32(i), bar.Ticker, market.Day(bar.Date),
				toNumeric(bar.Open), toNumeric(bar.High), toNumeric(bar.Low),
				toNumeric(bar.Close), toNumeric(bar.AdjClose), bar.Volume,
			})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"stage_price_bars"}, stagePriceColumns, pgx.CopyFromRows(rows)); err != nil {
			return counts, fmt.Errorf("stage prices: %w", err)
		}
		tag, err := tx.Exec(ctx, mergePricesSQL, ticker, pgUUID(runID))
		if err != nil {
			return counts, fmt.Errorf("merge prices: %w", err)
		}
		counts.Prices = tag.RowsAffected()
	}

	if len(series.Dividends) > 0 {
		rows := make([][]any, 0, len(series.Dividends))
		for i, div := range series.Dividends {
			rows = append(rows, []any{pgUUID(runID), int32(i), div.Ticker, market.Day(div.Date), toNumeric(div.Amount)})
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"stage_dividends"}, stageDividendColumns, pgx.CopyFromRows(rows)); err != nil {
			return counts, fmt.Errorf("stage dividends: %w", err)
		}
		tag, err := tx.Exec(ctx, mergeDividendsSQL, ticker, pgUUID(runID))
		if err != nil {
			return counts, fmt.Errorf("merge dividends: %w", err)
		}
		counts.Dividends = tag.RowsAffected()
	}

	if _, err := tx.Exec(ctx, clearStagePricesSQL, ticker); err != nil {
		return counts, fmt.Errorf("clear staged prices: %w", err)
	}
	if _, err := tx.Exec(ctx, clearStageDividendsSQL, ticker); err != nil {
		return counts, fmt.Errorf("clear staged dividends: %w", err)
	}
	return counts, nil
}

// PricesBetween lists a ticker's bars inside the inclusive date range.
func (s *Store) PricesBetween(ctx context.Context, ticker string, from, to time.Time) ([]market.PriceBar, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, pricesBetweenSQL, ticker, market.Day(from), market.Day(to))
	if err != nil {
		return nil, rejected("prices_between", ticker, err)
	}
	defer rows.Close()

	bars := make([]market.PriceBar, 0)
	for rows.Next() {
		bar, err := scanBar(rows)
		if err != nil {
			return nil, rejected("prices_between", ticker, err)
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, rejected("prices_between", ticker, err)
	}
	return bars, nil
}

// LastPriceOnOrBefore returns the latest bar dated at or before day.
func (s *Store) LastPriceOnOrBefore(ctx context.Context, ticker string, day time.Time) (market.PriceBar, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return market.PriceBar{}, false, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	bar, err := scanBar(pool.QueryRow(ctx, lastPriceOnOrBeforeSQL, ticker, market.Day(day)))
	if errors.Is(err, pgx.ErrNoRows) {
		return market.PriceBar{}, false, nil
	}
	if err != nil {
		return market.PriceBar{}, false, rejected("last_price", ticker, err)
	}
	return bar, true, nil
}

func scanBar(row pgx.Row) (market.PriceBar, error) {
	var (
		bar                               market.PriceBar
		open, high, low, closeP, adjClose pgtype.Numeric
	)
	if err := row.Scan(&bar.Ticker, &bar.Date, &open, &high, &low, &closeP, &adjClose, &bar.Volume); err != nil {
		return market.PriceBar{}, err
	}
	if err := decodeNumerics(
		[]*decimal.Decimal{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.AdjClose},
		[]pgtype.Numeric{open, high, low, closeP, adjClose},
	); err != nil {
		return market.PriceBar{}, err
	}
	bar.Date = market.Day(bar.Date)
	return bar, nil
}

// DividendsBetween lists a ticker's dividends inside the inclusive date range.
func (s *Store) DividendsBetween(ctx context.Context, ticker string, from, to time.Time) ([]market.Dividend, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, dividendsBetweenSQL, ticker, market.Day(from), market.Day(to))
	if err != nil {
		return nil, rejected("dividends_between", ticker, err)
	}
	defer rows.Close()

	divs := make([]market.Dividend, 0)
	for rows.Next() {
		var (
			div    market.Dividend
			amount pgtype.Numeric
		)
		if err := rows.Scan(&div.Ticker, &div.Date, &amount); err != nil {
			return nil, rejected("dividends_between", ticker, err)
		}
		if div.Amount, err = fromNumeric(amount); err != nil {
			return nil, rejected("dividends_between", ticker, err)
		}
		div.Date = market.Day(div.Date)
		divs = append(divs, div)
	}
	if err := rows.Err(); err != nil {
		return nil, rejected("dividends_between", ticker, err)
	}
	return divs, nil
}

// LatestDates returns the most recent stored trade date per ticker. Tickers
// without any stored bar are absent from the result.
func (s *Store) LatestDates(ctx context.Context, tickers []string) (map[string]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, latestDatesSQL, tickers)
	if err != nil {
		return nil, rejected("latest_dates", "", err)
	}
	defer rows.Close()

	latest := make(map[string]time.Time, len(tickers))
	for rows.Next() {
		var (
			ticker string
			day    time.Time
		)
		if err := rows.Scan(&ticker, &day); err != nil {
			return nil, rejected("latest_dates", "", err)
		}
		latest[ticker] = market.Day(day)
	}
	if err := rows.Err(); err != nil {
		return nil, rejected("latest_dates", "", err)
	}
	return latest, nil
}

// LatestSnapshotSet returns the newest row per ticker for the tickers of the most
// recently recorded set, or an empty set.
func (s *Store) LatestSnapshotSet(ctx context.Context) (market.SnapshotSet, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, latestSnapshotSetSQL)
	if err != nil {
		return nil, rejected("latest_snapshot_set", "", err)
	}
	records, err := scanSnapshots(rows)
	if err != nil {
		return nil, rejected("latest_snapshot_set", "", err)
	}

	set := make(market.SnapshotSet, len(records))
	for _, rec := range records {
		set[rec.Ticker] = market.Snapshot{Ticker: rec.Ticker, AsOf: rec.AsOf, Return: rec.Return}
	}
	return set, nil
}

// InsertSnapshotSet records a full snapshot set under runID atomically. A row for
// the same (ticker, as_of) is replaced.
func (s *Store) InsertSnapshotSet(ctx context.Context, runID uuid.UUID, set market.SnapshotSet) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return rejected("insert_snapshot_set", "", fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, snap := range set {
		batch.Queue(insertSnapshotSQL, pgUUID(runID), snap.Ticker, market.Day(snap.AsOf), toNumeric(snap.Return))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return rejected("insert_snapshot_set", "", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return rejected("insert_snapshot_set", "", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// ListSnapshots lists snapshots recorded within [from, to).
func (s *Store) ListSnapshots(ctx context.Context, from, to time.Time) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, listSnapshotsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	return scanSnapshots(rows)
}

// ListRecentSnapshots lists the newest snapshot rows.
func (s *Store) ListRecentSnapshots(ctx context.Context, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := pool.Query(ctx, listRecentSnapshotsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

func scanSnapshots(rows pgx.Rows) ([]SnapshotRecord, error) {
	defer rows.Close()

	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		var (
			rec SnapshotRecord
			id  pgtype.UUID
			ret pgtype.Numeric
		)
		if err := rows.Scan(&id, &rec.Ticker, &rec.AsOf, &ret, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		value, err := fromNumeric(ret)
		if err != nil {
			return nil, fmt.Errorf("parse return pct: %w", err)
		}
		rec.RunID = uuid.UUID(id.Bytes)
		rec.Return = value
		rec.AsOf = market.Day(rec.AsOf)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
