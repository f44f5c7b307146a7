package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailing-return-alerts/internal/alerting"
	"trailing-return-alerts/internal/config"
	"trailing-return-alerts/internal/storage"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoadSeedDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "VFV.TO.prices.csv", "date,open,high,low,close,volume\n2024-01-02,100,101,99,100.456,1200\n2024-01-03,101,102,100,101,\n")
	writeFile(t, dir, "VFV.TO.dividends.csv", "date,amount\n2024-01-03,0.25\n")
	writeFile(t, dir, "XUS.TO.prices.csv", "date,open,high,low,close,adj_close\n2024-01-02,50,51,49,50,49.5\n")
	writeFile(t, dir, "notes.txt", "ignored")

	batch, err := LoadSeedDir(dir)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	vfv := batch[0]
	assert.Equal(t, "VFV.TO", vfv.Ticker)
	require.Len(t, vfv.Bars, 2)
	assert.Equal(t, int64(1200), vfv.Bars[0].Volume)
	assert.True(t, vfv.Bars[0].AdjClose.Equal(vfv.Bars[0].Close))
	assert.Equal(t, int64(0), vfv.Bars[1].Volume)
	require.Len(t, vfv.Dividends, 1)
	assert.Equal(t, "0.25", vfv.Dividends[0].Amount.String())

	xus := batch[1]
	assert.Equal(t, "XUS.TO", xus.Ticker)
	assert.Equal(t, "49.5", xus.Bars[0].AdjClose.String())
}

func TestLoadSeedDirErrors(t *testing.T) {
	_, err := LoadSeedDir(t.TempDir())
	assert.ErrorContains(t, err, "no seed files")

	dir := t.TempDir()
	writeFile(t, dir, "A.prices.csv", "date,open,high,low\n2024-01-02,1,1,1\n")
	_, err = LoadSeedDir(dir)
	assert.ErrorContains(t, err, `missing column "close"`)

	dir = t.TempDir()
	writeFile(t, dir, "A.prices.csv", "date,open,high,low,close\n02/01/2024,1,1,1,1\n")
	_, err = LoadSeedDir(dir)
	assert.ErrorContains(t, err, "A.prices.csv:2: date")
}

func TestSeedMergesThroughEngine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "VFV.TO.prices.csv", "date,open,high,low,close\n2024-01-02,100,101,99,100.456\n2024-01-02,1,1,1,1\n")
	batch, err := LoadSeedDir(dir)
	require.NoError(t, err)

	a := &App{Logger: zerolog.Nop()}
	mem := storage.NewMemory()

	result, err := a.seed(context.Background(), mem, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Prices)

	bars, err := mem.PricesBetween(context.Background(), "VFV.TO", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "100.46", bars[0].Close.String())

	result, err = a.seed(context.Background(), mem, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RowsWritten)
}

func records(n int) []storage.SnapshotRecord {
	out := make([]storage.SnapshotRecord, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = storage.SnapshotRecord{
			RunID:      uuid.New(),
			Ticker:     "VFV.TO",
			AsOf:       base.AddDate(0, 0, i),
			Return:     decimal.NewFromInt(int64(i)),
			RecordedAt: base.AddDate(0, 0, i).Add(7 * time.Hour),
		}
	}
	return out
}

func TestDownsampleRecords(t *testing.T) {
	all := records(10)
	assert.Len(t, downsampleRecords(all, 0), 10)
	assert.Len(t, downsampleRecords(all, 20), 10)

	got := downsampleRecords(all, 4)
	require.Len(t, got, 4)
	assert.Equal(t, all[0].AsOf, got[0].AsOf)
	assert.Equal(t, all[9].AsOf, got[3].AsOf)

	one := downsampleRecords(all, 1)
	require.Len(t, one, 1)
	assert.Equal(t, all[9].AsOf, one[0].AsOf)
}

func TestWriteSnapshotTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeSnapshotTable(&buf, nil))
	assert.Equal(t, "no snapshots found\n", buf.String())

	buf.Reset()
	require.NoError(t, writeSnapshotTable(&buf, records(2)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Return%")
	assert.Contains(t, lines[2], "2024-01-02")
	assert.True(t, strings.HasSuffix(lines[2], "1.00"))
}

func TestWriteSnapshotsFiles(t *testing.T) {
	dir := t.TempDir()
	rows := records(3)

	csvPath := filepath.Join(dir, "out", "snapshots.csv")
	require.NoError(t, writeSnapshotsCSV(csvPath, rows))
	f, err := os.Open(csvPath)
	require.NoError(t, err)
	defer f.Close()
	got, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []string{"recorded_at", "run_id", "ticker", "as_of", "return_pct"}, got[0])
	assert.Equal(t, "2024-01-03", got[3][3])

	pqPath := filepath.Join(dir, "snapshots.parquet")
	require.NoError(t, writeSnapshotsParquet(pqPath, rows, "snappy"))
	data, err := os.ReadFile(pqPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))

	pngPath := filepath.Join(dir, "snapshots.png")
	require.NoError(t, writeSnapshotsPNG(pngPath, rows))
	data, err = os.ReadFile(pngPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

type mailbox struct {
	srv      *httptest.Server
	subjects []string
}

func newMailbox(t *testing.T) *mailbox {
	t.Helper()
	mb := &mailbox{}
	mb.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Subject string `json:"Subject"`
			} `json:"Messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		for _, m := range req.Messages {
			mb.subjects = append(mb.subjects, m.Subject)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"Messages": []map[string]any{{"Status": "success"}}})
	}))
	t.Cleanup(mb.srv.Close)
	return mb
}

func runConfig(mb *mailbox, tickersPath string) *config.Config {
	return &config.Config{
		App:      config.AppConfig{Name: "hotpotato"},
		Tickers:  config.TickersConfig{Path: tickersPath},
		Source:   config.SourceConfig{Mode: config.ModeSeries, Concurrency: 1, OverlapDays: 7, BootstrapDays: 400, RatePerSecond: 5, Burst: 1, RequestTimeout: time.Second},
		Evaluate: config.EvaluateConfig{Period: config.PeriodMonthly, LookbackYears: 1},
		Notify: config.NotifyConfig{
			Enabled:        true,
			BaseURL:        mb.srv.URL,
			APIKey:         "key",
			APISecret:      "secret",
			RecipientEmail: "me@example.com",
			RequestTimeout: time.Second,
		},
	}
}

func TestRunEmailsMissingTickerFile(t *testing.T) {
	mb := newMailbox(t)
	a := NewApp(runConfig(mb, filepath.Join(t.TempDir(), "stocks.yaml")), zerolog.Nop())

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, []string{alerting.FailureSubject}, mb.subjects)
}

func TestRunEmailsStoreOpenFailure(t *testing.T) {
	mb := newMailbox(t)
	cfg := runConfig(mb, filepath.Join(t.TempDir(), "stocks.yaml"))
	cfg.Database.DSN = "postgres://%zz"
	a := NewApp(cfg, zerolog.Nop())

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, []string{alerting.FailureSubject}, mb.subjects, "one email even though tickers are missing too")
}
