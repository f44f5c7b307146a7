package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"trailing-return-alerts/internal/archive"
	"trailing-return-alerts/internal/storage"
)

const defaultExportSpan = 365 * 24 * time.Hour

// Export renders snapshot history as CSV, PNG and/or parquet.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.ParquetPath == "" {
		return errors.New("at least one of --csv, --png or --parquet must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportSpan)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListSnapshots(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}
	if opts.ParquetPath != "" {
		if err := writeSnapshotsParquet(opts.ParquetPath, downsampled, a.Config.Archive.Compression); err != nil {
			return err
		}
	}
	return nil
}

func downsampleRecords(records []storage.SnapshotRecord, max int) []storage.SnapshotRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.SnapshotRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, records []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"recorded_at", "run_id", "ticker", "as_of", "return_pct"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.RecordedAt.UTC().Format(time.RFC3339),
			rec.RunID.String(),
			rec.Ticker,
			rec.AsOf.Format(time.DateOnly),
			rec.Return.String(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeSnapshotsPNG draws one line per ticker over the as-of dates.
func writeSnapshotsPNG(path string, records []storage.SnapshotRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	type point struct {
		at  time.Time
		pct float64
	}
	byTicker := make(map[string][]point)
	for _, rec := range records {
		byTicker[rec.Ticker] = append(byTicker[rec.Ticker], point{rec.AsOf, rec.Return.InexactFloat64()})
	}
	names := make([]string, 0, len(byTicker))
	for ticker := range byTicker {
		names = append(names, ticker)
	}
	sort.Strings(names)

	series := make([]chart.Series, 0, len(names))
	for _, ticker := range names {
		points := byTicker[ticker]
		sort.SliceStable(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
		// go-chart needs at least two points to draw a line.
		if len(points) == 1 {
			points = append(points, point{points[0].at.Add(24 * time.Hour), points[0].pct})
		}
		x := make([]time.Time, len(points))
		y := make([]float64, len(points))
		for i, p := range points {
			x[i], y[i] = p.at, p.pct
		}
		series = append(series, chart.TimeSeries{Name: ticker, XValues: x, YValues: y})
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Trailing return (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func writeSnapshotsParquet(path string, records []storage.SnapshotRecord, compression string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	data, err := archive.EncodeSnapshots(records, compression)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
