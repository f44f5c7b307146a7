package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"trailing-return-alerts/internal/storage"
)

// Show prints the most recently recorded snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	defer closeStore()

	records, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeSnapshotTable(os.Stdout, records)
}

func writeSnapshotTable(out io.Writer, records []storage.SnapshotRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recorded (UTC)\tRun\tTicker\tAs Of\tReturn%")
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			rec.RecordedAt.UTC().Format(time.RFC3339),
			shortID(rec.RunID.String()),
			rec.Ticker,
			rec.AsOf.Format(time.DateOnly),
			rec.Return.StringFixed(2),
		)
	}
	return writer.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
