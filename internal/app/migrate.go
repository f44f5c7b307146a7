package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"trailing-return-alerts/internal/ingest"
	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/storage"
)

// Migrate applies pending schema migrations and optionally seeds history
// from a directory of CSV files.
func (a *App) Migrate(ctx context.Context, opts MigrateOptions) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn is required to migrate")
	}

	ver, err := storage.Migrate(a.Config.Database.DSN)
	if err != nil {
		return err
	}
	a.Logger.Info().Uint("version", ver).Msg("schema up to date")

	if opts.SeedDir == "" {
		return nil
	}

	batch, err := LoadSeedDir(opts.SeedDir)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	result, err := a.seed(ctx, store, batch)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Int("tickers", len(batch)).
		Int64("prices", result.Prices).
		Int64("dividends", result.Dividends).
		Msg("seed imported")
	return nil
}

func (a *App) seed(ctx context.Context, store storage.ObservationStore, batch []market.Series) (ingest.MergeResult, error) {
	engine := ingest.NewEngine(store, a.Logger)
	if err := engine.Begin(ctx, uuid.New()); err != nil {
		return ingest.MergeResult{}, err
	}
	return engine.MergeAll(ctx, batch)
}
