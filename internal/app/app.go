package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"trailing-return-alerts/internal/alerting"
	"trailing-return-alerts/internal/archive"
	"trailing-return-alerts/internal/config"
	"trailing-return-alerts/internal/fetcher"
	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/metrics"
	"trailing-return-alerts/internal/scheduler"
	"trailing-return-alerts/internal/service"
	"trailing-return-alerts/internal/storage"
	"trailing-return-alerts/internal/tracing"
	"trailing-return-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *fetcher.Client {
	src := a.Config.Source
	return fetcher.NewClient(fetcher.ClientOptions{
		Timeout:       src.RequestTimeout,
		UserAgent:     src.UserAgent,
		RatePerSecond: src.RatePerSecond,
		Burst:         src.Burst,
	}, a.Logger)
}

func (a *App) newDispatcher() alerting.Dispatcher {
	cfg := a.Config.Notify
	if !cfg.Enabled {
		a.Logger.Warn().Msg("notify.enabled is false; messages are logged instead of sent")
		return alerting.LogDispatcher{Logger: a.Logger}
	}
	return alerting.NewMailjet(alerting.MailjetOptions{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		APISecret:      cfg.APISecret,
		RecipientEmail: cfg.RecipientEmail,
		RecipientName:  cfg.RecipientName,
		SenderEmail:    cfg.SenderEmail,
		SenderName:     cfg.SenderName,
		Timeout:        cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newArchiver(ctx context.Context) (service.Archiver, error) {
	cfg := a.Config.Archive
	if !cfg.Enabled {
		return nil, nil
	}
	client, err := archive.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return archive.NewS3Archiver(client, cfg, a.Logger), nil
}

// openStore connects to PostgreSQL. Without a DSN it returns nil so callers
// can decide whether an in-memory store is acceptable.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Config.Database.StatementTimeout)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openRepository(ctx context.Context) (storage.Repository, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store (dry run)")
		return storage.NewMemory(), func() {}, nil
	}
	return store, closeStore, nil
}

func (a *App) newService(ctx context.Context, repo storage.Repository, dispatcher alerting.Dispatcher, m *metrics.Metrics) (*service.Service, error) {
	archiver, err := a.newArchiver(ctx)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		Tickers:    service.FileTickers(a.Config.Tickers.Path),
		Store:      repo,
		Dispatcher: dispatcher,
		Archiver:   archiver,
		Metrics:    m,
	}

	client := a.newClient()
	switch a.Config.Source.Mode {
	case config.ModeSnapshot:
		deps.Snapshots = fetcher.NewPerformance(fetcher.PerformanceOptions{BaseURL: a.Config.Source.PerformanceBaseURL}, client, a.Logger)
	default:
		deps.Series = fetcher.NewChart(fetcher.ChartOptions{BaseURL: a.Config.Source.ChartBaseURL}, client, a.Logger)
	}

	return service.New(a.Config, deps, a.Logger)
}

// Run performs a single invocation and returns once it has finished. Setup
// failures are emailed like run failures; the result is nil once the failure
// notification was delivered.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := tracing.Init(a.Config.Tracing.Enabled, a.Config.App.Name, version.Version, os.Stderr)
	if err != nil {
		return err
	}
	defer a.shutdownTracing(shutdown)

	dispatcher := a.newDispatcher()

	repo, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return service.ReportFailure(ctx, dispatcher, nil, a.Logger, market.AsFault("app.open_store", err))
	}
	defer closeRepo()

	svc, err := a.newService(ctx, repo, dispatcher, nil)
	if err != nil {
		return service.ReportFailure(ctx, dispatcher, nil, a.Logger, market.AsFault("app.new_service", err))
	}

	return svc.Kickoff(ctx, "cli")
}

// Serve runs the scheduled service with the metrics endpoint until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := tracing.Init(a.Config.Tracing.Enabled, a.Config.App.Name, version.Version, os.Stderr)
	if err != nil {
		return err
	}
	defer a.shutdownTracing(shutdown)

	m := metrics.New()
	dispatcher := a.newDispatcher()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		a.reportSetup(ctx, dispatcher, m, market.AsFault("app.open_store", err))
		return err
	}
	var repo storage.Repository = storage.NewMemory()
	var health metrics.HealthFunc
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		defer closeStore()
		repo = store
		health = store.Ping
	}

	svc, err := a.newService(ctx, repo, dispatcher, m)
	if err != nil {
		a.reportSetup(ctx, dispatcher, m, market.AsFault("app.new_service", err))
		return err
	}

	sched, err := scheduler.New(scheduler.Options{
		Cron:         a.Config.Scheduler.Cron,
		Timezone:     a.Config.Scheduler.Timezone,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
	if err != nil {
		return err
	}

	srv := metrics.NewServer(a.Config.Metrics.Listen, m, health, a.Logger)
	srv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn().Err(err).Msg("metrics server shutdown")
		}
	}()

	a.Logger.Info().Str("cron", a.Config.Scheduler.Cron).Str("mode", a.Config.Source.Mode).Msg("starting scheduled service")
	err = svc.Serve(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduled service stopped")
	return nil
}

// reportSetup emails a fault that stopped the scheduled service from starting.
// The caller still returns the fault so the process exits non-zero.
func (a *App) reportSetup(ctx context.Context, d alerting.Dispatcher, m *metrics.Metrics, fault *market.Fault) {
	if err := service.ReportFailure(ctx, d, m, a.Logger, fault); err != nil {
		a.Logger.Warn().Err(err).Msg("setup failure could not be reported")
	}
}

func (a *App) shutdownTracing(shutdown tracing.ShutdownFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("tracing shutdown")
	}
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	From        *time.Time
	To          *time.Time
	PNGPath     string
	CSVPath     string
	ParquetPath string
	MaxPoints   int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// MigrateOptions configure the migrate command.
type MigrateOptions struct {
	SeedDir string
}
