package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"trailing-return-alerts/internal/alerting"
	"trailing-return-alerts/internal/config"
	"trailing-return-alerts/internal/detector"
	"trailing-return-alerts/internal/fetcher"
	"trailing-return-alerts/internal/ingest"
	"trailing-return-alerts/internal/market"
	"trailing-return-alerts/internal/metrics"
	"trailing-return-alerts/internal/returns"
	"trailing-return-alerts/internal/scheduler"
	"trailing-return-alerts/internal/storage"
	"trailing-return-alerts/internal/tickers"
	"trailing-return-alerts/internal/tracing"
)

// Archiver receives every successfully merged batch.
type Archiver interface {
	Archive(ctx context.Context, runID uuid.UUID, batch []market.Series) error
}

// TickerLoader reads the tracked-ticker document. It is called once per run.
type TickerLoader func() (*tickers.Config, error)

// FileTickers loads the ticker document at path on every call.
func FileTickers(path string) TickerLoader {
	return func() (*tickers.Config, error) {
		return tickers.Load(path)
	}
}

// StaticTickers always returns cfg.
func StaticTickers(cfg *tickers.Config) TickerLoader {
	return func() (*tickers.Config, error) {
		return cfg, nil
	}
}

// Deps are the collaborators of a Service. Series is required in series mode,
// Snapshots in snapshot mode. Archiver, Metrics and Now are optional.
type Deps struct {
	Tickers    TickerLoader
	Series     fetcher.SeriesFetcher
	Snapshots  fetcher.SnapshotFetcher
	Store      storage.Repository
	Dispatcher alerting.Dispatcher
	Archiver   Archiver
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Service orchestrates one run: fetch, merge, evaluate, notify.
type Service struct {
	cfg      *config.Config
	deps     Deps
	engine   *ingest.Engine
	calc     *returns.Calculator
	detector detector.Detector
	logger   zerolog.Logger
	now      func() time.Time
}

// New constructs the orchestrator.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service: config is required")
	}
	if deps.Tickers == nil {
		return nil, errors.New("service: ticker loader is required")
	}
	if deps.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if deps.Dispatcher == nil {
		return nil, errors.New("service: dispatcher is required")
	}
	switch cfg.Source.Mode {
	case config.ModeSeries:
		if deps.Series == nil {
			return nil, errors.New("service: series fetcher is required in series mode")
		}
	case config.ModeSnapshot:
		if deps.Snapshots == nil {
			return nil, errors.New("service: snapshot fetcher is required in snapshot mode")
		}
	default:
		return nil, fmt.Errorf("service: unknown source mode %q", cfg.Source.Mode)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		cfg:      cfg,
		deps:     deps,
		engine:   ingest.NewEngine(deps.Store, logger),
		calc:     returns.NewCalculator(deps.Store, returns.Period{Years: cfg.Evaluate.LookbackYears}),
		detector: detector.New(cfg.Detector.TolerancePct),
		logger:   logger.With().Str("component", "service").Logger(),
		now:      now,
	}, nil
}

// Serve runs Kickoff on every scheduler tick until ctx is cancelled.
func (s *Service) Serve(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, func(ctx context.Context, at time.Time) error {
		return s.Kickoff(ctx, at)
	})
}

// Kickoff performs one run behind a single failure boundary. Any fault, panics
// included, produces exactly one failure notification. The returned error is
// non-nil only when a notification could not be delivered.
func (s *Service) Kickoff(ctx context.Context, trigger any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fault := market.Faultf(market.ErrUnclassified, "service.kickoff", "", "panic: %v", r)
			s.logger.Error().Interface("panic", r).Msg("run panicked")
			err = s.reportFailure(ctx, fault)
		}
	}()

	if s.cfg.Scheduler.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Scheduler.RunTimeout)
		defer cancel()
	}

	s.logger.Info().Interface("trigger", trigger).Msg("run triggered")
	out := s.Run(ctx)

	if out.State != Failed {
		return nil
	}
	if errors.Is(out.Fault, market.ErrDeliveryFailed) {
		s.logger.Error().Err(out.Fault).Str("run_id", out.RunID.String()).Msg("summary delivery failed; not re-reporting by email")
		return out.Fault
	}
	return s.reportFailure(ctx, out.Fault)
}

func (s *Service) reportFailure(ctx context.Context, fault *market.Fault) error {
	return ReportFailure(ctx, s.deps.Dispatcher, s.deps.Metrics, s.logger, fault)
}

// ReportFailure sends the failure notification for err. It is also the path for
// faults raised while wiring a run, before a Service exists. The returned error
// is non-nil only when the notification could not be delivered.
func ReportFailure(ctx context.Context, d alerting.Dispatcher, m *metrics.Metrics, logger zerolog.Logger, err error) error {
	fault := market.AsFault("service.setup", err)

	// The run context may already be expired; the dispatcher bounds its own call.
	ctx = context.WithoutCancel(ctx)

	derr := d.Dispatch(ctx, alerting.ComposeFailure(fault))
	m.Notification("failure", derr)
	if derr != nil {
		logger.Error().Err(derr).Str("fault", fault.Error()).Msg("failure notification not delivered")
		return market.AsFault("service.report_failure", derr)
	}
	logger.Info().Str("kind", fault.KindName()).Msg("failure notification sent")
	return nil
}

// run carries the mutable state of one invocation.
type run struct {
	out     Outcome
	tickers *tickers.Config
	span   trace.Span
	logger zerolog.Logger
}

func (r *run) enter(state State) {
	r.logger.Debug().Str("from", r.out.State.String()).Str("to", state.String()).Msg("state transition")
	r.out.State = state
	r.span.AddEvent(state.String())
}

func (r *run) fail(op string, err error) Outcome {
	r.out.FailedIn = r.out.State
	r.out.State = Failed
	r.out.Fault = market.AsFault(op, err)
	r.span.RecordError(r.out.Fault)
	r.span.SetStatus(codes.Error, r.out.Fault.KindName())
	r.logger.Error().
		Err(r.out.Fault).
		Str("kind", r.out.Fault.KindName()).
		Str("failed_in", r.out.FailedIn.String()).
		Int64("rows_written", r.out.Merge.RowsWritten).
		Msg("run failed")
	return r.out
}

// Run executes one pass through the pipeline and reports where it ended.
func (s *Service) Run(ctx context.Context) (out Outcome) {
	runID := uuid.New()
	ctx, span := tracing.Start(ctx, "hotpotato.run", trace.WithAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("run.mode", s.cfg.Source.Mode),
	))
	defer span.End()

	r := &run{
		out:    Outcome{RunID: runID, State: Idle},
		span:   span,
		logger: s.logger.With().Str("run_id", runID.String()).Logger(),
	}
	defer func() {
		s.deps.Metrics.RunFinished(out.label(), s.now())
		if out.Fault != nil {
			s.deps.Metrics.Fault(out.Fault.KindName())
		}
	}()

	r.enter(Fetching)
	list, err := s.deps.Tickers()
	if err != nil {
		return r.fail("service.load_tickers", err)
	}
	if list == nil || len(list.Tickers) == 0 {
		return r.fail("service.load_tickers", errors.New("no tickers configured"))
	}
	r.tickers = list

	var current market.SnapshotSet
	switch s.cfg.Source.Mode {
	case config.ModeSnapshot:
		set, err := s.snapshotStages(ctx, r)
		if err != nil {
			return r.fail("service.snapshot", err)
		}
		current = set
	default:
		set, err := s.seriesStages(ctx, r)
		if err != nil {
			return r.fail("service.series", err)
		}
		current = set
	}
	r.out.Snapshots = current

	previous, err := s.deps.Store.LatestSnapshotSet(ctx)
	if err != nil {
		return r.fail("service.evaluate", err)
	}
	r.out.Changed = s.detector.HasChanged(current, previous)
	if !r.out.Changed {
		r.enter(Done)
		r.logger.Info().Int("tickers", len(current)).Msg("returns unchanged; nothing to report")
		return r.out
	}

	if err := s.deps.Store.InsertSnapshotSet(ctx, runID, current); err != nil {
		return r.fail("service.evaluate", err)
	}

	r.enter(Notifying)
	msg, err := alerting.ComposeSummary(current.Returns(), r.tickers)
	if err != nil {
		return r.fail("service.notify", err)
	}
	if s.cfg.Notify.AttachChart {
		if err := alerting.AttachReturnsChart(&msg, alerting.Rank(current.Returns(), r.tickers)); err != nil {
			r.logger.Warn().Err(err).Msg("chart attachment skipped")
		}
	}
	err = s.deps.Dispatcher.Dispatch(ctx, msg)
	s.deps.Metrics.Notification("summary", err)
	if err != nil {
		return r.fail("service.notify", err)
	}
	r.out.Notified = true

	r.enter(Done)
	r.logger.Info().
		Str("subject", msg.Subject).
		Int("tickers", len(current)).
		Int64("rows_written", r.out.Merge.RowsWritten).
		Msg("run complete")
	return r.out
}

// seriesStages ingests price history and recomputes trailing returns from the store.
func (s *Service) seriesStages(ctx context.Context, r *run) (market.SnapshotSet, error) {
	list := r.tickers.Tickers

	latest, err := s.deps.Store.LatestDates(ctx, list)
	if err != nil {
		return nil, err
	}
	window := PullWindow(latest, list, s.now(), s.cfg.Source.OverlapDays, s.cfg.Source.BootstrapDays)
	r.logger.Info().Time("from", window.From).Time("to", window.To).Int("tickers", len(list)).Msg("fetching series")

	started := time.Now()
	batch, err := fetchAll(ctx, list, s.cfg.Source.Concurrency, func(ctx context.Context, ticker string) (market.Series, error) {
		return s.deps.Series.FetchSeries(ctx, ticker, window)
	})
	s.deps.Metrics.ObserveFetch(config.ModeSeries, time.Since(started))
	if err != nil {
		return nil, err
	}

	r.enter(Merging)
	if err := s.engine.Begin(ctx, r.out.RunID); err != nil {
		return nil, err
	}
	for i := range batch {
		batch[i] = ingest.Normalize(batch[i])
	}
	r.out.Merge, err = s.engine.MergeAll(ctx, batch)
	s.deps.Metrics.RowsMerged(r.out.Merge.Prices, r.out.Merge.Dividends)
	if err != nil {
		return nil, err
	}
	r.logger.Info().
		Int64("prices", r.out.Merge.Prices).
		Int64("dividends", r.out.Merge.Dividends).
		Msg("merge complete")

	// The archive receives the batch exactly as it was merged.
	if s.deps.Archiver != nil {
		if err := s.deps.Archiver.Archive(ctx, r.out.RunID, batch); err != nil {
			r.logger.Warn().Err(err).Msg("raw batch archive failed")
		}
	}

	r.enter(Evaluating)
	latest, err = s.deps.Store.LatestDates(ctx, list)
	if err != nil {
		return nil, err
	}
	common, missing := CommonLatest(latest, list)
	if missing != "" {
		return nil, market.Faultf(market.ErrInsufficientHistory, "service.evaluate", missing, "no stored prices")
	}
	asOf := EvaluationDate(common, s.cfg.Evaluate.Period)
	r.out.AsOf = asOf
	r.span.SetAttributes(attribute.String("run.as_of", asOf.Format(time.DateOnly)))

	set := make(market.SnapshotSet, len(list))
	for _, ticker := range list {
		snap, err := s.calc.Compute(ctx, ticker, asOf)
		if err != nil {
			return nil, err
		}
		set[ticker] = snap
	}
	return set, nil
}

// snapshotStages scrapes precomputed trailing returns.
func (s *Service) snapshotStages(ctx context.Context, r *run) (market.SnapshotSet, error) {
	list := r.tickers.Tickers

	started := time.Now()
	snaps, err := fetchAll(ctx, list, s.cfg.Source.Concurrency, s.deps.Snapshots.FetchSnapshot)
	s.deps.Metrics.ObserveFetch(config.ModeSnapshot, time.Since(started))
	if err != nil {
		return nil, err
	}

	// Snapshots are persisted as a set once evaluated; nothing is staged.
	r.enter(Merging)

	r.enter(Evaluating)
	set := make(market.SnapshotSet, len(snaps))
	for _, snap := range snaps {
		snap.AsOf = market.Day(snap.AsOf)
		set[snap.Ticker] = snap
		if snap.AsOf.After(r.out.AsOf) {
			r.out.AsOf = snap.AsOf
		}
	}
	return set, nil
}

// fetchAll runs fetch for every ticker with at most limit in flight. The first
// failure cancels the rest; all goroutines have returned when it does.
func fetchAll[T any](ctx context.Context, list []string, limit int, fetch func(context.Context, string) (T, error)) ([]T, error) {
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	results := make([]T, len(list))
	for i, ticker := range list {
		i, ticker := i, ticker
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = market.Faultf(market.ErrUnclassified, "service.fetch", ticker, "panic: %v", r)
				}
			}()
			v, err := fetch(gctx, ticker)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
