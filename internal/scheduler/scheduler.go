package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked at every scheduled time.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Cron is a standard five-field expression, e.g. "30 6 * * *".
	Cron         string
	Timezone     string
	StartupDelay time.Duration
	// RunOnStart triggers one tick immediately after the startup delay.
	RunOnStart bool
}

// Scheduler drives cron-timed execution of runs.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	loc      *time.Location
	logger   zerolog.Logger
}

// New parses the cron expression and time zone.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse scheduler.cron %q: %w", opts.Cron, err)
	}

	loc := time.UTC
	if opts.Timezone != "" {
		loc, err = time.LoadLocation(opts.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load scheduler.timezone %q: %w", opts.Timezone, err)
		}
	}

	return &Scheduler{
		opts:     opts,
		schedule: schedule,
		loc:      loc,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Next returns the first scheduled time strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.loc))
}

// Run blocks, invoking tick at each scheduled time until ctx is cancelled. Ticks
// never overlap; a tick that overruns the next slot skips it.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.RunOnStart {
		s.fire(ctx, tick, time.Now().In(s.loc))
	}

	for {
		next := s.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_run", next).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.fire(ctx, tick, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, tick TickFunc, at time.Time) {
	s.logger.Info().Time("scheduled_for", at).Msg("executing scheduled run")
	if err := tick(ctx, at); err != nil {
		s.logger.Error().Err(err).Time("scheduled_for", at).Msg("scheduled run failed")
	}
}
