// Package jobs registers the periodic housekeeping the arena runs beside
// the lifecycle tick: finance period rollups, the reservation sweep, and
// picking up templates whose cadence has no live instance.
package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"arenaserver/config"
	"arenaserver/internal/finance"
	"arenaserver/internal/store"
)

// Controller is the part of the lifecycle controller the jobs drive.
type Controller interface {
	SweepReservations(ctx context.Context) (int, error)
	AutoScheduleAll(ctx context.Context) (int, error)
}

type Jobs struct {
	store        store.Store
	finance      *finance.Reporter
	ctrl         Controller
	period       time.Duration
	interval     time.Duration
	autoInterval time.Duration
	log          zerolog.Logger
}

func New(cfg config.ArenaConfig, st store.Store, reporter *finance.Reporter, ctrl Controller, log zerolog.Logger) *Jobs {
	j := &Jobs{
		store:        st,
		finance:      reporter,
		ctrl:         ctrl,
		period:       cfg.FinancePeriod,
		interval:     cfg.ReservationSweep,
		autoInterval: cfg.AutoScheduleSweep,
		log:          log.With().Str("component", "jobs").Logger(),
	}
	if j.period <= 0 {
		j.period = 24 * time.Hour
	}
	if j.interval <= 0 {
		j.interval = 30 * time.Second
	}
	if j.autoInterval <= 0 {
		j.autoInterval = time.Minute
	}
	return j
}

// Register adds the jobs to sched. A run that overlaps the previous one
// is skipped rather than queued.
func (j *Jobs) Register(ctx context.Context, sched gocron.Scheduler) error {
	_, err := sched.NewJob(
		gocron.DurationJob(j.period),
		gocron.NewTask(func() {
			if err := j.SnapshotFinance(ctx); err != nil {
				j.log.Error().Err(err).Msg("finance period snapshot failed")
			}
		}),
		gocron.WithName("finance-snapshot"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return eris.Wrap(err, "register finance snapshot job")
	}

	_, err = sched.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() {
			if _, err := j.SweepReservations(ctx); err != nil {
				j.log.Error().Err(err).Msg("reservation sweep failed")
			}
		}),
		gocron.WithName("reservation-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return eris.Wrap(err, "register reservation sweep job")
	}

	_, err = sched.NewJob(
		gocron.DurationJob(j.autoInterval),
		gocron.NewTask(func() {
			if _, err := j.ctrl.AutoScheduleAll(ctx); err != nil {
				j.log.Error().Err(err).Msg("auto-schedule sweep failed")
			}
		}),
		gocron.WithName("auto-schedule"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	return eris.Wrap(err, "register auto-schedule job")
}

// SnapshotFinance closes the last full period for every arena.
func (j *Jobs) SnapshotFinance(ctx context.Context) error {
	return j.store.Transaction(ctx, func(tx store.Store) error {
		return j.finance.SnapshotAllArenas(ctx, tx, j.period)
	})
}

func (j *Jobs) SweepReservations(ctx context.Context) (int, error) {
	n, err := j.ctrl.SweepReservations(ctx)
	if n > 0 {
		j.log.Info().Int("reclaimed", n).Msg("expired reservations reclaimed")
	}
	return n, err
}
