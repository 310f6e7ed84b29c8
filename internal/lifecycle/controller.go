// Package lifecycle drives every event through its state machine. It is the
// only scheduling authority: a min-heap of wake times decides when each live
// event is looked at next, and every mutation of an event, whether from the
// tick or from outside, runs under that event's lock inside one store
// transaction.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arenaserver/config"
	"arenaserver/internal/arena"
	"arenaserver/internal/betting"
	"arenaserver/internal/elimination"
	"arenaserver/internal/finance"
	"arenaserver/internal/metrics"
	"arenaserver/internal/notify"
	"arenaserver/internal/progs"
	"arenaserver/internal/rating"
	"arenaserver/internal/signup"
	"arenaserver/internal/store"
)

// Settler runs the resolution pipeline of a resolved event, either in
// process or on a workflow engine.
type Settler interface {
	Settle(ctx context.Context, eventID int64) error
}

// StepRunner applies a single resolution step.
type StepRunner interface {
	RunStep(ctx context.Context, eventID int64, step arena.ResolutionStep) error
}

type Deps struct {
	Store    store.Store
	Clock    clockwork.Clock
	Signups  *signup.Matchmaker
	Tracker  *elimination.Tracker
	Ratings  *rating.Service
	Market   *betting.Market
	Finance  *finance.Reporter
	Resolver progs.Resolver
	Override progs.ResolutionOverride
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
}

type Controller struct {
	cfg      config.ArenaConfig
	store    store.Store
	clock    clockwork.Clock
	signups  *signup.Matchmaker
	tracker  *elimination.Tracker
	ratings  *rating.Service
	market   *betting.Market
	finance  *finance.Reporter
	resolver progs.Resolver
	override progs.ResolutionOverride
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	settler  Settler
	takeRate decimal.Decimal

	mu     sync.Mutex
	wakes  *wakeHeap
	locks  map[int64]*eventLock
	typeMu sync.Mutex
}

func New(cfg config.ArenaConfig, d Deps) *Controller {
	c := &Controller{
		cfg:      cfg,
		store:    d.Store,
		clock:    d.Clock,
		signups:  d.Signups,
		tracker:  d.Tracker,
		ratings:  d.Ratings,
		market:   d.Market,
		finance:  d.Finance,
		resolver: d.Resolver,
		override: d.Override,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      d.Log.With().Str("component", "lifecycle").Logger(),
		wakes:    newWakeHeap(),
		locks:    map[int64]*eventLock{},
	}
	if c.resolver == nil {
		c.resolver = progs.ManualResolver{}
	}
	if c.override == nil {
		c.override = progs.SurvivorsOverride{}
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.cfg.SettlementRetryInterval <= 0 {
		c.cfg.SettlementRetryInterval = 30 * time.Second
	}
	rate, err := cfg.TakeRate()
	if err != nil {
		c.log.Error().Err(err).Msg("default take rate ignored")
		rate = decimal.Zero
	}
	c.takeRate = rate
	c.settler = c
	return c
}

// DefaultTakeRate is applied to events and templates that do not name one.
func (c *Controller) DefaultTakeRate() decimal.Decimal { return c.takeRate }

// SetSettler hands the resolution pipeline to another runner, typically the
// workflow engine. The runner calls back into RunStep.
func (c *Controller) SetSettler(s Settler) { c.settler = s }

// txn is the unit of work on one event: the transaction, the loaded
// aggregate, and what to do once it has committed and the lock is released.
type txn struct {
	tx    store.Store
	agg   *arena.Aggregate
	notes []notify.Notification
	after []func(ctx context.Context)
}

func (t *txn) afterCommit(fn func(ctx context.Context)) { t.after = append(t.after, fn) }

// eventLock serializes work on one event. refs counts holders and waiters;
// the entry leaves the map when the last of them lets go.
type eventLock struct {
	sync.Mutex
	refs int
}

// lockEvent takes the event's lock and returns the function releasing it.
func (c *Controller) lockEvent(eventID int64) func() {
	c.mu.Lock()
	l, ok := c.locks[eventID]
	if !ok {
		l = &eventLock{}
		c.locks[eventID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		defer c.mu.Unlock()
		if l.refs--; l.refs == 0 {
			delete(c.locks, eventID)
		}
	}
}

// withEvent runs fn against a freshly loaded aggregate under the event's
// lock. The event row is saved with the rest of the transaction. Once the
// lock is released, notifications go out and deferred work runs.
func (c *Controller) withEvent(ctx context.Context, eventID int64, fn func(t *txn) error) (*arena.Aggregate, error) {
	t, err := c.locked(ctx, eventID, fn)
	if err != nil {
		return nil, err
	}
	for _, n := range t.notes {
		if err := c.notifier.Notify(ctx, n); err != nil {
			c.log.Warn().Err(err).Int64("event_id", n.EventID).Str("state", string(n.To)).Msg("notification not delivered")
		}
	}
	for _, fn := range t.after {
		fn(ctx)
	}
	return t.agg, nil
}

func (c *Controller) locked(ctx context.Context, eventID int64, fn func(t *txn) error) (*txn, error) {
	unlock := c.lockEvent(eventID)
	defer unlock()

	t := &txn{}
	err := c.store.Transaction(ctx, func(tx store.Store) error {
		agg, err := store.LoadAggregate(ctx, tx, eventID)
		if err != nil {
			return err
		}
		t.tx, t.agg = tx, agg
		if err := fn(t); err != nil {
			return err
		}
		return tx.SaveEvent(ctx, agg.Event)
	})
	if err != nil {
		return nil, err
	}
	c.reschedule(t.agg.Event)
	return t, nil
}

// read loads an aggregate under the event's lock without writing.
func (c *Controller) read(ctx context.Context, eventID int64) (*arena.Aggregate, error) {
	unlock := c.lockEvent(eventID)
	defer unlock()
	return store.LoadAggregate(ctx, c.store, eventID)
}

func (c *Controller) transition(t *txn, to arena.State, reason string) error {
	ev := t.agg.Event
	from := ev.State
	if !from.CanTransition(to) {
		return eris.Wrapf(arena.ErrIllegalTransition, "event %d: %s to %s", ev.ID, from, to)
	}
	now := c.clock.Now()
	ev.State = to
	switch to {
	case arena.StateRegistrationOpen:
		ev.RegistrationOpenedAt = &now
	case arena.StatePreparation:
		ev.PreparationStartedAt = &now
	case arena.StateInProgress:
		ev.StartedAt = &now
	case arena.StateResolved:
		ev.ResolvedAt = &now
	case arena.StateCompleted:
		ev.CompletedAt = &now
	case arena.StateAborted:
		ev.AbortedAt = &now
		ev.CancellationReason = reason
	}

	t.notes = append(t.notes, notify.Notification{
		ArenaID: ev.ArenaID,
		EventID: ev.ID,
		Name:    ev.Name,
		From:    from,
		To:      to,
		Reason:  reason,
		Outcome: ev.Outcome,
		At:      now,
	})
	if to.IsTerminal() && ev.EventTypeID != nil {
		typeID := *ev.EventTypeID
		t.afterCommit(func(ctx context.Context) { c.autoSchedule(ctx, typeID) })
	}

	c.metrics.Transitions.WithLabelValues(string(to)).Inc()
	c.log.Info().Int64("arena_id", ev.ArenaID).Int64("event_id", ev.ID).
		Str("from", string(from)).Str("state", string(to)).Str("reason", reason).Msg("event transition")
	return nil
}

// reschedule puts the event's next clock-driven wake on the heap, or takes
// it off when the event no longer waits on the clock.
func (c *Controller) reschedule(ev *arena.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if due, ok := ev.NextDue(); ok {
		c.wakes.set(ev.ID, due)
	} else {
		c.wakes.remove(ev.ID)
	}
	c.metrics.LiveEvents.Set(float64(c.wakes.Len()))
}

func (c *Controller) wakeAt(eventID int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wakes.set(eventID, at)
	c.metrics.LiveEvents.Set(float64(c.wakes.Len()))
}

// NextWake reports when the controller next has work, for tests and status.
func (c *Controller) NextWake() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wakes.next()
}

// Run ticks until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	interval := c.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info().Dur("interval", interval).Msg("lifecycle controller started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			c.Tick(ctx)
		}
	}
}

// Tick advances every event whose wake time has passed. An event that lands
// in a state that is already due is picked up again in the same tick.
func (c *Controller) Tick(ctx context.Context) {
	for {
		c.mu.Lock()
		due := c.wakes.popDue(c.clock.Now())
		c.mu.Unlock()
		if len(due) == 0 {
			return
		}
		for _, id := range due {
			if err := c.advance(ctx, id); err != nil {
				c.log.Error().Err(err).Int64("event_id", id).Msg("advance failed, retrying later")
				c.wakeAt(id, c.clock.Now().Add(c.cfg.SettlementRetryInterval))
			}
		}
	}
}

func (c *Controller) advance(ctx context.Context, eventID int64) error {
	ev, err := c.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.State == arena.StateResolved {
		if ev.Resolution.SettlementHalted {
			return nil
		}
		return c.settle(ctx, eventID)
	}
	if ev.State.IsTerminal() {
		return nil
	}

	_, err = c.withEvent(ctx, eventID, func(t *txn) error {
		ev := t.agg.Event
		due, ok := ev.NextDue()
		if !ok || c.clock.Now().Before(due) {
			return nil
		}
		switch ev.State {
		case arena.StateScheduled:
			return c.openRegistration(ctx, t)
		case arena.StateRegistrationOpen:
			return c.startPreparation(ctx, t)
		case arena.StatePreparation:
			return c.startCombat(t)
		case arena.StateInProgress:
			return c.expire(ctx, t)
		}
		return nil
	})
	return err
}

func (c *Controller) openRegistration(ctx context.Context, t *txn) error {
	a, err := t.tx.GetArena(ctx, t.agg.Event.ArenaID)
	if err != nil {
		return err
	}
	if a.IsDeleted {
		return c.abort(ctx, t, "arena deleted")
	}
	return c.transition(t, arena.StateRegistrationOpen, "")
}

// startPreparation closes signups: pending reservations are dropped, NPCs
// fill the sides that allow it, and an event left with fewer than two
// populated sides is called off.
func (c *Controller) startPreparation(ctx context.Context, t *txn) error {
	if err := c.signups.ClearReservations(ctx, t.tx, t.agg); err != nil {
		return err
	}
	if _, err := c.signups.Backfill(ctx, t.tx, t.agg); err != nil {
		return err
	}
	if t.agg.PopulatedSides() < 2 {
		return c.abort(ctx, t, "insufficient combatants")
	}
	return c.transition(t, arena.StatePreparation, "")
}

// startCombat hands the event to the resolver once the lock is released, so
// a resolver that reports straight back does not wait on it.
func (c *Controller) startCombat(t *txn) error {
	if err := c.transition(t, arena.StateInProgress, ""); err != nil {
		return err
	}
	ev := t.agg.Event
	signups := t.agg.Signups
	t.afterCommit(func(ctx context.Context) {
		_, err := progs.Call(ctx, c.cfg.ProgTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.resolver.Begin(ctx, ev, signups)
		})
		if err == nil {
			return
		}
		c.metrics.ProgFailures.WithLabelValues("resolver").Inc()
		c.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("resolver did not start, forcing resolution")
		if _, err := c.withEvent(ctx, ev.ID, func(t *txn) error {
			if t.agg.Event.State != arena.StateInProgress {
				return nil
			}
			return c.expire(ctx, t)
		}); err != nil {
			c.log.Error().Err(err).Int64("event_id", ev.ID).Msg("forced resolution failed")
		}
	})
	return nil
}

// expire forces an outcome once the time limit has passed without one. A
// failing override falls back to awarding the side with most survivors.
func (c *Controller) expire(ctx context.Context, t *txn) error {
	ev := t.agg.Event
	outcome, err := progs.Call(ctx, c.cfg.ProgTimeout, func(ctx context.Context) (arena.Outcome, error) {
		return c.override.ForceOutcome(ctx, ev, t.agg.Signups, t.agg.Eliminations)
	})
	if err == nil {
		err = elimination.ValidateOutcome(ev, outcome)
	}
	if err != nil {
		c.metrics.ProgFailures.WithLabelValues("resolution_override").Inc()
		c.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("resolution override failed, using survivors")
		outcome = progs.SurvivorOutcome(ev, t.agg.Signups, t.agg.Eliminations)
	}
	outcome.Forced = true
	if outcome.Reason == "" {
		outcome.Reason = "time limit elapsed"
	}
	return c.resolve(t, outcome)
}

func (c *Controller) resolve(t *txn, outcome arena.Outcome) error {
	t.agg.Event.Outcome = &outcome
	if err := c.transition(t, arena.StateResolved, outcome.Reason); err != nil {
		return err
	}
	id := t.agg.Event.ID
	t.afterCommit(func(ctx context.Context) {
		if err := c.settle(ctx, id); err != nil {
			c.log.Warn().Err(err).Int64("event_id", id).Msg("settlement incomplete")
		}
	})
	return nil
}

// abort refunds every stake and drops pending reservations in the same
// transaction as the state change.
func (c *Controller) abort(ctx context.Context, t *txn, reason string) error {
	ev := t.agg.Event
	if !ev.State.Abortable() {
		return eris.Wrapf(arena.ErrIllegalTransition, "event %d cannot be aborted from %s", ev.ID, ev.State)
	}
	if err := c.market.ReleaseAll(ctx, t.tx, t.agg); err != nil {
		return err
	}
	if err := c.signups.ClearReservations(ctx, t.tx, t.agg); err != nil {
		return err
	}
	return c.transition(t, arena.StateAborted, reason)
}

// Load rebuilds the wake heap from the store after a restart and resumes
// any settlement that was interrupted.
func (c *Controller) Load(ctx context.Context) error {
	events, err := c.store.ListEvents(ctx, store.EventFilter{States: store.LiveStates})
	if err != nil {
		return err
	}
	for _, ev := range events {
		if ev.State == arena.StateResolved {
			if !ev.Resolution.SettlementHalted {
				c.wakeAt(ev.ID, c.clock.Now())
			}
			continue
		}
		c.reschedule(ev)
	}

	types, err := c.AutoScheduleAll(ctx)
	if err != nil {
		return err
	}
	c.log.Info().Int("events", len(events)).Int("auto_types", types).Msg("lifecycle state loaded")
	return nil
}
