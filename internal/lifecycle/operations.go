package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"arenaserver/internal/arena"
	"arenaserver/internal/betting"
	"arenaserver/internal/elimination"
	"arenaserver/internal/signup"
	"arenaserver/internal/store"
)

// Schedule stores a new event and puts it on the heap. Events of deleted
// arenas are refused.
func (c *Controller) Schedule(ctx context.Context, ev *arena.Event) (*arena.Event, error) {
	if ev.State == "" {
		ev.State = arena.StateScheduled
	}
	if ev.State != arena.StateScheduled {
		return nil, eris.Wrapf(arena.ErrWrongState, "new event must be scheduled, not %s", ev.State)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	a, err := c.store.GetArena(ctx, ev.ArenaID)
	if err != nil {
		return nil, err
	}
	if a.IsDeleted {
		return nil, eris.Wrapf(arena.ErrArenaDeleted, "arena %d", a.ID)
	}
	if err := c.store.SaveEvent(ctx, ev); err != nil {
		return nil, err
	}
	c.reschedule(ev)
	c.log.Info().Int64("arena_id", ev.ArenaID).Int64("event_id", ev.ID).Time("at", ev.ScheduledAt).Msg("event scheduled")
	return ev, nil
}

// CreateEvent materializes an event from a template.
func (c *Controller) CreateEvent(ctx context.Context, typeID int64, name string, at time.Time) (*arena.Event, error) {
	et, err := c.store.GetEventType(ctx, typeID)
	if err != nil {
		return nil, err
	}
	if err := et.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = et.Name
	}
	return c.Schedule(ctx, et.Materialize(name, at))
}

// SaveEventType creates or updates a template. A template with a cadence but
// no reference time is anchored at now, and its next instance is
// materialized straight away when none is live.
func (c *Controller) SaveEventType(ctx context.Context, et *arena.EventType) (*arena.EventType, error) {
	if err := et.Validate(); err != nil {
		return nil, err
	}
	a, err := c.store.GetArena(ctx, et.ArenaID)
	if err != nil {
		return nil, err
	}
	if a.IsDeleted {
		return nil, eris.Wrapf(arena.ErrArenaDeleted, "arena %d", a.ID)
	}
	if et.ID != 0 {
		prev, err := c.store.GetEventType(ctx, et.ID)
		if err != nil {
			return nil, err
		}
		if prev.ArenaID != et.ArenaID {
			return nil, eris.Wrapf(arena.ErrNotFound, "event type %d in arena %d", et.ID, et.ArenaID)
		}
	}
	if et.AutoScheduleInterval > 0 && et.AutoScheduleReference == nil {
		now := c.clock.Now()
		et.AutoScheduleReference = &now
	}

	c.typeMu.Lock()
	err = c.store.SaveEventType(ctx, et)
	c.typeMu.Unlock()
	if err != nil {
		return nil, err
	}
	c.log.Info().Int64("arena_id", et.ArenaID).Int64("event_type_id", et.ID).Dur("interval", et.AutoScheduleInterval).Msg("event type saved")

	if et.AutoSchedules() {
		c.autoSchedule(ctx, et.ID)
	}
	return et, nil
}

// AutoScheduleAll gives every template with a cadence its next instance.
// It returns how many templates were looked at.
func (c *Controller) AutoScheduleAll(ctx context.Context) (int, error) {
	types, err := c.store.ListAutoScheduledEventTypes(ctx)
	if err != nil {
		return 0, err
	}
	for _, et := range types {
		c.autoSchedule(ctx, et.ID)
	}
	return len(types), nil
}

// autoSchedule materializes the next instance of a template once no live
// instance is left, at the first unused cadence slot not in the past.
func (c *Controller) autoSchedule(ctx context.Context, typeID int64) {
	c.typeMu.Lock()
	defer c.typeMu.Unlock()

	log := c.log.With().Int64("event_type_id", typeID).Logger()
	et, err := c.store.GetEventType(ctx, typeID)
	if err != nil {
		log.Error().Err(err).Msg("auto-schedule: load event type")
		return
	}
	if !et.AutoSchedules() {
		return
	}
	a, err := c.store.GetArena(ctx, et.ArenaID)
	if err != nil {
		log.Error().Err(err).Msg("auto-schedule: load arena")
		return
	}
	if a.IsDeleted {
		return
	}
	instances, err := c.store.ListEvents(ctx, store.EventFilter{EventTypeID: typeID})
	if err != nil {
		log.Error().Err(err).Msg("auto-schedule: list events")
		return
	}
	for _, ev := range instances {
		if !ev.State.IsTerminal() {
			return
		}
	}

	after := c.clock.Now()
	if et.AutoScheduleReference == nil {
		et.AutoScheduleReference = &after
	} else if len(instances) > 0 {
		// The reference is the last slot used once an instance exists.
		if used := et.AutoScheduleReference.Add(et.AutoScheduleInterval); used.After(after) {
			after = used
		}
	}
	at := et.NextAutoSchedule(after)
	ev, err := c.Schedule(ctx, et.Materialize(fmt.Sprintf("%s %s", et.Name, at.Format("2006-01-02 15:04")), at))
	if err != nil {
		log.Error().Err(err).Msg("auto-schedule: schedule event")
		return
	}
	et.AutoScheduleReference = &at
	if err := c.store.SaveEventType(ctx, et); err != nil {
		log.Error().Err(err).Msg("auto-schedule: advance reference time")
		return
	}
	log.Info().Int64("event_id", ev.ID).Time("at", at).Msg("event auto-scheduled")
}

func (c *Controller) Reserve(ctx context.Context, eventID int64, req signup.Request) (*arena.Reservation, error) {
	var r *arena.Reservation
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		var err error
		r, err = c.signups.Reserve(ctx, t.tx, t.agg, req)
		return err
	})
	return r, err
}

func (c *Controller) Claim(ctx context.Context, eventID int64, reservationID string, characterID int64, name string) (*arena.Signup, error) {
	var su *arena.Signup
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		var err error
		su, err = c.signups.Claim(ctx, t.tx, t.agg, reservationID, characterID, name)
		return err
	})
	return su, err
}

func (c *Controller) Signup(ctx context.Context, eventID int64, req signup.Request) (*arena.Signup, error) {
	var su *arena.Signup
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		var err error
		su, err = c.signups.Signup(ctx, t.tx, t.agg, req)
		return err
	})
	return su, err
}

func (c *Controller) Withdraw(ctx context.Context, eventID, signupID, characterID int64) error {
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		return c.signups.Withdraw(ctx, t.tx, t.agg, signupID, characterID)
	})
	return err
}

func (c *Controller) ReleaseReservation(ctx context.Context, eventID int64, reservationID string, characterID int64) error {
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		return c.signups.Release(ctx, t.tx, t.agg, reservationID, characterID)
	})
	return err
}

// SweepReservations reclaims expired reservations of every event that is
// taking signups. It takes each event's lock, so it never races a claim.
func (c *Controller) SweepReservations(ctx context.Context) (int, error) {
	events, err := c.store.ListEvents(ctx, store.EventFilter{States: []arena.State{arena.StateRegistrationOpen}})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, ev := range events {
		_, err := c.withEvent(ctx, ev.ID, func(t *txn) error {
			n, err := c.signups.Reclaim(ctx, t.tx, t.agg)
			total += n
			return err
		})
		if err != nil {
			c.log.Warn().Err(err).Int64("event_id", ev.ID).Msg("reservation sweep failed")
		}
	}
	return total, nil
}

func (c *Controller) PlaceBet(ctx context.Context, eventID int64, req betting.BetRequest) (*arena.Bet, error) {
	var bet *arena.Bet
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		var err error
		bet, err = c.market.PlaceBet(ctx, t.tx, t.agg, req)
		return err
	})
	return bet, err
}

func (c *Controller) CancelBet(ctx context.Context, eventID, betID, characterID int64) (*arena.Bet, error) {
	var bet *arena.Bet
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		var err error
		bet, err = c.market.CancelBet(ctx, t.tx, t.agg, betID, characterID)
		return err
	})
	return bet, err
}

func (c *Controller) CollectPayout(ctx context.Context, eventID, payoutID int64) (*arena.BetPayout, error) {
	var p *arena.BetPayout
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		var err error
		p, err = c.market.CollectPayout(ctx, t.tx, t.agg, payoutID)
		return err
	})
	return p, err
}

func (c *Controller) Quote(ctx context.Context, eventID int64) ([]betting.Quote, error) {
	agg, err := c.read(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return c.market.QuoteAll(agg)
}

// Event returns a consistent view of one event and everything it owns.
func (c *Controller) Event(ctx context.Context, eventID int64) (*arena.Aggregate, error) {
	return c.read(ctx, eventID)
}

// RecordElimination appends an exit reported by the combat resolver. The
// exit that leaves a single side standing resolves the event.
func (c *Controller) RecordElimination(ctx context.Context, eventID, signupID int64, reason arena.EliminationReason) (*arena.Elimination, error) {
	var e *arena.Elimination
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		var err error
		if e, err = c.tracker.Record(ctx, t.tx, t.agg, signupID, reason); err != nil {
			return err
		}
		if outcome, decided := elimination.Decide(t.agg); decided {
			return c.resolve(t, outcome)
		}
		return nil
	})
	return e, err
}

// Resolve is the resolver's callback. Resolving an event that is already
// resolved or completed is a no-op.
func (c *Controller) Resolve(ctx context.Context, eventID int64, outcome arena.Outcome) (*arena.Event, error) {
	agg, err := c.withEvent(ctx, eventID, func(t *txn) error {
		ev := t.agg.Event
		switch ev.State {
		case arena.StateResolved, arena.StateCompleted:
			return nil
		case arena.StateInProgress:
		default:
			return eris.Wrapf(arena.ErrWrongState, "event %d is %s", ev.ID, ev.State)
		}
		if err := elimination.ValidateOutcome(ev, outcome); err != nil {
			return err
		}
		if outcome.Reason == "" {
			outcome.Reason = "resolver reported"
		}
		return c.resolve(t, outcome)
	})
	if err != nil {
		return nil, err
	}
	return agg.Event, nil
}

// Abort calls an event off, refunding every stake.
func (c *Controller) Abort(ctx context.Context, eventID int64, reason string) (*arena.Event, error) {
	if reason == "" {
		reason = "cancelled"
	}
	agg, err := c.withEvent(ctx, eventID, func(t *txn) error {
		return c.abort(ctx, t, reason)
	})
	if err != nil {
		return nil, err
	}
	return agg.Event, nil
}
