// Package store declares the persistence boundary of the arena engine. The
// gorm implementation lives in internal/db; Memory serves tests and
// single-node development.
package store

import (
	"context"

	"arenaserver/internal/arena"
)

type EventFilter struct {
	ArenaID     int64
	EventTypeID int64
	States      []arena.State
}

func (f EventFilter) Matches(ev *arena.Event) bool {
	if f.ArenaID != 0 && ev.ArenaID != f.ArenaID {
		return false
	}
	if f.EventTypeID != 0 && (ev.EventTypeID == nil || *ev.EventTypeID != f.EventTypeID) {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if ev.State == s {
			return true
		}
	}
	return false
}

// LiveStates are the states the lifecycle controller owns timing for.
var LiveStates = []arena.State{
	arena.StateScheduled, arena.StateRegistrationOpen, arena.StatePreparation,
	arena.StateInProgress, arena.StateResolved,
}

type Store interface {
	SaveArena(ctx context.Context, a *arena.Arena) error
	GetArena(ctx context.Context, id int64) (*arena.Arena, error)
	ListArenas(ctx context.Context) ([]*arena.Arena, error)

	SaveCombatantClass(ctx context.Context, c *arena.CombatantClass) error
	GetCombatantClass(ctx context.Context, id int64) (*arena.CombatantClass, error)

	SaveEventType(ctx context.Context, t *arena.EventType) error
	GetEventType(ctx context.Context, id int64) (*arena.EventType, error)
	ListAutoScheduledEventTypes(ctx context.Context) ([]*arena.EventType, error)

	SaveEvent(ctx context.Context, ev *arena.Event) error
	GetEvent(ctx context.Context, id int64) (*arena.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*arena.Event, error)

	SaveSignup(ctx context.Context, s *arena.Signup) error
	DeleteSignup(ctx context.Context, id int64) error
	ListSignups(ctx context.Context, eventID int64) ([]*arena.Signup, error)

	SaveReservation(ctx context.Context, r *arena.Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	ListReservations(ctx context.Context, eventID int64) ([]*arena.Reservation, error)

	AppendElimination(ctx context.Context, e *arena.Elimination) error
	ListEliminations(ctx context.Context, eventID int64) ([]*arena.Elimination, error)

	// GetRating returns arena.ErrNotFound when the character has never been rated.
	GetRating(ctx context.Context, arenaID, characterID, classID int64) (*arena.Rating, error)
	UpsertRating(ctx context.Context, r *arena.Rating) error
	ListRatings(ctx context.Context, arenaID, classID int64) ([]*arena.Rating, error)

	SaveBet(ctx context.Context, b *arena.Bet) error
	ListBets(ctx context.Context, eventID int64) ([]*arena.Bet, error)
	ReplacePools(ctx context.Context, eventID int64, pools []arena.BetPool) error
	ListPools(ctx context.Context, eventID int64) ([]arena.BetPool, error)

	// ReplacePayouts keys payouts by bet: re-running settlement keeps the
	// same rows and IDs instead of appending duplicates.
	ReplacePayouts(ctx context.Context, eventID int64, payouts []*arena.BetPayout) error
	SavePayout(ctx context.Context, p *arena.BetPayout) error
	ListPayouts(ctx context.Context, eventID int64) ([]*arena.BetPayout, error)

	// ReplaceFinanceSnapshot keys snapshots by (arena, event, period start).
	ReplaceFinanceSnapshot(ctx context.Context, s *arena.FinanceSnapshot) error
	ListFinanceSnapshots(ctx context.Context, arenaID int64) ([]*arena.FinanceSnapshot, error)

	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// LoadAggregate reads every row belonging to one event.
func LoadAggregate(ctx context.Context, s Store, eventID int64) (*arena.Aggregate, error) {
	ev, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	agg := &arena.Aggregate{Event: ev}
	if agg.Signups, err = s.ListSignups(ctx, eventID); err != nil {
		return nil, err
	}
	if agg.Reservations, err = s.ListReservations(ctx, eventID); err != nil {
		return nil, err
	}
	if agg.Eliminations, err = s.ListEliminations(ctx, eventID); err != nil {
		return nil, err
	}
	if agg.Bets, err = s.ListBets(ctx, eventID); err != nil {
		return nil, err
	}
	if agg.Pools, err = s.ListPools(ctx, eventID); err != nil {
		return nil, err
	}
	if agg.Payouts, err = s.ListPayouts(ctx, eventID); err != nil {
		return nil, err
	}
	return agg, nil
}
