// Package elimination records combatant exits and decides when an event is
// over and how its sides placed.
package elimination

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"arenaserver/internal/arena"
	"arenaserver/internal/store"
)

type Tracker struct {
	clock clockwork.Clock
	log   zerolog.Logger
}

func NewTracker(clock clockwork.Clock, log zerolog.Logger) *Tracker {
	return &Tracker{clock: clock, log: log.With().Str("component", "elimination").Logger()}
}

// Record appends one exit. Eliminations are append-only: a signup exits at
// most once and only while combat is running.
func (t *Tracker) Record(ctx context.Context, tx store.Store, agg *arena.Aggregate, signupID int64, reason arena.EliminationReason) (*arena.Elimination, error) {
	if agg.Event.State != arena.StateInProgress {
		return nil, eris.Wrapf(arena.ErrWrongState, "event %d is %s", agg.Event.ID, agg.Event.State)
	}
	if !reason.Valid() {
		return nil, eris.Wrapf(arena.ErrInvalidOutcome, "unknown elimination reason %q", reason)
	}
	su, ok := agg.Signup(signupID)
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "signup %d in event %d", signupID, agg.Event.ID)
	}
	if agg.Eliminated(signupID) {
		return nil, eris.Wrapf(arena.ErrAlreadyEliminated, "signup %d", signupID)
	}

	e := &arena.Elimination{
		EventID:     agg.Event.ID,
		SignupID:    su.ID,
		CharacterID: su.CharacterID,
		SideIndex:   su.SideIndex,
		Reason:      reason,
		OccurredAt:  t.clock.Now(),
	}
	if err := tx.AppendElimination(ctx, e); err != nil {
		return nil, err
	}
	agg.Eliminations = append(agg.Eliminations, e)

	t.log.Info().Int64("event_id", agg.Event.ID).Int64("signup_id", su.ID).
		Int("side", su.SideIndex).Str("reason", string(reason)).Msg("combatant eliminated")
	return e, nil
}

// Decide reports the outcome once every side but one has been fully
// eliminated. When the last two sides fall together nobody is left and the
// event is a draw. Scored formats are never decided by eliminations.
func Decide(agg *arena.Aggregate) (arena.Outcome, bool) {
	if agg.Event.EliminationMode == arena.EliminationScored {
		return arena.Outcome{}, false
	}
	var standing []int
	for _, side := range agg.Event.Sides {
		if aliveOn(agg, side.Index) > 0 {
			standing = append(standing, side.Index)
		}
	}
	if len(standing) > 1 {
		return arena.Outcome{}, false
	}
	return arena.Outcome{WinningSides: standing, Reason: "last side standing"}, true
}

// ValidateOutcome rejects outcomes naming sides the event does not have.
func ValidateOutcome(ev *arena.Event, o arena.Outcome) error {
	seen := map[int]bool{}
	for _, s := range o.WinningSides {
		if _, ok := ev.Side(s); !ok {
			return eris.Wrapf(arena.ErrInvalidOutcome, "side %d", s)
		}
		if seen[s] {
			return eris.Wrapf(arena.ErrInvalidOutcome, "side %d listed twice", s)
		}
		seen[s] = true
	}
	return nil
}

// Placements ranks sides for rating: winners share first place, then the
// remaining sides in reverse order of when their last combatant fell. Sides
// with combatants still standing rank above every fully eliminated side.
// A draw places every side equal.
func Placements(agg *arena.Aggregate, o arena.Outcome) map[int]int {
	out := make(map[int]int, len(agg.Event.Sides))
	if o.IsDraw() {
		for _, side := range agg.Event.Sides {
			out[side.Index] = 0
		}
		return out
	}

	type exit struct {
		side     int
		standing bool
		at       time.Time
	}
	var losers []exit
	for _, side := range agg.Event.Sides {
		if o.Won(side.Index) {
			out[side.Index] = 0
			continue
		}
		x := exit{side: side.Index, standing: aliveOn(agg, side.Index) > 0}
		for _, e := range agg.Eliminations {
			if e.SideIndex == side.Index && e.OccurredAt.After(x.at) {
				x.at = e.OccurredAt
			}
		}
		losers = append(losers, x)
	}

	later := func(a, b exit) bool {
		if a.standing != b.standing {
			return a.standing
		}
		return a.at.After(b.at)
	}
	sort.SliceStable(losers, func(i, j int) bool { return later(losers[i], losers[j]) })

	place := 1
	for i, x := range losers {
		if i > 0 && later(losers[i-1], x) {
			place = i + 1
		}
		out[x.side] = place
	}
	return out
}

// Finalize marks the elimination record closed. Nothing is appended after
// the event leaves InProgress, so this only flips the progress flag.
func (t *Tracker) Finalize(agg *arena.Aggregate) map[int]int {
	placements := Placements(agg, *agg.Event.Outcome)
	agg.Event.Resolution.EliminationsFinalized = true
	t.log.Debug().Int64("event_id", agg.Event.ID).Interface("placements", placements).Msg("eliminations finalized")
	return placements
}

func aliveOn(agg *arena.Aggregate, side int) int {
	n := 0
	for _, su := range agg.SignupsOnSide(side) {
		if !agg.Eliminated(su.ID) {
			n++
		}
	}
	return n
}
