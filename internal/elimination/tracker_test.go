package elimination

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenaserver/internal/arena"
	"arenaserver/internal/store"
)

func threeSides() *arena.Aggregate {
	return &arena.Aggregate{
		Event: &arena.Event{
			ID:              1,
			State:           arena.StateInProgress,
			EliminationMode: arena.EliminationLastSideStanding,
			Sides:           []arena.Side{{Index: 0, Capacity: 2}, {Index: 1, Capacity: 2}, {Index: 2, Capacity: 2}},
		},
		Signups: []*arena.Signup{
			{ID: 1, SideIndex: 0, CharacterID: 100},
			{ID: 2, SideIndex: 0, CharacterID: 101},
			{ID: 3, SideIndex: 1, CharacterID: 102},
			{ID: 4, SideIndex: 2, CharacterID: 103},
		},
	}
}

func TestRecordAndDecide(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	tr := NewTracker(clock, zerolog.Nop())
	st := store.NewMemory()
	agg := threeSides()

	_, err := tr.Record(ctx, st, agg, 3, arena.ReasonDefeat)
	require.NoError(t, err)
	_, ok := Decide(agg)
	assert.False(t, ok)

	clock.Advance(time.Minute)
	_, err = tr.Record(ctx, st, agg, 4, arena.ReasonSurrender)
	require.NoError(t, err)

	outcome, ok := Decide(agg)
	require.True(t, ok)
	assert.Equal(t, []int{0}, outcome.WinningSides)

	stored, err := st.ListEliminations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRecordRejects(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(clockwork.NewFakeClock(), zerolog.Nop())
	st := store.NewMemory()
	agg := threeSides()

	_, err := tr.Record(ctx, st, agg, 1, arena.EliminationReason("bored"))
	assert.ErrorIs(t, err, arena.ErrInvalidOutcome)

	_, err = tr.Record(ctx, st, agg, 42, arena.ReasonDefeat)
	assert.ErrorIs(t, err, arena.ErrNotFound)

	_, err = tr.Record(ctx, st, agg, 1, arena.ReasonDefeat)
	require.NoError(t, err)
	_, err = tr.Record(ctx, st, agg, 1, arena.ReasonDefeat)
	assert.ErrorIs(t, err, arena.ErrAlreadyEliminated)

	agg.Event.State = arena.StateResolved
	_, err = tr.Record(ctx, st, agg, 2, arena.ReasonDefeat)
	assert.ErrorIs(t, err, arena.ErrWrongState)
}

func TestSimultaneousWipeIsDraw(t *testing.T) {
	agg := threeSides()
	agg.Signups = agg.Signups[2:]
	agg.Event.Sides = agg.Event.Sides[1:]
	now := time.Now()
	agg.Eliminations = []*arena.Elimination{
		{SignupID: 3, SideIndex: 1, OccurredAt: now},
		{SignupID: 4, SideIndex: 2, OccurredAt: now},
	}
	outcome, ok := Decide(agg)
	require.True(t, ok)
	assert.True(t, outcome.IsDraw())
}

func TestScoredEventsAreNotDecidedByEliminations(t *testing.T) {
	agg := threeSides()
	agg.Event.EliminationMode = arena.EliminationScored
	agg.Eliminations = []*arena.Elimination{{SignupID: 3, SideIndex: 1}, {SignupID: 4, SideIndex: 2}}
	_, ok := Decide(agg)
	assert.False(t, ok)
}

func TestPlacementsFollowEliminationOrder(t *testing.T) {
	agg := threeSides()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	agg.Eliminations = []*arena.Elimination{
		{SignupID: 4, SideIndex: 2, OccurredAt: base},
		{SignupID: 3, SideIndex: 1, OccurredAt: base.Add(time.Minute)},
	}

	p := Placements(agg, arena.Outcome{WinningSides: []int{0}})
	assert.Equal(t, map[int]int{0: 0, 1: 1, 2: 2}, p)

	// A forced outcome can leave a losing side standing.
	agg.Eliminations = agg.Eliminations[:1]
	p = Placements(agg, arena.Outcome{WinningSides: []int{0}, Forced: true})
	assert.Equal(t, map[int]int{0: 0, 1: 1, 2: 2}, p)

	p = Placements(agg, arena.Outcome{})
	assert.Equal(t, map[int]int{0: 0, 1: 0, 2: 0}, p)
}

func TestValidateOutcome(t *testing.T) {
	ev := threeSides().Event
	assert.NoError(t, ValidateOutcome(ev, arena.Outcome{WinningSides: []int{0, 2}}))
	assert.ErrorIs(t, ValidateOutcome(ev, arena.Outcome{WinningSides: []int{5}}), arena.ErrInvalidOutcome)
	assert.ErrorIs(t, ValidateOutcome(ev, arena.Outcome{WinningSides: []int{1, 1}}), arena.ErrInvalidOutcome)
}
