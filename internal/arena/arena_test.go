package arena

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	assert.True(t, StateScheduled.CanTransition(StateRegistrationOpen))
	assert.True(t, StateInProgress.CanTransition(StateResolved))
	assert.False(t, StateScheduled.CanTransition(StateInProgress))
	assert.False(t, StateResolved.Abortable())
	assert.False(t, StateCompleted.CanTransition(StateAborted))
	assert.True(t, StatePreparation.AcceptsBets())
	assert.False(t, StateInProgress.AcceptsBets())
	assert.True(t, StateAborted.IsTerminal())
}

func TestNewArenaSlug(t *testing.T) {
	a := NewArena("The Blood Pit", 1, "bank:pit")
	assert.Equal(t, "the-blood-pit", a.Slug)

	a.Managers = []int64{7}
	assert.True(t, a.IsManager(7))
	assert.False(t, a.IsManager(8))
}

func TestMaterializeCopiesTemplate(t *testing.T) {
	tpl := &EventType{
		ID:           3,
		ArenaID:      1,
		BettingModel: BettingParimutuel,
		TakeRate:     decimal.RequireFromString("0.1"),
		Sides: []EventTypeSide{
			{Index: 0, Capacity: 2, AllowedClasses: []int64{1}},
			{Index: 1, Capacity: 2},
		},
	}
	require.NoError(t, tpl.Validate())

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := tpl.Materialize("Duel", at)
	assert.Equal(t, StateScheduled, ev.State)
	assert.Equal(t, int64(3), *ev.EventTypeID)
	require.Len(t, ev.Sides, 2)

	ev.Sides[0].AllowedClasses[0] = 99
	assert.Equal(t, int64(1), tpl.Sides[0].AllowedClasses[0], "event sides must not alias the template")
}

func TestValidateRejectsSingleSide(t *testing.T) {
	tpl := &EventType{Sides: []EventTypeSide{{Index: 0, Capacity: 4}, {Index: 1}}}
	assert.True(t, eris.Is(tpl.Validate(), ErrInvalidEventTemplate))
}

func TestValidateRejectsTakeRateOutsidePool(t *testing.T) {
	sides := []EventTypeSide{{Index: 0, Capacity: 4}, {Index: 1, Capacity: 4}}
	for _, rate := range []string{"-0.5", "1", "1.2"} {
		tpl := &EventType{Sides: sides, TakeRate: decimal.RequireFromString(rate)}
		err := tpl.Validate()
		assert.True(t, eris.Is(err, ErrInvalidTakeRate), "take rate %s", rate)
		assert.True(t, IsValidation(err))

		ev := tpl.Materialize("night fights", time.Now())
		assert.True(t, eris.Is(ev.Validate(), ErrInvalidTakeRate), "take rate %s", rate)
	}
	for _, rate := range []string{"0", "0.1", "0.99"} {
		tpl := &EventType{Sides: sides, TakeRate: decimal.RequireFromString(rate)}
		assert.NoError(t, tpl.Validate(), "take rate %s", rate)
	}
}

func TestNextAutoSchedule(t *testing.T) {
	ref := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tpl := &EventType{AutoScheduleInterval: time.Hour, AutoScheduleReference: &ref}

	assert.Equal(t, ref, tpl.NextAutoSchedule(ref.Add(-time.Minute)))
	assert.Equal(t, ref, tpl.NextAutoSchedule(ref))
	assert.Equal(t, ref.Add(2*time.Hour), tpl.NextAutoSchedule(ref.Add(90*time.Minute)))
	assert.Equal(t, ref.Add(2*time.Hour), tpl.NextAutoSchedule(ref.Add(2*time.Hour)))
}

func TestAggregateOccupancyCountsLiveReservations(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	agg := &Aggregate{
		Event:   &Event{Sides: []Side{{Index: 0, Capacity: 2}}},
		Signups: []*Signup{{ID: 1, SideIndex: 0, CharacterID: 10}},
		Reservations: []*Reservation{
			{ID: "live", SideIndex: 0, CharacterID: 11, ExpiresAt: now.Add(time.Minute)},
			{ID: "stale", SideIndex: 0, CharacterID: 12, ExpiresAt: now.Add(-time.Second)},
		},
	}

	assert.Equal(t, 2, agg.Occupancy(0, now))
	assert.True(t, agg.HoldsSlot(11, now))
	assert.False(t, agg.HoldsSlot(12, now))

	expired := agg.ReclaimExpired(now)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].ID)
	assert.Len(t, agg.Reservations, 1)
	assert.NoError(t, agg.CheckInvariants(now))
}

func TestRecomputePoolsSegregatesModels(t *testing.T) {
	ev := &Event{ID: 1, BettingModel: BettingBoth, Sides: []Side{{Index: 0}, {Index: 1}}}
	cancelled := time.Now()
	bets := []*Bet{
		{SideIndex: 0, Model: OddsParimutuel, Stake: decimal.NewFromInt(100)},
		{SideIndex: 0, Model: OddsFixed, Stake: decimal.NewFromInt(40)},
		{SideIndex: 1, Model: OddsParimutuel, Stake: decimal.NewFromInt(300)},
		{SideIndex: 1, Model: OddsParimutuel, Stake: decimal.NewFromInt(5), CancelledAt: &cancelled},
	}

	agg := &Aggregate{Event: ev, Bets: bets, Pools: RecomputePools(ev, bets)}
	require.Len(t, agg.Pools, 4)

	p, ok := agg.Pool(0, OddsParimutuel)
	require.True(t, ok)
	assert.Equal(t, "100", p.TotalStake.String())
	p, _ = agg.Pool(1, OddsParimutuel)
	assert.Equal(t, "300", p.TotalStake.String())
	assert.Equal(t, 1, p.BetCount)
	p, _ = agg.Pool(0, OddsFixed)
	assert.Equal(t, "40", p.TotalStake.String())

	assert.NoError(t, agg.CheckInvariants(time.Now()))
	agg.Pools[0].TotalStake = decimal.NewFromInt(1)
	assert.True(t, eris.Is(agg.CheckInvariants(time.Now()), ErrSettlementInconsistent))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(eris.Wrap(ErrCapacityExceeded, "side 0")))
	assert.False(t, IsValidation(ErrSettlementInconsistent))
	assert.False(t, IsValidation(ErrNotFound))
}
