package finance

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenaserver/internal/arena"
	"arenaserver/internal/ledger"
	"arenaserver/internal/store"
)

type flatTax decimal.Decimal

func (f flatTax) Withhold(_ context.Context, _ int64, profit decimal.Decimal) (decimal.Decimal, error) {
	if !profit.IsPositive() {
		return decimal.Zero, nil
	}
	return profit.Mul(decimal.Decimal(f)), nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func settledEvent(at time.Time) *arena.Aggregate {
	started := at.Add(-10 * time.Minute)
	return &arena.Aggregate{
		Event: &arena.Event{
			ID:            5,
			ArenaID:       1,
			State:         arena.StateResolved,
			StartedAt:     &started,
			ResolvedAt:    &at,
			AppearanceFee: d("5"),
			VictoryFee:    d("20"),
			Outcome:       &arena.Outcome{WinningSides: []int{0}},
		},
		Signups: []*arena.Signup{
			{ID: 11, SideIndex: 0, CharacterID: 100},
			{ID: 12, SideIndex: 1, CharacterID: 101},
			{ID: 13, SideIndex: 1, CharacterID: 900, IsNPC: true},
		},
		Bets: []*arena.Bet{
			{ID: 21, Stake: d("100")},
			{ID: 22, Stake: d("300")},
			{ID: 23, Stake: d("70"), CancelledAt: &at},
		},
		Payouts: []*arena.BetPayout{{BetID: 21, Amount: d("360")}},
	}
}

func TestRecordEventPaysFeesOnceAndSnapshots(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 21, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	bank := ledger.NewMemory()
	bank.Deposit("arena:1", d("100"))
	st := store.NewMemory()
	r := NewReporter(bank, clock, flatTax(d("0.25")), zerolog.Nop())

	agg := settledEvent(now)
	snap, err := r.RecordEvent(ctx, st, agg, "arena:1")
	require.NoError(t, err)
	assert.True(t, agg.Event.Resolution.FinanceRecorded)

	assert.True(t, snap.Revenue.Equal(d("400")))
	assert.True(t, snap.Cost.Equal(d("390")), "got %s", snap.Cost)
	assert.True(t, snap.TaxWithheld.Equal(d("2.5")))
	assert.True(t, snap.Profit.Equal(d("7.5")))

	winner, _ := bank.Balance(ctx, ledger.CharacterAccount(100))
	assert.True(t, winner.Equal(d("25")))
	npc, _ := bank.Balance(ctx, ledger.CharacterAccount(900))
	assert.True(t, npc.IsZero())

	// Recording again neither pays twice nor adds a second row.
	_, err = r.RecordEvent(ctx, st, agg, "arena:1")
	require.NoError(t, err)
	house, _ := bank.Balance(ctx, "arena:1")
	assert.True(t, house.Equal(d("70")))

	snaps, err := st.ListFinanceSnapshots(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestFeesFailWhenArenaIsShort(t *testing.T) {
	now := time.Now()
	r := NewReporter(ledger.NewMemory(), clockwork.NewFakeClockAt(now), nil, zerolog.Nop())
	err := r.PayFees(context.Background(), settledEvent(now), "arena:1")
	assert.ErrorIs(t, err, arena.ErrInsufficientFunds)
}

func TestNPCAppearanceFeeOptIn(t *testing.T) {
	agg := settledEvent(time.Now())
	assert.True(t, Fees(agg).Equal(d("30")))
	agg.Event.PayNPCAppearanceFee = true
	assert.True(t, Fees(agg).Equal(d("35")))
}

func TestSnapshotPeriodRollsUpCompletedEvents(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(day.Add(24 * time.Hour))
	st := store.NewMemory()
	r := NewReporter(ledger.NewMemory(), clock, nil, zerolog.Nop())

	a := arena.NewArena("Blood Pit", 1, "arena:1")
	require.NoError(t, st.SaveArena(ctx, a))

	for i, completed := range []time.Time{day.Add(2 * time.Hour), day.Add(30 * time.Hour)} {
		completedAt := completed
		ev := &arena.Event{ArenaID: a.ID, State: arena.StateCompleted, CompletedAt: &completedAt}
		require.NoError(t, st.SaveEvent(ctx, ev))
		eventID := ev.ID
		require.NoError(t, st.ReplaceFinanceSnapshot(ctx, &arena.FinanceSnapshot{
			ArenaID: a.ID, EventID: &eventID, PeriodStart: completed.Add(-time.Hour),
			Revenue: d("100"), Cost: d("40"), TaxWithheld: decimal.Zero, Profit: decimal.NewFromInt(int64(60 + i)),
		}))
	}

	require.NoError(t, r.SnapshotAllArenas(ctx, st, 24*time.Hour))

	snaps, err := st.ListFinanceSnapshots(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	period := snaps[2]
	assert.Nil(t, period.EventID)
	assert.True(t, day.Equal(period.PeriodStart))
	assert.True(t, period.Revenue.Equal(d("100")))
	assert.True(t, period.Profit.Equal(d("60")))
}
