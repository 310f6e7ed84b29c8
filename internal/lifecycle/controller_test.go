package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"arenaserver/config"
	"arenaserver/internal/arena"
	"arenaserver/internal/betting"
	"arenaserver/internal/elimination"
	"arenaserver/internal/finance"
	"arenaserver/internal/ledger"
	"arenaserver/internal/metrics"
	"arenaserver/internal/notify"
	"arenaserver/internal/progs"
	"arenaserver/internal/rating"
	"arenaserver/internal/signup"
	"arenaserver/internal/store"
)

const house = "arena:house"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type hangingOverride struct{}

func (hangingOverride) ForceOutcome(ctx context.Context, _ *arena.Event, _ []*arena.Signup, _ []*arena.Elimination) (arena.Outcome, error) {
	<-ctx.Done()
	return arena.Outcome{}, ctx.Err()
}

type failingResolver struct{}

func (failingResolver) Begin(context.Context, *arena.Event, []*arena.Signup) error {
	panic("resolver crashed")
}

type ControllerSuite struct {
	suite.Suite
	ctx      context.Context
	t0       time.Time
	clock    *clockwork.FakeClock
	store    *store.Memory
	bank     *ledger.Memory
	recorder *notify.Recorder
	arena    *arena.Arena
	class    *arena.CombatantClass
	ctrl     *Controller
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.ctx = context.Background()
	s.t0 = time.Date(2026, 9, 12, 18, 0, 0, 0, time.UTC)
	s.clock = clockwork.NewFakeClockAt(s.t0)
	s.store = store.NewMemory()
	s.bank = ledger.NewMemory()
	s.bank.Deposit(house, d("1000"))
	for id := int64(1); id <= 20; id++ {
		s.bank.Deposit(ledger.CharacterAccount(id), d("500"))
	}
	s.recorder = &notify.Recorder{}

	s.arena = arena.NewArena("The Blood Pit", 1, house)
	s.Require().NoError(s.store.SaveArena(s.ctx, s.arena))
	s.class = &arena.CombatantClass{ArenaID: s.arena.ID, Name: "Open"}
	s.Require().NoError(s.store.SaveCombatantClass(s.ctx, s.class))

	s.ctrl = s.controller(nil, nil)
}

func (s *ControllerSuite) controller(resolver progs.Resolver, override progs.ResolutionOverride) *Controller {
	cfg := config.ArenaConfig{
		TickInterval:            time.Second,
		ReservationTTL:          time.Minute,
		ProgTimeout:             50 * time.Millisecond,
		SettlementRetryInterval: time.Minute,
		CurrencyPlaces:          2,
		FixedOddsMargin:         "0.05",
	}
	log := zerolog.Nop()
	m := metrics.New()
	engine := rating.NewEngine(config.RatingConfig{Initial: 1500, KMax: 40, KMin: 16, TaperEvents: 10})
	ratings := rating.NewService(engine, s.clock, log)
	market, err := betting.NewMarket(cfg, s.bank, s.clock, engine, m, log)
	s.Require().NoError(err)

	return New(cfg, Deps{
		Store:    s.store,
		Clock:    s.clock,
		Signups:  signup.NewMatchmaker(cfg, s.clock, progs.AllowAll{}, progs.NoNPCs{}, ratings, m, log),
		Tracker:  elimination.NewTracker(s.clock, log),
		Ratings:  ratings,
		Market:   market,
		Finance:  finance.NewReporter(s.bank, s.clock, nil, log),
		Resolver: resolver,
		Override: override,
		Notifier: s.recorder,
		Metrics:  m,
		Log:      log,
	})
}

func (s *ControllerSuite) newEvent(timeLimit time.Duration) *arena.Event {
	ev, err := s.ctrl.Schedule(s.ctx, &arena.Event{
		ArenaID:              s.arena.ID,
		Name:                 "Friday Brawl",
		ScheduledAt:          s.t0.Add(time.Minute),
		RegistrationDuration: 10 * time.Minute,
		PreparationDuration:  5 * time.Minute,
		TimeLimit:            timeLimit,
		BettingModel:         arena.BettingParimutuel,
		EliminationMode:      arena.EliminationLastSideStanding,
		TakeRate:             d("0.1"),
		Sides: []arena.Side{
			{Index: 0, Capacity: 4, Policy: arena.SignupOpen},
			{Index: 1, Capacity: 4, Policy: arena.SignupOpen},
		},
	})
	s.Require().NoError(err)
	return ev
}

func (s *ControllerSuite) advance(d time.Duration) {
	s.clock.Advance(d)
	s.ctrl.Tick(s.ctx)
}

// fight closes registration and starts combat for an event opened by
// newEvent.
func (s *ControllerSuite) fight() {
	s.advance(10 * time.Minute)
	s.advance(5 * time.Minute)
}

func (s *ControllerSuite) state(eventID int64) arena.State {
	ev, err := s.store.GetEvent(s.ctx, eventID)
	s.Require().NoError(err)
	return ev.State
}

func (s *ControllerSuite) join(eventID, character int64, side int) *arena.Signup {
	su, err := s.ctrl.Signup(s.ctx, eventID, signup.Request{CharacterID: character, SideIndex: side, CombatantClassID: s.class.ID})
	s.Require().NoError(err)
	return su
}

func (s *ControllerSuite) bet(eventID, character int64, side int, stake string) *arena.Bet {
	b, err := s.ctrl.PlaceBet(s.ctx, eventID, betting.BetRequest{CharacterID: character, SideIndex: side, Model: arena.OddsParimutuel, Stake: d(stake)})
	s.Require().NoError(err)
	return b
}

func (s *ControllerSuite) balance(account string) decimal.Decimal {
	b, err := s.bank.Balance(s.ctx, account)
	s.Require().NoError(err)
	return b
}

func (s *ControllerSuite) TestFullLifecycle() {
	ev := s.newEvent(30 * time.Minute)

	s.advance(time.Minute)
	s.Equal(arena.StateRegistrationOpen, s.state(ev.ID))

	winner := s.join(ev.ID, 1, 0)
	loser := s.join(ev.ID, 2, 1)
	s.bet(ev.ID, 10, 0, "50")
	s.bet(ev.ID, 11, 0, "50")
	s.bet(ev.ID, 12, 1, "300")

	s.advance(10 * time.Minute)
	s.Equal(arena.StatePreparation, s.state(ev.ID))
	s.advance(5 * time.Minute)
	s.Equal(arena.StateInProgress, s.state(ev.ID))

	_, err := s.ctrl.RecordElimination(s.ctx, ev.ID, loser.ID, arena.ReasonDefeat)
	s.Require().NoError(err)

	agg, err := s.ctrl.Event(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(arena.StateCompleted, agg.Event.State)
	s.Equal([]int{0}, agg.Event.Outcome.WinningSides)
	s.True(agg.Event.Resolution.FinanceRecorded)

	s.Require().Len(agg.Payouts, 2)
	for _, p := range agg.Payouts {
		s.True(p.Amount.Equal(d("180")))
	}
	s.True(s.balance(ledger.CharacterAccount(10)).Equal(d("630")))
	s.True(s.balance(house).Equal(d("1040")))

	r, err := s.store.GetRating(s.ctx, s.arena.ID, winner.CharacterID, s.class.ID)
	s.Require().NoError(err)
	s.InDelta(1520, r.Value, 1e-9)
	r, err = s.store.GetRating(s.ctx, s.arena.ID, loser.CharacterID, s.class.ID)
	s.Require().NoError(err)
	s.InDelta(1480, r.Value, 1e-9)

	snaps, err := s.store.ListFinanceSnapshots(s.ctx, s.arena.ID)
	s.Require().NoError(err)
	s.Require().Len(snaps, 1)
	s.True(snaps[0].Profit.Equal(d("40")))

	s.Equal([]arena.State{
		arena.StateRegistrationOpen, arena.StatePreparation, arena.StateInProgress,
		arena.StateResolved, arena.StateCompleted,
	}, s.recorder.States(ev.ID))
	_, ok := s.ctrl.NextWake()
	s.False(ok)
}

func (s *ControllerSuite) TestResolveIsReentrant() {
	ev := s.newEvent(0)
	s.advance(time.Minute)
	s.join(ev.ID, 1, 0)
	s.join(ev.ID, 2, 1)
	s.fight()
	s.Equal(arena.StateInProgress, s.state(ev.ID))

	_, err := s.ctrl.Resolve(s.ctx, ev.ID, arena.Outcome{WinningSides: []int{5}})
	s.ErrorIs(err, arena.ErrInvalidOutcome)

	first, err := s.ctrl.Resolve(s.ctx, ev.ID, arena.Outcome{WinningSides: []int{1}})
	s.Require().NoError(err)
	again, err := s.ctrl.Resolve(s.ctx, ev.ID, arena.Outcome{WinningSides: []int{0}})
	s.Require().NoError(err)
	s.Equal(arena.StateCompleted, again.State)
	s.Equal([]int{1}, again.Outcome.WinningSides)
	s.True(first.ResolvedAt.Equal(*again.ResolvedAt))

	r, err := s.store.GetRating(s.ctx, s.arena.ID, 2, s.class.ID)
	s.Require().NoError(err)
	s.Equal(1, r.RatedEvents)
}

func (s *ControllerSuite) TestAbortReleasesEscrowAndReservations() {
	ev := s.newEvent(0)
	s.advance(time.Minute)
	s.join(ev.ID, 1, 0)
	_, err := s.ctrl.Reserve(s.ctx, ev.ID, signup.Request{CharacterID: 2, SideIndex: 1, CombatantClassID: s.class.ID})
	s.Require().NoError(err)
	s.bet(ev.ID, 10, 0, "75")

	aborted, err := s.ctrl.Abort(s.ctx, ev.ID, "weather")
	s.Require().NoError(err)
	s.Equal(arena.StateAborted, aborted.State)
	s.Equal("weather", aborted.CancellationReason)

	s.True(s.balance(ledger.CharacterAccount(10)).Equal(d("500")))
	agg, err := s.ctrl.Event(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Empty(agg.Reservations)
	for _, p := range agg.Pools {
		s.True(p.TotalStake.IsZero())
	}

	_, err = s.ctrl.Abort(s.ctx, ev.ID, "again")
	s.ErrorIs(err, arena.ErrIllegalTransition)
	_, err = s.ctrl.PlaceBet(s.ctx, ev.ID, betting.BetRequest{CharacterID: 10, Model: arena.OddsParimutuel, Stake: d("1")})
	s.ErrorIs(err, arena.ErrBettingClosed)
}

func (s *ControllerSuite) TestInsufficientCombatantsAborts() {
	ev := s.newEvent(0)
	s.advance(time.Minute)
	s.join(ev.ID, 1, 0)
	s.bet(ev.ID, 10, 0, "20")

	s.advance(10 * time.Minute)
	got, err := s.store.GetEvent(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(arena.StateAborted, got.State)
	s.Equal("insufficient combatants", got.CancellationReason)
	s.True(s.balance(ledger.CharacterAccount(10)).Equal(d("500")))
}

func (s *ControllerSuite) TestTimeLimitFallsBackToSurvivors() {
	s.ctrl = s.controller(nil, hangingOverride{})
	ev := s.newEvent(20 * time.Minute)
	s.advance(time.Minute)
	s.join(ev.ID, 1, 0)
	s.join(ev.ID, 2, 0)
	s.join(ev.ID, 3, 1)
	s.fight()

	s.advance(20 * time.Minute)
	got, err := s.store.GetEvent(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(arena.StateCompleted, got.State)
	s.True(got.Outcome.Forced)
	s.Equal([]int{0}, got.Outcome.WinningSides)
}

func (s *ControllerSuite) TestResolverFailureForcesResolution() {
	s.ctrl = s.controller(failingResolver{}, nil)
	ev := s.newEvent(0)
	s.advance(time.Minute)
	s.join(ev.ID, 1, 0)
	s.join(ev.ID, 2, 1)
	s.fight()

	got, err := s.store.GetEvent(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(arena.StateCompleted, got.State)
	s.True(got.Outcome.IsDraw())
}

func (s *ControllerSuite) TestInconsistentSettlementHaltsOnlyThatEvent() {
	bad := s.newEvent(0)
	good := s.newEvent(0)
	s.advance(time.Minute)
	for _, ev := range []*arena.Event{bad, good} {
		s.join(ev.ID, 1, 0)
		s.join(ev.ID, 2, 1)
		s.bet(ev.ID, 10, 0, "40")
	}
	s.fight()

	pools, err := s.store.ListPools(s.ctx, bad.ID)
	s.Require().NoError(err)
	pools[0].TotalStake = d("4000")
	s.Require().NoError(s.store.ReplacePools(s.ctx, bad.ID, pools))

	_, err = s.ctrl.Resolve(s.ctx, bad.ID, arena.Outcome{WinningSides: []int{0}})
	s.Require().NoError(err)
	_, err = s.ctrl.Resolve(s.ctx, good.ID, arena.Outcome{WinningSides: []int{0}})
	s.Require().NoError(err)

	halted, err := s.store.GetEvent(s.ctx, bad.ID)
	s.Require().NoError(err)
	s.Equal(arena.StateResolved, halted.State)
	s.True(halted.Resolution.SettlementHalted)
	s.NotEmpty(halted.Resolution.HaltReason)
	s.True(halted.Resolution.RatingsApplied)
	s.Equal(arena.StateCompleted, s.state(good.ID))

	payouts, err := s.store.ListPayouts(s.ctx, bad.ID)
	s.Require().NoError(err)
	s.Empty(payouts)

	s.Require().NoError(s.store.ReplacePools(s.ctx, bad.ID, arena.RecomputePools(halted, mustBets(s, bad.ID))))
	s.Require().NoError(s.ctrl.Resume(s.ctx, bad.ID))
	s.Equal(arena.StateCompleted, s.state(bad.ID))
}

func mustBets(s *ControllerSuite, eventID int64) []*arena.Bet {
	bets, err := s.store.ListBets(s.ctx, eventID)
	s.Require().NoError(err)
	return bets
}

func (s *ControllerSuite) TestFailedStepIsRetried() {
	ev, err := s.ctrl.Schedule(s.ctx, &arena.Event{
		ArenaID:              s.arena.ID,
		ScheduledAt:          s.t0,
		RegistrationDuration: 10 * time.Minute,
		AppearanceFee:        d("2000"),
		Sides:                []arena.Side{{Index: 0, Capacity: 1, Policy: arena.SignupOpen}, {Index: 1, Capacity: 1, Policy: arena.SignupOpen}},
	})
	s.Require().NoError(err)
	s.advance(0)
	s.join(ev.ID, 1, 0)
	s.join(ev.ID, 2, 1)
	s.advance(10 * time.Minute)
	s.Equal(arena.StateInProgress, s.state(ev.ID))

	_, err = s.ctrl.Resolve(s.ctx, ev.ID, arena.Outcome{WinningSides: []int{0}})
	s.Require().NoError(err)

	got, err := s.store.GetEvent(s.ctx, ev.ID)
	s.Require().NoError(err)
	s.Equal(arena.StateResolved, got.State)
	s.True(got.Resolution.BetsSettled)
	s.False(got.Resolution.FinanceRecorded)
	next, ok := s.ctrl.NextWake()
	s.Require().True(ok)
	s.Equal(s.clock.Now().Add(time.Minute), next)

	s.bank.Deposit(house, d("5000"))
	s.advance(time.Minute)
	s.Equal(arena.StateCompleted, s.state(ev.ID))
	s.True(s.balance(ledger.CharacterAccount(2)).Equal(d("2500")))
}

func (s *ControllerSuite) TestAutoScheduleMaterializesNextSlot() {
	ref := s.t0.Add(30 * time.Minute)
	et := &arena.EventType{
		ArenaID:               s.arena.ID,
		Name:                  "Hourly Duel",
		RegistrationDuration:  5 * time.Minute,
		PreparationDuration:   time.Minute,
		BettingModel:          arena.BettingNone,
		AutoScheduleInterval:  time.Hour,
		AutoScheduleReference: &ref,
		Sides: []arena.EventTypeSide{
			{Index: 0, Capacity: 1, Policy: arena.SignupOpen},
			{Index: 1, Capacity: 1, Policy: arena.SignupOpen},
		},
	}
	s.Require().NoError(s.store.SaveEventType(s.ctx, et))
	s.Require().NoError(s.ctrl.Load(s.ctx))

	events, err := s.store.ListEvents(s.ctx, store.EventFilter{EventTypeID: et.ID})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(ref, events[0].ScheduledAt)

	// Nobody signs up, so the first instance is called off and the next
	// hourly slot is materialized.
	s.advance(30 * time.Minute)
	s.advance(5 * time.Minute)
	s.Equal(arena.StateAborted, s.state(events[0].ID))

	events, err = s.store.ListEvents(s.ctx, store.EventFilter{EventTypeID: et.ID})
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(ref.Add(time.Hour), events[1].ScheduledAt)
	s.Equal(arena.StateScheduled, events[1].State)

	stored, err := s.store.GetEventType(s.ctx, et.ID)
	s.Require().NoError(err)
	s.Equal(ref.Add(time.Hour), *stored.AutoScheduleReference)
}

func (s *ControllerSuite) TestDeletedArenaRefusesEvents() {
	s.arena.IsDeleted = true
	s.Require().NoError(s.store.SaveArena(s.ctx, s.arena))
	_, err := s.ctrl.Schedule(s.ctx, &arena.Event{
		ArenaID: s.arena.ID,
		Sides:   []arena.Side{{Index: 0, Capacity: 1}, {Index: 1, Capacity: 1}},
	})
	s.ErrorIs(err, arena.ErrArenaDeleted)
}

func (s *ControllerSuite) TestLoadRestoresWakes() {
	ev := s.newEvent(0)
	restarted := s.controller(nil, nil)
	s.Require().NoError(restarted.Load(s.ctx))
	next, ok := restarted.NextWake()
	s.Require().True(ok)
	s.Equal(ev.ScheduledAt, next)
}

func (s *ControllerSuite) TestSweepReclaimsExpiredReservations() {
	ev := s.newEvent(0)
	s.advance(time.Minute)
	_, err := s.ctrl.Reserve(s.ctx, ev.ID, signup.Request{CharacterID: 3, SideIndex: 0, CombatantClassID: s.class.ID})
	s.Require().NoError(err)

	n, err := s.ctrl.SweepReservations(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)

	s.clock.Advance(2 * time.Minute)
	n, err = s.ctrl.SweepReservations(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *ControllerSuite) TestRuntimeTemplateIsAutoScheduled() {
	et, err := s.ctrl.SaveEventType(s.ctx, &arena.EventType{
		ArenaID:              s.arena.ID,
		Name:                 "Hourly Duel",
		RegistrationDuration: 5 * time.Minute,
		PreparationDuration:  time.Minute,
		BettingModel:         arena.BettingNone,
		AutoScheduleInterval: time.Hour,
		Sides: []arena.EventTypeSide{
			{Index: 0, Capacity: 1, Policy: arena.SignupOpen},
			{Index: 1, Capacity: 1, Policy: arena.SignupOpen},
		},
	})
	s.Require().NoError(err)
	s.Require().NotNil(et.AutoScheduleReference)
	s.Equal(s.t0, *et.AutoScheduleReference)

	events, err := s.store.ListEvents(s.ctx, store.EventFilter{EventTypeID: et.ID})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(s.t0, events[0].ScheduledAt)

	s.advance(time.Minute)
	s.Equal(arena.StateRegistrationOpen, s.state(events[0].ID))
	s.advance(5 * time.Minute)
	s.Equal(arena.StateAborted, s.state(events[0].ID))

	events, err = s.store.ListEvents(s.ctx, store.EventFilter{EventTypeID: et.ID})
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(s.t0.Add(time.Hour), events[1].ScheduledAt)
}

func (s *ControllerSuite) TestAutoScheduleAllPicksUpStoredTemplates() {
	et := &arena.EventType{
		ArenaID:              s.arena.ID,
		Name:                 "Daily Melee",
		RegistrationDuration: 10 * time.Minute,
		AutoScheduleInterval: 24 * time.Hour,
		Sides: []arena.EventTypeSide{
			{Index: 0, Capacity: 2, Policy: arena.SignupOpen},
			{Index: 1, Capacity: 2, Policy: arena.SignupOpen},
		},
	}
	s.Require().NoError(s.store.SaveEventType(s.ctx, et))

	n, err := s.ctrl.AutoScheduleAll(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	_, err = s.ctrl.AutoScheduleAll(s.ctx)
	s.Require().NoError(err)

	events, err := s.store.ListEvents(s.ctx, store.EventFilter{EventTypeID: et.ID})
	s.Require().NoError(err)
	s.Require().Len(events, 1, "a live instance blocks the next one")
	s.Equal(s.t0, events[0].ScheduledAt)

	stored, err := s.store.GetEventType(s.ctx, et.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.AutoScheduleReference)
	s.Equal(s.t0, *stored.AutoScheduleReference)
}

func (s *ControllerSuite) TestTakeRateOutsidePoolIsRejected() {
	sides := []arena.Side{{Index: 0, Capacity: 1}, {Index: 1, Capacity: 1}}
	_, err := s.ctrl.Schedule(s.ctx, &arena.Event{ArenaID: s.arena.ID, TakeRate: d("-0.5"), Sides: sides})
	s.ErrorIs(err, arena.ErrInvalidTakeRate)

	_, err = s.ctrl.SaveEventType(s.ctx, &arena.EventType{
		ArenaID:  s.arena.ID,
		TakeRate: d("1"),
		Sides:    []arena.EventTypeSide{{Index: 0, Capacity: 1}, {Index: 1, Capacity: 1}},
	})
	s.ErrorIs(err, arena.ErrInvalidTakeRate)

	events, err := s.store.ListEvents(s.ctx, store.EventFilter{ArenaID: s.arena.ID})
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *ControllerSuite) TestEventLocksAreReleased() {
	ev := s.newEvent(0)
	s.advance(time.Minute)
	s.join(ev.ID, 1, 0)
	s.bet(ev.ID, 10, 0, "50")
	_, err := s.ctrl.Abort(s.ctx, ev.ID, "storm")
	s.Require().NoError(err)

	s.ctrl.mu.Lock()
	defer s.ctrl.mu.Unlock()
	s.Empty(s.ctrl.locks)
}

func (s *ControllerSuite) TestDefaultTakeRateFromConfig() {
	c := New(config.ArenaConfig{DefaultTakeRate: "0.15"}, Deps{Store: s.store, Clock: s.clock, Log: zerolog.Nop()})
	s.True(c.DefaultTakeRate().Equal(d("0.15")))

	c = New(config.ArenaConfig{DefaultTakeRate: "-1"}, Deps{Store: s.store, Clock: s.clock, Log: zerolog.Nop()})
	s.True(c.DefaultTakeRate().IsZero())
}
