package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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
	"arenaserver/internal/lifecycle"
	"arenaserver/internal/metrics"
	"arenaserver/internal/progs"
	"arenaserver/internal/rating"
	"arenaserver/internal/signup"
	"arenaserver/internal/store"
)

type ServerSuite struct {
	suite.Suite
	ctx    context.Context
	clock  *clockwork.FakeClock
	bank   *ledger.Memory
	ctrl   *lifecycle.Controller
	server *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = clockwork.NewFakeClockAt(time.Date(2026, 9, 12, 18, 0, 0, 0, time.UTC))
	st := store.NewMemory()
	s.bank = ledger.NewMemory()
	for id := int64(1); id <= 20; id++ {
		s.bank.Deposit(ledger.CharacterAccount(id), decimal.NewFromInt(500))
	}

	cfg := config.ArenaConfig{ReservationTTL: time.Minute, ProgTimeout: 50 * time.Millisecond, CurrencyPlaces: 2, DefaultTakeRate: "0.1"}
	log := zerolog.Nop()
	m := metrics.New()
	engine := rating.NewEngine(config.RatingConfig{})
	ratings := rating.NewService(engine, s.clock, log)
	market, err := betting.NewMarket(cfg, s.bank, s.clock, engine, m, log)
	s.Require().NoError(err)
	s.ctrl = lifecycle.New(cfg, lifecycle.Deps{
		Store:   st,
		Clock:   s.clock,
		Signups: signup.NewMatchmaker(cfg, s.clock, progs.AllowAll{}, progs.NoNPCs{}, ratings, m, log),
		Tracker: elimination.NewTracker(s.clock, log),
		Ratings: ratings,
		Market:  market,
		Finance: finance.NewReporter(s.bank, s.clock, nil, log),
		Metrics: m,
		Log:     log,
	})
	s.server = New(s.ctrl, st, s.clock, m, log)
}

func (s *ServerSuite) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		s.Require().NoError(json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *ServerSuite) decode(rec *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(v))
}

func (s *ServerSuite) tick(d time.Duration) {
	s.clock.Advance(d)
	s.ctrl.Tick(s.ctx)
}

// setup creates an arena, a class and a two-sided parimutuel event that is
// open for registration.
func (s *ServerSuite) setup() (arenaID, classID, eventID int64) {
	rec := s.do(http.MethodPost, "/arenas", arenaBody{Name: "The Blood Pit", CurrencyID: 1, BankAccountID: "arena:pit", Managers: []int64{99}})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var a arena.Arena
	s.decode(rec, &a)
	s.Equal("the-blood-pit", a.Slug)
	s.bank.Deposit(a.BankAccountID, decimal.NewFromInt(1000))

	rec = s.do(http.MethodPost, fmt.Sprintf("/arenas/%d/classes", a.ID), map[string]interface{}{"name": "Open"})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var c arena.CombatantClass
	s.decode(rec, &c)

	rec = s.do(http.MethodPost, fmt.Sprintf("/arenas/%d/events", a.ID), map[string]interface{}{
		"name":                  "Friday Brawl",
		"scheduled_at":          s.clock.Now().Add(time.Minute),
		"registration_duration": int64(10 * time.Minute),
		"preparation_duration":  int64(5 * time.Minute),
		"betting_model":         arena.BettingParimutuel,
		"elimination_mode":      arena.EliminationLastSideStanding,
		"take_rate":             "0.1",
		"sides": []map[string]interface{}{
			{"index": 0, "capacity": 2, "policy": arena.SignupOpen},
			{"index": 1, "capacity": 2, "policy": arena.SignupInvite},
		},
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var ev arena.Event
	s.decode(rec, &ev)
	s.Equal(arena.StateScheduled, ev.State)

	s.tick(time.Minute)
	return a.ID, c.ID, ev.ID
}

func (s *ServerSuite) TestEventLifecycleOverHTTP() {
	_, classID, eventID := s.setup()
	events := fmt.Sprintf("/events/%d", eventID)

	rec := s.do(http.MethodPost, events+"/signups", signup.Request{CharacterID: 1, SideIndex: 0, CombatantClassID: classID})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var fighter arena.Signup
	s.decode(rec, &fighter)

	rec = s.do(http.MethodPost, events+"/signups", signupBody{
		Request:   signup.Request{CharacterID: 2, SideIndex: 1, CombatantClassID: classID},
		InvitedBy: 99,
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var rival arena.Signup
	s.decode(rec, &rival)

	rec = s.do(http.MethodPost, events+"/bets", betting.BetRequest{CharacterID: 10, SideIndex: 0, Model: arena.OddsParimutuel, Stake: decimal.NewFromInt(100)})
	s.Require().Equal(http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, events+"/bets", betting.BetRequest{CharacterID: 11, SideIndex: 1, Model: arena.OddsParimutuel, Stake: decimal.NewFromInt(100)})
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, events+"/quote", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var quotes []betting.Quote
	s.decode(rec, &quotes)
	s.Len(quotes, 2)

	rec = s.do(http.MethodGet, events, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var view struct {
		State arena.State `json:"state"`
		Sides []struct {
			Index     int `json:"index"`
			Occupancy int `json:"occupancy"`
		} `json:"sides"`
		Pools []arena.BetPool `json:"pools"`
	}
	s.decode(rec, &view)
	s.Equal(arena.StateRegistrationOpen, view.State)
	s.Require().Len(view.Sides, 2)
	s.Equal(1, view.Sides[0].Occupancy)
	s.Equal(1, view.Sides[1].Occupancy)
	s.Len(view.Pools, 2)

	s.tick(10 * time.Minute)
	s.tick(5 * time.Minute)

	rec = s.do(http.MethodPost, events+"/eliminations", eliminationBody{SignupID: rival.ID, Reason: arena.ReasonSurrender})
	s.Require().Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, events, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var done struct {
		State   arena.State        `json:"state"`
		Payouts []*arena.BetPayout `json:"payouts"`
	}
	s.decode(rec, &done)
	s.Equal(arena.StateCompleted, done.State)
	s.Require().Len(done.Payouts, 1)
	s.True(done.Payouts[0].Amount.Equal(decimal.NewFromInt(180)))

	rec = s.do(http.MethodPost, events+"/abort", nil)
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *ServerSuite) TestErrorMapping() {
	arenaID, classID, eventID := s.setup()
	events := fmt.Sprintf("/events/%d", eventID)

	rec := s.do(http.MethodGet, "/events/999", nil)
	s.Equal(http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, events+"/signups", "{")
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, events+"/signups", signup.Request{CharacterID: 1, SideIndex: 7, CombatantClassID: classID})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, events+"/signups", signup.Request{CharacterID: 1, SideIndex: 1, CombatantClassID: classID})
	s.Equal(http.StatusUnprocessableEntity, rec.Code, "invite-only side")

	rec = s.do(http.MethodPost, events+"/signups", signupBody{
		Request:   signup.Request{CharacterID: 1, SideIndex: 1, CombatantClassID: classID},
		InvitedBy: 5,
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code, "not a manager")

	rec = s.do(http.MethodPost, events+"/signups", signup.Request{CharacterID: 1, SideIndex: 0, CombatantClassID: classID})
	s.Require().Equal(http.StatusCreated, rec.Code)
	rec = s.do(http.MethodPost, events+"/signups", signup.Request{CharacterID: 1, SideIndex: 0, CombatantClassID: classID})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, events+"/resolve", arena.Outcome{WinningSides: []int{0}})
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/arenas/%d", arenaID), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	rec = s.do(http.MethodPost, fmt.Sprintf("/arenas/%d/events", arenaID), map[string]interface{}{
		"sides": []map[string]interface{}{{"index": 0, "capacity": 1}, {"index": 1, "capacity": 1}},
	})
	s.Equal(http.StatusConflict, rec.Code)
}

func (s *ServerSuite) TestEventTypesAndTakeRates() {
	arenaID, _, _ := s.setup()
	sides := []map[string]interface{}{
		{"index": 0, "capacity": 1, "policy": arena.SignupOpen},
		{"index": 1, "capacity": 1, "policy": arena.SignupOpen},
	}

	rec := s.do(http.MethodPost, fmt.Sprintf("/arenas/%d/event-types", arenaID), map[string]interface{}{
		"name":                   "Hourly Duel",
		"registration_duration":  int64(5 * time.Minute),
		"betting_model":          arena.BettingParimutuel,
		"auto_schedule_interval": int64(time.Hour),
		"sides":                  sides,
	})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var et arena.EventType
	s.decode(rec, &et)
	s.True(et.TakeRate.Equal(decimal.RequireFromString("0.1")), "default take rate, got %s", et.TakeRate)
	s.Require().NotNil(et.AutoScheduleReference)

	// Saving a template with a cadence materializes its first instance.
	rec = s.do(http.MethodGet, fmt.Sprintf("/arenas/%d/events", arenaID), nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var events []arena.Event
	s.decode(rec, &events)
	var instances int
	for _, ev := range events {
		if ev.EventTypeID != nil && *ev.EventTypeID == et.ID {
			instances++
			s.True(ev.TakeRate.Equal(decimal.RequireFromString("0.1")))
		}
	}
	s.Equal(1, instances)

	rec = s.do(http.MethodPut, fmt.Sprintf("/event-types/%d", et.ID), map[string]interface{}{
		"name":      "Hourly Duel",
		"take_rate": "0",
		"sides":     sides,
	})
	s.Require().Equal(http.StatusOK, rec.Code)
	var updated arena.EventType
	s.decode(rec, &updated)
	s.True(updated.TakeRate.IsZero(), "explicit zero take rate is kept")
	s.Equal(arenaID, updated.ArenaID)

	rec = s.do(http.MethodPost, fmt.Sprintf("/arenas/%d/event-types", arenaID), map[string]interface{}{
		"take_rate": "-0.5",
		"sides":     sides,
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, fmt.Sprintf("/arenas/%d/events", arenaID), map[string]interface{}{
		"take_rate": "1",
		"sides":     sides,
	})
	s.Equal(http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPut, "/event-types/999", map[string]interface{}{"sides": sides})
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerSuite) TestMetricsEndpoint() {
	s.setup()
	rec := s.do(http.MethodGet, "/metrics", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.True(strings.Contains(rec.Body.String(), "arena_event_transitions_total"))
}
