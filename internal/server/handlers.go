package server

import (
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"arenaserver/internal/arena"
	"arenaserver/internal/betting"
	"arenaserver/internal/signup"
	"arenaserver/internal/store"
)

type arenaBody struct {
	Name          string       `json:"name"`
	CurrencyID    int64        `json:"currency_id"`
	BankAccountID string       `json:"bank_account_id"`
	Cells         []arena.Cell `json:"cells"`
	Managers      []int64      `json:"managers"`
}

func (s *Server) createArena(w http.ResponseWriter, r *http.Request) {
	var body arenaBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	if body.Name == "" || body.BankAccountID == "" {
		s.fail(w, r, eris.Wrap(errBadRequest, "name and bank_account_id are required"))
		return
	}
	a := arena.NewArena(body.Name, body.CurrencyID, body.BankAccountID)
	a.Cells, a.Managers = body.Cells, body.Managers
	a.CreatedAt = s.clock.Now()
	if err := s.store.SaveArena(r.Context(), a); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) listArenas(w http.ResponseWriter, r *http.Request) {
	arenas, err := s.store.ListArenas(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, arenas)
}

func (s *Server) getArena(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.store.GetArena(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// deleteArena only marks the arena deleted; its events keep referencing it.
func (s *Server) deleteArena(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.store.GetArena(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a.IsDeleted = true
	if err := s.store.SaveArena(r.Context(), a); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) createClass(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var c arena.CombatantClass
	if err := decode(r, &c); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.store.GetArena(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	c.ID, c.ArenaID = 0, id
	if err := s.store.SaveCombatantClass(r.Context(), &c); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// eventTypeBody tells an omitted take rate apart from an explicit zero.
type eventTypeBody struct {
	arena.EventType
	TakeRate *decimal.Decimal `json:"take_rate"`
}

func (b *eventTypeBody) template(arenaID int64, fallback decimal.Decimal) *arena.EventType {
	t := b.EventType
	t.ArenaID = arenaID
	t.TakeRate = fallback
	if b.TakeRate != nil {
		t.TakeRate = *b.TakeRate
	}
	return &t
}

func (s *Server) createEventType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body eventTypeBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	t := body.template(id, s.ctrl.DefaultTakeRate())
	t.ID = 0
	saved, err := s.ctrl.SaveEventType(r.Context(), t)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) updateEventType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	prev, err := s.store.GetEventType(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body eventTypeBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	t := body.template(prev.ArenaID, prev.TakeRate)
	t.ID = id
	saved, err := s.ctrl.SaveEventType(r.Context(), t)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

type createEventBody struct {
	Name        string    `json:"name"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (s *Server) createFromType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body createEventBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := s.ctrl.CreateEvent(r.Context(), id, body.Name, body.ScheduledAt)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (s *Server) scheduleEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		arena.Event
		TakeRate *decimal.Decimal `json:"take_rate"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	ev := body.Event
	ev.TakeRate = s.ctrl.DefaultTakeRate()
	if body.TakeRate != nil {
		ev.TakeRate = *body.TakeRate
	}
	// Only the definition is taken from the body; progress starts fresh.
	scheduled := &arena.Event{
		ArenaID:                  id,
		Name:                     ev.Name,
		State:                    arena.StateScheduled,
		ScheduledAt:              ev.ScheduledAt,
		RegistrationDuration:     ev.RegistrationDuration,
		PreparationDuration:      ev.PreparationDuration,
		TimeLimit:                ev.TimeLimit,
		BettingModel:             ev.BettingModel,
		EliminationMode:          ev.EliminationMode,
		TakeRate:                 ev.TakeRate,
		AppearanceFee:            ev.AppearanceFee,
		VictoryFee:               ev.VictoryFee,
		PayNPCAppearanceFee:      ev.PayNPCAppearanceFee,
		ResolutionOverrideProgID: ev.ResolutionOverrideProgID,
		Sides:                    ev.Sides,
	}
	if _, err := s.ctrl.Schedule(r.Context(), scheduled); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scheduled)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	filter := store.EventFilter{ArenaID: id}
	for _, st := range r.URL.Query()["state"] {
		filter.States = append(filter.States, arena.State(st))
	}
	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listRatings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	classID, err := queryID(r, "class")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ratings, err := s.store.ListRatings(r.Context(), id, classID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

func (s *Server) listFinance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snaps, err := s.store.ListFinanceSnapshots(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

type sideView struct {
	arena.Side
	Occupancy int `json:"occupancy"`
}

type eventView struct {
	*arena.Event
	Sides        []sideView           `json:"sides"`
	Signups      []*arena.Signup      `json:"signups"`
	Eliminations []*arena.Elimination `json:"eliminations"`
	Pools        []arena.BetPool      `json:"pools"`
	Payouts      []*arena.BetPayout   `json:"payouts"`
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	agg, err := s.ctrl.Event(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.clock.Now()
	view := eventView{
		Event:        agg.Event,
		Signups:      agg.Signups,
		Eliminations: agg.Eliminations,
		Pools:        agg.Pools,
		Payouts:      agg.Payouts,
	}
	for _, side := range agg.Event.Sides {
		view.Sides = append(view.Sides, sideView{Side: side, Occupancy: agg.Occupancy(side.Index, now)})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) quote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	quotes, err := s.ctrl.Quote(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

type signupBody struct {
	signup.Request
	// InvitedBy names the arena manager placing the character.
	InvitedBy int64 `json:"invited_by"`
}

// request resolves an invitation against the arena's managers.
func (s *Server) request(r *http.Request, eventID int64, body signupBody) (signup.Request, error) {
	req := body.Request
	if body.InvitedBy == 0 {
		return req, nil
	}
	ev, err := s.store.GetEvent(r.Context(), eventID)
	if err != nil {
		return req, err
	}
	a, err := s.store.GetArena(r.Context(), ev.ArenaID)
	if err != nil {
		return req, err
	}
	if !a.IsManager(body.InvitedBy) {
		return req, eris.Wrapf(arena.ErrSignupClosed, "character %d does not manage arena %d", body.InvitedBy, a.ID)
	}
	req.Invited = true
	return req, nil
}

func (s *Server) reserve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body signupBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.request(r, id, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.ctrl.Reserve(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type claimBody struct {
	CharacterID   int64  `json:"character_id"`
	CombatantName string `json:"combatant_name"`
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body claimBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	su, err := s.ctrl.Claim(r.Context(), id, muxVar(r, "rid"), body.CharacterID, body.CombatantName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, su)
}

func (s *Server) releaseReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	characterID, err := queryID(r, "character_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ctrl.ReleaseReservation(r.Context(), id, muxVar(r, "rid"), characterID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body signupBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	req, err := s.request(r, id, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	su, err := s.ctrl.Signup(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, su)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	signupID, err := pathID(r, "sid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	characterID, err := queryID(r, "character_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ctrl.Withdraw(r.Context(), id, signupID, characterID); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req betting.BetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	bet, err := s.ctrl.PlaceBet(r.Context(), id, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

func (s *Server) cancelBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	betID, err := pathID(r, "bid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	characterID, err := queryID(r, "character_id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	bet, err := s.ctrl.CancelBet(r.Context(), id, betID, characterID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

func (s *Server) collectPayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	payoutID, err := pathID(r, "pid")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.ctrl.CollectPayout(r.Context(), id, payoutID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type eliminationBody struct {
	SignupID int64                   `json:"signup_id"`
	Reason   arena.EliminationReason `json:"reason"`
}

func (s *Server) recordElimination(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body eliminationBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	e, err := s.ctrl.RecordElimination(r.Context(), id, body.SignupID, body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// resolve is the callback the external combat resolver reports to.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var outcome arena.Outcome
	if err := decode(r, &outcome); err != nil {
		s.fail(w, r, err)
		return
	}
	outcome.Forced = false
	ev, err := s.ctrl.Resolve(r.Context(), id, outcome)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

type abortBody struct {
	Reason string `json:"reason"`
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body abortBody
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	ev, err := s.ctrl.Abort(r.Context(), id, body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ctrl.Resume(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	ev, err := s.store.GetEvent(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
