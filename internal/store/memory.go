package store

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"arenaserver/internal/arena"
)

type ratingKey struct {
	arena, character, class int64
}

type snapshotKey struct {
	arena, event int64
	period       int64
}

// Memory keeps copies of every row so callers never share pointers with the
// store. Isolation comes from the caller's per-event lock; a transaction
// whose fn fails has its writes undone.
type Memory struct {
	mu  sync.Mutex
	seq int64

	arenas       map[int64]*arena.Arena
	classes      map[int64]*arena.CombatantClass
	types        map[int64]*arena.EventType
	events       map[int64]*arena.Event
	signups      map[int64]*arena.Signup
	reservations map[string]*arena.Reservation
	eliminations map[int64][]*arena.Elimination
	ratings      map[ratingKey]*arena.Rating
	bets         map[int64]*arena.Bet
	pools        map[int64][]arena.BetPool
	payouts      map[int64]*arena.BetPayout
	snapshots    map[snapshotKey]*arena.FinanceSnapshot
}

func NewMemory() *Memory {
	return &Memory{
		arenas:       map[int64]*arena.Arena{},
		classes:      map[int64]*arena.CombatantClass{},
		types:        map[int64]*arena.EventType{},
		events:       map[int64]*arena.Event{},
		signups:      map[int64]*arena.Signup{},
		reservations: map[string]*arena.Reservation{},
		eliminations: map[int64][]*arena.Elimination{},
		ratings:      map[ratingKey]*arena.Rating{},
		bets:         map[int64]*arena.Bet{},
		pools:        map[int64][]arena.BetPool{},
		payouts:      map[int64]*arena.BetPayout{},
		snapshots:    map[snapshotKey]*arena.FinanceSnapshot{},
	}
}

func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) SaveArena(_ context.Context, a *arena.Arena) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == 0 {
		a.ID = m.nextID()
	}
	c := *a
	c.Cells = append([]arena.Cell(nil), a.Cells...)
	c.Managers = append([]int64(nil), a.Managers...)
	m.arenas[a.ID] = &c
	return nil
}

func (m *Memory) GetArena(_ context.Context, id int64) (*arena.Arena, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.arenas[id]
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "arena %d", id)
	}
	c := *a
	return &c, nil
}

func (m *Memory) ListArenas(_ context.Context) ([]*arena.Arena, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*arena.Arena, 0, len(m.arenas))
	for _, a := range m.arenas {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveCombatantClass(_ context.Context, cl *arena.CombatantClass) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cl.ID == 0 {
		cl.ID = m.nextID()
	}
	c := *cl
	m.classes[cl.ID] = &c
	return nil
}

func (m *Memory) GetCombatantClass(_ context.Context, id int64) (*arena.CombatantClass, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cl, ok := m.classes[id]
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "combatant class %d", id)
	}
	c := *cl
	return &c, nil
}

func cloneEventType(t *arena.EventType) *arena.EventType {
	c := *t
	c.Sides = make([]arena.EventTypeSide, len(t.Sides))
	for i, s := range t.Sides {
		s.AllowedClasses = append([]int64(nil), s.AllowedClasses...)
		c.Sides[i] = s
	}
	if t.AutoScheduleReference != nil {
		ref := *t.AutoScheduleReference
		c.AutoScheduleReference = &ref
	}
	return &c
}

func (m *Memory) SaveEventType(_ context.Context, t *arena.EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.nextID()
	}
	m.types[t.ID] = cloneEventType(t)
	return nil
}

func (m *Memory) GetEventType(_ context.Context, id int64) (*arena.EventType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.types[id]
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "event type %d", id)
	}
	return cloneEventType(t), nil
}

func (m *Memory) ListAutoScheduledEventTypes(_ context.Context) ([]*arena.EventType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.EventType
	for _, t := range m.types {
		if t.AutoSchedules() {
			out = append(out, cloneEventType(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneEvent(ev *arena.Event) *arena.Event {
	c := *ev
	c.Sides = make([]arena.Side, len(ev.Sides))
	for i, s := range ev.Sides {
		s.AllowedClasses = append([]int64(nil), s.AllowedClasses...)
		c.Sides[i] = s
	}
	if ev.Outcome != nil {
		o := *ev.Outcome
		o.WinningSides = append([]int(nil), ev.Outcome.WinningSides...)
		c.Outcome = &o
	}
	return &c
}

func (m *Memory) SaveEvent(_ context.Context, ev *arena.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == 0 {
		ev.ID = m.nextID()
	}
	m.events[ev.ID] = cloneEvent(ev)
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id int64) (*arena.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "event %d", id)
	}
	return cloneEvent(ev), nil
}

func (m *Memory) ListEvents(_ context.Context, filter EventFilter) ([]*arena.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.Event
	for _, ev := range m.events {
		if filter.Matches(ev) {
			out = append(out, cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveSignup(_ context.Context, s *arena.Signup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextID()
	}
	c := *s
	m.signups[s.ID] = &c
	return nil
}

func (m *Memory) DeleteSignup(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.signups[id]; !ok {
		return eris.Wrapf(arena.ErrNotFound, "signup %d", id)
	}
	delete(m.signups, id)
	return nil
}

func (m *Memory) ListSignups(_ context.Context, eventID int64) ([]*arena.Signup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.Signup
	for _, s := range m.signups {
		if s.EventID == eventID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveReservation(_ context.Context, r *arena.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.reservations[r.ID] = &c
	return nil
}

func (m *Memory) DeleteReservation(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, id)
	return nil
}

func (m *Memory) ListReservations(_ context.Context, eventID int64) ([]*arena.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.Reservation
	for _, r := range m.reservations {
		if r.EventID == eventID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedAt.Before(out[j].ReservedAt) })
	return out, nil
}

func (m *Memory) AppendElimination(_ context.Context, e *arena.Elimination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == 0 {
		e.ID = m.nextID()
	}
	c := *e
	m.eliminations[e.EventID] = append(m.eliminations[e.EventID], &c)
	return nil
}

func (m *Memory) ListEliminations(_ context.Context, eventID int64) ([]*arena.Elimination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*arena.Elimination, 0, len(m.eliminations[eventID]))
	for _, e := range m.eliminations[eventID] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) GetRating(_ context.Context, arenaID, characterID, classID int64) (*arena.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[ratingKey{arenaID, characterID, classID}]
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "rating %d/%d/%d", arenaID, characterID, classID)
	}
	c := *r
	return &c, nil
}

func (m *Memory) UpsertRating(_ context.Context, r *arena.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.ratings[ratingKey{r.ArenaID, r.CharacterID, r.CombatantClassID}] = &c
	return nil
}

func (m *Memory) ListRatings(_ context.Context, arenaID, classID int64) ([]*arena.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.Rating
	for k, r := range m.ratings {
		if k.arena == arenaID && (classID == 0 || k.class == classID) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].CharacterID < out[j].CharacterID
	})
	return out, nil
}

func cloneBet(b *arena.Bet) *arena.Bet {
	c := *b
	if b.CancelledAt != nil {
		at := *b.CancelledAt
		c.CancelledAt = &at
	}
	return &c
}

func (m *Memory) SaveBet(_ context.Context, b *arena.Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.nextID()
	}
	m.bets[b.ID] = cloneBet(b)
	return nil
}

func (m *Memory) ListBets(_ context.Context, eventID int64) ([]*arena.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.Bet
	for _, b := range m.bets {
		if b.EventID == eventID {
			out = append(out, cloneBet(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReplacePools(_ context.Context, eventID int64, pools []arena.BetPool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[eventID] = append([]arena.BetPool(nil), pools...)
	return nil
}

func (m *Memory) ListPools(_ context.Context, eventID int64) ([]arena.BetPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]arena.BetPool(nil), m.pools[eventID]...), nil
}

func clonePayout(p *arena.BetPayout) *arena.BetPayout {
	c := *p
	if p.CollectedAt != nil {
		at := *p.CollectedAt
		c.CollectedAt = &at
	}
	return &c
}

func (m *Memory) ReplacePayouts(_ context.Context, eventID int64, payouts []*arena.BetPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byBet := map[int64]*arena.BetPayout{}
	for id, p := range m.payouts {
		if p.EventID == eventID {
			byBet[p.BetID] = p
			delete(m.payouts, id)
		}
	}
	for _, p := range payouts {
		if prev, ok := byBet[p.BetID]; ok {
			p.ID = prev.ID
		} else if p.ID == 0 {
			p.ID = m.nextID()
		}
		m.payouts[p.ID] = clonePayout(p)
	}
	return nil
}

func (m *Memory) SavePayout(_ context.Context, p *arena.BetPayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		p.ID = m.nextID()
	}
	m.payouts[p.ID] = clonePayout(p)
	return nil
}

func (m *Memory) ListPayouts(_ context.Context, eventID int64) ([]*arena.BetPayout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.BetPayout
	for _, p := range m.payouts {
		if p.EventID == eventID {
			out = append(out, clonePayout(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ReplaceFinanceSnapshot(_ context.Context, s *arena.FinanceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapshotKey{arena: s.ArenaID, period: s.PeriodStart.UnixNano()}
	if s.EventID != nil {
		key.event = *s.EventID
	}
	if prev, ok := m.snapshots[key]; ok {
		s.ID = prev.ID
	} else if s.ID == 0 {
		s.ID = m.nextID()
	}
	c := *s
	m.snapshots[key] = &c
	return nil
}

func (m *Memory) ListFinanceSnapshots(_ context.Context, arenaID int64) ([]*arena.FinanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*arena.FinanceSnapshot
	for _, s := range m.snapshots {
		if s.ArenaID == arenaID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Transaction(_ context.Context, fn func(tx Store) error) error {
	tx := &memoryTx{Memory: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}
