// Package signup places characters and NPCs into event sides. Every method
// runs under the event's lock with the aggregate already loaded; capacity
// always counts live reservations alongside confirmed signups.
package signup

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"arenaserver/config"
	"arenaserver/internal/arena"
	"arenaserver/internal/metrics"
	"arenaserver/internal/progs"
	"arenaserver/internal/rating"
	"arenaserver/internal/store"
)

type Request struct {
	CharacterID      int64  `json:"character_id"`
	SideIndex        int    `json:"side_index"`
	CombatantClassID int64  `json:"combatant_class_id"`
	CombatantName    string `json:"combatant_name"`
	// NPC places a non-player combatant. Only a manager can do that, and
	// only on a side that allows NPC signups.
	NPC bool `json:"npc"`
	// Invited is set when an arena manager places the character, which is
	// the only way onto an invite-only side.
	Invited bool `json:"-"`
}

type Matchmaker struct {
	clock       clockwork.Clock
	ttl         time.Duration
	progTimeout time.Duration
	eligibility progs.EligibilityPredicate
	npcs        progs.NPCLoader
	ratings     *rating.Service
	metrics     *metrics.Metrics
	log         zerolog.Logger
}

func NewMatchmaker(cfg config.ArenaConfig, clock clockwork.Clock, eligibility progs.EligibilityPredicate, npcs progs.NPCLoader,
	ratings *rating.Service, m *metrics.Metrics, log zerolog.Logger) *Matchmaker {
	return &Matchmaker{
		clock:       clock,
		ttl:         cfg.ReservationTTL,
		progTimeout: cfg.ProgTimeout,
		eligibility: eligibility,
		npcs:        npcs,
		ratings:     ratings,
		metrics:     m,
		log:         log.With().Str("component", "signup").Logger(),
	}
}

// Reserve holds a slot for TTL. The slot counts against capacity until it is
// claimed, released or expires.
func (m *Matchmaker) Reserve(ctx context.Context, tx store.Store, agg *arena.Aggregate, req Request) (*arena.Reservation, error) {
	if req.NPC {
		err := eris.Wrap(arena.ErrSignupClosed, "npcs are signed up directly, not reserved")
		m.reject(agg, req, err)
		return nil, err
	}
	if err := m.validate(ctx, tx, agg, req); err != nil {
		m.reject(agg, req, err)
		return nil, err
	}

	now := m.clock.Now()
	r := &arena.Reservation{
		ID:               uuid.NewString(),
		EventID:          agg.Event.ID,
		SideIndex:        req.SideIndex,
		CharacterID:      req.CharacterID,
		CombatantClassID: req.CombatantClassID,
		ReservedAt:       now,
		ExpiresAt:        now.Add(m.ttl),
	}
	if err := tx.SaveReservation(ctx, r); err != nil {
		return nil, err
	}
	agg.Reservations = append(agg.Reservations, r)

	m.metrics.Signups.WithLabelValues("reserved").Inc()
	m.log.Info().Int64("event_id", agg.Event.ID).Int("side", r.SideIndex).
		Int64("character_id", r.CharacterID).Str("reservation_id", r.ID).Msg("slot reserved")
	return r, nil
}

// Claim converts a live reservation into a signup. Occupancy does not
// change: the reservation's slot becomes the signup's.
func (m *Matchmaker) Claim(ctx context.Context, tx store.Store, agg *arena.Aggregate, reservationID string, characterID int64, name string) (*arena.Signup, error) {
	if agg.Event.State != arena.StateRegistrationOpen {
		return nil, eris.Wrapf(arena.ErrWrongState, "event %d is %s", agg.Event.ID, agg.Event.State)
	}
	r, ok := agg.Reservation(reservationID)
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "reservation %s", reservationID)
	}
	if r.CharacterID != characterID {
		return nil, eris.Wrapf(arena.ErrReservationOwner, "reservation %s", reservationID)
	}
	if r.Expired(m.clock.Now()) {
		if _, err := m.Reclaim(ctx, tx, agg); err != nil {
			return nil, err
		}
		return nil, eris.Wrapf(arena.ErrReservationExpired, "reservation %s expired at %s", reservationID, r.ExpiresAt)
	}

	su, err := m.newSignup(ctx, tx, agg, Request{
		CharacterID:      r.CharacterID,
		SideIndex:        r.SideIndex,
		CombatantClassID: r.CombatantClassID,
		CombatantName:    name,
	})
	if err != nil {
		return nil, err
	}
	su.ReservationID = r.ID

	if err := tx.DeleteReservation(ctx, r.ID); err != nil {
		return nil, err
	}
	agg.RemoveReservation(r.ID)
	if err := m.commit(ctx, tx, agg, su); err != nil {
		return nil, err
	}
	return su, nil
}

// Signup validates and confirms in one step, without a reservation.
func (m *Matchmaker) Signup(ctx context.Context, tx store.Store, agg *arena.Aggregate, req Request) (*arena.Signup, error) {
	if err := m.validate(ctx, tx, agg, req); err != nil {
		m.reject(agg, req, err)
		return nil, err
	}
	su, err := m.newSignup(ctx, tx, agg, req)
	if err != nil {
		return nil, err
	}
	if err := m.commit(ctx, tx, agg, su); err != nil {
		return nil, err
	}
	return su, nil
}

// Withdraw removes a character's own signup while registration is open.
func (m *Matchmaker) Withdraw(ctx context.Context, tx store.Store, agg *arena.Aggregate, signupID, characterID int64) error {
	if agg.Event.State != arena.StateRegistrationOpen {
		return eris.Wrapf(arena.ErrWrongState, "event %d is %s", agg.Event.ID, agg.Event.State)
	}
	su, ok := agg.Signup(signupID)
	if !ok || su.IsNPC || su.CharacterID != characterID {
		return eris.Wrapf(arena.ErrNotFound, "signup %d for character %d", signupID, characterID)
	}
	if err := tx.DeleteSignup(ctx, su.ID); err != nil {
		return err
	}
	agg.RemoveSignup(su.ID)
	m.metrics.Signups.WithLabelValues("withdrawn").Inc()
	m.log.Info().Int64("event_id", agg.Event.ID).Int64("signup_id", su.ID).Msg("signup withdrawn")
	return nil
}

// Release gives a reservation back before it expires.
func (m *Matchmaker) Release(ctx context.Context, tx store.Store, agg *arena.Aggregate, reservationID string, characterID int64) error {
	r, ok := agg.Reservation(reservationID)
	if !ok {
		return eris.Wrapf(arena.ErrNotFound, "reservation %s", reservationID)
	}
	if r.CharacterID != characterID {
		return eris.Wrapf(arena.ErrReservationOwner, "reservation %s", reservationID)
	}
	if err := tx.DeleteReservation(ctx, r.ID); err != nil {
		return err
	}
	agg.RemoveReservation(r.ID)
	return nil
}

// Reclaim drops expired reservations from the aggregate and the store.
// Expiry is silent: callers only learn how many slots came back.
func (m *Matchmaker) Reclaim(ctx context.Context, tx store.Store, agg *arena.Aggregate) (int, error) {
	expired := agg.ReclaimExpired(m.clock.Now())
	for _, r := range expired {
		if err := tx.DeleteReservation(ctx, r.ID); err != nil {
			return 0, err
		}
		m.log.Debug().Int64("event_id", agg.Event.ID).Str("reservation_id", r.ID).Msg("reservation expired")
	}
	m.metrics.ReservationsFreed.Add(float64(len(expired)))
	return len(expired), nil
}

// ClearReservations drops every pending reservation, expired or not. Used
// when registration closes and when an event is aborted.
func (m *Matchmaker) ClearReservations(ctx context.Context, tx store.Store, agg *arena.Aggregate) error {
	for _, r := range agg.Reservations {
		if err := tx.DeleteReservation(ctx, r.ID); err != nil {
			return err
		}
	}
	agg.Reservations = nil
	return nil
}

// Backfill asks the NPC loader to top up every side that permits NPC fill
// and is still under capacity. A loader that fails or overruns leaves that
// side as it is.
func (m *Matchmaker) Backfill(ctx context.Context, tx store.Store, agg *arena.Aggregate) ([]*arena.Signup, error) {
	var added []*arena.Signup
	now := m.clock.Now()
	for i := range agg.Event.Sides {
		side := &agg.Event.Sides[i]
		if !side.AutoFillNPC {
			continue
		}
		want := side.Capacity - agg.Occupancy(side.Index, now)
		if want <= 0 {
			continue
		}

		npcs, err := progs.Call(ctx, m.progTimeout, func(ctx context.Context) ([]progs.Combatant, error) {
			return m.npcs.LoadNPCs(ctx, agg.Event, side, want)
		})
		if err != nil {
			m.metrics.ProgFailures.WithLabelValues("npc_loader").Inc()
			m.log.Warn().Err(err).Int64("event_id", agg.Event.ID).Int("side", side.Index).Msg("npc backfill skipped")
			continue
		}

		for _, c := range npcs {
			if want == 0 {
				break
			}
			if !side.AllowsClass(c.CombatantClassID) {
				m.log.Warn().Int64("event_id", agg.Event.ID).Int("side", side.Index).
					Int64("class_id", c.CombatantClassID).Msg("npc class not allowed on side")
				continue
			}
			r := c.Rating
			if r == 0 {
				r = m.ratings.Engine().Initial()
			}
			su := &arena.Signup{
				EventID:          agg.Event.ID,
				SideIndex:        side.Index,
				CharacterID:      c.CharacterID,
				IsNPC:            true,
				CombatantName:    c.Name,
				CombatantClassID: c.CombatantClassID,
				StartingRating:   r,
				SignedUpAt:       now,
			}
			if err := m.commit(ctx, tx, agg, su); err != nil {
				return added, err
			}
			added = append(added, su)
			want--
		}
	}
	return added, nil
}

func (m *Matchmaker) validate(ctx context.Context, tx store.Store, agg *arena.Aggregate, req Request) error {
	ev := agg.Event
	if ev.State != arena.StateRegistrationOpen {
		return eris.Wrapf(arena.ErrWrongState, "event %d is %s", ev.ID, ev.State)
	}
	if _, err := m.Reclaim(ctx, tx, agg); err != nil {
		return err
	}

	side, ok := ev.Side(req.SideIndex)
	if !ok {
		return eris.Wrapf(arena.ErrInvalidSide, "side %d", req.SideIndex)
	}
	switch side.Policy {
	case arena.SignupClosed:
		return eris.Wrapf(arena.ErrSignupClosed, "side %d is closed", side.Index)
	case arena.SignupInvite:
		if !req.Invited {
			return eris.Wrapf(arena.ErrSignupClosed, "side %d is invite only", side.Index)
		}
	}
	if req.NPC {
		if !side.AllowNPCSignup {
			return eris.Wrapf(arena.ErrSignupClosed, "side %d does not take npcs", side.Index)
		}
		if !req.Invited {
			return eris.Wrapf(arena.ErrSignupClosed, "npcs on side %d are placed by a manager", side.Index)
		}
	}
	if agg.HoldsSlot(req.CharacterID, m.clock.Now()) {
		return eris.Wrapf(arena.ErrAlreadySignedUp, "character %d", req.CharacterID)
	}
	if occ := agg.Occupancy(side.Index, m.clock.Now()); occ >= side.Capacity {
		return eris.Wrapf(arena.ErrCapacityExceeded, "side %d holds %d of %d", side.Index, occ, side.Capacity)
	}
	if !side.AllowsClass(req.CombatantClassID) {
		return eris.Wrapf(arena.ErrClassNotAllowed, "class %d on side %d", req.CombatantClassID, side.Index)
	}

	class, err := tx.GetCombatantClass(ctx, req.CombatantClassID)
	if err != nil {
		if eris.Is(err, arena.ErrNotFound) {
			return eris.Wrapf(arena.ErrClassNotAllowed, "class %d does not exist", req.CombatantClassID)
		}
		return err
	}
	if class.ArenaID != ev.ArenaID {
		return eris.Wrapf(arena.ErrClassNotAllowed, "class %d belongs to arena %d", class.ID, class.ArenaID)
	}

	// NPC eligibility is the loader's concern, as in backfill.
	if req.NPC {
		return nil
	}
	eligible, err := progs.Call(ctx, m.progTimeout, func(ctx context.Context) (bool, error) {
		return m.eligibility.Eligible(ctx, req.CharacterID, class)
	})
	if err != nil {
		m.metrics.ProgFailures.WithLabelValues("eligibility").Inc()
		m.log.Warn().Err(err).Int64("event_id", ev.ID).Int64("character_id", req.CharacterID).Msg("eligibility check failed closed")
		return eris.Wrapf(arena.ErrIneligible, "character %d: %s", req.CharacterID, err)
	}
	if !eligible {
		return eris.Wrapf(arena.ErrIneligible, "character %d for class %d", req.CharacterID, class.ID)
	}
	return nil
}

func (m *Matchmaker) newSignup(ctx context.Context, tx store.Store, agg *arena.Aggregate, req Request) (*arena.Signup, error) {
	current, err := m.ratings.Current(ctx, tx, agg.Event.ArenaID, req.CharacterID, req.CombatantClassID)
	if err != nil {
		return nil, err
	}
	return &arena.Signup{
		EventID:          agg.Event.ID,
		SideIndex:        req.SideIndex,
		CharacterID:      req.CharacterID,
		IsNPC:            req.NPC,
		CombatantName:    req.CombatantName,
		CombatantClassID: req.CombatantClassID,
		StartingRating:   current.Value,
		SignedUpAt:       m.clock.Now(),
	}, nil
}

func (m *Matchmaker) commit(ctx context.Context, tx store.Store, agg *arena.Aggregate, su *arena.Signup) error {
	if err := tx.SaveSignup(ctx, su); err != nil {
		return err
	}
	agg.Signups = append(agg.Signups, su)
	if err := agg.CheckInvariants(m.clock.Now()); err != nil {
		return err
	}
	m.metrics.Signups.WithLabelValues("accepted").Inc()
	m.log.Info().Int64("event_id", agg.Event.ID).Int("side", su.SideIndex).Int64("signup_id", su.ID).
		Int64("character_id", su.CharacterID).Bool("npc", su.IsNPC).Msg("signup confirmed")
	return nil
}

func (m *Matchmaker) reject(agg *arena.Aggregate, req Request, err error) {
	m.metrics.Signups.WithLabelValues("rejected").Inc()
	m.log.Debug().Err(err).Int64("event_id", agg.Event.ID).Int("side", req.SideIndex).
		Int64("character_id", req.CharacterID).Msg("signup rejected")
}
