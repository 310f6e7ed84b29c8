package arena

import (
	"time"

	"github.com/rotisserie/eris"
)

// Aggregate is the in-memory state of one event. It is only mutated while the
// event's lock is held and is flushed to the store after every change.
type Aggregate struct {
	Event        *Event
	Signups      []*Signup
	Reservations []*Reservation
	Eliminations []*Elimination
	Bets         []*Bet
	Pools        []BetPool
	Payouts      []*BetPayout
}

// Occupancy counts signups plus unexpired reservations on a side.
func (a *Aggregate) Occupancy(side int, now time.Time) int {
	n := 0
	for _, s := range a.Signups {
		if s.SideIndex == side {
			n++
		}
	}
	for _, r := range a.Reservations {
		if r.SideIndex == side && !r.Expired(now) {
			n++
		}
	}
	return n
}

// ReclaimExpired drops every expired reservation and returns them.
func (a *Aggregate) ReclaimExpired(now time.Time) []*Reservation {
	var expired []*Reservation
	kept := a.Reservations[:0]
	for _, r := range a.Reservations {
		if r.Expired(now) {
			expired = append(expired, r)
			continue
		}
		kept = append(kept, r)
	}
	a.Reservations = kept
	return expired
}

func (a *Aggregate) Reservation(id string) (*Reservation, bool) {
	for _, r := range a.Reservations {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

func (a *Aggregate) RemoveReservation(id string) bool {
	for i, r := range a.Reservations {
		if r.ID == id {
			a.Reservations = append(a.Reservations[:i], a.Reservations[i+1:]...)
			return true
		}
	}
	return false
}

func (a *Aggregate) Signup(id int64) (*Signup, bool) {
	for _, s := range a.Signups {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

func (a *Aggregate) RemoveSignup(id int64) bool {
	for i, s := range a.Signups {
		if s.ID == id {
			a.Signups = append(a.Signups[:i], a.Signups[i+1:]...)
			return true
		}
	}
	return false
}

func (a *Aggregate) SignupsOnSide(side int) []*Signup {
	var out []*Signup
	for _, s := range a.Signups {
		if s.SideIndex == side {
			out = append(out, s)
		}
	}
	return out
}

// HoldsSlot reports whether a character already has a signup or a live
// reservation in this event.
func (a *Aggregate) HoldsSlot(characterID int64, now time.Time) bool {
	for _, s := range a.Signups {
		if !s.IsNPC && s.CharacterID == characterID {
			return true
		}
	}
	for _, r := range a.Reservations {
		if r.CharacterID == characterID && !r.Expired(now) {
			return true
		}
	}
	return false
}

func (a *Aggregate) Eliminated(signupID int64) bool {
	for _, e := range a.Eliminations {
		if e.SignupID == signupID {
			return true
		}
	}
	return false
}

// PopulatedSides counts sides with at least one signup.
func (a *Aggregate) PopulatedSides() int {
	n := 0
	for _, side := range a.Event.Sides {
		if len(a.SignupsOnSide(side.Index)) > 0 {
			n++
		}
	}
	return n
}

func (a *Aggregate) Bet(id int64) (*Bet, bool) {
	for _, b := range a.Bets {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

func (a *Aggregate) Payout(id int64) (*BetPayout, bool) {
	for _, p := range a.Payouts {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

func (a *Aggregate) Pool(side int, model OddsModel) (BetPool, bool) {
	for _, p := range a.Pools {
		if p.SideIndex == side && p.Model == model {
			return p, true
		}
	}
	return BetPool{}, false
}

// CheckInvariants verifies the cross-row consistency rules: no side is over
// capacity and every pool equals the sum of its active bets.
func (a *Aggregate) CheckInvariants(now time.Time) error {
	for _, side := range a.Event.Sides {
		if occ := a.Occupancy(side.Index, now); occ > side.Capacity {
			return eris.Wrapf(ErrCapacityExceeded, "side %d holds %d of %d", side.Index, occ, side.Capacity)
		}
	}
	if len(a.Pools) == 0 {
		return nil
	}
	for _, want := range RecomputePools(a.Event, a.Bets) {
		got, ok := a.Pool(want.SideIndex, want.Model)
		if !ok || !got.TotalStake.Equal(want.TotalStake) {
			return eris.Wrapf(ErrSettlementInconsistent, "pool side %d %s is %s, bets total %s",
				want.SideIndex, want.Model, got.TotalStake, want.TotalStake)
		}
	}
	return nil
}
