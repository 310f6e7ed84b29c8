package store

import (
	"context"

	"arenaserver/internal/arena"
)

// memoryTx is the Store handed to a Memory transaction. Reads go straight to
// the shared maps; every write first records how to put back the rows it
// replaces, and rollback replays those records newest first. Only rows the
// transaction touched are restored, so concurrent transactions on other
// events keep their writes.
type memoryTx struct {
	*Memory
	undo []func()
}

// keep records the current value of tbl[key] so rollback can restore it.
func keep[K comparable, V any](tx *memoryTx, tbl map[K]V, key K) {
	tx.mu.Lock()
	prev, had := tbl[key]
	tx.mu.Unlock()
	tx.undo = append(tx.undo, func() {
		if had {
			tbl[key] = prev
		} else {
			delete(tbl, key)
		}
	})
}

// forget schedules removal of a row that was inserted under a fresh ID.
func forget[K comparable, V any](tx *memoryTx, tbl map[K]V, key K) {
	tx.undo = append(tx.undo, func() { delete(tbl, key) })
}

func (tx *memoryTx) rollback() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// Transaction inside a transaction joins the outer one.
func (tx *memoryTx) Transaction(_ context.Context, fn func(tx Store) error) error {
	return fn(tx)
}

func (tx *memoryTx) SaveArena(ctx context.Context, a *arena.Arena) error {
	if a.ID != 0 {
		keep(tx, tx.arenas, a.ID)
		return tx.Memory.SaveArena(ctx, a)
	}
	if err := tx.Memory.SaveArena(ctx, a); err != nil {
		return err
	}
	forget(tx, tx.arenas, a.ID)
	return nil
}

func (tx *memoryTx) SaveCombatantClass(ctx context.Context, c *arena.CombatantClass) error {
	if c.ID != 0 {
		keep(tx, tx.classes, c.ID)
		return tx.Memory.SaveCombatantClass(ctx, c)
	}
	if err := tx.Memory.SaveCombatantClass(ctx, c); err != nil {
		return err
	}
	forget(tx, tx.classes, c.ID)
	return nil
}

func (tx *memoryTx) SaveEventType(ctx context.Context, t *arena.EventType) error {
	if t.ID != 0 {
		keep(tx, tx.types, t.ID)
		return tx.Memory.SaveEventType(ctx, t)
	}
	if err := tx.Memory.SaveEventType(ctx, t); err != nil {
		return err
	}
	forget(tx, tx.types, t.ID)
	return nil
}

func (tx *memoryTx) SaveEvent(ctx context.Context, ev *arena.Event) error {
	if ev.ID != 0 {
		keep(tx, tx.events, ev.ID)
		return tx.Memory.SaveEvent(ctx, ev)
	}
	if err := tx.Memory.SaveEvent(ctx, ev); err != nil {
		return err
	}
	forget(tx, tx.events, ev.ID)
	return nil
}

func (tx *memoryTx) SaveSignup(ctx context.Context, s *arena.Signup) error {
	if s.ID != 0 {
		keep(tx, tx.signups, s.ID)
		return tx.Memory.SaveSignup(ctx, s)
	}
	if err := tx.Memory.SaveSignup(ctx, s); err != nil {
		return err
	}
	forget(tx, tx.signups, s.ID)
	return nil
}

func (tx *memoryTx) DeleteSignup(ctx context.Context, id int64) error {
	keep(tx, tx.signups, id)
	return tx.Memory.DeleteSignup(ctx, id)
}

func (tx *memoryTx) SaveReservation(ctx context.Context, r *arena.Reservation) error {
	keep(tx, tx.reservations, r.ID)
	return tx.Memory.SaveReservation(ctx, r)
}

func (tx *memoryTx) DeleteReservation(ctx context.Context, id string) error {
	keep(tx, tx.reservations, id)
	return tx.Memory.DeleteReservation(ctx, id)
}

func (tx *memoryTx) AppendElimination(ctx context.Context, e *arena.Elimination) error {
	keep(tx, tx.eliminations, e.EventID)
	return tx.Memory.AppendElimination(ctx, e)
}

func (tx *memoryTx) UpsertRating(ctx context.Context, r *arena.Rating) error {
	keep(tx, tx.ratings, ratingKey{r.ArenaID, r.CharacterID, r.CombatantClassID})
	return tx.Memory.UpsertRating(ctx, r)
}

func (tx *memoryTx) SaveBet(ctx context.Context, b *arena.Bet) error {
	if b.ID != 0 {
		keep(tx, tx.bets, b.ID)
		return tx.Memory.SaveBet(ctx, b)
	}
	if err := tx.Memory.SaveBet(ctx, b); err != nil {
		return err
	}
	forget(tx, tx.bets, b.ID)
	return nil
}

func (tx *memoryTx) ReplacePools(ctx context.Context, eventID int64, pools []arena.BetPool) error {
	keep(tx, tx.pools, eventID)
	return tx.Memory.ReplacePools(ctx, eventID, pools)
}

// ReplacePayouts rewrites every payout row of the event, so rollback puts
// back the whole set.
func (tx *memoryTx) ReplacePayouts(ctx context.Context, eventID int64, payouts []*arena.BetPayout) error {
	tx.mu.Lock()
	prev := map[int64]*arena.BetPayout{}
	for id, p := range tx.payouts {
		if p.EventID == eventID {
			prev[id] = p
		}
	}
	tx.mu.Unlock()
	tx.undo = append(tx.undo, func() {
		for id, p := range tx.payouts {
			if p.EventID == eventID {
				delete(tx.payouts, id)
			}
		}
		for id, p := range prev {
			tx.payouts[id] = p
		}
	})
	return tx.Memory.ReplacePayouts(ctx, eventID, payouts)
}

func (tx *memoryTx) SavePayout(ctx context.Context, p *arena.BetPayout) error {
	if p.ID != 0 {
		keep(tx, tx.payouts, p.ID)
		return tx.Memory.SavePayout(ctx, p)
	}
	if err := tx.Memory.SavePayout(ctx, p); err != nil {
		return err
	}
	forget(tx, tx.payouts, p.ID)
	return nil
}

func (tx *memoryTx) ReplaceFinanceSnapshot(ctx context.Context, s *arena.FinanceSnapshot) error {
	key := snapshotKey{arena: s.ArenaID, period: s.PeriodStart.UnixNano()}
	if s.EventID != nil {
		key.event = *s.EventID
	}
	keep(tx, tx.snapshots, key)
	return tx.Memory.ReplaceFinanceSnapshot(ctx, s)
}
