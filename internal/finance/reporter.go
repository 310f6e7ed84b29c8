// Package finance pays event fees and keeps the derived revenue, cost and
// profit rollups per event and per period. Snapshots are never
// authoritative; recomputing one replaces the previous row.
package finance

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arenaserver/internal/arena"
	"arenaserver/internal/ledger"
	"arenaserver/internal/store"
)

// TaxCalculator is the economic-zone collaborator that decides how much of
// a profit is withheld.
type TaxCalculator interface {
	Withhold(ctx context.Context, arenaID int64, profit decimal.Decimal) (decimal.Decimal, error)
}

type NoTax struct{}

func (NoTax) Withhold(context.Context, int64, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type Reporter struct {
	bank  ledger.Bank
	clock clockwork.Clock
	tax   TaxCalculator
	log   zerolog.Logger
}

func NewReporter(bank ledger.Bank, clock clockwork.Clock, tax TaxCalculator, log zerolog.Logger) *Reporter {
	if tax == nil {
		tax = NoTax{}
	}
	return &Reporter{bank: bank, clock: clock, tax: tax, log: log.With().Str("component", "finance").Logger()}
}

// PayFees pays appearance fees to every participant and victory fees to
// the members of winning sides, out of the arena account. NPCs only draw an
// appearance fee when the event says so, and never a victory fee.
func (r *Reporter) PayFees(ctx context.Context, agg *arena.Aggregate, arenaAccount string) error {
	ev := agg.Event
	for _, su := range agg.Signups {
		if ev.AppearanceFee.IsPositive() && (!su.IsNPC || ev.PayNPCAppearanceFee) {
			if err := r.bank.Transfer(ctx, arenaAccount, ledger.CharacterAccount(su.CharacterID), ev.AppearanceFee, ledger.AppearanceRef(su.ID)); err != nil {
				return eris.Wrapf(err, "appearance fee for signup %d", su.ID)
			}
		}
		if ev.VictoryFee.IsPositive() && !su.IsNPC && ev.Outcome != nil && ev.Outcome.Won(su.SideIndex) {
			if err := r.bank.Transfer(ctx, arenaAccount, ledger.CharacterAccount(su.CharacterID), ev.VictoryFee, ledger.VictoryRef(su.ID)); err != nil {
				return eris.Wrapf(err, "victory fee for signup %d", su.ID)
			}
		}
	}
	return nil
}

// Fees is what the event owes its combatants.
func Fees(agg *arena.Aggregate) decimal.Decimal {
	ev := agg.Event
	total := decimal.Zero
	for _, su := range agg.Signups {
		if !su.IsNPC || ev.PayNPCAppearanceFee {
			total = total.Add(ev.AppearanceFee)
		}
		if !su.IsNPC && ev.Outcome != nil && ev.Outcome.Won(su.SideIndex) {
			total = total.Add(ev.VictoryFee)
		}
	}
	return total
}

// EventSnapshot derives one event's figures: revenue is the stake the
// market held, cost is what it paid back plus fees.
func (r *Reporter) EventSnapshot(ctx context.Context, agg *arena.Aggregate) (*arena.FinanceSnapshot, error) {
	ev := agg.Event
	revenue := decimal.Zero
	for _, b := range agg.Bets {
		if b.Active() {
			revenue = revenue.Add(b.Stake)
		}
	}
	cost := Fees(agg)
	for _, p := range agg.Payouts {
		cost = cost.Add(p.Amount)
	}

	tax, err := r.tax.Withhold(ctx, ev.ArenaID, revenue.Sub(cost))
	if err != nil {
		return nil, eris.Wrapf(err, "tax for event %d", ev.ID)
	}

	start := ev.ScheduledAt
	if ev.StartedAt != nil {
		start = *ev.StartedAt
	}
	end := r.clock.Now()
	if ev.ResolvedAt != nil {
		end = *ev.ResolvedAt
	}
	eventID := ev.ID
	return &arena.FinanceSnapshot{
		ArenaID:     ev.ArenaID,
		EventID:     &eventID,
		PeriodStart: start,
		PeriodEnd:   end,
		Revenue:     revenue,
		Cost:        cost,
		TaxWithheld: tax,
		Profit:      revenue.Sub(cost).Sub(tax),
		CreatedAt:   r.clock.Now(),
	}, nil
}

// RecordEvent pays the event's fees and replaces its snapshot.
func (r *Reporter) RecordEvent(ctx context.Context, tx store.Store, agg *arena.Aggregate, arenaAccount string) (*arena.FinanceSnapshot, error) {
	if err := r.PayFees(ctx, agg, arenaAccount); err != nil {
		return nil, err
	}
	snap, err := r.EventSnapshot(ctx, agg)
	if err != nil {
		return nil, err
	}
	if err := tx.ReplaceFinanceSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	agg.Event.Resolution.FinanceRecorded = true

	r.log.Info().Int64("arena_id", snap.ArenaID).Int64("event_id", agg.Event.ID).
		Str("revenue", snap.Revenue.String()).Str("cost", snap.Cost.String()).
		Str("profit", snap.Profit.String()).Msg("event finance recorded")
	return snap, nil
}

// SnapshotPeriod rolls up the event snapshots of every event in the arena
// that completed within [start, end).
func (r *Reporter) SnapshotPeriod(ctx context.Context, tx store.Store, arenaID int64, start, end time.Time) (*arena.FinanceSnapshot, error) {
	events, err := tx.ListEvents(ctx, store.EventFilter{ArenaID: arenaID, States: []arena.State{arena.StateCompleted}})
	if err != nil {
		return nil, err
	}
	inPeriod := map[int64]bool{}
	for _, ev := range events {
		if ev.CompletedAt != nil && !ev.CompletedAt.Before(start) && ev.CompletedAt.Before(end) {
			inPeriod[ev.ID] = true
		}
	}

	snaps, err := tx.ListFinanceSnapshots(ctx, arenaID)
	if err != nil {
		return nil, err
	}
	period := &arena.FinanceSnapshot{
		ArenaID:     arenaID,
		PeriodStart: start,
		PeriodEnd:   end,
		Revenue:     decimal.Zero,
		Cost:        decimal.Zero,
		TaxWithheld: decimal.Zero,
		Profit:      decimal.Zero,
		CreatedAt:   r.clock.Now(),
	}
	for _, s := range snaps {
		if s.EventID == nil || !inPeriod[*s.EventID] {
			continue
		}
		period.Revenue = period.Revenue.Add(s.Revenue)
		period.Cost = period.Cost.Add(s.Cost)
		period.TaxWithheld = period.TaxWithheld.Add(s.TaxWithheld)
		period.Profit = period.Profit.Add(s.Profit)
	}
	if err := tx.ReplaceFinanceSnapshot(ctx, period); err != nil {
		return nil, err
	}
	r.log.Info().Int64("arena_id", arenaID).Time("start", start).Int("events", len(inPeriod)).
		Str("profit", period.Profit.String()).Msg("period finance recorded")
	return period, nil
}

// SnapshotAllArenas closes the period ending at now for every live arena.
func (r *Reporter) SnapshotAllArenas(ctx context.Context, tx store.Store, period time.Duration) error {
	arenas, err := tx.ListArenas(ctx)
	if err != nil {
		return err
	}
	end := r.clock.Now().Truncate(period)
	start := end.Add(-period)
	for _, a := range arenas {
		if a.IsDeleted {
			continue
		}
		if _, err := r.SnapshotPeriod(ctx, tx, a.ID, start, end); err != nil {
			return eris.Wrapf(err, "period snapshot for arena %d", a.ID)
		}
	}
	return nil
}
