package betting

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"arenaserver/internal/arena"
	"arenaserver/internal/ledger"
	"arenaserver/internal/store"
)

// plan is the settlement of one odds model before any money moves.
type plan struct {
	model   arena.OddsModel
	staked  decimal.Decimal
	cover   decimal.Decimal
	refund  bool
	payouts []*arena.BetPayout
}

func (p *plan) paid() decimal.Decimal {
	sum := decimal.Zero
	for _, po := range p.payouts {
		sum = sum.Add(po.Amount)
	}
	return sum
}

// Settle pays out a resolved event. It runs once: a second call after the
// bets have been settled returns the stored payouts untouched. Payouts are
// computed and reconciled against the pools before any transfer is made.
// Every transfer carries a reference derived from the bet or event, so a
// settlement interrupted half way can be re-driven without paying twice.
func (m *Market) Settle(ctx context.Context, tx store.Store, agg *arena.Aggregate, arenaAccount string) ([]*arena.BetPayout, error) {
	ev := agg.Event
	if ev.Resolution.BetsSettled {
		return agg.Payouts, nil
	}
	if ev.State != arena.StateResolved {
		return nil, eris.Wrapf(arena.ErrWrongState, "event %d is %s", ev.ID, ev.State)
	}
	if ev.Resolution.SettlementHalted {
		return nil, eris.Wrapf(arena.ErrSettlementHalted, "event %d: %s", ev.ID, ev.Resolution.HaltReason)
	}
	if ev.Outcome == nil {
		return nil, eris.Wrapf(arena.ErrInvalidOutcome, "event %d has no outcome", ev.ID)
	}
	if err := m.reconcilePools(agg); err != nil {
		return nil, err
	}

	var plans []*plan
	for _, model := range []arena.OddsModel{arena.OddsFixed, arena.OddsParimutuel} {
		if !ev.BettingModel.Accepts(model) {
			continue
		}
		var p *plan
		if model == arena.OddsFixed {
			p = m.planFixed(agg)
		} else {
			p = m.planParimutuel(agg)
		}
		if err := m.verify(agg, p); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}

	var payouts []*arena.BetPayout
	for _, p := range plans {
		m.markBlocked(ctx, p.payouts)
		if err := m.execute(ctx, agg, p, arenaAccount); err != nil {
			return nil, err
		}
		payouts = append(payouts, p.payouts...)
	}

	if err := tx.ReplacePayouts(ctx, ev.ID, payouts); err != nil {
		return nil, err
	}
	agg.Payouts = payouts
	ev.Resolution.BetsSettled = true

	for _, p := range payouts {
		m.metrics.Payouts.WithLabelValues(boolLabel(p.IsBlocked)).Inc()
	}
	m.log.Info().Int64("event_id", ev.ID).Int("payouts", len(payouts)).Ints("winning_sides", ev.Outcome.WinningSides).Msg("bets settled")
	return payouts, nil
}

// reconcilePools checks the stored pools against a fresh sum of the bets.
func (m *Market) reconcilePools(agg *arena.Aggregate) error {
	active := 0
	for _, b := range agg.Bets {
		if b.Active() {
			active++
		}
	}
	if active > 0 && len(agg.Pools) == 0 {
		return eris.Wrapf(arena.ErrSettlementInconsistent, "event %d has %d active bets and no pools", agg.Event.ID, active)
	}
	for _, want := range arena.RecomputePools(agg.Event, agg.Bets) {
		got, ok := agg.Pool(want.SideIndex, want.Model)
		if !ok && want.TotalStake.IsZero() {
			continue
		}
		if !ok || !got.TotalStake.Equal(want.TotalStake) || got.BetCount != want.BetCount {
			return eris.Wrapf(arena.ErrSettlementInconsistent, "pool side %d %s holds %s, bets total %s",
				want.SideIndex, want.Model, got.TotalStake, want.TotalStake)
		}
	}
	return nil
}

func (m *Market) planParimutuel(agg *arena.Aggregate) *plan {
	ev := agg.Event
	p := &plan{model: arena.OddsParimutuel, staked: decimal.Zero, cover: decimal.Zero}
	winning := decimal.Zero
	for _, pool := range agg.Pools {
		if pool.Model != arena.OddsParimutuel {
			continue
		}
		p.staked = p.staked.Add(pool.TotalStake)
		if ev.Outcome.Won(pool.SideIndex) {
			winning = winning.Add(pool.TotalStake)
		}
	}

	// Nobody backed a winner, or nobody won: every stake goes back.
	p.refund = ev.Outcome.IsDraw() || winning.IsZero()
	net := p.staked.Mul(decimal.NewFromInt(1).Sub(ev.TakeRate))
	for _, b := range agg.Bets {
		if !b.Active() || b.Model != arena.OddsParimutuel {
			continue
		}
		switch {
		case p.refund:
			p.payouts = append(p.payouts, m.payout(ev, b, b.Stake))
		case ev.Outcome.Won(b.SideIndex):
			amount := b.Stake.Mul(net).Div(winning).RoundFloor(m.places)
			p.payouts = append(p.payouts, m.payout(ev, b, amount))
		}
	}
	return p
}

func (m *Market) planFixed(agg *arena.Aggregate) *plan {
	ev := agg.Event
	p := &plan{model: arena.OddsFixed, staked: decimal.Zero, cover: decimal.Zero, refund: ev.Outcome.IsDraw()}
	for _, pool := range agg.Pools {
		if pool.Model == arena.OddsFixed {
			p.staked = p.staked.Add(pool.TotalStake)
		}
	}
	for _, b := range agg.Bets {
		if !b.Active() || b.Model != arena.OddsFixed {
			continue
		}
		switch {
		case p.refund:
			p.payouts = append(p.payouts, m.payout(ev, b, b.Stake))
		case ev.Outcome.Won(b.SideIndex):
			p.payouts = append(p.payouts, m.payout(ev, b, b.Stake.Mul(b.FixedDecimalOdds).RoundFloor(m.places)))
		}
	}
	if owed := p.paid(); owed.GreaterThan(p.staked) {
		p.cover = owed.Sub(p.staked)
	}
	return p
}

// verify is the last check before money moves. A plan that does not
// reconcile halts settlement of this event only.
func (m *Market) verify(agg *arena.Aggregate, p *plan) error {
	ev := agg.Event
	seen := map[int64]bool{}
	for _, po := range p.payouts {
		bet, ok := agg.Bet(po.BetID)
		if !ok || !bet.Active() || bet.Model != p.model || seen[po.BetID] || po.Amount.IsNegative() {
			return eris.Wrapf(arena.ErrSettlementInconsistent, "payout for bet %d", po.BetID)
		}
		seen[po.BetID] = true
	}

	paid := p.paid()
	switch {
	case p.refund:
		if !paid.Equal(p.staked) {
			return eris.Wrapf(arena.ErrSettlementInconsistent, "%s refunds %s of %s staked", p.model, paid, p.staked)
		}
	case p.model == arena.OddsParimutuel:
		if paid.GreaterThan(p.staked) {
			return eris.Wrapf(arena.ErrSettlementInconsistent, "parimutuel pays %s, only %s staked", paid, p.staked)
		}
		limit := p.staked.Mul(decimal.NewFromInt(1).Sub(ev.TakeRate))
		if paid.GreaterThan(limit) {
			return eris.Wrapf(arena.ErrSettlementInconsistent, "parimutuel pays %s, pool after take is %s", paid, limit)
		}
	default:
		if paid.GreaterThan(p.staked.Add(p.cover)) {
			return eris.Wrapf(arena.ErrSettlementInconsistent, "fixed pays %s, escrow plus cover is %s", paid, p.staked.Add(p.cover))
		}
	}
	return nil
}

func (m *Market) markBlocked(ctx context.Context, payouts []*arena.BetPayout) {
	for _, po := range payouts {
		blocked, err := m.bank.IsBlocked(ctx, ledger.CharacterAccount(po.CharacterID))
		if err != nil {
			// Withhold when compliance cannot be confirmed; the payout can be
			// released later.
			m.log.Warn().Err(err).Int64("bet_id", po.BetID).Msg("blocked check failed, withholding payout")
			blocked = true
		}
		po.IsBlocked = blocked
	}
}

// execute moves the money of one plan: escrows into the pot, arena cover
// into the pot, pot to every unblocked payout, and the remainder to the arena.
func (m *Market) execute(ctx context.Context, agg *arena.Aggregate, p *plan, arenaAccount string) error {
	ev := agg.Event
	pot := ledger.PotAccount(ev.ID, p.model)

	for _, pool := range agg.Pools {
		if pool.Model != p.model || !pool.TotalStake.IsPositive() {
			continue
		}
		escrow := ledger.EscrowAccount(ev.ID, pool.SideIndex, pool.Model)
		if err := m.bank.Transfer(ctx, escrow, pot, pool.TotalStake, ledger.SweepRef(ev.ID, pool.SideIndex, pool.Model)); err != nil {
			return eris.Wrapf(err, "sweep %s", escrow)
		}
	}
	if p.cover.IsPositive() {
		if err := m.bank.Transfer(ctx, arenaAccount, pot, p.cover, ledger.CoverRef(ev.ID, p.model)); err != nil {
			return eris.Wrapf(err, "cover %s liabilities", p.model)
		}
		m.log.Warn().Int64("event_id", ev.ID).Str("cover", p.cover.String()).Msg("fixed odds liabilities covered by arena")
	}

	now := m.clock.Now()
	for _, po := range p.payouts {
		if po.IsBlocked {
			continue
		}
		if po.Amount.IsPositive() {
			if err := m.bank.Transfer(ctx, pot, ledger.CharacterAccount(po.CharacterID), po.Amount, ledger.PayoutRef(po.BetID)); err != nil {
				return eris.Wrapf(err, "pay bet %d", po.BetID)
			}
		}
		po.CollectedAt = &now
	}

	residual := p.staked.Add(p.cover).Sub(p.paid())
	if residual.IsPositive() {
		if err := m.bank.Transfer(ctx, pot, arenaAccount, residual, ledger.TakeRef(ev.ID, p.model)); err != nil {
			return eris.Wrapf(err, "take %s residual", p.model)
		}
	}
	return nil
}

func (m *Market) payout(ev *arena.Event, b *arena.Bet, amount decimal.Decimal) *arena.BetPayout {
	return &arena.BetPayout{
		EventID:     ev.ID,
		BetID:       b.ID,
		CharacterID: b.CharacterID,
		SideIndex:   b.SideIndex,
		Model:       b.Model,
		Amount:      amount,
		CreatedAt:   m.clock.Now(),
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
