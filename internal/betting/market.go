// Package betting runs the wagering market of an event: stakes move into
// per-side escrow when a bet is placed, pools are rebuilt from bets after
// every change, and settlement pays winners out of the event's pot.
package betting

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"arenaserver/config"
	"arenaserver/internal/arena"
	"arenaserver/internal/ledger"
	"arenaserver/internal/metrics"
	"arenaserver/internal/rating"
	"arenaserver/internal/store"
)

type BetRequest struct {
	CharacterID int64           `json:"character_id"`
	SideIndex   int             `json:"side_index"`
	Model       arena.OddsModel `json:"model"`
	Stake       decimal.Decimal `json:"stake"`
}

type Market struct {
	bank    ledger.Bank
	clock   clockwork.Clock
	places  int32
	margin  decimal.Decimal
	initial float64
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewMarket(cfg config.ArenaConfig, bank ledger.Bank, clock clockwork.Clock, engine *rating.Engine, m *metrics.Metrics, log zerolog.Logger) (*Market, error) {
	margin, err := cfg.OddsMargin()
	if err != nil {
		return nil, err
	}
	return &Market{
		bank:    bank,
		clock:   clock,
		places:  cfg.CurrencyPlaces,
		margin:  margin,
		initial: engine.Initial(),
		metrics: m,
		log:     log.With().Str("component", "betting").Logger(),
	}, nil
}

// PlaceBet debits the stake into the side's escrow for the chosen model.
// Fixed-odds bets capture their price and its justification here.
func (m *Market) PlaceBet(ctx context.Context, tx store.Store, agg *arena.Aggregate, req BetRequest) (*arena.Bet, error) {
	ev := agg.Event
	if !ev.State.AcceptsBets() {
		return nil, eris.Wrapf(arena.ErrBettingClosed, "event %d is %s", ev.ID, ev.State)
	}
	if !ev.BettingModel.Accepts(req.Model) {
		return nil, eris.Wrapf(arena.ErrBettingDisabled, "event %d takes %s bets, not %s", ev.ID, ev.BettingModel, req.Model)
	}
	if _, ok := ev.Side(req.SideIndex); !ok {
		return nil, eris.Wrapf(arena.ErrInvalidSide, "side %d", req.SideIndex)
	}
	if !req.Stake.IsPositive() || !req.Stake.Equal(req.Stake.RoundFloor(m.places)) {
		return nil, eris.Wrapf(arena.ErrInvalidStake, "stake %s", req.Stake)
	}

	account := ledger.CharacterAccount(req.CharacterID)
	balance, err := m.bank.Balance(ctx, account)
	if err != nil {
		return nil, eris.Wrapf(err, "balance of %s", account)
	}
	if balance.LessThan(req.Stake) {
		return nil, eris.Wrapf(arena.ErrInsufficientFunds, "%s holds %s, stake %s", account, balance, req.Stake)
	}

	now := m.clock.Now()
	bet := &arena.Bet{
		EventID:     ev.ID,
		CharacterID: req.CharacterID,
		SideIndex:   req.SideIndex,
		Model:       req.Model,
		Stake:       req.Stake,
		PlacedAt:    now,
	}
	if req.Model == arena.OddsFixed {
		q, err := m.Quote(agg, req.SideIndex)
		if err != nil {
			return nil, err
		}
		bet.FixedDecimalOdds = q.Odds
		bet.ModelSnapshot = q.Snapshot
	}
	if err := tx.SaveBet(ctx, bet); err != nil {
		return nil, err
	}

	escrow := ledger.EscrowAccount(ev.ID, bet.SideIndex, bet.Model)
	if err := m.bank.Transfer(ctx, account, escrow, bet.Stake, ledger.BetRef(bet.ID)); err != nil {
		// The stake never reached escrow: void the row so it never counts.
		bet.CancelledAt = &now
		if serr := tx.SaveBet(ctx, bet); serr != nil {
			m.log.Error().Err(serr).Int64("bet_id", bet.ID).Msg("void bet after failed debit")
		}
		return nil, eris.Wrapf(err, "debit stake for bet %d", bet.ID)
	}

	agg.Bets = append(agg.Bets, bet)
	if err := m.rebuildPools(ctx, tx, agg); err != nil {
		return nil, err
	}

	m.metrics.Bets.WithLabelValues("placed", string(bet.Model)).Inc()
	m.metrics.StakeVolume.WithLabelValues(string(bet.Model)).Add(bet.Stake.InexactFloat64())
	m.log.Info().Int64("event_id", ev.ID).Int64("bet_id", bet.ID).Int("side", bet.SideIndex).
		Str("model", string(bet.Model)).Str("stake", bet.Stake.String()).Msg("bet placed")
	return bet, nil
}

// CancelBet refunds a bet while registration is still open. Cancelling an
// already cancelled bet returns it unchanged.
func (m *Market) CancelBet(ctx context.Context, tx store.Store, agg *arena.Aggregate, betID, characterID int64) (*arena.Bet, error) {
	bet, ok := agg.Bet(betID)
	if !ok || bet.CharacterID != characterID {
		return nil, eris.Wrapf(arena.ErrNotFound, "bet %d for character %d", betID, characterID)
	}
	if !bet.Active() {
		return bet, nil
	}
	if agg.Event.State != arena.StateRegistrationOpen {
		return nil, eris.Wrapf(arena.ErrCancellationClosed, "event %d is %s", agg.Event.ID, agg.Event.State)
	}
	if err := m.refund(ctx, tx, agg, bet); err != nil {
		return nil, err
	}
	if err := m.rebuildPools(ctx, tx, agg); err != nil {
		return nil, err
	}
	m.metrics.Bets.WithLabelValues("cancelled", string(bet.Model)).Inc()
	return bet, nil
}

// ReleaseAll refunds every active stake. Used when an event is aborted.
func (m *Market) ReleaseAll(ctx context.Context, tx store.Store, agg *arena.Aggregate) error {
	for _, bet := range agg.Bets {
		if !bet.Active() {
			continue
		}
		if err := m.refund(ctx, tx, agg, bet); err != nil {
			return err
		}
	}
	if len(agg.Pools) == 0 && len(agg.Bets) == 0 {
		return nil
	}
	return m.rebuildPools(ctx, tx, agg)
}

// CollectPayout transfers a payout that was withheld at settlement once the
// compliance hold has been lifted.
func (m *Market) CollectPayout(ctx context.Context, tx store.Store, agg *arena.Aggregate, payoutID int64) (*arena.BetPayout, error) {
	p, ok := agg.Payout(payoutID)
	if !ok {
		return nil, eris.Wrapf(arena.ErrNotFound, "payout %d", payoutID)
	}
	if p.CollectedAt != nil {
		return nil, eris.Wrapf(arena.ErrPayoutCollected, "payout %d", payoutID)
	}
	if !p.IsBlocked {
		return nil, eris.Wrapf(arena.ErrNotBlocked, "payout %d", payoutID)
	}
	account := ledger.CharacterAccount(p.CharacterID)
	if blocked, err := m.bank.IsBlocked(ctx, account); err != nil || blocked {
		return nil, eris.Wrapf(arena.ErrNotBlocked, "account %s is still held", account)
	}

	if err := m.bank.Transfer(ctx, ledger.PotAccount(p.EventID, p.Model), account, p.Amount, ledger.PayoutRef(p.BetID)); err != nil {
		return nil, eris.Wrapf(err, "release payout %d", p.ID)
	}
	now := m.clock.Now()
	p.CollectedAt = &now
	if err := tx.SavePayout(ctx, p); err != nil {
		return nil, err
	}
	m.log.Info().Int64("event_id", p.EventID).Int64("payout_id", p.ID).Str("amount", p.Amount.String()).Msg("blocked payout released")
	return p, nil
}

func (m *Market) refund(ctx context.Context, tx store.Store, agg *arena.Aggregate, bet *arena.Bet) error {
	escrow := ledger.EscrowAccount(agg.Event.ID, bet.SideIndex, bet.Model)
	if err := m.bank.Transfer(ctx, escrow, ledger.CharacterAccount(bet.CharacterID), bet.Stake, ledger.RefundRef(bet.ID)); err != nil {
		return eris.Wrapf(err, "refund bet %d", bet.ID)
	}
	now := m.clock.Now()
	bet.CancelledAt = &now
	if err := tx.SaveBet(ctx, bet); err != nil {
		return err
	}
	m.log.Info().Int64("event_id", agg.Event.ID).Int64("bet_id", bet.ID).Str("stake", bet.Stake.String()).Msg("stake refunded")
	return nil
}

// rebuildPools replaces the event's pools with a fresh sum over active bets.
func (m *Market) rebuildPools(ctx context.Context, tx store.Store, agg *arena.Aggregate) error {
	pools := arena.RecomputePools(agg.Event, agg.Bets)
	if err := tx.ReplacePools(ctx, agg.Event.ID, pools); err != nil {
		return err
	}
	agg.Pools = pools
	return agg.CheckInvariants(m.clock.Now())
}
