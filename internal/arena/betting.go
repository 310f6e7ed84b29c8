package arena

import (
	"time"

	"github.com/shopspring/decimal"
)

type OddsModel string

const (
	OddsFixed      OddsModel = "fixed"
	OddsParimutuel OddsModel = "parimutuel"
)

// OddsSnapshot is the justification captured with a fixed-odds bet.
type OddsSnapshot struct {
	SideRatings  map[int]float64 `json:"side_ratings"`
	Probability  string          `json:"probability"`
	Margin       string          `json:"margin"`
	QuotedAt     time.Time       `json:"quoted_at"`
	Participants map[int]int     `json:"participants"`
}

type Bet struct {
	ID               int64           `json:"id"`
	EventID          int64           `json:"event_id"`
	CharacterID      int64           `json:"character_id"`
	SideIndex        int             `json:"side_index"`
	Model            OddsModel       `json:"model"`
	Stake            decimal.Decimal `json:"stake"`
	FixedDecimalOdds decimal.Decimal `json:"fixed_decimal_odds"`
	ModelSnapshot    *OddsSnapshot   `json:"model_snapshot,omitempty"`
	PlacedAt         time.Time       `json:"placed_at"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
}

func (b *Bet) Active() bool { return b.CancelledAt == nil }

// BetPool aggregates active stake for one side under one odds model.
// Pools are always recomputed from bets, never adjusted in place.
type BetPool struct {
	EventID    int64           `json:"event_id"`
	SideIndex  int             `json:"side_index"`
	Model      OddsModel       `json:"model"`
	TotalStake decimal.Decimal `json:"total_stake"`
	TakeRate   decimal.Decimal `json:"take_rate"`
	BetCount   int             `json:"bet_count"`
}

type BetPayout struct {
	ID          int64           `json:"id"`
	EventID     int64           `json:"event_id"`
	BetID       int64           `json:"bet_id"`
	CharacterID int64           `json:"character_id"`
	SideIndex   int             `json:"side_index"`
	Model       OddsModel       `json:"model"`
	Amount      decimal.Decimal `json:"amount"`
	IsBlocked   bool            `json:"is_blocked"`
	CreatedAt   time.Time       `json:"created_at"`
	CollectedAt *time.Time      `json:"collected_at,omitempty"`
}

// RecomputePools rebuilds every (side, model) pool of the event from its
// active bets. Each side gets a pool per accepted model even when empty.
func RecomputePools(ev *Event, bets []*Bet) []BetPool {
	var models []OddsModel
	for _, m := range []OddsModel{OddsFixed, OddsParimutuel} {
		if ev.BettingModel.Accepts(m) {
			models = append(models, m)
		}
	}

	pools := make([]BetPool, 0, len(ev.Sides)*len(models))
	index := make(map[poolKey]int)
	for _, side := range ev.Sides {
		for _, m := range models {
			index[poolKey{side.Index, m}] = len(pools)
			pools = append(pools, BetPool{
				EventID:    ev.ID,
				SideIndex:  side.Index,
				Model:      m,
				TotalStake: decimal.Zero,
				TakeRate:   ev.TakeRate,
			})
		}
	}

	for _, b := range bets {
		if !b.Active() {
			continue
		}
		i, ok := index[poolKey{b.SideIndex, b.Model}]
		if !ok {
			continue
		}
		pools[i].TotalStake = pools[i].TotalStake.Add(b.Stake)
		pools[i].BetCount++
	}
	return pools
}

type poolKey struct {
	side  int
	model OddsModel
}
