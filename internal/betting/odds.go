package betting

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"arenaserver/internal/arena"
	"arenaserver/internal/rating"
)

var minOdds = decimal.RequireFromString("1.01")

type Quote struct {
	SideIndex int                 `json:"side_index"`
	Odds      decimal.Decimal     `json:"fixed_odds"`
	Snapshot  *arena.OddsSnapshot `json:"snapshot"`
	// Parimutuel is the indicative return per unit staked if betting closed now.
	Parimutuel decimal.Decimal `json:"parimutuel_odds"`
}

// Quote prices a side from the mean starting rating of each side's roster.
// Empty sides are priced at the initial rating. The margin is taken off the
// fair odds and the result is rounded down to cents.
func (m *Market) Quote(agg *arena.Aggregate, side int) (Quote, error) {
	if _, ok := agg.Event.Side(side); !ok {
		return Quote{}, eris.Wrapf(arena.ErrInvalidSide, "side %d", side)
	}

	ratings := make(map[int]float64, len(agg.Event.Sides))
	counts := make(map[int]int, len(agg.Event.Sides))
	for _, s := range agg.Event.Sides {
		signups := agg.SignupsOnSide(s.Index)
		counts[s.Index] = len(signups)
		if len(signups) == 0 {
			ratings[s.Index] = m.initial
			continue
		}
		var sum float64
		for _, su := range signups {
			sum += su.StartingRating
		}
		ratings[s.Index] = sum / float64(len(signups))
	}

	p := rating.WinProbabilities(ratings)[side]
	odds := decimal.NewFromInt(1).Sub(m.margin).Div(decimal.NewFromFloat(p)).RoundFloor(2)
	if odds.LessThan(minOdds) {
		odds = minOdds
	}

	return Quote{
		SideIndex: side,
		Odds:      odds,
		Snapshot: &arena.OddsSnapshot{
			SideRatings:  ratings,
			Probability:  strconv.FormatFloat(p, 'f', 6, 64),
			Margin:       m.margin.String(),
			QuotedAt:     m.clock.Now(),
			Participants: counts,
		},
		Parimutuel: m.indicative(agg, side),
	}, nil
}

func (m *Market) QuoteAll(agg *arena.Aggregate) ([]Quote, error) {
	out := make([]Quote, 0, len(agg.Event.Sides))
	for _, s := range agg.Event.Sides {
		q, err := m.Quote(agg, s.Index)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *Market) indicative(agg *arena.Aggregate, side int) decimal.Decimal {
	if !agg.Event.BettingModel.Accepts(arena.OddsParimutuel) {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, p := range agg.Pools {
		if p.Model == arena.OddsParimutuel {
			total = total.Add(p.TotalStake)
		}
	}
	pool, ok := agg.Pool(side, arena.OddsParimutuel)
	if !ok || pool.TotalStake.IsZero() {
		return decimal.Zero
	}
	net := total.Mul(decimal.NewFromInt(1).Sub(agg.Event.TakeRate))
	return net.Div(pool.TotalStake).RoundFloor(2)
}
