package rating

import (
	"math"

	"arenaserver/config"
)

// Participant is one combatant entering a pairwise update. Placement is the
// finishing rank of the combatant's side; lower is better and equal
// placements score as a draw.
type Participant struct {
	SignupID    int64
	SideIndex   int
	Rating      float64
	PriorEvents int
	Placement   int
}

type Engine struct {
	cfg config.RatingConfig
}

func NewEngine(cfg config.RatingConfig) *Engine {
	if cfg.Initial == 0 {
		cfg.Initial = 1500
	}
	if cfg.KMax == 0 {
		cfg.KMax = 40
	}
	if cfg.KMin == 0 || cfg.KMin > cfg.KMax {
		cfg.KMin = cfg.KMax
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) Initial() float64 { return e.cfg.Initial }

// Expected is the Elo expected score of self against opponent.
func Expected(self, opponent float64) float64 {
	return 1 / (1 + math.Pow(10, (opponent-self)/400))
}

// KFactor tapers linearly from KMax for a newcomer to KMin once the
// character has TaperEvents rated events in the class.
func (e *Engine) KFactor(priorEvents int) float64 {
	if e.cfg.TaperEvents <= 0 || priorEvents >= e.cfg.TaperEvents {
		if e.cfg.TaperEvents <= 0 {
			return e.cfg.KMax
		}
		return e.cfg.KMin
	}
	frac := float64(priorEvents) / float64(e.cfg.TaperEvents)
	return e.cfg.KMax - (e.cfg.KMax-e.cfg.KMin)*frac
}

func actual(self, opponent int) float64 {
	switch {
	case self < opponent:
		return 1
	case self == opponent:
		return 0.5
	}
	return 0
}

// Deltas decomposes the event pairwise across sides: every combatant is
// scored against every combatant on another side and the sum is averaged
// over the number of opponents, so large sides do not swing ratings harder.
func (e *Engine) Deltas(ps []Participant) map[int64]float64 {
	out := make(map[int64]float64, len(ps))
	for _, p := range ps {
		var sum float64
		opponents := 0
		for _, q := range ps {
			if q.SideIndex == p.SideIndex {
				continue
			}
			sum += actual(p.Placement, q.Placement) - Expected(p.Rating, q.Rating)
			opponents++
		}
		if opponents == 0 {
			out[p.SignupID] = 0
			continue
		}
		out[p.SignupID] = e.KFactor(p.PriorEvents) * sum / float64(opponents)
	}
	return out
}

// WinProbabilities generalises the expected score to n sides: side i wins
// with weight 10^(R_i/400). For two sides this is exactly Expected.
func WinProbabilities(sideRatings map[int]float64) map[int]float64 {
	var total float64
	weights := make(map[int]float64, len(sideRatings))
	for side, r := range sideRatings {
		w := math.Pow(10, r/400)
		weights[side] = w
		total += w
	}
	out := make(map[int]float64, len(sideRatings))
	for side, w := range weights {
		out[side] = w / total
	}
	return out
}
