package rating

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"arenaserver/internal/arena"
	"arenaserver/internal/store"
)

type Service struct {
	engine *Engine
	clock  clockwork.Clock
	log    zerolog.Logger
}

func NewService(engine *Engine, clock clockwork.Clock, log zerolog.Logger) *Service {
	return &Service{engine: engine, clock: clock, log: log.With().Str("component", "rating").Logger()}
}

func (s *Service) Engine() *Engine { return s.engine }

// Current returns the stored rating, or a fresh unrated row at the initial
// value when the character has never fought in the class.
func (s *Service) Current(ctx context.Context, tx store.Store, arenaID, characterID, classID int64) (*arena.Rating, error) {
	r, err := tx.GetRating(ctx, arenaID, characterID, classID)
	if errors.Is(err, arena.ErrNotFound) {
		return &arena.Rating{
			ArenaID:          arenaID,
			CharacterID:      characterID,
			CombatantClassID: classID,
			Value:            s.engine.Initial(),
		}, nil
	}
	return r, err
}

// Apply updates the rating row of every non-NPC participant from the side
// placements. Expected scores use the ratings snapshotted at signup; deltas
// land on the current row. NPCs count as opponents but are never stored.
func (s *Service) Apply(ctx context.Context, tx store.Store, agg *arena.Aggregate, placements map[int]int) error {
	ev := agg.Event
	if ev.Resolution.RatingsApplied {
		return nil
	}

	rows := make(map[int64]*arena.Rating)
	ps := make([]Participant, 0, len(agg.Signups))
	for _, su := range agg.Signups {
		p := Participant{
			SignupID:  su.ID,
			SideIndex: su.SideIndex,
			Rating:    su.StartingRating,
			Placement: placements[su.SideIndex],
		}
		if !su.IsNPC {
			row, err := s.Current(ctx, tx, ev.ArenaID, su.CharacterID, su.CombatantClassID)
			if err != nil {
				return eris.Wrapf(err, "load rating for signup %d", su.ID)
			}
			rows[su.ID] = row
			p.PriorEvents = row.RatedEvents
		}
		ps = append(ps, p)
	}

	now := s.clock.Now()
	for signupID, delta := range s.engine.Deltas(ps) {
		row, ok := rows[signupID]
		if !ok {
			continue
		}
		row.Value += delta
		row.RatedEvents++
		row.LastUpdatedAt = now
		if err := tx.UpsertRating(ctx, row); err != nil {
			return eris.Wrapf(err, "store rating for signup %d", signupID)
		}
		s.log.Debug().Int64("event_id", ev.ID).Int64("character_id", row.CharacterID).
			Float64("delta", delta).Float64("rating", row.Value).Msg("rating updated")
	}

	ev.Resolution.RatingsApplied = true
	return nil
}
