// Package progs defines the external hooks the arena engine consults:
// eligibility, NPC loading, combat resolution and forced resolution. Every
// call is bounded by a timeout; the engine never waits on a hook indefinitely.
package progs

import (
	"context"

	"arenaserver/internal/arena"
)

// EligibilityPredicate decides whether a character may fight in a class.
type EligibilityPredicate interface {
	Eligible(ctx context.Context, characterID int64, class *arena.CombatantClass) (bool, error)
}

// Combatant is an NPC produced by an NPCLoader.
type Combatant struct {
	CharacterID      int64   `json:"character_id"`
	Name             string  `json:"name"`
	CombatantClassID int64   `json:"combatant_class_id"`
	Rating           float64 `json:"rating"`
}

// NPCLoader supplies up to want NPC combatants for an under-filled side.
type NPCLoader interface {
	LoadNPCs(ctx context.Context, ev *arena.Event, side *arena.Side, want int) ([]Combatant, error)
}

// Resolver runs combat for an event. Begin must return promptly; the result
// arrives later through the controller's Resolve callback.
type Resolver interface {
	Begin(ctx context.Context, ev *arena.Event, signups []*arena.Signup) error
}

// ResolutionOverride picks an outcome when the time limit elapses without
// one being reported.
type ResolutionOverride interface {
	ForceOutcome(ctx context.Context, ev *arena.Event, signups []*arena.Signup, eliminations []*arena.Elimination) (arena.Outcome, error)
}

type AllowAll struct{}

func (AllowAll) Eligible(context.Context, int64, *arena.CombatantClass) (bool, error) {
	return true, nil
}

type NoNPCs struct{}

func (NoNPCs) LoadNPCs(context.Context, *arena.Event, *arena.Side, int) ([]Combatant, error) {
	return nil, nil
}

// ManualResolver expects resolutions to be reported over the API.
type ManualResolver struct{}

func (ManualResolver) Begin(context.Context, *arena.Event, []*arena.Signup) error { return nil }

// SurvivorsOverride awards the event to the side with the most uneliminated
// combatants. Ties are a draw between the tied sides.
type SurvivorsOverride struct{}

func (SurvivorsOverride) ForceOutcome(_ context.Context, ev *arena.Event, signups []*arena.Signup, eliminations []*arena.Elimination) (arena.Outcome, error) {
	return SurvivorOutcome(ev, signups, eliminations), nil
}

func SurvivorOutcome(ev *arena.Event, signups []*arena.Signup, eliminations []*arena.Elimination) arena.Outcome {
	out := map[int64]bool{}
	for _, e := range eliminations {
		out[e.SignupID] = true
	}
	alive := map[int]int{}
	for _, s := range signups {
		if !out[s.ID] {
			alive[s.SideIndex]++
		}
	}

	best := 0
	for _, n := range alive {
		if n > best {
			best = n
		}
	}
	outcome := arena.Outcome{Forced: true, Reason: "time limit elapsed"}
	if best == 0 {
		return outcome
	}
	var leaders []int
	for _, side := range ev.Sides {
		if alive[side.Index] == best {
			leaders = append(leaders, side.Index)
		}
	}
	if len(leaders) < len(ev.Sides) {
		outcome.WinningSides = leaders
	}
	return outcome
}
