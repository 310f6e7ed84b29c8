package temporal

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	sdktemporal "go.temporal.io/sdk/temporal"

	"arenaserver/internal/arena"
	"arenaserver/internal/lifecycle"
)

// ErrTypeSettlementHalted marks a step failure the engine must not retry.
const ErrTypeSettlementHalted = "SettlementHalted"

// Activities runs resolution steps against the lifecycle controller, which
// takes the event's lock and commits each step on its own.
type Activities struct {
	runner lifecycle.StepRunner
	log    zerolog.Logger
}

func NewActivities(runner lifecycle.StepRunner, log zerolog.Logger) *Activities {
	return &Activities{runner: runner, log: log.With().Str("component", "resolution-worker").Logger()}
}

func (a *Activities) RunStep(ctx context.Context, eventID int64, step arena.ResolutionStep) error {
	err := a.runner.RunStep(ctx, eventID, step)
	if err == nil {
		return nil
	}
	if eris.Is(err, arena.ErrSettlementInconsistent) || eris.Is(err, arena.ErrSettlementHalted) {
		a.log.Error().Err(err).Int64("event_id", eventID).Str("step", string(step)).Msg("settlement halted")
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeSettlementHalted, err)
	}
	a.log.Warn().Err(err).Int64("event_id", eventID).Str("step", string(step)).Msg("resolution step will be retried")
	return err
}
