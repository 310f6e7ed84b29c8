package temporal

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"

	"arenaserver/config"
	"arenaserver/internal/arena"
	"arenaserver/internal/lifecycle"
)

func Dial(cfg *config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort: cfg.HostPort,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dial temporal at %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker registers the resolution workflow and its activities on the
// configured task queue. The caller runs and stops it.
func NewWorker(c client.Client, cfg *config.TemporalConfig, runner lifecycle.StepRunner, log zerolog.Logger) worker.Worker {
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflow(ResolutionWorkflow)
	w.RegisterActivity(NewActivities(runner, log))
	return w
}

func WorkflowID(eventID int64) string {
	return fmt.Sprintf("arena-resolution-%d", eventID)
}

// WorkflowStarter is the part of the Temporal client the settler uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Settler runs settlement on Temporal. The workflow ID is derived from the
// event, so asking twice joins the run already in flight.
type Settler struct {
	client    WorkflowStarter
	taskQueue string
	log       zerolog.Logger
}

func NewSettler(c WorkflowStarter, taskQueue string, log zerolog.Logger) *Settler {
	return &Settler{client: c, taskQueue: taskQueue, log: log.With().Str("component", "resolution-settler").Logger()}
}

func (s *Settler) Settle(ctx context.Context, eventID int64) error {
	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        WorkflowID(eventID),
		TaskQueue: s.taskQueue,
	}, ResolutionWorkflow, eventID)
	if err != nil {
		return eris.Wrapf(err, "start resolution workflow for event %d", eventID)
	}
	s.log.Info().Int64("event_id", eventID).Str("workflow_id", run.GetID()).Msg("resolution workflow started")

	if err := run.Get(ctx, nil); err != nil {
		var appErr *sdktemporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == ErrTypeSettlementHalted {
			return eris.Wrapf(arena.ErrSettlementHalted, "event %d: %s", eventID, appErr.Error())
		}
		return eris.Wrapf(err, "resolution workflow for event %d", eventID)
	}
	return nil
}
