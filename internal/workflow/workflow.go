package temporal

import (
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"arenaserver/internal/arena"
)

// ResolutionWorkflow walks a resolved event through every resolution step,
// one activity per step. A step that fails is retried by the engine; a
// settlement that does not reconcile stops the workflow for good.
func ResolutionWorkflow(ctx workflow.Context, eventID int64) error {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute * 5,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeSettlementHalted},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)
	logger := workflow.GetLogger(ctx)

	var a *Activities
	for _, step := range arena.ResolutionSteps {
		if err := workflow.ExecuteActivity(ctx, a.RunStep, eventID, step).Get(ctx, nil); err != nil {
			logger.Error("Resolution step failed", "event_id", eventID, "step", string(step), "error", err)
			return err
		}
	}
	logger.Info("Event settled", "event_id", eventID)
	return nil
}
