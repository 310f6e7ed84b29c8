package lifecycle

import (
	"context"

	"github.com/rotisserie/eris"

	"arenaserver/internal/arena"
	"arenaserver/internal/elimination"
)

// settle hands a resolved event to the configured settler and books a
// retry if the pipeline stopped short. Halted events wait for an operator.
func (c *Controller) settle(ctx context.Context, eventID int64) error {
	err := c.settler.Settle(ctx, eventID)
	if err == nil {
		return nil
	}
	if !eris.Is(err, arena.ErrSettlementInconsistent) && !eris.Is(err, arena.ErrSettlementHalted) {
		c.wakeAt(eventID, c.clock.Now().Add(c.cfg.SettlementRetryInterval))
	}
	return err
}

// Settle runs the resolution steps in order in the calling goroutine. Each
// step commits on its own, so a failure resumes from the step that failed.
func (c *Controller) Settle(ctx context.Context, eventID int64) error {
	for _, step := range arena.ResolutionSteps {
		if err := c.RunStep(ctx, eventID, step); err != nil {
			return err
		}
	}
	return nil
}

// RunStep applies one resolution step under the event's lock. Steps already
// recorded as done are skipped, which makes every step safe to repeat. A
// settlement that does not reconcile halts the event for operator review.
func (c *Controller) RunStep(ctx context.Context, eventID int64, step arena.ResolutionStep) error {
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		ev := t.agg.Event
		if ev.State == arena.StateCompleted {
			return nil
		}
		if ev.State != arena.StateResolved {
			return eris.Wrapf(arena.ErrWrongState, "event %d is %s", ev.ID, ev.State)
		}
		if ev.Resolution.Done(step) {
			return nil
		}

		switch step {
		case arena.StepEliminations:
			c.tracker.Finalize(t.agg)
			return nil
		case arena.StepRatings:
			return c.ratings.Apply(ctx, t.tx, t.agg, elimination.Placements(t.agg, *ev.Outcome))
		case arena.StepBets:
			account, err := c.arenaAccount(ctx, t)
			if err != nil {
				return err
			}
			_, err = c.market.Settle(ctx, t.tx, t.agg, account)
			return err
		case arena.StepFinance:
			account, err := c.arenaAccount(ctx, t)
			if err != nil {
				return err
			}
			_, err = c.finance.RecordEvent(ctx, t.tx, t.agg, account)
			return err
		case arena.StepComplete:
			for _, s := range arena.ResolutionSteps[:len(arena.ResolutionSteps)-1] {
				if !ev.Resolution.Done(s) {
					return eris.Wrapf(arena.ErrWrongState, "event %d has not finished %s", ev.ID, s)
				}
			}
			return c.transition(t, arena.StateCompleted, "")
		}
		return eris.Errorf("unknown resolution step %q", step)
	})
	if err == nil {
		return nil
	}

	c.metrics.SettlementFailures.WithLabelValues(string(step)).Inc()
	if eris.Is(err, arena.ErrSettlementInconsistent) {
		if herr := c.halt(ctx, eventID, err); herr != nil {
			c.log.Error().Err(herr).Int64("event_id", eventID).Msg("could not record settlement halt")
		}
	}
	c.log.Error().Err(err).Int64("event_id", eventID).Str("step", string(step)).Msg("resolution step failed")
	return err
}

func (c *Controller) halt(ctx context.Context, eventID int64, cause error) error {
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		t.agg.Event.Resolution.SettlementHalted = true
		t.agg.Event.Resolution.HaltReason = cause.Error()
		return nil
	})
	return err
}

// Resume clears a settlement halt after operator review and runs the
// pipeline again.
func (c *Controller) Resume(ctx context.Context, eventID int64) error {
	_, err := c.withEvent(ctx, eventID, func(t *txn) error {
		ev := t.agg.Event
		if ev.State != arena.StateResolved || !ev.Resolution.SettlementHalted {
			return eris.Wrapf(arena.ErrWrongState, "event %d is not halted", ev.ID)
		}
		ev.Resolution.SettlementHalted = false
		ev.Resolution.HaltReason = ""
		c.log.Warn().Int64("event_id", ev.ID).Msg("settlement halt cleared")
		return nil
	})
	if err != nil {
		return err
	}
	return c.settle(ctx, eventID)
}

func (c *Controller) arenaAccount(ctx context.Context, t *txn) (string, error) {
	a, err := t.tx.GetArena(ctx, t.agg.Event.ArenaID)
	if err != nil {
		return "", err
	}
	return a.BankAccountID, nil
}
