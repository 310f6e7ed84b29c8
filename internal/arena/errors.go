package arena

import (
	"errors"

	"github.com/rotisserie/eris"
)

var (
	ErrNotFound = eris.New("arena resource not found")

	// Validation: rejected synchronously, never partially applied.
	ErrWrongState           = eris.New("operation not permitted in the current event state")
	ErrInvalidSide          = eris.New("side index does not exist for this event")
	ErrCapacityExceeded     = eris.New("side is at capacity")
	ErrClassNotAllowed      = eris.New("combatant class is not allowed on this side")
	ErrIneligible           = eris.New("character is not eligible for this combatant class")
	ErrAlreadySignedUp      = eris.New("character already holds a slot in this event")
	ErrSignupClosed         = eris.New("side does not accept open signups")
	ErrReservationExpired   = eris.New("reservation has expired")
	ErrReservationOwner     = eris.New("reservation belongs to another character")
	ErrBettingClosed        = eris.New("betting is closed for this event")
	ErrBettingDisabled      = eris.New("event does not accept bets with this odds model")
	ErrCancellationClosed   = eris.New("bets can no longer be cancelled for this event")
	ErrInvalidStake         = eris.New("stake must be positive")
	ErrInsufficientFunds    = eris.New("insufficient funds")
	ErrArenaDeleted         = eris.New("arena has been deleted")
	ErrAlreadyEliminated    = eris.New("signup has already been eliminated")
	ErrInvalidOutcome       = eris.New("outcome references unknown sides")
	ErrIllegalTransition    = eris.New("illegal event state transition")
	ErrNotBlocked           = eris.New("payout is not blocked")
	ErrPayoutCollected      = eris.New("payout has already been collected")
	ErrInvalidEventTemplate = eris.New("event type must define at least two sides with positive capacity")
	ErrInvalidTakeRate      = eris.New("take rate must be in [0, 1)")

	// Collaborator failures degrade to a safe default.
	ErrProgTimeout = eris.New("prog invocation timed out")
	ErrProgFailed  = eris.New("prog invocation failed")

	// Settlement inconsistency halts payouts for one event only.
	ErrSettlementInconsistent = eris.New("settlement does not reconcile with pool totals")
	ErrSettlementHalted       = eris.New("settlement halted pending operator review")
)

var validation = []error{
	ErrWrongState, ErrInvalidSide, ErrCapacityExceeded, ErrClassNotAllowed, ErrIneligible,
	ErrAlreadySignedUp, ErrSignupClosed, ErrReservationExpired, ErrReservationOwner,
	ErrBettingClosed, ErrBettingDisabled, ErrCancellationClosed, ErrInvalidStake,
	ErrInsufficientFunds, ErrArenaDeleted, ErrAlreadyEliminated, ErrInvalidOutcome,
	ErrIllegalTransition, ErrNotBlocked, ErrPayoutCollected, ErrInvalidEventTemplate,
	ErrInvalidTakeRate,
}

// IsValidation reports whether err is a caller error that left no state behind.
func IsValidation(err error) bool {
	for _, target := range validation {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
