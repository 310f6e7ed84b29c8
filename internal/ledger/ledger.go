// Package ledger is the boundary to the bank service. Stakes move from a
// character's account into an event escrow account and out again to winners,
// refunds or the arena. Every transfer carries a reference; the bank applies
// a reference at most once, which makes money movement safe to re-drive.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"arenaserver/internal/arena"
)

type Bank interface {
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal, ref string) error
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
	// IsBlocked reports accounts withheld from payouts pending compliance review.
	IsBlocked(ctx context.Context, account string) (bool, error)
}

func CharacterAccount(characterID int64) string {
	return fmt.Sprintf("character:%d", characterID)
}

// EscrowAccount is segregated per event, side and odds model so fixed-odds
// and parimutuel money never subsidise each other.
func EscrowAccount(eventID int64, side int, model arena.OddsModel) string {
	return fmt.Sprintf("escrow:event:%d:side:%d:%s", eventID, side, model)
}

// PotAccount collects every escrow of one odds model at settlement; payouts
// are paid from it and the residual goes to the arena.
func PotAccount(eventID int64, model arena.OddsModel) string {
	return fmt.Sprintf("pot:event:%d:%s", eventID, model)
}

func BetRef(betID int64) string           { return fmt.Sprintf("bet:%d", betID) }
func RefundRef(betID int64) string        { return fmt.Sprintf("refund:%d", betID) }
func PayoutRef(betID int64) string        { return fmt.Sprintf("payout:%d", betID) }
func AppearanceRef(signupID int64) string { return fmt.Sprintf("appearance:%d", signupID) }
func VictoryRef(signupID int64) string    { return fmt.Sprintf("victory:%d", signupID) }

// TakeRef moves what is left in a pot after payouts to the arena.
func TakeRef(eventID int64, model arena.OddsModel) string {
	return fmt.Sprintf("take:%d:%s", eventID, model)
}

// CoverRef tops up a fixed-odds pot from the arena when liabilities exceed stakes.
func CoverRef(eventID int64, model arena.OddsModel) string {
	return fmt.Sprintf("cover:%d:%s", eventID, model)
}

func SweepRef(eventID int64, side int, model arena.OddsModel) string {
	return fmt.Sprintf("sweep:%d:%d:%s", eventID, side, model)
}
