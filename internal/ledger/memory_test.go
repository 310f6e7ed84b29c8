package ledger

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenaserver/internal/arena"
)

func TestTransferIsIdempotentPerRef(t *testing.T) {
	ctx := context.Background()
	bank := NewMemory()
	alice := CharacterAccount(1)
	escrow := EscrowAccount(9, 0, arena.OddsParimutuel)
	bank.Deposit(alice, decimal.NewFromInt(100))

	require.NoError(t, bank.Transfer(ctx, alice, escrow, decimal.NewFromInt(30), BetRef(1)))
	require.NoError(t, bank.Transfer(ctx, alice, escrow, decimal.NewFromInt(30), BetRef(1)))

	bal, _ := bank.Balance(ctx, alice)
	assert.Equal(t, "70", bal.String())
	bal, _ = bank.Balance(ctx, escrow)
	assert.Equal(t, "30", bal.String())
	assert.Len(t, bank.Journal(), 1)
}

func TestTransferRejectsOverdraw(t *testing.T) {
	ctx := context.Background()
	bank := NewMemory()
	err := bank.Transfer(ctx, CharacterAccount(1), "arena:1", decimal.NewFromInt(5), "x")
	assert.True(t, eris.Is(err, arena.ErrInsufficientFunds))

	bank.AllowOverdraft("arena:1")
	require.NoError(t, bank.Transfer(ctx, "arena:1", CharacterAccount(1), decimal.NewFromInt(5), "fee"))
	bal, _ := bank.Balance(ctx, "arena:1")
	assert.Equal(t, "-5", bal.String())
}

func TestTransferRejectsNonPositive(t *testing.T) {
	err := NewMemory().Transfer(context.Background(), "a", "b", decimal.Zero, "zero")
	assert.True(t, eris.Is(err, arena.ErrInvalidStake))
}

func TestEscrowAccountsAreSegregated(t *testing.T) {
	assert.NotEqual(t, EscrowAccount(1, 0, arena.OddsFixed), EscrowAccount(1, 0, arena.OddsParimutuel))
	assert.Equal(t, "escrow:event:1:side:0:fixed", EscrowAccount(1, 0, arena.OddsFixed))
}
