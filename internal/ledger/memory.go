package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"arenaserver/internal/arena"
)

type Transfer struct {
	ID     string
	From   string
	To     string
	Amount decimal.Decimal
	Ref    string
	At     time.Time
}

// Memory is an in-process bank. Accounts listed with AllowOverdraft may go
// negative; every other account must cover its debits.
type Memory struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	blocked   map[string]bool
	overdraft map[string]bool
	applied   map[string]bool
	journal   []Transfer
}

func NewMemory() *Memory {
	return &Memory{
		balances:  map[string]decimal.Decimal{},
		blocked:   map[string]bool{},
		overdraft: map[string]bool{},
		applied:   map[string]bool{},
	}
}

func (m *Memory) Deposit(account string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = m.balances[account].Add(amount)
}

func (m *Memory) SetBlocked(account string, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked[account] = blocked
}

func (m *Memory) AllowOverdraft(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overdraft[account] = true
}

func (m *Memory) Transfer(_ context.Context, from, to string, amount decimal.Decimal, ref string) error {
	if !amount.IsPositive() {
		return eris.Wrapf(arena.ErrInvalidStake, "transfer %s of %s", ref, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[ref] {
		return nil
	}
	if !m.overdraft[from] && m.balances[from].LessThan(amount) {
		return eris.Wrapf(arena.ErrInsufficientFunds, "%s holds %s, needs %s", from, m.balances[from], amount)
	}
	m.balances[from] = m.balances[from].Sub(amount)
	m.balances[to] = m.balances[to].Add(amount)
	m.applied[ref] = true
	m.journal = append(m.journal, Transfer{
		ID:     uuid.NewString(),
		From:   from,
		To:     to,
		Amount: amount,
		Ref:    ref,
		At:     time.Now(),
	})
	return nil
}

func (m *Memory) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

func (m *Memory) IsBlocked(_ context.Context, account string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[account], nil
}

func (m *Memory) Journal() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transfer(nil), m.journal...)
}
