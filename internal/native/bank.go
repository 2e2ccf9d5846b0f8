// Package native is the in-process settlement currency: an account table
// with atomic transfers that the exchange pays in and out of.
package native

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Bank implements domain.NativeBank.
type Bank struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
	emitter  domain.Emitter
}

var _ domain.NativeBank = (*Bank)(nil)

// New creates an empty bank.
func New(emitter domain.Emitter) *Bank {
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	return &Bank{
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
		emitter:  emitter,
	}
}

// BalanceOf returns the native balance of account.
func (b *Bank) BalanceOf(account common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// Supply returns the total native currency deposited into the bank.
func (b *Bank) Supply() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.supply)
}

// Deposit brings amount of external native currency into account.
func (b *Bank) Deposit(account common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) {
		return fmt.Errorf("native: deposit: %w", domain.ErrZeroAddress)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("native: deposit: %w", domain.ErrZeroAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(b.supply, amount)
	if overflow {
		return fmt.Errorf("native: deposit: %w", domain.ErrOverflow)
	}
	b.supply = supply
	b.balances[account] = new(uint256.Int).Add(b.balanceLocked(account), amount)
	b.emitter.Emit(domain.EventNativeDeposit, map[string]any{
		"account": account.Hex(),
		"amount":  amount.Dec(),
	})
	return nil
}

// Transfer moves amount from one account to another, or nothing at all.
func (b *Bank) Transfer(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return fmt.Errorf("native: transfer: %w", domain.ErrZeroAddress)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("native: transfer: %w", domain.ErrZeroAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balanceLocked(from)
	if src.Lt(amount) {
		return fmt.Errorf("native: transfer: %w", domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	src.Sub(src, amount)
	if src.IsZero() {
		delete(b.balances, from)
	} else {
		b.balances[from] = src
	}
	b.balances[to] = new(uint256.Int).Add(b.balanceLocked(to), amount)
	return nil
}

func (b *Bank) balanceLocked(account common.Address) *uint256.Int {
	if bal, ok := b.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// State is the serialisable form of the bank.
type State struct {
	Balances map[common.Address]string `json:"balances"`
}

// State captures the bank for a snapshot.
func (b *Bank) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := State{Balances: make(map[common.Address]string, len(b.balances))}
	for acct, bal := range b.balances {
		st.Balances[acct] = bal.Dec()
	}
	return st
}

// Restore rebuilds a bank from a snapshot.
func Restore(st State, emitter domain.Emitter) (*Bank, error) {
	b := New(emitter)
	for acct, s := range st.Balances {
		bal, err := domain.ParseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("native: restore %s: %w", acct.Hex(), err)
		}
		if bal.IsZero() {
			continue
		}
		if _, overflow := b.supply.AddOverflow(b.supply, bal); overflow {
			return nil, fmt.Errorf("native: restore: %w", domain.ErrOverflow)
		}
		b.balances[acct] = bal
	}
	return b, nil
}
