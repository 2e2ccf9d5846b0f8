package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Transfer moves quantity from the caller to another account.
func (l *Ledger) Transfer(from, to common.Address, quantity *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.transferLocked(from, to, quantity); err != nil {
		return fmt.Errorf("ledger: transfer: %w", err)
	}
	l.emitTransfer(from, to, quantity, common.Address{})
	return nil
}

// Approve sets the amount spender may move out of owner's balance. A zero
// quantity revokes the allowance.
func (l *Ledger) Approve(owner, spender common.Address, quantity *uint256.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return fmt.Errorf("ledger: approve: %w", domain.ErrZeroAddress)
	}
	if quantity == nil {
		quantity = new(uint256.Int)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if quantity.IsZero() {
		delete(l.allowances[owner], spender)
		if len(l.allowances[owner]) == 0 {
			delete(l.allowances, owner)
		}
	} else {
		if l.allowances[owner] == nil {
			l.allowances[owner] = make(map[common.Address]*uint256.Int)
		}
		l.allowances[owner][spender] = new(uint256.Int).Set(quantity)
	}
	l.emitter.Emit(domain.EventLedgerApproval, map[string]any{
		"ledger":   l.addr.Hex(),
		"owner":    owner.Hex(),
		"spender":  spender.Hex(),
		"quantity": quantity.Dec(),
	})
	return nil
}

// Allowance returns the amount spender may still move out of owner's balance.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int)
}

// TransferFrom moves quantity out of from's balance on behalf of spender,
// consuming allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, quantity *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed, ok := l.allowances[from][spender]
	if quantity != nil && (!ok || allowed.Lt(quantity)) {
		return fmt.Errorf("ledger: transfer from: %w", domain.ErrInsufficientAllowance)
	}
	if err := l.transferLocked(from, to, quantity); err != nil {
		return fmt.Errorf("ledger: transfer from: %w", err)
	}
	// A self-transfer moves nothing and leaves the allowance intact.
	if from != to {
		left := new(uint256.Int).Sub(allowed, quantity)
		if left.IsZero() {
			delete(l.allowances[from], spender)
		} else {
			l.allowances[from][spender] = left
		}
	}
	l.emitTransfer(from, to, quantity, spender)
	return nil
}

func (l *Ledger) transferLocked(from, to common.Address, quantity *uint256.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return domain.ErrZeroAddress
	}
	if quantity == nil || quantity.IsZero() {
		return domain.ErrZeroAmount
	}
	src := l.balanceLocked(from)
	if src.Lt(quantity) {
		return domain.ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	src.Sub(src, quantity)
	dst := l.balanceLocked(to)
	dst.Add(dst, quantity)
	l.setBalanceLocked(from, src)
	l.setBalanceLocked(to, dst)
	return nil
}
