package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

func (l *Ledger) authorize(operator common.Address) error {
	if l.auth == nil || !l.auth.HasCapability(operator, l.addr) {
		return domain.ErrUnauthorizedOperator
	}
	return nil
}

// Credit issues quantity new units to account. The caller must hold an
// operator capability for this ledger.
func (l *Ledger) Credit(operator, account common.Address, quantity *uint256.Int) error {
	if err := l.authorize(operator); err != nil {
		return fmt.Errorf("ledger: credit: %w", err)
	}
	if account == (common.Address{}) {
		return fmt.Errorf("ledger: credit: %w", domain.ErrZeroAddress)
	}
	if quantity == nil || quantity.IsZero() {
		return fmt.Errorf("ledger: credit: %w", domain.ErrZeroAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	total, overflow := new(uint256.Int).AddOverflow(l.totalIssued, quantity)
	if overflow {
		return fmt.Errorf("ledger: credit: %w", domain.ErrOverflow)
	}
	// Every balance is bounded by totalIssued, so this add cannot overflow.
	bal := l.balanceLocked(account)
	bal.Add(bal, quantity)
	l.setBalanceLocked(account, bal)
	l.totalIssued = total
	l.emitTransfer(common.Address{}, account, quantity, operator)
	return nil
}

// Debit burns quantity units from account. The caller must hold an operator
// capability for this ledger.
func (l *Ledger) Debit(operator, account common.Address, quantity *uint256.Int) error {
	if err := l.authorize(operator); err != nil {
		return fmt.Errorf("ledger: debit: %w", err)
	}
	if account == (common.Address{}) {
		return fmt.Errorf("ledger: debit: %w", domain.ErrZeroAddress)
	}
	if quantity == nil || quantity.IsZero() {
		return fmt.Errorf("ledger: debit: %w", domain.ErrZeroAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(account)
	if bal.Lt(quantity) {
		return fmt.Errorf("ledger: debit: %w", domain.ErrInsufficientBalance)
	}
	bal.Sub(bal, quantity)
	l.setBalanceLocked(account, bal)
	l.totalIssued = new(uint256.Int).Sub(l.totalIssued, quantity)
	l.emitTransfer(account, common.Address{}, quantity, operator)
	return nil
}

// OperatorTransfer moves quantity from one account to another in a single
// step. It is how escrow holders pull and release stakes.
func (l *Ledger) OperatorTransfer(operator, from, to common.Address, quantity *uint256.Int) error {
	if err := l.authorize(operator); err != nil {
		return fmt.Errorf("ledger: operator transfer: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.transferLocked(from, to, quantity); err != nil {
		return fmt.Errorf("ledger: operator transfer: %w", err)
	}
	l.emitTransfer(from, to, quantity, operator)
	return nil
}

// Release pays quantity out of holder's own balance. Escrow holders settle
// stakes with it; it needs no capability, so a revoked grant cannot strand
// units already held.
func (l *Ledger) Release(holder, to common.Address, quantity *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.transferLocked(holder, to, quantity); err != nil {
		return fmt.Errorf("ledger: release: %w", err)
	}
	l.emitTransfer(holder, to, quantity, holder)
	return nil
}
