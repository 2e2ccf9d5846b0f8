package exchange

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// SetFeePercent changes the platform fee. Administrator only.
func (e *Exchange) SetFeePercent(caller common.Address, pct uint64) error {
	if caller != e.admin {
		return fmt.Errorf("exchange: set fee: %w", domain.ErrNotAdmin)
	}
	if pct > MaxFeePercent {
		return fmt.Errorf("exchange: set fee %d: %w", pct, domain.ErrFeeTooHigh)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.feePercent
	e.feePercent = pct
	e.emitter.Emit(domain.EventExchangeFeeUpdated, map[string]any{
		"old_fee_percent": old,
		"new_fee_percent": pct,
	})
	return nil
}

// WithdrawFees pays the whole fee accumulator to to and resets it.
// Administrator only.
func (e *Exchange) WithdrawFees(caller, to common.Address) (*uint256.Int, error) {
	if caller != e.admin {
		return nil, fmt.Errorf("exchange: withdraw fees: %w", domain.ErrNotAdmin)
	}
	if to == (common.Address{}) {
		return nil, fmt.Errorf("exchange: withdraw fees: %w", domain.ErrZeroAddress)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fees.IsZero() {
		return nil, fmt.Errorf("exchange: withdraw fees: %w", domain.ErrNoFees)
	}
	amount := new(uint256.Int).Set(e.fees)
	if e.bank.BalanceOf(e.addr).Lt(amount) {
		return nil, fmt.Errorf("exchange: withdraw fees: %w", domain.ErrInsufficientLiquidity)
	}
	if err := e.bank.Transfer(e.addr, to, amount); err != nil {
		return nil, fmt.Errorf("exchange: withdraw fees: %w", err)
	}
	e.fees.Clear()
	e.emitter.Emit(domain.EventExchangeFeesWithdrawn, map[string]any{
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	return amount, nil
}

// EmergencyWithdraw moves amount out of the exchange regardless of what it
// backs. The fee accumulator is clamped to what is left. Administrator only.
func (e *Exchange) EmergencyWithdraw(caller, to common.Address, amount *uint256.Int) error {
	if caller != e.admin {
		return fmt.Errorf("exchange: emergency withdraw: %w", domain.ErrNotAdmin)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("exchange: emergency withdraw: %w", domain.ErrZeroAddress)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("exchange: emergency withdraw: %w", domain.ErrZeroAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bank.BalanceOf(e.addr).Lt(amount) {
		return fmt.Errorf("exchange: emergency withdraw: %w", domain.ErrInsufficientLiquidity)
	}
	if err := e.bank.Transfer(e.addr, to, amount); err != nil {
		return fmt.Errorf("exchange: emergency withdraw: %w", err)
	}
	if left := e.bank.BalanceOf(e.addr); e.fees.Gt(left) {
		e.fees.Set(left)
	}
	e.logger.Warn("emergency withdrawal",
		slog.String("to", to.Hex()),
		slog.String("amount", amount.Dec()),
	)
	e.emitter.Emit(domain.EventExchangeEmergency, map[string]any{
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
	return nil
}

// Deposit moves native currency from the administrator into the exchange so
// sells can be paid out.
func (e *Exchange) Deposit(caller common.Address, amount *uint256.Int) error {
	if caller != e.admin {
		return fmt.Errorf("exchange: deposit: %w", domain.ErrNotAdmin)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("exchange: deposit: %w", domain.ErrZeroAmount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.bank.Transfer(caller, e.addr, amount); err != nil {
		return fmt.Errorf("exchange: deposit: %w", err)
	}
	e.emitter.Emit(domain.EventExchangeDeposit, map[string]any{
		"from":   caller.Hex(),
		"amount": amount.Dec(),
	})
	return nil
}

// State is the serialisable form of the exchange. Its native balance lives in
// the bank.
type State struct {
	FeePercent uint64 `json:"fee_percent"`
	Fees       string `json:"fees"`
}

// State captures the exchange for a snapshot.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{FeePercent: e.feePercent, Fees: e.fees.Dec()}
}

// Restore replaces the exchange's mutable state with a snapshot.
func (e *Exchange) Restore(st State) error {
	if st.FeePercent > MaxFeePercent {
		return fmt.Errorf("exchange: restore: %w", domain.ErrFeeTooHigh)
	}
	fees, err := domain.ParseAmount(st.Fees)
	if err != nil {
		return fmt.Errorf("exchange: restore: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.feePercent = st.FeePercent
	e.fees = fees
	return nil
}
