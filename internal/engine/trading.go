package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/exchange"
)

// QuoteBuy previews a purchase.
func (e *Engine) QuoteBuy(ledgerAddr common.Address, amount *uint256.Int) (exchange.Quote, error) {
	return guard(e, func() (exchange.Quote, error) { return e.exchange.QuoteBuy(ledgerAddr, amount) })
}

// QuoteSell previews a sale.
func (e *Engine) QuoteSell(ledgerAddr common.Address, qty *uint256.Int) (exchange.Quote, error) {
	return guard(e, func() (exchange.Quote, error) { return e.exchange.QuoteSell(ledgerAddr, qty) })
}

// Buy converts native currency into ledger units.
func (e *Engine) Buy(caller, ledgerAddr common.Address, amount *uint256.Int) (exchange.Quote, error) {
	return guard(e, func() (exchange.Quote, error) { return e.exchange.Buy(caller, ledgerAddr, amount) })
}

// Sell converts ledger units back into native currency.
func (e *Engine) Sell(caller, ledgerAddr common.Address, qty *uint256.Int) (exchange.Quote, error) {
	return guard(e, func() (exchange.Quote, error) { return e.exchange.Sell(caller, ledgerAddr, qty) })
}

// ExchangeStatus summarizes the exchange account.
type ExchangeStatus struct {
	Address         common.Address `json:"address"`
	FeePercent      uint64         `json:"fee_percent"`
	AccumulatedFees *uint256.Int   `json:"accumulated_fees"`
	Balance         *uint256.Int   `json:"balance"`
}

// ExchangeStatus returns the fee setting, accrued fees and liquidity.
func (e *Engine) ExchangeStatus() ExchangeStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ExchangeStatus{
		Address:         e.exchange.Address(),
		FeePercent:      e.exchange.FeePercent(),
		AccumulatedFees: e.exchange.AccumulatedFees(),
		Balance:         e.exchange.Balance(),
	}
}

// SetFeePercent changes the exchange fee. Administrator only.
func (e *Engine) SetFeePercent(caller common.Address, pct uint64) error {
	return guardErr(e, func() error { return e.exchange.SetFeePercent(caller, pct) })
}

// WithdrawFees pays out accrued fees. Administrator only.
func (e *Engine) WithdrawFees(caller, to common.Address) (*uint256.Int, error) {
	return guard(e, func() (*uint256.Int, error) { return e.exchange.WithdrawFees(caller, to) })
}

// EmergencyWithdraw drains exchange liquidity. Administrator only.
func (e *Engine) EmergencyWithdraw(caller, to common.Address, amount *uint256.Int) error {
	return guardErr(e, func() error { return e.exchange.EmergencyWithdraw(caller, to, amount) })
}

// DepositLiquidity moves the administrator's native funds into the exchange.
func (e *Engine) DepositLiquidity(caller common.Address, amount *uint256.Int) error {
	return guardErr(e, func() error { return e.exchange.Deposit(caller, amount) })
}

// NativeDeposit mints native currency to account. Administrator only; it is
// the faucet standing in for an external settlement chain.
func (e *Engine) NativeDeposit(caller, account common.Address, amount *uint256.Int) error {
	if caller != e.cfg.Admin {
		return fmt.Errorf("engine: native deposit: %w", domain.ErrNotAdmin)
	}
	return guardErr(e, func() error { return e.bank.Deposit(account, amount) })
}

// NativeTransfer moves caller's native currency to another account.
func (e *Engine) NativeTransfer(caller, to common.Address, amount *uint256.Int) error {
	return guardErr(e, func() error { return e.bank.Transfer(caller, to, amount) })
}

// NativeBalance returns account's native balance.
func (e *Engine) NativeBalance(account common.Address) *uint256.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bank.BalanceOf(account)
}
