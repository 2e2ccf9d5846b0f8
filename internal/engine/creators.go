package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// RegisterCreator issues a ledger for caller.
func (e *Engine) RegisterCreator(caller common.Address, name, symbol string, price *uint256.Int) (domain.LedgerInfo, error) {
	return guard(e, func() (domain.LedgerInfo, error) {
		l, err := e.registry.RegisterCreator(caller, name, symbol, price)
		if err != nil {
			return domain.LedgerInfo{}, err
		}
		if e.cfg.GrantOnRegister {
			for _, op := range []common.Address{e.exchange.Address(), e.market.Address()} {
				if err := e.registry.GrantOperator(caller, op); err != nil && !errors.Is(err, domain.ErrSettingUnchanged) {
					return domain.LedgerInfo{}, fmt.Errorf("engine: register creator: %w", err)
				}
			}
		}
		return l.Info(), nil
	})
}

// Creator returns a creator record.
func (e *Engine) Creator(addr common.Address) (domain.Creator, error) {
	return guard(e, func() (domain.Creator, error) { return e.registry.Creator(addr) })
}

// IsCreatorActive reports whether addr is registered and not banned.
func (e *Engine) IsCreatorActive(addr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.IsCreatorActive(addr)
}

// Ban bans a creator. Administrator only.
func (e *Engine) Ban(caller, creator common.Address, reason string) error {
	return guardErr(e, func() error { return e.registry.Ban(caller, creator, reason) })
}

// Unban lifts a ban. Administrator only.
func (e *Engine) Unban(caller, creator common.Address) error {
	return guardErr(e, func() error { return e.registry.Unban(caller, creator) })
}

// SetOperatorAuthorization adds or removes a system-wide ledger operator.
func (e *Engine) SetOperatorAuthorization(caller, operator common.Address, enabled bool) error {
	return guardErr(e, func() error { return e.registry.SetOperatorAuthorization(caller, operator, enabled) })
}

// GrantOperator opts operator into the caller's ledger.
func (e *Engine) GrantOperator(caller, operator common.Address) error {
	return guardErr(e, func() error { return e.registry.GrantOperator(caller, operator) })
}

// RevokeOperator withdraws an operator grant from the caller's ledger.
func (e *Engine) RevokeOperator(caller, operator common.Address) error {
	return guardErr(e, func() error { return e.registry.RevokeOperator(caller, operator) })
}

// HasCapability reports whether operator may move balances on a ledger.
func (e *Engine) HasCapability(operator, ledgerAddr common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.HasCapability(operator, ledgerAddr)
}

// SetAdjudicator grants or removes the ban-on-report role.
func (e *Engine) SetAdjudicator(caller, component common.Address, enabled bool) error {
	return guardErr(e, func() error { return e.registry.SetAdjudicator(caller, component, enabled) })
}

// Ledgers lists ledgers in issue order together with the total count.
func (e *Engine) Ledgers(offset, limit int) ([]domain.LedgerInfo, int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ls, err := e.registry.Ledgers(offset, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]domain.LedgerInfo, len(ls))
	for i, l := range ls {
		out[i] = l.Info()
	}
	return out, e.registry.LedgerCount(), nil
}

// LedgerInfo describes one ledger.
func (e *Engine) LedgerInfo(addr common.Address) (domain.LedgerInfo, error) {
	return guard(e, func() (domain.LedgerInfo, error) {
		l, err := e.ledger(addr)
		if err != nil {
			return domain.LedgerInfo{}, err
		}
		return l.Info(), nil
	})
}

// SetPrice changes a ledger's price. Ledger owner only.
func (e *Engine) SetPrice(caller, ledgerAddr common.Address, price *uint256.Int) error {
	return guardErr(e, func() error {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return err
		}
		return l.SetPrice(caller, price)
	})
}

// SetPriceUpdateInterval changes a ledger's price cooldown. Ledger owner only.
func (e *Engine) SetPriceUpdateInterval(caller, ledgerAddr common.Address, d time.Duration) error {
	return guardErr(e, func() error {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return err
		}
		return l.SetPriceUpdateInterval(caller, d)
	})
}

// PriceStatus reports whether a ledger's price may change now and, if not,
// how many seconds remain.
type PriceStatus struct {
	CanUpdate        bool   `json:"can_update"`
	SecondsRemaining uint64 `json:"seconds_remaining"`
}

// CanUpdatePrice returns the price cooldown state of a ledger.
func (e *Engine) CanUpdatePrice(ledgerAddr common.Address) (PriceStatus, error) {
	return guard(e, func() (PriceStatus, error) {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return PriceStatus{}, err
		}
		ok, remaining := l.CanUpdatePrice()
		return PriceStatus{CanUpdate: ok, SecondsRemaining: remaining}, nil
	})
}

// BalanceOf returns account's units on a ledger.
func (e *Engine) BalanceOf(ledgerAddr, account common.Address) (*uint256.Int, error) {
	return guard(e, func() (*uint256.Int, error) {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return nil, err
		}
		return l.BalanceOf(account), nil
	})
}

// Allowance returns how many units spender may move for owner.
func (e *Engine) Allowance(ledgerAddr, owner, spender common.Address) (*uint256.Int, error) {
	return guard(e, func() (*uint256.Int, error) {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return nil, err
		}
		return l.Allowance(owner, spender), nil
	})
}

// Transfer moves units from caller to another account.
func (e *Engine) Transfer(caller, ledgerAddr, to common.Address, qty *uint256.Int) error {
	return guardErr(e, func() error {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return err
		}
		return l.Transfer(caller, to, qty)
	})
}

// Approve sets spender's allowance over caller's units.
func (e *Engine) Approve(caller, ledgerAddr, spender common.Address, qty *uint256.Int) error {
	return guardErr(e, func() error {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return err
		}
		return l.Approve(caller, spender, qty)
	})
}

// TransferFrom moves units out of from's balance using caller's allowance.
func (e *Engine) TransferFrom(caller, ledgerAddr, from, to common.Address, qty *uint256.Int) error {
	return guardErr(e, func() error {
		l, err := e.ledger(ledgerAddr)
		if err != nil {
			return err
		}
		return l.TransferFrom(caller, from, to, qty)
	})
}
