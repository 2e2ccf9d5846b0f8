package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Ban marks creator as banned. Administrator only.
func (r *Registry) Ban(caller, creator common.Address, reason string) error {
	if caller != r.admin {
		return fmt.Errorf("registry: ban: %w", domain.ErrNotAdmin)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.banLocked(caller, creator, reason); err != nil {
		return fmt.Errorf("registry: ban: %w", err)
	}
	return nil
}

// BanOnReport lets a fraud adjudicator ban the creator of a disputed
// prediction without holding administrator rights.
func (r *Registry) BanOnReport(caller, creator common.Address, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.adjudicators[caller] {
		return fmt.Errorf("registry: ban on report: %w", domain.ErrNotAdjudicator)
	}
	if err := r.banLocked(caller, creator, reason); err != nil {
		return fmt.Errorf("registry: ban on report: %w", err)
	}
	return nil
}

func (r *Registry) banLocked(by, creator common.Address, reason string) error {
	c, ok := r.creators[creator]
	if !ok {
		return domain.ErrUnknownCreator
	}
	if c.Banned {
		return domain.ErrAlreadyBanned
	}
	now := r.nowFn().UTC()
	c.Banned = true
	c.BanReason = strings.TrimSpace(reason)
	c.BannedAt = &now
	r.emitter.Emit(domain.EventCreatorBanned, map[string]any{
		"creator":   creator.Hex(),
		"reason":    c.BanReason,
		"by":        by.Hex(),
		"timestamp": now.Unix(),
	})
	return nil
}

// Unban lifts a ban and clears its reason. Administrator only.
func (r *Registry) Unban(caller, creator common.Address) error {
	if caller != r.admin {
		return fmt.Errorf("registry: unban: %w", domain.ErrNotAdmin)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creators[creator]
	if !ok {
		return fmt.Errorf("registry: unban %s: %w", creator.Hex(), domain.ErrUnknownCreator)
	}
	if !c.Banned {
		return fmt.Errorf("registry: unban %s: %w", creator.Hex(), domain.ErrNotBanned)
	}
	c.Banned = false
	c.BanReason = ""
	c.BannedAt = nil
	r.emitter.Emit(domain.EventCreatorUnbanned, map[string]any{"creator": creator.Hex()})
	return nil
}

// SetOperatorAuthorization admits or removes a component from the
// system-wide operator class. Administrator only.
func (r *Registry) SetOperatorAuthorization(caller, operator common.Address, enabled bool) error {
	if caller != r.admin {
		return fmt.Errorf("registry: set operator: %w", domain.ErrNotAdmin)
	}
	if operator == (common.Address{}) {
		return fmt.Errorf("registry: set operator: %w", domain.ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		r.operators[operator] = true
	} else {
		delete(r.operators, operator)
	}
	r.emitter.Emit(domain.EventOperatorAuthorization, map[string]any{
		"operator": operator.Hex(),
		"enabled":  enabled,
	})
	return nil
}

// IsOperatorAuthorized reports whether operator belongs to the system-wide
// operator class.
func (r *Registry) IsOperatorAuthorized(operator common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[operator]
}

// GrantOperator opts operator into the caller's own ledger.
func (r *Registry) GrantOperator(creator, operator common.Address) error {
	return r.setGrant(creator, operator, true)
}

// RevokeOperator withdraws a previous GrantOperator.
func (r *Registry) RevokeOperator(creator, operator common.Address) error {
	return r.setGrant(creator, operator, false)
}

func (r *Registry) setGrant(creator, operator common.Address, enabled bool) error {
	op := "grant operator"
	if !enabled {
		op = "revoke operator"
	}
	if operator == (common.Address{}) {
		return fmt.Errorf("registry: %s: %w", op, domain.ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.creators[creator]
	if !ok {
		return fmt.Errorf("registry: %s: %w", op, domain.ErrUnknownCreator)
	}
	granted := r.grants[c.Ledger]
	if granted[operator] == enabled {
		return fmt.Errorf("registry: %s: %w", op, domain.ErrSettingUnchanged)
	}
	if enabled {
		if granted == nil {
			granted = make(map[common.Address]bool)
			r.grants[c.Ledger] = granted
		}
		granted[operator] = true
	} else {
		delete(granted, operator)
	}

	kind := domain.EventOperatorGranted
	if !enabled {
		kind = domain.EventOperatorRevoked
	}
	r.emitter.Emit(kind, map[string]any{
		"creator":  creator.Hex(),
		"ledger":   c.Ledger.Hex(),
		"operator": operator.Hex(),
	})
	return nil
}

// HasCapability reports whether operator may credit, debit and move
// balances on ledgerAddr: it must be in the system-wide operator class and
// the ledger owner must have granted it.
func (r *Registry) HasCapability(operator, ledgerAddr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[operator] && r.grants[ledgerAddr][operator]
}

// SetAdjudicator grants or removes the fraud-adjudicator role that allows
// BanOnReport. Administrator only.
func (r *Registry) SetAdjudicator(caller, component common.Address, enabled bool) error {
	if caller != r.admin {
		return fmt.Errorf("registry: set adjudicator: %w", domain.ErrNotAdmin)
	}
	if component == (common.Address{}) {
		return fmt.Errorf("registry: set adjudicator: %w", domain.ErrZeroAddress)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		r.adjudicators[component] = true
	} else {
		delete(r.adjudicators, component)
	}
	r.emitter.Emit(domain.EventAdjudicatorSet, map[string]any{
		"component": component.Hex(),
		"enabled":   enabled,
	})
	return nil
}
