package registry

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/ledger"
)

// CreatorState is the serialisable form of a creator record.
type CreatorState struct {
	Address      common.Address `json:"address"`
	Ledger       common.Address `json:"ledger"`
	Banned       bool           `json:"banned"`
	BanReason    string         `json:"ban_reason,omitempty"`
	BannedAt     *time.Time     `json:"banned_at,omitempty"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// State is the serialisable form of the registry and every ledger it issued.
type State struct {
	Admin        common.Address                      `json:"admin"`
	Address      common.Address                      `json:"address"`
	Creators     []CreatorState                      `json:"creators"`
	Ledgers      []ledger.State                      `json:"ledgers"`
	Operators    []common.Address                    `json:"operators"`
	Grants       map[common.Address][]common.Address `json:"grants"`
	Adjudicators []common.Address                    `json:"adjudicators"`
}

func sortedKeys(m map[common.Address]bool) []common.Address {
	out := make([]common.Address, 0, len(m))
	for k, v := range m {
		if v {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b common.Address) int { return a.Cmp(b) })
	return out
}

// State captures the registry. Ledger states are read after the registry
// lock is released.
func (r *Registry) State() State {
	r.mu.RLock()
	st := State{
		Admin:        r.admin,
		Address:      r.addr,
		Creators:     make([]CreatorState, 0, len(r.ledgers)),
		Operators:    sortedKeys(r.operators),
		Grants:       make(map[common.Address][]common.Address, len(r.grants)),
		Adjudicators: sortedKeys(r.adjudicators),
	}
	ledgers := slices.Clone(r.ledgers)
	for _, l := range ledgers {
		c := r.creators[l.Owner()]
		st.Creators = append(st.Creators, CreatorState{
			Address:      c.Address,
			Ledger:       c.Ledger,
			Banned:       c.Banned,
			BanReason:    c.BanReason,
			BannedAt:     c.BannedAt,
			RegisteredAt: c.RegisteredAt,
		})
	}
	for addr, ops := range r.grants {
		if len(ops) > 0 {
			st.Grants[addr] = sortedKeys(ops)
		}
	}
	r.mu.RUnlock()

	st.Ledgers = make([]ledger.State, 0, len(ledgers))
	for _, l := range ledgers {
		st.Ledgers = append(st.Ledgers, l.State())
	}
	return st
}

// Restore rebuilds a registry and its ledgers from a snapshot. Ledgers must be
// listed in issue order, one per creator.
func Restore(st State, interval time.Duration, emitter domain.Emitter, nowFn func() time.Time) (*Registry, error) {
	r, err := New(Config{Admin: st.Admin, Address: st.Address, PriceUpdateInterval: interval}, emitter, nowFn)
	if err != nil {
		return nil, fmt.Errorf("registry: restore: %w", err)
	}
	if len(st.Creators) != len(st.Ledgers) {
		return nil, fmt.Errorf("registry: restore: %d creators but %d ledgers", len(st.Creators), len(st.Ledgers))
	}
	for i, ls := range st.Ledgers {
		cs := st.Creators[i]
		if cs.Ledger != ls.Address || cs.Address != ls.Owner {
			return nil, fmt.Errorf("registry: restore: creator %s does not own ledger %s", cs.Address.Hex(), ls.Address.Hex())
		}
		if _, dup := r.creators[cs.Address]; dup {
			return nil, fmt.Errorf("registry: restore %s: %w", cs.Address.Hex(), domain.ErrAlreadyRegistered)
		}
		l, err := ledger.Restore(ls, r, r.emitter, r.nowFn)
		if err != nil {
			return nil, fmt.Errorf("registry: restore: %w", err)
		}
		r.creators[cs.Address] = &domain.Creator{
			Address:      cs.Address,
			Ledger:       cs.Ledger,
			Active:       true,
			Banned:       cs.Banned,
			BanReason:    cs.BanReason,
			BannedAt:     cs.BannedAt,
			RegisteredAt: cs.RegisteredAt,
		}
		r.ledgers = append(r.ledgers, l)
		r.byAddr[l.Address()] = l
	}
	for _, op := range st.Operators {
		r.operators[op] = true
	}
	for addr, ops := range st.Grants {
		m := make(map[common.Address]bool, len(ops))
		for _, op := range ops {
			m[op] = true
		}
		r.grants[addr] = m
	}
	for _, a := range st.Adjudicators {
		r.adjudicators[a] = true
	}
	return r, nil
}
