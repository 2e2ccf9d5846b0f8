package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// State is the serialisable form of a ledger. Amounts are base-unit decimal
// strings.
type State struct {
	Address         common.Address                               `json:"address"`
	Owner           common.Address                               `json:"owner"`
	Name            string                                       `json:"name"`
	Symbol          string                                       `json:"symbol"`
	Price           string                                       `json:"price"`
	LastPriceUpdate time.Time                                    `json:"last_price_update"`
	IntervalSeconds int64                                        `json:"price_update_interval_seconds"`
	TotalIssued     string                                       `json:"total_issued"`
	Balances        map[common.Address]string                    `json:"balances"`
	Allowances      map[common.Address]map[common.Address]string `json:"allowances,omitempty"`
}

// State captures the ledger for a snapshot.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := State{
		Address:         l.addr,
		Owner:           l.owner,
		Name:            l.name,
		Symbol:          l.symbol,
		Price:           l.price.Dec(),
		LastPriceUpdate: l.lastUpdate,
		IntervalSeconds: int64(l.interval / time.Second),
		TotalIssued:     l.totalIssued.Dec(),
		Balances:        make(map[common.Address]string, len(l.balances)),
	}
	for acct, bal := range l.balances {
		st.Balances[acct] = bal.Dec()
	}
	if len(l.allowances) > 0 {
		st.Allowances = make(map[common.Address]map[common.Address]string, len(l.allowances))
		for owner, spenders := range l.allowances {
			m := make(map[common.Address]string, len(spenders))
			for spender, a := range spenders {
				m[spender] = a.Dec()
			}
			st.Allowances[owner] = m
		}
	}
	return st
}

// Restore rebuilds a ledger from a snapshot. It fails when the balances do
// not add up to the recorded total.
func Restore(st State, auth Authorizer, emitter domain.Emitter, nowFn func() time.Time) (*Ledger, error) {
	price, err := domain.ParseAmount(st.Price)
	if err != nil {
		return nil, fmt.Errorf("ledger: restore %s: %w", st.Address.Hex(), err)
	}
	l, err := New(Config{
		Address:             st.Address,
		Owner:               st.Owner,
		Name:                st.Name,
		Symbol:              st.Symbol,
		Price:               price,
		PriceUpdateInterval: time.Duration(st.IntervalSeconds) * time.Second,
	}, auth, emitter, nowFn)
	if err != nil {
		return nil, fmt.Errorf("ledger: restore %s: %w", st.Address.Hex(), err)
	}
	l.lastUpdate = st.LastPriceUpdate

	sum := new(uint256.Int)
	for acct, s := range st.Balances {
		bal, err := domain.ParseAmount(s)
		if err != nil {
			return nil, fmt.Errorf("ledger: restore %s: balance of %s: %w", st.Address.Hex(), acct.Hex(), err)
		}
		if _, overflow := sum.AddOverflow(sum, bal); overflow {
			return nil, fmt.Errorf("ledger: restore %s: %w", st.Address.Hex(), domain.ErrOverflow)
		}
		l.setBalanceLocked(acct, bal)
	}
	total, err := domain.ParseAmount(st.TotalIssued)
	if err != nil {
		return nil, fmt.Errorf("ledger: restore %s: total issued: %w", st.Address.Hex(), err)
	}
	if !total.Eq(sum) {
		return nil, fmt.Errorf("ledger: restore %s: total issued %s does not match balances %s",
			st.Address.Hex(), total.Dec(), sum.Dec())
	}
	l.totalIssued = total

	for owner, spenders := range st.Allowances {
		for spender, s := range spenders {
			a, err := domain.ParseAmount(s)
			if err != nil {
				return nil, fmt.Errorf("ledger: restore %s: allowance: %w", st.Address.Hex(), err)
			}
			if a.IsZero() {
				continue
			}
			if l.allowances[owner] == nil {
				l.allowances[owner] = make(map[common.Address]*uint256.Int)
			}
			l.allowances[owner][spender] = a
		}
	}
	return l, nil
}
