// Package ledger implements the per-creator balance table: owner-set unit
// price with an update cooldown, capability-gated operator credits and
// debits, and plain holder transfers with allowances.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// DefaultPriceUpdateInterval is the cooldown between two price changes when
// the ledger is created without an explicit interval.
const DefaultPriceUpdateInterval = time.Hour

// Authorizer decides whether an operator may move balances on a ledger
// without the holder's consent.
type Authorizer interface {
	HasCapability(operator, ledger common.Address) bool
}

// Config holds the immutable identity and initial pricing of a ledger.
type Config struct {
	Address             common.Address
	Owner               common.Address
	Name                string
	Symbol              string
	Price               *uint256.Int
	PriceUpdateInterval time.Duration
}

// Ledger is safe for concurrent use. Every mutating call holds the ledger
// lock for its whole duration.
type Ledger struct {
	mu sync.Mutex

	addr   common.Address
	owner  common.Address
	name   string
	symbol string

	price      *uint256.Int
	lastUpdate time.Time
	interval   time.Duration

	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int
	totalIssued *uint256.Int

	auth    Authorizer
	emitter domain.Emitter
	nowFn   func() time.Time
}

// New creates an empty ledger. The price cooldown starts at creation time.
func New(cfg Config, auth Authorizer, emitter domain.Emitter, nowFn func() time.Time) (*Ledger, error) {
	if cfg.Address == (common.Address{}) || cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("ledger: new: %w", domain.ErrZeroAddress)
	}
	if cfg.Name == "" || cfg.Symbol == "" {
		return nil, fmt.Errorf("ledger: new: %w", domain.ErrInvalidName)
	}
	if cfg.Price == nil || cfg.Price.IsZero() {
		return nil, fmt.Errorf("ledger: new: %w", domain.ErrInvalidPrice)
	}
	if cfg.PriceUpdateInterval <= 0 {
		cfg.PriceUpdateInterval = DefaultPriceUpdateInterval
	}
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{
		addr:        cfg.Address,
		owner:       cfg.Owner,
		name:        cfg.Name,
		symbol:      cfg.Symbol,
		price:       new(uint256.Int).Set(cfg.Price),
		lastUpdate:  nowFn().UTC(),
		interval:    cfg.PriceUpdateInterval,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		totalIssued: new(uint256.Int),
		auth:        auth,
		emitter:     emitter,
		nowFn:       nowFn,
	}, nil
}

// Address returns the ledger's identity.
func (l *Ledger) Address() common.Address { return l.addr }

// Owner returns the creator that owns the ledger.
func (l *Ledger) Owner() common.Address { return l.owner }

// Info returns a consistent read-only view of the ledger.
func (l *Ledger) Info() domain.LedgerInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.LedgerInfo{
		Address:             l.addr,
		Owner:               l.owner,
		Name:                l.name,
		Symbol:              l.symbol,
		Price:               new(uint256.Int).Set(l.price),
		LastPriceUpdate:     l.lastUpdate,
		PriceUpdateInterval: l.interval,
		TotalIssued:         new(uint256.Int).Set(l.totalIssued),
		Holders:             len(l.balances),
	}
}

// Price returns the current unit price.
func (l *Ledger) Price() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.price)
}

// SetPrice changes the unit price. Only the owner may call it, only once the
// update interval has elapsed, and only to a different positive value.
func (l *Ledger) SetPrice(caller common.Address, newPrice *uint256.Int) error {
	if newPrice == nil || newPrice.IsZero() {
		return fmt.Errorf("ledger: set price: %w", domain.ErrInvalidPrice)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return fmt.Errorf("ledger: set price: %w", domain.ErrNotOwner)
	}
	now := l.nowFn().UTC()
	if now.Before(l.lastUpdate.Add(l.interval)) {
		return fmt.Errorf("ledger: set price: %w", domain.ErrPriceCooldown)
	}
	if newPrice.Eq(l.price) {
		return fmt.Errorf("ledger: set price: %w", domain.ErrPriceUnchanged)
	}

	old := l.price
	l.price = new(uint256.Int).Set(newPrice)
	l.lastUpdate = now
	l.emitter.Emit(domain.EventLedgerPriceUpdated, map[string]any{
		"ledger":    l.addr.Hex(),
		"old_price": old.Dec(),
		"new_price": l.price.Dec(),
		"timestamp": now.Unix(),
	})
	return nil
}

// SetPriceUpdateInterval changes the price cooldown. Zero and no-op values
// are rejected.
func (l *Ledger) SetPriceUpdateInterval(caller common.Address, d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("ledger: set price interval: %w", domain.ErrInvalidInterval)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return fmt.Errorf("ledger: set price interval: %w", domain.ErrNotOwner)
	}
	if d == l.interval {
		return fmt.Errorf("ledger: set price interval: %w", domain.ErrSettingUnchanged)
	}
	old := l.interval
	l.interval = d
	l.emitter.Emit(domain.EventLedgerIntervalUpdated, map[string]any{
		"ledger":       l.addr.Hex(),
		"old_interval": int64(old / time.Second),
		"new_interval": int64(d / time.Second),
	})
	return nil
}

// CanUpdatePrice reports whether SetPrice would pass the cooldown check and,
// if not, how many whole seconds remain.
func (l *Ledger) CanUpdatePrice() (bool, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.lastUpdate.Add(l.interval)
	now := l.nowFn()
	if !now.Before(next) {
		return true, 0
	}
	remaining := next.Sub(now)
	secs := uint64(remaining / time.Second)
	if remaining%time.Second != 0 {
		secs++
	}
	return false, secs
}

// QuantityForAmount converts a native amount into ledger units at the
// current price, truncating.
func (l *Ledger) QuantityForAmount(amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("ledger: quantity for amount: %w", domain.ErrZeroAmount)
	}
	price := l.Price()
	q, err := domain.MulDiv(amount, domain.UnitScale, price)
	if err != nil {
		return nil, fmt.Errorf("ledger: quantity for amount: %w", err)
	}
	return q, nil
}

// AmountForQuantity converts ledger units into a native amount at the
// current price, truncating.
func (l *Ledger) AmountForQuantity(quantity *uint256.Int) (*uint256.Int, error) {
	if quantity == nil || quantity.IsZero() {
		return nil, fmt.Errorf("ledger: amount for quantity: %w", domain.ErrZeroAmount)
	}
	price := l.Price()
	v, err := domain.MulDiv(quantity, price, domain.UnitScale)
	if err != nil {
		return nil, fmt.Errorf("ledger: amount for quantity: %w", err)
	}
	return v, nil
}

// BalanceOf returns the balance of account.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(account)
}

// TotalIssued returns the number of units in circulation.
func (l *Ledger) TotalIssued() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.totalIssued)
}

// Holders returns a copy of every non-zero balance.
func (l *Ledger) Holders() map[common.Address]*uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[common.Address]*uint256.Int, len(l.balances))
	for acct, bal := range l.balances {
		out[acct] = new(uint256.Int).Set(bal)
	}
	return out
}

func (l *Ledger) balanceLocked(account common.Address) *uint256.Int {
	if bal, ok := l.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalanceLocked(account common.Address, bal *uint256.Int) {
	if bal.IsZero() {
		delete(l.balances, account)
		return
	}
	l.balances[account] = bal
}

func (l *Ledger) emitTransfer(from, to common.Address, qty *uint256.Int, operator common.Address) {
	payload := map[string]any{
		"ledger":   l.addr.Hex(),
		"from":     from.Hex(),
		"to":       to.Hex(),
		"quantity": qty.Dec(),
	}
	if operator != (common.Address{}) {
		payload["operator"] = operator.Hex()
	}
	l.emitter.Emit(domain.EventLedgerTransfer, payload)
}
