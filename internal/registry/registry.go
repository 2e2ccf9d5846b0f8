// Package registry is the creator directory. It issues exactly one ledger per
// creator, tracks the ban lifecycle and decides which system components may
// act as ledger operators.
package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/ledger"
)

// Config configures a Registry.
type Config struct {
	Admin   common.Address
	Address common.Address
	// PriceUpdateInterval is the initial price cooldown of every new ledger.
	PriceUpdateInterval time.Duration
}

// Registry is safe for concurrent use. It never calls into a ledger while
// holding its own lock.
type Registry struct {
	mu sync.RWMutex

	admin    common.Address
	addr     common.Address
	interval time.Duration

	creators map[common.Address]*domain.Creator
	ledgers  []*ledger.Ledger
	byAddr   map[common.Address]*ledger.Ledger

	operators    map[common.Address]bool
	grants       map[common.Address]map[common.Address]bool // ledger -> operator
	adjudicators map[common.Address]bool

	emitter domain.Emitter
	nowFn   func() time.Time
}

// New creates an empty registry.
func New(cfg Config, emitter domain.Emitter, nowFn func() time.Time) (*Registry, error) {
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("registry: new: admin: %w", domain.ErrZeroAddress)
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = domain.ComponentAddress("registry")
	}
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Registry{
		admin:        cfg.Admin,
		addr:         cfg.Address,
		interval:     cfg.PriceUpdateInterval,
		creators:     make(map[common.Address]*domain.Creator),
		byAddr:       make(map[common.Address]*ledger.Ledger),
		operators:    make(map[common.Address]bool),
		grants:       make(map[common.Address]map[common.Address]bool),
		adjudicators: make(map[common.Address]bool),
		emitter:      emitter,
		nowFn:        nowFn,
	}, nil
}

// Admin returns the administrator identity.
func (r *Registry) Admin() common.Address { return r.admin }

// Address returns the registry's own identity.
func (r *Registry) Address() common.Address { return r.addr }

// RegisterCreator issues a new ledger owned by caller.
func (r *Registry) RegisterCreator(caller common.Address, name, symbol string, initialPrice *uint256.Int) (*ledger.Ledger, error) {
	if caller == (common.Address{}) {
		return nil, fmt.Errorf("registry: register creator: %w", domain.ErrZeroAddress)
	}
	name, symbol = strings.TrimSpace(name), strings.TrimSpace(symbol)
	if name == "" || symbol == "" {
		return nil, fmt.Errorf("registry: register creator: %w", domain.ErrInvalidName)
	}
	if initialPrice == nil || initialPrice.IsZero() {
		return nil, fmt.Errorf("registry: register creator: %w", domain.ErrInvalidPrice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.creators[caller]; ok {
		return nil, fmt.Errorf("registry: register creator %s: %w", caller.Hex(), domain.ErrAlreadyRegistered)
	}

	addr := ethcrypto.CreateAddress(r.addr, uint64(len(r.ledgers)))
	l, err := ledger.New(ledger.Config{
		Address:             addr,
		Owner:               caller,
		Name:                name,
		Symbol:              symbol,
		Price:               initialPrice,
		PriceUpdateInterval: r.interval,
	}, r, r.emitter, r.nowFn)
	if err != nil {
		return nil, fmt.Errorf("registry: register creator: %w", err)
	}

	now := r.nowFn().UTC()
	r.creators[caller] = &domain.Creator{
		Address:      caller,
		Ledger:       addr,
		Active:       true,
		RegisteredAt: now,
	}
	r.ledgers = append(r.ledgers, l)
	r.byAddr[addr] = l

	r.emitter.Emit(domain.EventCreatorRegistered, map[string]any{
		"creator": caller.Hex(),
		"ledger":  addr.Hex(),
		"name":    name,
		"symbol":  symbol,
		"price":   initialPrice.Dec(),
	})
	return l, nil
}

// Creator returns a copy of the creator record.
func (r *Registry) Creator(addr common.Address) (domain.Creator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creators[addr]
	if !ok {
		return domain.Creator{}, fmt.Errorf("registry: creator %s: %w", addr.Hex(), domain.ErrUnknownCreator)
	}
	out := *c
	if c.BannedAt != nil {
		t := *c.BannedAt
		out.BannedAt = &t
	}
	return out, nil
}

// IsCreatorActive reports whether addr is registered and not banned.
func (r *Registry) IsCreatorActive(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creators[addr]
	return ok && c.Active && !c.Banned
}

// Ledger looks up a ledger by its address.
func (r *Registry) Ledger(addr common.Address) (*ledger.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("registry: ledger %s: %w", addr.Hex(), domain.ErrUnknownLedger)
	}
	return l, nil
}

// LedgerOf returns the ledger owned by creator.
func (r *Registry) LedgerOf(creator common.Address) (*ledger.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creators[creator]
	if !ok {
		return nil, fmt.Errorf("registry: ledger of %s: %w", creator.Hex(), domain.ErrUnknownCreator)
	}
	return r.byAddr[c.Ledger], nil
}

// LedgerCount returns the number of issued ledgers.
func (r *Registry) LedgerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ledgers)
}

// Ledgers returns up to limit ledgers in issue order starting at offset. An
// offset past the end is an error rather than an empty page.
func (r *Registry) Ledgers(offset, limit int) ([]*ledger.Ledger, error) {
	if offset < 0 || limit <= 0 {
		return nil, fmt.Errorf("registry: list ledgers: %w", domain.ErrOutOfRange)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.ledgers)
	if n == 0 && offset == 0 {
		return []*ledger.Ledger{}, nil
	}
	if offset >= n {
		return nil, fmt.Errorf("registry: list ledgers: offset %d of %d: %w", offset, n, domain.ErrOutOfRange)
	}
	end := min(offset+limit, n)
	out := make([]*ledger.Ledger, end-offset)
	copy(out, r.ledgers[offset:end])
	return out, nil
}
