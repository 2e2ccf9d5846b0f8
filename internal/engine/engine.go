// Package engine wires the registry, exchange, market and native bank into a
// single facade. Every operation runs under the read side of one RWMutex so
// that Snapshot, which takes the write side, always sees a consistent state.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/eventlog"
	"github.com/alanyoungcy/creatormarket/internal/exchange"
	"github.com/alanyoungcy/creatormarket/internal/ledger"
	"github.com/alanyoungcy/creatormarket/internal/market"
	"github.com/alanyoungcy/creatormarket/internal/native"
	"github.com/alanyoungcy/creatormarket/internal/registry"
)

// Config holds the engine parameters.
type Config struct {
	Admin                  common.Address
	FeePercent             uint64
	PriceUpdateInterval    time.Duration
	CooldownDuration       time.Duration
	ReportThresholdPercent uint64
	MinReports             int
	// GrantOnRegister opts every new ledger into the exchange and market
	// operators on the creator's behalf.
	GrantOnRegister bool
}

// Engine is safe for concurrent use.
type Engine struct {
	mu sync.RWMutex

	cfg      Config
	bank     *native.Bank
	registry *registry.Registry
	exchange *exchange.Exchange
	market   *market.Market
	rec      *eventlog.Recorder
	logger   *slog.Logger
	nowFn    func() time.Time
}

// New creates an engine with empty state. The exchange and market are
// authorized as ledger operators and the market may ban creators on report.
func New(cfg Config, rec *eventlog.Recorder, logger *slog.Logger, nowFn func() time.Time) (*Engine, error) {
	e, err := build(cfg, native.New(rec), nil, rec, logger, nowFn)
	if err != nil {
		return nil, err
	}
	for _, op := range []common.Address{e.exchange.Address(), e.market.Address()} {
		if err := e.registry.SetOperatorAuthorization(cfg.Admin, op, true); err != nil {
			return nil, fmt.Errorf("engine: authorize %s: %w", op.Hex(), err)
		}
	}
	if err := e.registry.SetAdjudicator(cfg.Admin, e.market.Address(), true); err != nil {
		return nil, fmt.Errorf("engine: set adjudicator: %w", err)
	}
	return e, nil
}

func build(cfg Config, bank *native.Bank, reg *registry.Registry, rec *eventlog.Recorder, logger *slog.Logger, nowFn func() time.Time) (*Engine, error) {
	if rec == nil {
		return nil, fmt.Errorf("engine: new: nil event recorder")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if reg == nil {
		var err error
		reg, err = registry.New(registry.Config{
			Admin:               cfg.Admin,
			PriceUpdateInterval: cfg.PriceUpdateInterval,
		}, rec, nowFn)
		if err != nil {
			return nil, fmt.Errorf("engine: new: %w", err)
		}
	}
	ex, err := exchange.New(exchange.Config{
		Admin:      cfg.Admin,
		FeePercent: cfg.FeePercent,
	}, reg, bank, rec, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: new: %w", err)
	}
	mkt, err := market.New(market.Config{
		Admin:                  cfg.Admin,
		CooldownDuration:       cfg.CooldownDuration,
		ReportThresholdPercent: cfg.ReportThresholdPercent,
		MinReports:             cfg.MinReports,
	}, reg, rec, logger, nowFn)
	if err != nil {
		return nil, fmt.Errorf("engine: new: %w", err)
	}
	return &Engine{
		cfg:      cfg,
		bank:     bank,
		registry: reg,
		exchange: ex,
		market:   mkt,
		rec:      rec,
		logger:   logger.With(slog.String("component", "engine")),
		nowFn:    nowFn,
	}, nil
}

func guard[T any](e *Engine, fn func() (T, error)) (T, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn()
}

func guardErr(e *Engine, fn func() error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn()
}

// Admin returns the administrator identity.
func (e *Engine) Admin() common.Address { return e.cfg.Admin }

// Recorder returns the engine event log.
func (e *Engine) Recorder() *eventlog.Recorder { return e.rec }

// Accounts returns the well-known component identities.
func (e *Engine) Accounts() map[string]common.Address {
	return map[string]common.Address{
		"admin":    e.cfg.Admin,
		"registry": e.registry.Address(),
		"exchange": e.exchange.Address(),
		"market":   e.market.Address(),
	}
}

// Events returns recorded events after afterID.
func (e *Engine) Events(afterID uint64, limit int) []domain.Event {
	return e.rec.Events(afterID, limit)
}

// LastEventID returns the ID of the newest recorded event.
func (e *Engine) LastEventID() uint64 { return e.rec.LastID() }

// ledger resolves a ledger by address. Callers hold e.mu.
func (e *Engine) ledger(addr common.Address) (*ledger.Ledger, error) {
	return e.registry.Ledger(addr)
}
