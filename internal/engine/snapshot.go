package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/eventlog"
	"github.com/alanyoungcy/creatormarket/internal/exchange"
	"github.com/alanyoungcy/creatormarket/internal/market"
	"github.com/alanyoungcy/creatormarket/internal/native"
	"github.com/alanyoungcy/creatormarket/internal/registry"
)

// SnapshotVersion is bumped whenever the snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is the complete engine state.
type Snapshot struct {
	Version     int            `json:"version"`
	LastEventID uint64         `json:"last_event_id"`
	TakenAt     time.Time      `json:"taken_at"`
	Bank        native.State   `json:"bank"`
	Registry    registry.State `json:"registry"`
	Exchange    exchange.State `json:"exchange"`
	Market      market.State   `json:"market"`
}

// Snapshot captures every component while no operation is in flight.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Version:     SnapshotVersion,
		LastEventID: e.rec.LastID(),
		TakenAt:     e.nowFn().UTC(),
		Bank:        e.bank.State(),
		Registry:    e.registry.State(),
		Exchange:    e.exchange.State(),
		Market:      e.market.State(),
	}
}

// Restore rebuilds an engine from a snapshot. The recorder continues
// numbering after the snapshot's last event. Engine parameters stored in the
// snapshot win over cfg; cfg only supplies what snapshots do not carry.
func Restore(cfg Config, snap Snapshot, rec *eventlog.Recorder, logger *slog.Logger, nowFn func() time.Time) (*Engine, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("engine: restore: unsupported snapshot version %d", snap.Version)
	}
	if snap.Registry.Admin != cfg.Admin {
		return nil, fmt.Errorf("engine: restore: snapshot admin %s does not match configured admin %s",
			snap.Registry.Admin.Hex(), cfg.Admin.Hex())
	}
	if rec == nil {
		return nil, fmt.Errorf("engine: restore: nil event recorder")
	}
	rec.Resume(snap.LastEventID)

	bank, err := native.Restore(snap.Bank, rec)
	if err != nil {
		return nil, fmt.Errorf("engine: restore: %w", err)
	}
	reg, err := registry.Restore(snap.Registry, cfg.PriceUpdateInterval, rec, nowFn)
	if err != nil {
		return nil, fmt.Errorf("engine: restore: %w", err)
	}
	e, err := build(cfg, bank, reg, rec, logger, nowFn)
	if err != nil {
		return nil, err
	}
	if err := e.exchange.Restore(snap.Exchange); err != nil {
		return nil, fmt.Errorf("engine: restore: %w", err)
	}
	if err := e.market.Restore(snap.Market); err != nil {
		return nil, fmt.Errorf("engine: restore: %w", err)
	}
	if err := e.Audit(); err != nil {
		return nil, fmt.Errorf("engine: restore: %w", err)
	}
	e.logger.Info("engine restored",
		slog.Uint64("last_event_id", snap.LastEventID),
		slog.Time("taken_at", snap.TakenAt),
		slog.Int("ledgers", len(snap.Registry.Ledgers)),
		slog.Int("predictions", len(snap.Market.Predictions)),
	)
	return e, nil
}

// Audit checks cross-component invariants: every ledger's issued total equals
// the sum of its balances, the exchange holds at least its accrued fees and
// the market escrow account holds every unsettled stake.
func (e *Engine) Audit() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var errs []error
	n := e.registry.LedgerCount()
	if n > 0 {
		ledgers, err := e.registry.Ledgers(0, n)
		if err != nil {
			return fmt.Errorf("engine: audit: %w", err)
		}
		for _, l := range ledgers {
			sum := new(uint256.Int)
			for _, bal := range l.Holders() {
				sum.Add(sum, bal)
			}
			if !sum.Eq(l.TotalIssued()) {
				errs = append(errs, fmt.Errorf("ledger %s: balances sum to %s, issued %s",
					l.Address().Hex(), sum.Dec(), l.TotalIssued().Dec()))
			}
		}
	}
	if e.exchange.AccumulatedFees().Gt(e.exchange.Balance()) {
		errs = append(errs, fmt.Errorf("exchange: fees %s exceed balance %s",
			e.exchange.AccumulatedFees().Dec(), e.exchange.Balance().Dec()))
	}
	for ledgerAddr, owed := range e.market.Outstanding() {
		l, err := e.registry.Ledger(ledgerAddr)
		if err != nil {
			errs = append(errs, fmt.Errorf("market escrow: %w", err))
			continue
		}
		held := l.BalanceOf(e.market.Address())
		if held.Lt(owed) {
			errs = append(errs, fmt.Errorf("market escrow on %s: holds %s, owes %s",
				ledgerAddr.Hex(), held.Dec(), owed.Dec()))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("engine: audit: %w", errors.Join(errs...))
	}
	return nil
}
