// Package exchange converts native settlement currency into creator ledger
// units and back at each ledger's current price, keeping a platform fee.
package exchange

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/ledger"
)

const (
	// DefaultFeePercent is the platform fee applied to buys and sells.
	DefaultFeePercent = 1
	// MaxFeePercent bounds SetFeePercent.
	MaxFeePercent = 10
)

// Registry resolves ledgers and the ban state of their owners.
type Registry interface {
	Ledger(addr common.Address) (*ledger.Ledger, error)
	IsCreatorActive(creator common.Address) bool
}

// Config configures an Exchange.
type Config struct {
	Admin      common.Address
	Address    common.Address
	FeePercent uint64
}

// Exchange is safe for concurrent use. Trades are serialized by the exchange
// lock, which is always taken before any ledger lock.
type Exchange struct {
	mu sync.Mutex

	admin      common.Address
	addr       common.Address
	feePercent uint64
	fees       *uint256.Int

	registry Registry
	bank     domain.NativeBank
	emitter  domain.Emitter
	logger   *slog.Logger
}

// New creates an Exchange. A zero Config.Address selects the well-known
// exchange account.
func New(cfg Config, registry Registry, bank domain.NativeBank, emitter domain.Emitter, logger *slog.Logger) (*Exchange, error) {
	if cfg.Admin == (common.Address{}) {
		return nil, fmt.Errorf("exchange: new: admin: %w", domain.ErrZeroAddress)
	}
	if cfg.FeePercent > MaxFeePercent {
		return nil, fmt.Errorf("exchange: new: %w", domain.ErrFeeTooHigh)
	}
	if cfg.Address == (common.Address{}) {
		cfg.Address = domain.ComponentAddress("exchange")
	}
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchange{
		admin:      cfg.Admin,
		addr:       cfg.Address,
		feePercent: cfg.FeePercent,
		fees:       new(uint256.Int),
		registry:   registry,
		bank:       bank,
		emitter:    emitter,
		logger:     logger.With(slog.String("component", "exchange")),
	}, nil
}

// Address returns the exchange's account, which must be authorized as a
// ledger operator.
func (e *Exchange) Address() common.Address { return e.addr }

// FeePercent returns the current platform fee.
func (e *Exchange) FeePercent() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feePercent
}

// AccumulatedFees returns the fees collected since the last withdrawal.
func (e *Exchange) AccumulatedFees() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return new(uint256.Int).Set(e.fees)
}

// Balance returns the exchange's native balance, fees included.
func (e *Exchange) Balance() *uint256.Int {
	return e.bank.BalanceOf(e.addr)
}

// tradable resolves a ledger and rejects it when its creator is banned.
func (e *Exchange) tradable(addr common.Address) (*ledger.Ledger, error) {
	l, err := e.registry.Ledger(addr)
	if err != nil {
		return nil, err
	}
	if !e.registry.IsCreatorActive(l.Owner()) {
		return nil, domain.ErrCreatorBanned
	}
	return l, nil
}

// Quote is the outcome of a buy or sell at the current price.
type Quote struct {
	// Amount is the native amount paid in (buy) or paid out (sell).
	Amount   *uint256.Int
	Quantity *uint256.Int
	Fee      *uint256.Int
}

func quoteBuy(l *ledger.Ledger, amount *uint256.Int, feePercent uint64) (Quote, error) {
	fee := domain.Percent(amount, feePercent)
	net := new(uint256.Int).Sub(amount, fee)
	if net.IsZero() {
		return Quote{}, domain.ErrAmountTooSmall
	}
	qty, err := l.QuantityForAmount(net)
	if err != nil {
		return Quote{}, err
	}
	if qty.IsZero() {
		return Quote{}, domain.ErrAmountTooSmall
	}
	return Quote{Amount: new(uint256.Int).Set(amount), Quantity: qty, Fee: fee}, nil
}

func quoteSell(l *ledger.Ledger, qty *uint256.Int, feePercent uint64) (Quote, error) {
	gross, err := l.AmountForQuantity(qty)
	if err != nil {
		return Quote{}, err
	}
	fee := domain.Percent(gross, feePercent)
	net := new(uint256.Int).Sub(gross, fee)
	if net.IsZero() {
		return Quote{}, domain.ErrAmountTooSmall
	}
	return Quote{Amount: net, Quantity: new(uint256.Int).Set(qty), Fee: fee}, nil
}

// QuoteBuy previews Buy without side effects.
func (e *Exchange) QuoteBuy(ledgerAddr common.Address, amount *uint256.Int) (Quote, error) {
	if amount == nil || amount.IsZero() {
		return Quote{}, fmt.Errorf("exchange: quote buy: %w", domain.ErrZeroAmount)
	}
	l, err := e.registry.Ledger(ledgerAddr)
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: quote buy: %w", err)
	}
	q, err := quoteBuy(l, amount, e.FeePercent())
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: quote buy: %w", err)
	}
	return q, nil
}

// QuoteSell previews Sell without side effects.
func (e *Exchange) QuoteSell(ledgerAddr common.Address, quantity *uint256.Int) (Quote, error) {
	if quantity == nil || quantity.IsZero() {
		return Quote{}, fmt.Errorf("exchange: quote sell: %w", domain.ErrZeroAmount)
	}
	l, err := e.registry.Ledger(ledgerAddr)
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: quote sell: %w", err)
	}
	q, err := quoteSell(l, quantity, e.FeePercent())
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: quote sell: %w", err)
	}
	return q, nil
}

// Buy takes amount of native currency from buyer and credits the
// fee-adjusted quantity of ledger units.
func (e *Exchange) Buy(buyer, ledgerAddr common.Address, amount *uint256.Int) (Quote, error) {
	if amount == nil || amount.IsZero() {
		return Quote{}, fmt.Errorf("exchange: buy: %w", domain.ErrZeroAmount)
	}
	if buyer == (common.Address{}) {
		return Quote{}, fmt.Errorf("exchange: buy: %w", domain.ErrZeroAddress)
	}
	l, err := e.tradable(ledgerAddr)
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: buy: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	q, err := quoteBuy(l, amount, e.feePercent)
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: buy: %w", err)
	}
	if err := e.bank.Transfer(buyer, e.addr, amount); err != nil {
		return Quote{}, fmt.Errorf("exchange: buy: payment: %w", err)
	}
	if err := l.Credit(e.addr, buyer, q.Quantity); err != nil {
		if rerr := e.bank.Transfer(e.addr, buyer, amount); rerr != nil {
			e.logger.Error("refund after failed credit",
				slog.String("buyer", buyer.Hex()),
				slog.String("amount", amount.Dec()),
				slog.String("error", rerr.Error()),
			)
			return Quote{}, fmt.Errorf("exchange: buy: %w", errors.Join(err, rerr))
		}
		return Quote{}, fmt.Errorf("exchange: buy: %w", err)
	}
	e.fees.Add(e.fees, q.Fee)

	e.emitter.Emit(domain.EventExchangePurchase, map[string]any{
		"buyer":    buyer.Hex(),
		"ledger":   ledgerAddr.Hex(),
		"amount":   amount.Dec(),
		"quantity": q.Quantity.Dec(),
		"fee":      q.Fee.Dec(),
	})
	return q, nil
}

// Sell burns quantity ledger units from seller and pays out the
// fee-adjusted native amount.
func (e *Exchange) Sell(seller, ledgerAddr common.Address, quantity *uint256.Int) (Quote, error) {
	if quantity == nil || quantity.IsZero() {
		return Quote{}, fmt.Errorf("exchange: sell: %w", domain.ErrZeroAmount)
	}
	if seller == (common.Address{}) {
		return Quote{}, fmt.Errorf("exchange: sell: %w", domain.ErrZeroAddress)
	}
	l, err := e.tradable(ledgerAddr)
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: sell: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if l.BalanceOf(seller).Lt(quantity) {
		return Quote{}, fmt.Errorf("exchange: sell: %w", domain.ErrInsufficientBalance)
	}
	q, err := quoteSell(l, quantity, e.feePercent)
	if err != nil {
		return Quote{}, fmt.Errorf("exchange: sell: %w", err)
	}
	if e.bank.BalanceOf(e.addr).Lt(q.Amount) {
		return Quote{}, fmt.Errorf("exchange: sell: %w", domain.ErrInsufficientLiquidity)
	}
	if err := l.Debit(e.addr, seller, quantity); err != nil {
		return Quote{}, fmt.Errorf("exchange: sell: %w", err)
	}
	if err := e.bank.Transfer(e.addr, seller, q.Amount); err != nil {
		if rerr := l.Credit(e.addr, seller, quantity); rerr != nil {
			e.logger.Error("re-credit after failed payout",
				slog.String("seller", seller.Hex()),
				slog.String("quantity", quantity.Dec()),
				slog.String("error", rerr.Error()),
			)
			return Quote{}, fmt.Errorf("exchange: sell: payout: %w", errors.Join(err, rerr))
		}
		return Quote{}, fmt.Errorf("exchange: sell: payout: %w", err)
	}
	e.fees.Add(e.fees, q.Fee)

	e.emitter.Emit(domain.EventExchangeSale, map[string]any{
		"seller":   seller.Hex(),
		"ledger":   ledgerAddr.Hex(),
		"quantity": quantity.Dec(),
		"amount":   q.Amount.Dec(),
		"fee":      q.Fee.Dec(),
	})
	return q, nil
}
