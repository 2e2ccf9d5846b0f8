package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/engine"
	"github.com/alanyoungcy/creatormarket/internal/exchange"
)

// TradingService defines the exchange and native-currency operations the
// trading handler requires.
type TradingService interface {
	QuoteBuy(ledgerAddr common.Address, amount *uint256.Int) (exchange.Quote, error)
	QuoteSell(ledgerAddr common.Address, qty *uint256.Int) (exchange.Quote, error)
	Buy(caller, ledgerAddr common.Address, amount *uint256.Int) (exchange.Quote, error)
	Sell(caller, ledgerAddr common.Address, qty *uint256.Int) (exchange.Quote, error)
	ExchangeStatus() engine.ExchangeStatus
	SetFeePercent(caller common.Address, pct uint64) error
	WithdrawFees(caller, to common.Address) (*uint256.Int, error)
	EmergencyWithdraw(caller, to common.Address, amount *uint256.Int) error
	DepositLiquidity(caller common.Address, amount *uint256.Int) error
	NativeDeposit(caller, account common.Address, amount *uint256.Int) error
	NativeTransfer(caller, to common.Address, amount *uint256.Int) error
	NativeBalance(account common.Address) *uint256.Int
}

// TradingHandler serves exchange and native-currency endpoints.
type TradingHandler struct {
	svc    TradingService
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(svc TradingService, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{svc: svc, logger: logger.With(slog.String("handler", "trading"))}
}

type exchangeStatusResponse struct {
	Address         string `json:"address"`
	FeePercent      uint64 `json:"fee_percent"`
	AccumulatedFees string `json:"accumulated_fees"`
	Balance         string `json:"balance"`
}

// Status returns the exchange fee, accrued fees and liquidity.
// GET /api/exchange
func (h *TradingHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.svc.ExchangeStatus()
	writeJSON(w, http.StatusOK, exchangeStatusResponse{
		Address:         st.Address.Hex(),
		FeePercent:      st.FeePercent,
		AccumulatedFees: dec(st.AccumulatedFees),
		Balance:         dec(st.Balance),
	})
}

// QuoteBuy previews a purchase.
// GET /api/exchange/quote/buy?ledger=0x...&amount=...
func (h *TradingHandler) QuoteBuy(w http.ResponseWriter, r *http.Request) {
	ledgerAddr, ok := queryAddress(w, r, "ledger")
	if !ok {
		return
	}
	amount, ok := queryAmount(w, r, "amount")
	if !ok {
		return
	}
	q, err := h.svc.QuoteBuy(ledgerAddr, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote buy", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(q))
}

// QuoteSell previews a sale.
// GET /api/exchange/quote/sell?ledger=0x...&quantity=...
func (h *TradingHandler) QuoteSell(w http.ResponseWriter, r *http.Request) {
	ledgerAddr, ok := queryAddress(w, r, "ledger")
	if !ok {
		return
	}
	qty, ok := queryAmount(w, r, "quantity")
	if !ok {
		return
	}
	q, err := h.svc.QuoteSell(ledgerAddr, qty)
	if err != nil {
		writeDomainError(w, r, h.logger, "quote sell", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(q))
}

type tradeRequest struct {
	Ledger   string `json:"ledger"`
	Amount   string `json:"amount,omitempty"`
	Quantity string `json:"quantity,omitempty"`
}

// Buy spends native currency on ledger units.
// POST /api/exchange/buy
func (h *TradingHandler) Buy(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ledgerAddr, ok := parseAddressField(w, "ledger", req.Ledger)
	if !ok {
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	q, err := h.svc.Buy(from, ledgerAddr, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(q))
}

// Sell returns ledger units for native currency.
// POST /api/exchange/sell
func (h *TradingHandler) Sell(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ledgerAddr, ok := parseAddressField(w, "ledger", req.Ledger)
	if !ok {
		return
	}
	qty, ok := parseAmountField(w, "quantity", req.Quantity)
	if !ok {
		return
	}
	q, err := h.svc.Sell(from, ledgerAddr, qty)
	if err != nil {
		writeDomainError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuote(q))
}

type feeRequest struct {
	FeePercent uint64 `json:"fee_percent"`
}

// SetFee changes the exchange fee. Administrator only.
// PUT /api/exchange/fee
func (h *TradingHandler) SetFee(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req feeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SetFeePercent(from, req.FeePercent); err != nil {
		writeDomainError(w, r, h.logger, "set fee", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type payoutRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount,omitempty"`
}

// WithdrawFees pays accrued fees out. Administrator only.
// POST /api/exchange/withdraw-fees
func (h *TradingHandler) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req payoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddressField(w, "to", req.To)
	if !ok {
		return
	}
	paid, err := h.svc.WithdrawFees(from, to)
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw fees", err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid.Dec()})
}

// EmergencyWithdraw drains liquidity. Administrator only.
// POST /api/exchange/emergency-withdraw
func (h *TradingHandler) EmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req payoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddressField(w, "to", req.To)
	if !ok {
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.svc.EmergencyWithdraw(from, to, amount); err != nil {
		writeDomainError(w, r, h.logger, "emergency withdraw", err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.Dec()})
}

type depositRequest struct {
	Account string `json:"account,omitempty"`
	To      string `json:"to,omitempty"`
	Amount  string `json:"amount"`
}

// DepositLiquidity funds the exchange. Administrator only.
// POST /api/exchange/deposit
func (h *TradingHandler) DepositLiquidity(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.svc.DepositLiquidity(from, amount); err != nil {
		writeDomainError(w, r, h.logger, "deposit liquidity", err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: amount.Dec()})
}

// NativeBalance returns an account's native balance.
// GET /api/native/{account}
func (h *TradingHandler) NativeBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: dec(h.svc.NativeBalance(account))})
}

// NativeDeposit mints native currency to an account. Administrator only.
// POST /api/native/deposit
func (h *TradingHandler) NativeDeposit(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, ok := parseAddressField(w, "account", req.Account)
	if !ok {
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.svc.NativeDeposit(from, account, amount); err != nil {
		writeDomainError(w, r, h.logger, "native deposit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.Hex(), "amount": amount.Dec()})
}

// NativeTransfer moves the caller's native currency.
// POST /api/native/transfer
func (h *TradingHandler) NativeTransfer(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	to, ok := parseAddressField(w, "to", req.To)
	if !ok {
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.svc.NativeTransfer(from, to, amount); err != nil {
		writeDomainError(w, r, h.logger, "native transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"to": to.Hex(), "amount": amount.Dec()})
}
