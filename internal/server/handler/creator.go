package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/engine"
)

// CreatorService defines the registry and ledger operations the creator
// handler requires.
type CreatorService interface {
	RegisterCreator(caller common.Address, name, symbol string, price *uint256.Int) (domain.LedgerInfo, error)
	Creator(addr common.Address) (domain.Creator, error)
	Ban(caller, creator common.Address, reason string) error
	Unban(caller, creator common.Address) error
	SetOperatorAuthorization(caller, operator common.Address, enabled bool) error
	GrantOperator(caller, operator common.Address) error
	RevokeOperator(caller, operator common.Address) error
	HasCapability(operator, ledgerAddr common.Address) bool
	SetAdjudicator(caller, component common.Address, enabled bool) error
	Ledgers(offset, limit int) ([]domain.LedgerInfo, int, error)
	LedgerInfo(addr common.Address) (domain.LedgerInfo, error)
	SetPrice(caller, ledgerAddr common.Address, price *uint256.Int) error
	SetPriceUpdateInterval(caller, ledgerAddr common.Address, d time.Duration) error
	CanUpdatePrice(ledgerAddr common.Address) (engine.PriceStatus, error)
	BalanceOf(ledgerAddr, account common.Address) (*uint256.Int, error)
	Allowance(ledgerAddr, owner, spender common.Address) (*uint256.Int, error)
	Transfer(caller, ledgerAddr, to common.Address, qty *uint256.Int) error
	Approve(caller, ledgerAddr, spender common.Address, qty *uint256.Int) error
	TransferFrom(caller, ledgerAddr, from, to common.Address, qty *uint256.Int) error
}

// CreatorHandler serves creator registry and ledger endpoints.
type CreatorHandler struct {
	svc    CreatorService
	logger *slog.Logger
}

// NewCreatorHandler creates a CreatorHandler.
func NewCreatorHandler(svc CreatorService, logger *slog.Logger) *CreatorHandler {
	return &CreatorHandler{svc: svc, logger: logger.With(slog.String("handler", "creator"))}
}

type registerRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Register issues a ledger for the caller.
// POST /api/creators
func (h *CreatorHandler) Register(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, ok := parseAmountField(w, "price", req.Price)
	if !ok {
		return
	}
	info, err := h.svc.RegisterCreator(from, req.Name, req.Symbol, price)
	if err != nil {
		writeDomainError(w, r, h.logger, "register creator", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLedger(info))
}

// GetCreator returns a creator record.
// GET /api/creators/{address}
func (h *CreatorHandler) GetCreator(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	c, err := h.svc.Creator(addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get creator", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreator(c))
}

type banRequest struct {
	Reason string `json:"reason"`
}

// Ban bans a creator. Administrator only.
// POST /api/creators/{address}/ban
func (h *CreatorHandler) Ban(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req banRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Ban(from, addr, req.Reason); err != nil {
		writeDomainError(w, r, h.logger, "ban creator", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creator": addr.Hex(), "banned": true})
}

// Unban lifts a ban. Administrator only.
// DELETE /api/creators/{address}/ban
func (h *CreatorHandler) Unban(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	if err := h.svc.Unban(from, addr); err != nil {
		writeDomainError(w, r, h.logger, "unban creator", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creator": addr.Hex(), "banned": false})
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetOperator toggles the global operator authorization of a component.
// PUT /api/admin/operators/{address}
func (h *CreatorHandler) SetOperator(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "set operator", h.svc.SetOperatorAuthorization)
}

// SetAdjudicator toggles whether a component may flag fraud.
// PUT /api/admin/adjudicators/{address}
func (h *CreatorHandler) SetAdjudicator(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "set adjudicator", h.svc.SetAdjudicator)
}

func (h *CreatorHandler) toggle(w http.ResponseWriter, r *http.Request, op string, fn func(caller, target common.Address, enabled bool) error) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	target, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req enabledRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := fn(from, target, req.Enabled); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": target.Hex(), "enabled": req.Enabled})
}

// ListLedgers pages through the ledger index.
// GET /api/ledgers?offset=0&limit=50
func (h *CreatorHandler) ListLedgers(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	infos, total, err := h.svc.Ledgers(opts.Offset, opts.Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list ledgers", err)
		return
	}
	out := make([]ledgerResponse, len(infos))
	for i, info := range infos {
		out[i] = toLedger(info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledgers": out, "total": total})
}

// GetLedger returns one ledger.
// GET /api/ledgers/{address}
func (h *CreatorHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	info, err := h.svc.LedgerInfo(addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toLedger(info))
}

type priceRequest struct {
	Price string `json:"price"`
}

// SetPrice changes the unit price. Ledger owner only.
// PUT /api/ledgers/{address}/price
func (h *CreatorHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req priceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	price, ok := parseAmountField(w, "price", req.Price)
	if !ok {
		return
	}
	if err := h.svc.SetPrice(from, addr, price); err != nil {
		writeDomainError(w, r, h.logger, "set price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ledger": addr.Hex(), "price": price.Dec()})
}

type intervalRequest struct {
	Seconds int64 `json:"seconds"`
}

// SetPriceInterval changes the price cooldown. Ledger owner only.
// PUT /api/ledgers/{address}/price-interval
func (h *CreatorHandler) SetPriceInterval(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	var req intervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SetPriceUpdateInterval(from, addr, time.Duration(req.Seconds)*time.Second); err != nil {
		writeDomainError(w, r, h.logger, "set price interval", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ledger": addr.Hex(), "seconds": req.Seconds})
}

// PriceStatus reports whether the price may change now.
// GET /api/ledgers/{address}/price-status
func (h *CreatorHandler) PriceStatus(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	st, err := h.svc.CanUpdatePrice(addr)
	if err != nil {
		writeDomainError(w, r, h.logger, "price status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Balance returns an account's balance on a ledger.
// GET /api/ledgers/{address}/balances/{account}
func (h *CreatorHandler) Balance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	bal, err := h.svc.BalanceOf(addr, account)
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: bal.Dec()})
}

// Allowance returns how much spender may move for owner.
// GET /api/ledgers/{address}/allowances/{owner}/{spender}
func (h *CreatorHandler) Allowance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	owner, ok := addressParam(w, r, "owner")
	if !ok {
		return
	}
	spender, ok := addressParam(w, r, "spender")
	if !ok {
		return
	}
	v, err := h.svc.Allowance(addr, owner, spender)
	if err != nil {
		writeDomainError(w, r, h.logger, "allowance", err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: v.Dec()})
}

type transferRequest struct {
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Spender  string `json:"spender,omitempty"`
	Quantity string `json:"quantity"`
}

// Transfer moves the caller's units.
// POST /api/ledgers/{address}/transfer
func (h *CreatorHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	from, addr, req, ok := h.transferInput(w, r)
	if !ok {
		return
	}
	to, ok := parseAddressField(w, "to", req.To)
	if !ok {
		return
	}
	qty, ok := parseAmountField(w, "quantity", req.Quantity)
	if !ok {
		return
	}
	if err := h.svc.Transfer(from, addr, to, qty); err != nil {
		writeDomainError(w, r, h.logger, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"from": from.Hex(), "to": to.Hex(), "quantity": qty.Dec()})
}

// Approve sets the caller's allowance for spender.
// POST /api/ledgers/{address}/approve
func (h *CreatorHandler) Approve(w http.ResponseWriter, r *http.Request) {
	from, addr, req, ok := h.transferInput(w, r)
	if !ok {
		return
	}
	spender, ok := parseAddressField(w, "spender", req.Spender)
	if !ok {
		return
	}
	qty, ok := parseAmountField(w, "quantity", req.Quantity)
	if !ok {
		return
	}
	if err := h.svc.Approve(from, addr, spender, qty); err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": from.Hex(), "spender": spender.Hex(), "quantity": qty.Dec()})
}

// TransferFrom spends an allowance.
// POST /api/ledgers/{address}/transfer-from
func (h *CreatorHandler) TransferFrom(w http.ResponseWriter, r *http.Request) {
	spender, addr, req, ok := h.transferInput(w, r)
	if !ok {
		return
	}
	from, ok := parseAddressField(w, "from", req.From)
	if !ok {
		return
	}
	to, ok := parseAddressField(w, "to", req.To)
	if !ok {
		return
	}
	qty, ok := parseAmountField(w, "quantity", req.Quantity)
	if !ok {
		return
	}
	if err := h.svc.TransferFrom(spender, addr, from, to, qty); err != nil {
		writeDomainError(w, r, h.logger, "transfer from", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"from": from.Hex(), "to": to.Hex(), "quantity": qty.Dec()})
}

func (h *CreatorHandler) transferInput(w http.ResponseWriter, r *http.Request) (common.Address, common.Address, transferRequest, bool) {
	var req transferRequest
	from, ok := caller(w, r)
	if !ok {
		return from, common.Address{}, req, false
	}
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return from, addr, req, false
	}
	return from, addr, req, decodeBody(w, r, &req)
}

type operatorRequest struct {
	Operator string `json:"operator"`
}

// GrantOperator lets an operator move units on the caller's ledger.
// POST /api/ledgers/operators
func (h *CreatorHandler) GrantOperator(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req operatorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, ok := parseAddressField(w, "operator", req.Operator)
	if !ok {
		return
	}
	if err := h.svc.GrantOperator(from, op); err != nil {
		writeDomainError(w, r, h.logger, "grant operator", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operator": op.Hex(), "granted": true})
}

// RevokeOperator withdraws a grant on the caller's ledger.
// DELETE /api/ledgers/operators/{address}
func (h *CreatorHandler) RevokeOperator(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	op, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	if err := h.svc.RevokeOperator(from, op); err != nil {
		writeDomainError(w, r, h.logger, "revoke operator", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operator": op.Hex(), "granted": false})
}

// Capability reports whether operator may act on a ledger.
// GET /api/ledgers/{address}/operators/{operator}
func (h *CreatorHandler) Capability(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	op, ok := addressParam(w, r, "operator")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ledger":   addr.Hex(),
		"operator": op.Hex(),
		"allowed":  h.svc.HasCapability(op, addr),
	})
}
