package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/market"
)

// PredictionService defines the market operations the prediction handler
// requires.
type PredictionService interface {
	CreatePrediction(caller common.Address, params domain.PredictionParams) (uint64, error)
	ClosePrediction(caller common.Address, id uint64) error
	PlaceBet(caller common.Address, id uint64, option int, amount *uint256.Int) error
	Resolve(caller common.Address, id uint64, option int) error
	ReportOutcome(caller common.Address, id uint64) (bool, error)
	ConfirmOutcome(caller common.Address, id uint64) error
	FlagFraud(caller common.Address, id uint64, reason string) error
	ClaimReward(caller common.Address, id uint64) (*uint256.Int, error)
	ClaimRefund(caller common.Address, id uint64) (*uint256.Int, error)
	ClaimCreatorFee(caller common.Address, id uint64) (*uint256.Int, error)
	PendingReward(id uint64, account common.Address) (*uint256.Int, error)
	Prediction(id uint64) (domain.Prediction, error)
	Predictions(f domain.PredictionFilter) ([]domain.Prediction, int)
	Bets(id uint64, account common.Address) ([]domain.Bet, error)
	HasReported(id uint64, account common.Address) bool
	MarketSettings() market.Settings
	SetCooldownDuration(caller common.Address, d time.Duration) error
	SetReportThreshold(caller common.Address, pct uint64, minReports int) error
}

// PredictionHandler serves prediction market endpoints.
type PredictionHandler struct {
	svc    PredictionService
	logger *slog.Logger
}

// NewPredictionHandler creates a PredictionHandler.
func NewPredictionHandler(svc PredictionService, logger *slog.Logger) *PredictionHandler {
	return &PredictionHandler{svc: svc, logger: logger.With(slog.String("handler", "prediction"))}
}

// List returns predictions filtered by creator and status.
// GET /api/predictions?creator=0x...&status=active&limit=50&offset=0
func (h *PredictionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	f := domain.PredictionFilter{Limit: opts.Limit, Offset: opts.Offset}
	q := r.URL.Query()
	if q.Get("creator") != "" {
		c, ok := queryAddress(w, r, "creator")
		if !ok {
			return
		}
		f.Creator = &c
	}
	if s := domain.PredictionStatus(q.Get("status")); s != "" {
		if !s.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+string(s))
			return
		}
		f.Status = s
	}
	preds, total := h.svc.Predictions(f)
	out := make([]predictionResponse, len(preds))
	for i, p := range preds {
		out[i] = toPrediction(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": out, "total": total})
}

type createPredictionRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Options     []string  `json:"options"`
	Expiry      time.Time `json:"expiry"`
	FeePercent  uint64    `json:"fee_percent"`
}

// Create opens a prediction on the caller's ledger.
// POST /api/predictions
func (h *PredictionHandler) Create(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req createPredictionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := h.svc.CreatePrediction(from, domain.PredictionParams{
		Title:       req.Title,
		Description: req.Description,
		Options:     req.Options,
		Expiry:      req.Expiry,
		FeePercent:  req.FeePercent,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, "create prediction", err)
		return
	}
	p, err := h.svc.Prediction(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get prediction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPrediction(p))
}

// Get returns one prediction.
// GET /api/predictions/{id}
func (h *PredictionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Prediction(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, toPrediction(p))
}

// Close stops betting early. Prediction creator only.
// POST /api/predictions/{id}/close
func (h *PredictionHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "close prediction", h.svc.ClosePrediction)
}

// Confirm settles a prediction whose report window elapsed.
// POST /api/predictions/{id}/confirm
func (h *PredictionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "confirm outcome", h.svc.ConfirmOutcome)
}

func (h *PredictionHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(common.Address, uint64) error) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := fn(from, id); err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	h.Get(w, r)
}

type betRequest struct {
	Option int    `json:"option"`
	Amount string `json:"amount"`
}

// PlaceBet stakes ledger units on an option.
// POST /api/predictions/{id}/bets
func (h *PredictionHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req betRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := parseAmountField(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.svc.PlaceBet(from, id, req.Option, amount); err != nil {
		writeDomainError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, betResponse{Option: req.Option, Amount: amount.Dec()})
}

// Bets returns an account's bets.
// GET /api/predictions/{id}/bets/{account}
func (h *PredictionHandler) Bets(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	bets, err := h.svc.Bets(id, account)
	if err != nil {
		writeDomainError(w, r, h.logger, "list bets", err)
		return
	}
	out := make([]betResponse, len(bets))
	for i, b := range bets {
		out[i] = betResponse{Option: b.Option, Amount: dec(b.Amount), Claimed: b.Claimed}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": out})
}

type resolveRequest struct {
	Option int `json:"option"`
}

// Resolve declares the winning option and starts the report window.
// POST /api/predictions/{id}/resolve
func (h *PredictionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.Resolve(from, id, req.Option); err != nil {
		writeDomainError(w, r, h.logger, "resolve", err)
		return
	}
	h.Get(w, r)
}

// Report contests the declared outcome.
// POST /api/predictions/{id}/reports
func (h *PredictionHandler) Report(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	underReview, err := h.svc.ReportOutcome(from, id)
	if err != nil {
		writeDomainError(w, r, h.logger, "report outcome", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "under_review": underReview})
}

// HasReported tells whether an account already reported.
// GET /api/predictions/{id}/reports/{account}
func (h *PredictionHandler) HasReported(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "reported": h.svc.HasReported(id, account)})
}

type fraudRequest struct {
	Reason string `json:"reason"`
}

// FlagFraud disputes a prediction and bans its creator. Adjudicators only.
// POST /api/predictions/{id}/fraud
func (h *PredictionHandler) FlagFraud(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var req fraudRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.FlagFraud(from, id, req.Reason); err != nil {
		writeDomainError(w, r, h.logger, "flag fraud", err)
		return
	}
	h.Get(w, r)
}

// ClaimReward pays the caller's winnings.
// POST /api/predictions/{id}/claims/reward
func (h *PredictionHandler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, "claim reward", h.svc.ClaimReward)
}

// ClaimRefund returns the caller's stakes on a disputed prediction.
// POST /api/predictions/{id}/claims/refund
func (h *PredictionHandler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, "claim refund", h.svc.ClaimRefund)
}

// ClaimCreatorFee pays the creator's fee.
// POST /api/predictions/{id}/claims/creator-fee
func (h *PredictionHandler) ClaimCreatorFee(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, "claim creator fee", h.svc.ClaimCreatorFee)
}

func (h *PredictionHandler) claim(w http.ResponseWriter, r *http.Request, op string, fn func(common.Address, uint64) (*uint256.Int, error)) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	paid, err := fn(from, id)
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid.Dec()})
}

// PendingReward previews an account's claimable reward.
// GET /api/predictions/{id}/rewards/{account}
func (h *PredictionHandler) PendingReward(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	v, err := h.svc.PendingReward(id, account)
	if err != nil {
		writeDomainError(w, r, h.logger, "pending reward", err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: v.Dec()})
}

type settingsResponse struct {
	CooldownSeconds        int64  `json:"cooldown_seconds"`
	ReportThresholdPercent uint64 `json:"report_threshold_percent"`
	MinReports             int    `json:"min_reports"`
}

func toSettings(s market.Settings) settingsResponse {
	return settingsResponse{
		CooldownSeconds:        int64(s.CooldownDuration / time.Second),
		ReportThresholdPercent: s.ReportThresholdPercent,
		MinReports:             s.MinReports,
	}
}

// Settings returns the report window and quorum parameters.
// GET /api/market/settings
func (h *PredictionHandler) Settings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettings(h.svc.MarketSettings()))
}

// SetCooldown changes the report window. Administrator only.
// PUT /api/market/cooldown
func (h *PredictionHandler) SetCooldown(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req intervalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SetCooldownDuration(from, time.Duration(req.Seconds)*time.Second); err != nil {
		writeDomainError(w, r, h.logger, "set cooldown", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettings(h.svc.MarketSettings()))
}

type thresholdRequest struct {
	Percent    uint64 `json:"percent"`
	MinReports int    `json:"min_reports"`
}

// SetThreshold changes the review quorum. Administrator only.
// PUT /api/market/report-threshold
func (h *PredictionHandler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req thresholdRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SetReportThreshold(from, req.Percent, req.MinReports); err != nil {
		writeDomainError(w, r, h.logger, "set report threshold", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettings(h.svc.MarketSettings()))
}
