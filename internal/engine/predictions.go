package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/market"
)

// CreatePrediction opens a prediction on the caller's ledger.
func (e *Engine) CreatePrediction(caller common.Address, params domain.PredictionParams) (uint64, error) {
	return guard(e, func() (uint64, error) { return e.market.CreatePrediction(caller, params) })
}

// ClosePrediction stops betting on a prediction.
func (e *Engine) ClosePrediction(caller common.Address, id uint64) error {
	return guardErr(e, func() error { return e.market.Close(caller, id) })
}

// PlaceBet escrows amount units on option.
func (e *Engine) PlaceBet(caller common.Address, id uint64, option int, amount *uint256.Int) error {
	return guardErr(e, func() error { return e.market.PlaceBet(caller, id, option, amount) })
}

// Resolve records the creator's winning option and starts the cooldown.
func (e *Engine) Resolve(caller common.Address, id uint64, option int) error {
	return guardErr(e, func() error { return e.market.Resolve(caller, id, option) })
}

// ReportOutcome contests a resolution. It returns true when the report moved
// the prediction under review.
func (e *Engine) ReportOutcome(caller common.Address, id uint64) (bool, error) {
	return guard(e, func() (bool, error) { return e.market.ReportOutcome(caller, id) })
}

// ConfirmOutcome finalizes a resolution. Administrator only.
func (e *Engine) ConfirmOutcome(caller common.Address, id uint64) error {
	return guardErr(e, func() error { return e.market.ConfirmOutcome(caller, id) })
}

// FlagFraud disputes a prediction and bans its creator. Administrator only.
func (e *Engine) FlagFraud(caller common.Address, id uint64, reason string) error {
	return guardErr(e, func() error { return e.market.FlagFraud(caller, id, reason) })
}

// ClaimReward pays the caller's winnings.
func (e *Engine) ClaimReward(caller common.Address, id uint64) (*uint256.Int, error) {
	return guard(e, func() (*uint256.Int, error) { return e.market.ClaimReward(caller, id) })
}

// ClaimRefund returns the caller's stakes.
func (e *Engine) ClaimRefund(caller common.Address, id uint64) (*uint256.Int, error) {
	return guard(e, func() (*uint256.Int, error) { return e.market.ClaimRefund(caller, id) })
}

// ClaimCreatorFee pays the creator's share of the losing pool.
func (e *Engine) ClaimCreatorFee(caller common.Address, id uint64) (*uint256.Int, error) {
	return guard(e, func() (*uint256.Int, error) { return e.market.ClaimCreatorFee(caller, id) })
}

// PendingReward previews what ClaimReward would pay.
func (e *Engine) PendingReward(id uint64, account common.Address) (*uint256.Int, error) {
	return guard(e, func() (*uint256.Int, error) { return e.market.PendingReward(id, account) })
}

// Prediction returns one prediction.
func (e *Engine) Prediction(id uint64) (domain.Prediction, error) {
	return guard(e, func() (domain.Prediction, error) { return e.market.Prediction(id) })
}

// Predictions lists predictions matching f together with the match count.
func (e *Engine) Predictions(f domain.PredictionFilter) ([]domain.Prediction, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.Predictions(f)
}

// Bets returns account's bets on a prediction.
func (e *Engine) Bets(id uint64, account common.Address) ([]domain.Bet, error) {
	return guard(e, func() ([]domain.Bet, error) { return e.market.Bets(id, account) })
}

// HasReported reports whether account contested a prediction.
func (e *Engine) HasReported(id uint64, account common.Address) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.HasReported(id, account)
}

// MarketSettings returns the adjustable market parameters.
func (e *Engine) MarketSettings() market.Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.market.Settings()
}

// SetCooldownDuration changes the report window. Administrator only.
func (e *Engine) SetCooldownDuration(caller common.Address, d time.Duration) error {
	return guardErr(e, func() error { return e.market.SetCooldownDuration(caller, d) })
}

// SetReportThreshold changes the quorum parameters. Administrator only.
func (e *Engine) SetReportThreshold(caller common.Address, pct uint64, minReports int) error {
	return guardErr(e, func() error { return e.market.SetReportThreshold(caller, pct, minReports) })
}
