package handler

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/exchange"
)

// Amounts cross the API as base-unit decimal strings.
func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type creatorResponse struct {
	Address      string     `json:"address"`
	Ledger       string     `json:"ledger"`
	Active       bool       `json:"active"`
	Banned       bool       `json:"banned"`
	BanReason    string     `json:"ban_reason,omitempty"`
	BannedAt     *time.Time `json:"banned_at,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
}

func toCreator(c domain.Creator) creatorResponse {
	return creatorResponse{
		Address:      c.Address.Hex(),
		Ledger:       c.Ledger.Hex(),
		Active:       c.Active && !c.Banned,
		Banned:       c.Banned,
		BanReason:    c.BanReason,
		BannedAt:     c.BannedAt,
		RegisteredAt: c.RegisteredAt,
	}
}

type ledgerResponse struct {
	Address             string    `json:"address"`
	Owner               string    `json:"owner"`
	Name                string    `json:"name"`
	Symbol              string    `json:"symbol"`
	Price               string    `json:"price"`
	LastPriceUpdate     time.Time `json:"last_price_update"`
	PriceUpdateInterval int64     `json:"price_update_interval_seconds"`
	TotalIssued         string    `json:"total_issued"`
	Holders             int       `json:"holders"`
}

func toLedger(l domain.LedgerInfo) ledgerResponse {
	return ledgerResponse{
		Address:             l.Address.Hex(),
		Owner:               l.Owner.Hex(),
		Name:                l.Name,
		Symbol:              l.Symbol,
		Price:               dec(l.Price),
		LastPriceUpdate:     l.LastPriceUpdate,
		PriceUpdateInterval: int64(l.PriceUpdateInterval / time.Second),
		TotalIssued:         dec(l.TotalIssued),
		Holders:             l.Holders,
	}
}

type quoteResponse struct {
	Amount   string `json:"amount"`
	Quantity string `json:"quantity"`
	Fee      string `json:"fee"`
}

func toQuote(q exchange.Quote) quoteResponse {
	return quoteResponse{Amount: dec(q.Amount), Quantity: dec(q.Quantity), Fee: dec(q.Fee)}
}

type optionResponse struct {
	Label       string `json:"label"`
	TotalStaked string `json:"total_staked"`
	Bettors     int    `json:"bettors"`
}

type predictionResponse struct {
	ID               uint64           `json:"id"`
	Creator          string           `json:"creator"`
	Ledger           string           `json:"ledger"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Options          []optionResponse `json:"options"`
	CreatedAt        time.Time        `json:"created_at"`
	Expiry           time.Time        `json:"expiry"`
	FeePercent       uint64           `json:"fee_percent"`
	Status           string           `json:"status"`
	WinningOption    *int             `json:"winning_option"`
	CooldownDeadline *time.Time       `json:"cooldown_deadline,omitempty"`
	ReportCount      int              `json:"report_count"`
	Participants     int              `json:"participants"`
	TotalPool        string           `json:"total_pool"`
	DisputeReason    string           `json:"dispute_reason,omitempty"`
	CreatorFee       string           `json:"creator_fee"`
	CreatorFeePaid   bool             `json:"creator_fee_paid"`
}

func toPrediction(p domain.Prediction) predictionResponse {
	out := predictionResponse{
		ID:             p.ID,
		Creator:        p.Creator.Hex(),
		Ledger:         p.Ledger.Hex(),
		Title:          p.Title,
		Description:    p.Description,
		Options:        make([]optionResponse, len(p.Options)),
		CreatedAt:      p.CreatedAt,
		Expiry:         p.Expiry,
		FeePercent:     p.FeePercent,
		Status:         string(p.Status),
		ReportCount:    p.ReportCount,
		Participants:   p.Participants,
		TotalPool:      dec(p.TotalPool),
		DisputeReason:  p.DisputeReason,
		CreatorFee:     dec(p.CreatorFee),
		CreatorFeePaid: p.CreatorFeePaid,
	}
	for i, o := range p.Options {
		out.Options[i] = optionResponse{Label: o.Label, TotalStaked: dec(o.TotalStaked), Bettors: o.Bettors}
	}
	if p.WinningOption != domain.NoWinner {
		w := p.WinningOption
		out.WinningOption = &w
	}
	if !p.CooldownDeadline.IsZero() {
		d := p.CooldownDeadline
		out.CooldownDeadline = &d
	}
	return out
}

type betResponse struct {
	Option  int    `json:"option"`
	Amount  string `json:"amount"`
	Claimed bool   `json:"claimed"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}
