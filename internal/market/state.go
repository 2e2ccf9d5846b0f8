package market

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// BetState is the serialisable form of one bet.
type BetState struct {
	Option  int    `json:"option"`
	Amount  string `json:"amount"`
	Claimed bool   `json:"claimed,omitempty"`
}

// PredictionState is the serialisable form of one prediction.
type PredictionState struct {
	ID               uint64                        `json:"id"`
	Creator          common.Address                `json:"creator"`
	Ledger           common.Address                `json:"ledger"`
	Title            string                        `json:"title"`
	Description      string                        `json:"description,omitempty"`
	Options          []string                      `json:"options"`
	Staked           []string                      `json:"staked"`
	Bettors          []int                         `json:"bettors"`
	CreatedAt        time.Time                     `json:"created_at"`
	Expiry           time.Time                     `json:"expiry"`
	FeePercent       uint64                        `json:"fee_percent"`
	Status           domain.PredictionStatus       `json:"status"`
	WinningOption    int                           `json:"winning_option"`
	CooldownDeadline time.Time                     `json:"cooldown_deadline"`
	Reporters        []common.Address              `json:"reporters,omitempty"`
	TotalPool        string                        `json:"total_pool"`
	Bets             map[common.Address][]BetState `json:"bets"`
	DisputeReason    string                        `json:"dispute_reason,omitempty"`
	CreatorFee       string                        `json:"creator_fee"`
	CreatorFeePaid   bool                          `json:"creator_fee_paid,omitempty"`
}

// State is the serialisable form of the market.
type State struct {
	CooldownSeconds        int64             `json:"cooldown_seconds"`
	ReportThresholdPercent uint64            `json:"report_threshold_percent"`
	MinReports             int               `json:"min_reports"`
	Predictions            []PredictionState `json:"predictions"`
}

// State captures the market for a snapshot.
func (m *Market) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		CooldownSeconds:        int64(m.cooldown / time.Second),
		ReportThresholdPercent: m.thresholdPct,
		MinReports:             m.minReports,
		Predictions:            make([]PredictionState, 0, len(m.predictions)),
	}
	for _, p := range m.predictions {
		ps := PredictionState{
			ID:               p.id,
			Creator:          p.creator,
			Ledger:           p.ledger,
			Title:            p.title,
			Description:      p.description,
			Options:          slices.Clone(p.options),
			Staked:           make([]string, len(p.staked)),
			Bettors:          slices.Clone(p.bettors),
			CreatedAt:        p.createdAt,
			Expiry:           p.expiry,
			FeePercent:       p.feePercent,
			Status:           p.status,
			WinningOption:    p.winning,
			CooldownDeadline: p.cooldownDeadline,
			TotalPool:        p.totalPool.Dec(),
			Bets:             make(map[common.Address][]BetState, len(p.bets)),
			DisputeReason:    p.disputeReason,
			CreatorFee:       p.creatorFee.Dec(),
			CreatorFeePaid:   p.creatorFeePaid,
		}
		for i, s := range p.staked {
			ps.Staked[i] = s.Dec()
		}
		for r := range p.reporters {
			ps.Reporters = append(ps.Reporters, r)
		}
		slices.SortFunc(ps.Reporters, func(a, b common.Address) int { return a.Cmp(b) })
		for acct, bets := range p.bets {
			out := make([]BetState, len(bets))
			for i, b := range bets {
				out[i] = BetState{Option: b.option, Amount: b.amount.Dec(), Claimed: b.claimed}
			}
			ps.Bets[acct] = out
		}
		st.Predictions = append(st.Predictions, ps)
	}
	return st
}

// Restore replaces the market's settings and predictions with a snapshot.
// Aggregates are checked against the individual bets.
func (m *Market) Restore(st State) error {
	cooldown := time.Duration(st.CooldownSeconds) * time.Second
	if cooldown < MinCooldownDuration {
		return fmt.Errorf("market: restore: %w", domain.ErrCooldownTooShort)
	}
	if err := validateThreshold(st.ReportThresholdPercent, st.MinReports); err != nil {
		return fmt.Errorf("market: restore: %w", err)
	}

	predictions := make([]*prediction, 0, len(st.Predictions))
	for i, ps := range st.Predictions {
		if ps.ID != uint64(i)+1 {
			return fmt.Errorf("market: restore: prediction %d out of sequence", ps.ID)
		}
		p, err := restorePrediction(ps)
		if err != nil {
			return fmt.Errorf("market: restore prediction %d: %w", ps.ID, err)
		}
		predictions = append(predictions, p)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldown = cooldown
	m.thresholdPct = st.ReportThresholdPercent
	m.minReports = st.MinReports
	m.predictions = predictions
	return nil
}

func restorePrediction(ps PredictionState) (*prediction, error) {
	n := len(ps.Options)
	if n < domain.MinOptions || n > domain.MaxOptions || len(ps.Staked) != n || len(ps.Bettors) != n {
		return nil, domain.ErrInvalidOptions
	}
	if !ps.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", ps.Status)
	}
	if ps.WinningOption < domain.NoWinner || ps.WinningOption >= n {
		return nil, domain.ErrInvalidOption
	}
	p := &prediction{
		id:               ps.ID,
		creator:          ps.Creator,
		ledger:           ps.Ledger,
		title:            ps.Title,
		description:      ps.Description,
		options:          slices.Clone(ps.Options),
		staked:           make([]*uint256.Int, n),
		bettors:          make([]int, n),
		createdAt:        ps.CreatedAt,
		expiry:           ps.Expiry,
		feePercent:       ps.FeePercent,
		status:           ps.Status,
		winning:          ps.WinningOption,
		cooldownDeadline: ps.CooldownDeadline,
		reporters:        make(map[common.Address]bool, len(ps.Reporters)),
		totalPool:        new(uint256.Int),
		bets:             make(map[common.Address][]*bet, len(ps.Bets)),
		disputeReason:    ps.DisputeReason,
		creatorFeePaid:   ps.CreatorFeePaid,
	}
	for i := range p.staked {
		p.staked[i] = new(uint256.Int)
	}
	for acct, bets := range ps.Bets {
		seen := make(map[int]bool)
		for _, bs := range bets {
			if bs.Option < 0 || bs.Option >= n {
				return nil, domain.ErrInvalidOption
			}
			amount, err := domain.ParseAmount(bs.Amount)
			if err != nil {
				return nil, err
			}
			p.bets[acct] = append(p.bets[acct], &bet{option: bs.Option, amount: amount, claimed: bs.Claimed})
			p.staked[bs.Option].Add(p.staked[bs.Option], amount)
			p.totalPool.Add(p.totalPool, amount)
			if !seen[bs.Option] {
				seen[bs.Option] = true
				p.bettors[bs.Option]++
			}
		}
	}
	if p.totalPool.Dec() != ps.TotalPool {
		return nil, fmt.Errorf("total pool %s does not match bets %s", ps.TotalPool, p.totalPool.Dec())
	}
	for i, s := range ps.Staked {
		if p.staked[i].Dec() != s || p.bettors[i] != ps.Bettors[i] {
			return nil, fmt.Errorf("option %d aggregates do not match bets", i)
		}
	}
	for _, r := range ps.Reporters {
		p.reporters[r] = true
	}
	fee, err := domain.ParseAmount(ps.CreatorFee)
	if err != nil {
		return nil, err
	}
	p.creatorFee = fee
	return p, nil
}
