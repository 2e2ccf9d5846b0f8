package market

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Resolve records the creator's winning option and opens the report window.
func (m *Market) Resolve(caller common.Address, id uint64, option int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return fmt.Errorf("market: resolve: %w", err)
	}
	if caller != p.creator {
		return fmt.Errorf("market: resolve %d: %w", id, domain.ErrNotCreator)
	}
	if p.status != domain.StatusClosed {
		return fmt.Errorf("market: resolve %d: %w", id, domain.ErrWrongStatus)
	}
	if option < 0 || option >= len(p.options) {
		return fmt.Errorf("market: resolve %d: %w", id, domain.ErrInvalidOption)
	}

	now := m.nowFn().UTC()
	p.winning = option
	p.status = domain.StatusCooldown
	p.cooldownDeadline = now.Add(m.cooldown)

	m.emitter.Emit(domain.EventPredictionResolved, map[string]any{
		"id":             id,
		"winning_option": option,
	})
	m.emitter.Emit(domain.EventCooldownStarted, map[string]any{
		"id":       id,
		"deadline": p.cooldownDeadline.Unix(),
	})
	return nil
}

// ReportOutcome records one participant contesting the resolution. It
// returns true when this report moved the prediction under review.
func (m *Market) ReportOutcome(reporter common.Address, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return false, fmt.Errorf("market: report: %w", err)
	}
	if p.status != domain.StatusCooldown {
		return false, fmt.Errorf("market: report %d: %w", id, domain.ErrWrongStatus)
	}
	if !m.nowFn().Before(p.cooldownDeadline) {
		return false, fmt.Errorf("market: report %d: %w", id, domain.ErrReportWindowClosed)
	}
	if p.reporters[reporter] {
		return false, fmt.Errorf("market: report %d: %w", id, domain.ErrAlreadyReported)
	}
	if _, ok := p.bets[reporter]; !ok {
		return false, fmt.Errorf("market: report %d: %w", id, domain.ErrNotParticipant)
	}

	p.reporters[reporter] = true
	votes, participants := len(p.reporters), len(p.bets)
	m.emitter.Emit(domain.EventOutcomeReported, map[string]any{
		"id":           id,
		"reporter":     reporter.Hex(),
		"report_count": votes,
	})

	if !QuorumReached(votes, participants, m.thresholdPct, m.minReports) {
		return false, nil
	}
	p.status = domain.StatusUnderReview
	m.emitter.Emit(domain.EventPredictionUnderReview, map[string]any{
		"id":           id,
		"creator":      p.creator.Hex(),
		"report_count": votes,
		"participants": participants,
	})
	m.logger.Warn("prediction under review",
		slog.Uint64("id", id),
		slog.Int("reports", votes),
		slog.Int("participants", participants),
	)
	return true, nil
}

func (p *prediction) pools() (winning, losing *uint256.Int) {
	winning = new(uint256.Int).Set(p.staked[p.winning])
	losing = new(uint256.Int).Sub(p.totalPool, winning)
	return winning, losing
}

// ConfirmOutcome accepts the resolution, either after an uncontested
// cooldown or by overriding a review. Administrator only.
func (m *Market) ConfirmOutcome(caller common.Address, id uint64) error {
	if caller != m.admin {
		return fmt.Errorf("market: confirm: %w", domain.ErrNotAdmin)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return fmt.Errorf("market: confirm: %w", err)
	}
	if p.status != domain.StatusCooldown && p.status != domain.StatusUnderReview {
		return fmt.Errorf("market: confirm %d: %w", id, domain.ErrWrongStatus)
	}

	winning, losing := p.pools()
	if !winning.IsZero() {
		p.creatorFee = CreatorFee(losing, p.feePercent)
	}
	p.status = domain.StatusConfirmed
	m.emitter.Emit(domain.EventPredictionConfirmed, map[string]any{
		"id":             id,
		"winning_option": p.winning,
		"winning_pool":   winning.Dec(),
		"losing_pool":    losing.Dec(),
		"creator_fee":    p.creatorFee.Dec(),
	})
	return nil
}

// FlagFraud rejects the resolution, opens refunds and bans the creator
// through the registry's adjudicator entry point. Administrator only.
func (m *Market) FlagFraud(caller common.Address, id uint64, reason string) error {
	if caller != m.admin {
		return fmt.Errorf("market: flag fraud: %w", domain.ErrNotAdmin)
	}
	reason = strings.TrimSpace(reason)

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return fmt.Errorf("market: flag fraud: %w", err)
	}
	if p.status != domain.StatusCooldown && p.status != domain.StatusUnderReview {
		return fmt.Errorf("market: flag fraud %d: %w", id, domain.ErrWrongStatus)
	}
	err = m.registry.BanOnReport(m.addr, p.creator, reason)
	if err != nil && !errors.Is(err, domain.ErrAlreadyBanned) {
		return fmt.Errorf("market: flag fraud %d: %w", id, err)
	}

	p.status = domain.StatusDisputed
	p.disputeReason = reason
	m.emitter.Emit(domain.EventPredictionDisputed, map[string]any{
		"id":      id,
		"creator": p.creator.Hex(),
		"reason":  reason,
	})
	m.logger.Warn("prediction disputed",
		slog.Uint64("id", id),
		slog.String("creator", p.creator.Hex()),
		slog.String("reason", reason),
	)
	return nil
}

// unclaimed sums the caller's unclaimed bets accepted by match and reports
// whether any bet matched at all.
func unclaimed(bets []*bet, match func(*bet) bool) (sum *uint256.Int, matched bool) {
	sum = new(uint256.Int)
	for _, b := range bets {
		if !match(b) {
			continue
		}
		matched = true
		if !b.claimed {
			sum.Add(sum, b.amount)
		}
	}
	return sum, matched
}

func markClaimed(bets []*bet, match func(*bet) bool) {
	for _, b := range bets {
		if match(b) {
			b.claimed = true
		}
	}
}

// release pays amount out of escrow. Callers mutate state only after it
// succeeds.
func (m *Market) release(p *prediction, to common.Address, amount *uint256.Int) error {
	l, err := m.registry.Ledger(p.ledger)
	if err != nil {
		return err
	}
	return l.Release(m.addr, to, amount)
}

// PendingReward returns what ClaimReward would pay account right now, or
// zero when nothing is claimable.
func (m *Market) PendingReward(id uint64, account common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.getLocked(id)
	if err != nil {
		return nil, fmt.Errorf("market: pending reward: %w", err)
	}
	if p.status != domain.StatusConfirmed {
		return new(uint256.Int), nil
	}
	winning, losing := p.pools()
	stake, _ := unclaimed(p.bets[account], func(b *bet) bool { return b.option == p.winning })
	if stake.IsZero() || winning.IsZero() {
		return new(uint256.Int), nil
	}
	return Payout(stake, winning, losing, p.feePercent)
}

// ClaimReward pays the caller's winning stakes plus their pro-rata share of
// the losing pool after the creator fee.
func (m *Market) ClaimReward(caller common.Address, id uint64) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return nil, fmt.Errorf("market: claim reward: %w", err)
	}
	if p.status != domain.StatusConfirmed {
		return nil, fmt.Errorf("market: claim reward %d: %w", id, domain.ErrWrongStatus)
	}
	onWinner := func(b *bet) bool { return b.option == p.winning }
	stake, matched := unclaimed(p.bets[caller], onWinner)
	if !matched {
		return nil, fmt.Errorf("market: claim reward %d: %w", id, domain.ErrNoReward)
	}
	if stake.IsZero() {
		return nil, fmt.Errorf("market: claim reward %d: %w", id, domain.ErrAlreadyClaimed)
	}

	winning, losing := p.pools()
	payout, err := Payout(stake, winning, losing, p.feePercent)
	if err != nil {
		return nil, fmt.Errorf("market: claim reward %d: %w", id, err)
	}
	if err := m.release(p, caller, payout); err != nil {
		return nil, fmt.Errorf("market: claim reward %d: %w", id, err)
	}
	markClaimed(p.bets[caller], onWinner)

	m.emitter.Emit(domain.EventRewardClaimed, map[string]any{
		"id":      id,
		"account": caller.Hex(),
		"stake":   stake.Dec(),
		"payout":  payout.Dec(),
	})
	return payout, nil
}

// ClaimRefund returns every unclaimed stake of the caller. It is available
// once a prediction is disputed, or confirmed with nobody on the winning
// option.
func (m *Market) ClaimRefund(caller common.Address, id uint64) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return nil, fmt.Errorf("market: claim refund: %w", err)
	}
	refundable := p.status == domain.StatusDisputed
	if p.status == domain.StatusConfirmed {
		winning, _ := p.pools()
		refundable = winning.IsZero()
	}
	if !refundable {
		return nil, fmt.Errorf("market: claim refund %d: %w", id, domain.ErrWrongStatus)
	}

	all := func(*bet) bool { return true }
	amount, matched := unclaimed(p.bets[caller], all)
	if !matched {
		return nil, fmt.Errorf("market: claim refund %d: %w", id, domain.ErrNoRefund)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("market: claim refund %d: %w", id, domain.ErrAlreadyClaimed)
	}
	if err := m.release(p, caller, amount); err != nil {
		return nil, fmt.Errorf("market: claim refund %d: %w", id, err)
	}
	markClaimed(p.bets[caller], all)

	m.emitter.Emit(domain.EventRefundClaimed, map[string]any{
		"id":      id,
		"account": caller.Hex(),
		"amount":  amount.Dec(),
	})
	return amount, nil
}

// ClaimCreatorFee pays the creator's share of the losing pool of a confirmed
// prediction, once.
func (m *Market) ClaimCreatorFee(caller common.Address, id uint64) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getLocked(id)
	if err != nil {
		return nil, fmt.Errorf("market: claim creator fee: %w", err)
	}
	if caller != p.creator {
		return nil, fmt.Errorf("market: claim creator fee %d: %w", id, domain.ErrNotCreator)
	}
	if p.status != domain.StatusConfirmed {
		return nil, fmt.Errorf("market: claim creator fee %d: %w", id, domain.ErrWrongStatus)
	}
	if p.creatorFeePaid {
		return nil, fmt.Errorf("market: claim creator fee %d: %w", id, domain.ErrAlreadyClaimed)
	}
	if p.creatorFee.IsZero() {
		return nil, fmt.Errorf("market: claim creator fee %d: %w", id, domain.ErrNoFees)
	}
	fee := new(uint256.Int).Set(p.creatorFee)
	if err := m.release(p, caller, fee); err != nil {
		return nil, fmt.Errorf("market: claim creator fee %d: %w", id, err)
	}
	p.creatorFeePaid = true

	m.emitter.Emit(domain.EventCreatorFeeClaimed, map[string]any{
		"id":      id,
		"creator": caller.Hex(),
		"amount":  fee.Dec(),
	})
	return fee, nil
}
