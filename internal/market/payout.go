package market

import (
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// Distributable is the part of the losing pool shared among winners:
// floor(losing*(100-feePercent)/100). The remainder is the creator fee.
func Distributable(losing *uint256.Int, feePercent uint64) *uint256.Int {
	return domain.Percent(losing, 100-feePercent)
}

// CreatorFee is the part of the losing pool kept for the creator.
func CreatorFee(losing *uint256.Int, feePercent uint64) *uint256.Int {
	return new(uint256.Int).Sub(losing, Distributable(losing, feePercent))
}

// Payout returns stake + floor(stake*distributable/winningTotal), where
// distributable is truncated first. Per-winner truncation leaves dust in
// escrow; the sum of all payouts never exceeds winningTotal+distributable.
func Payout(stake, winningTotal, losing *uint256.Int, feePercent uint64) (*uint256.Int, error) {
	if winningTotal.IsZero() {
		return nil, domain.ErrNoReward
	}
	share, err := domain.MulDiv(stake, Distributable(losing, feePercent), winningTotal)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).AddOverflow(stake, share)
	if overflow {
		return nil, domain.ErrOverflow
	}
	return out, nil
}
