package market

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// owed is what the escrow account must still pay out for p.
func (p *prediction) owed() *uint256.Int {
	all := func(*bet) bool { return true }
	switch p.status {
	case domain.StatusDisputed:
		sum := new(uint256.Int)
		for _, bets := range p.bets {
			s, _ := unclaimed(bets, all)
			sum.Add(sum, s)
		}
		return sum
	case domain.StatusConfirmed:
		winning, losing := p.pools()
		sum := new(uint256.Int)
		if winning.IsZero() {
			for _, bets := range p.bets {
				s, _ := unclaimed(bets, all)
				sum.Add(sum, s)
			}
			return sum
		}
		onWinner := func(b *bet) bool { return b.option == p.winning }
		for _, bets := range p.bets {
			stake, _ := unclaimed(bets, onWinner)
			if stake.IsZero() {
				continue
			}
			if payout, err := Payout(stake, winning, losing, p.feePercent); err == nil {
				sum.Add(sum, payout)
			}
		}
		if !p.creatorFeePaid {
			sum.Add(sum, p.creatorFee)
		}
		return sum
	default:
		return new(uint256.Int).Set(p.totalPool)
	}
}

// Outstanding returns, per ledger, the units the escrow account still owes
// bettors and creators. Truncation dust is not owed to anyone.
func (m *Market) Outstanding() map[common.Address]*uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Address]*uint256.Int)
	for _, p := range m.predictions {
		owed := p.owed()
		if cur, ok := out[p.ledger]; ok {
			cur.Add(cur, owed)
		} else {
			out[p.ledger] = owed
		}
	}
	return out
}
