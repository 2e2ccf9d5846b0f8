package exchange

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
	"github.com/alanyoungcy/creatormarket/internal/ledger"
	"github.com/alanyoungcy/creatormarket/internal/native"
	"github.com/alanyoungcy/creatormarket/internal/registry"
)

var (
	admin   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	creator = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	buyer   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	vault   = common.HexToAddress("0x0000000000000000000000000000000000000f01")
)

type fixture struct {
	reg  *registry.Registry
	bank *native.Bank
	ex   *Exchange
	l    *ledger.Ledger
}

// centPrice is 0.01 native per ledger unit.
func centPrice() *uint256.Int { return uint256.NewInt(10_000_000_000_000_000) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := registry.New(registry.Config{Admin: admin}, nil, nil)
	require.NoError(t, err)
	bank := native.New(nil)
	ex, err := New(Config{Admin: admin, FeePercent: DefaultFeePercent}, reg, bank, nil, nil)
	require.NoError(t, err)

	l, err := reg.RegisterCreator(creator, "Creator Coin", "CC", centPrice())
	require.NoError(t, err)
	require.NoError(t, reg.SetOperatorAuthorization(admin, ex.Address(), true))
	require.NoError(t, reg.GrantOperator(creator, ex.Address()))
	return &fixture{reg: reg, bank: bank, ex: ex, l: l}
}

func TestBuyFeeAdjustedQuantity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Deposit(buyer, domain.Units(1)))

	quote, err := f.ex.QuoteBuy(f.l.Address(), domain.Units(1))
	require.NoError(t, err)

	got, err := f.ex.Buy(buyer, f.l.Address(), domain.Units(1))
	require.NoError(t, err)
	assert.Equal(t, quote, got)

	// (1.0 - 0.01) / 0.01 = 99 units.
	assert.Equal(t, domain.Units(99), got.Quantity)
	assert.Equal(t, domain.Units(99), f.l.BalanceOf(buyer))
	assert.Equal(t, "10000000000000000", got.Fee.Dec())
	assert.Equal(t, "10000000000000000", f.ex.AccumulatedFees().Dec())
	assert.True(t, f.bank.BalanceOf(buyer).IsZero())
	assert.Equal(t, domain.Units(1), f.ex.Balance())
}

func TestBuyRejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.ex.Buy(buyer, f.l.Address(), new(uint256.Int))
	require.ErrorIs(t, err, domain.ErrZeroAmount)

	_, err = f.ex.Buy(buyer, vault, domain.Units(1))
	require.ErrorIs(t, err, domain.ErrUnknownLedger)

	_, err = f.ex.Buy(buyer, f.l.Address(), domain.Units(1))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	require.NoError(t, f.reg.Ban(admin, creator, "rug"))
	_, err = f.ex.Buy(buyer, f.l.Address(), domain.Units(1))
	require.ErrorIs(t, err, domain.ErrCreatorBanned)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

func TestBuyRefundsWhenCreditFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Deposit(buyer, domain.Units(1)))
	require.NoError(t, f.reg.RevokeOperator(creator, f.ex.Address()))

	_, err := f.ex.Buy(buyer, f.l.Address(), domain.Units(1))
	require.ErrorIs(t, err, domain.ErrUnauthorizedOperator)
	assert.Equal(t, domain.Units(1), f.bank.BalanceOf(buyer))
	assert.True(t, f.ex.AccumulatedFees().IsZero())
	assert.True(t, f.l.TotalIssued().IsZero())
}

func TestSell(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Deposit(buyer, domain.Units(1)))
	_, err := f.ex.Buy(buyer, f.l.Address(), domain.Units(1))
	require.NoError(t, err)

	_, err = f.ex.Sell(buyer, f.l.Address(), domain.Units(100))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	q, err := f.ex.Sell(buyer, f.l.Address(), domain.Units(99))
	require.NoError(t, err)
	// gross 0.99, fee 0.0099, net 0.9801
	assert.Equal(t, "980100000000000000", q.Amount.Dec())
	assert.Equal(t, "9900000000000000", q.Fee.Dec())
	assert.Equal(t, q.Amount, f.bank.BalanceOf(buyer))
	assert.True(t, f.l.BalanceOf(buyer).IsZero())
	assert.Equal(t, "19900000000000000", f.ex.AccumulatedFees().Dec())
}

func TestSellNeedsLiquidity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Deposit(buyer, domain.Units(1)))
	_, err := f.ex.Buy(buyer, f.l.Address(), domain.Units(1))
	require.NoError(t, err)

	drain := new(uint256.Int).Sub(domain.Units(1), uint256.NewInt(1))
	require.NoError(t, f.ex.EmergencyWithdraw(admin, vault, drain))
	assert.Equal(t, uint64(1), f.ex.AccumulatedFees().Uint64(), "fees clamp to the remaining balance")

	_, err = f.ex.Sell(buyer, f.l.Address(), domain.Units(10))
	require.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	assert.Contains(t, err.Error(), "insufficient contract balance")
	assert.Equal(t, domain.Units(99), f.l.BalanceOf(buyer))
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t)

	require.ErrorIs(t, f.ex.SetFeePercent(buyer, 2), domain.ErrNotAdmin)
	require.ErrorIs(t, f.ex.SetFeePercent(admin, 11), domain.ErrFeeTooHigh)
	require.NoError(t, f.ex.SetFeePercent(admin, 10))
	assert.Equal(t, uint64(10), f.ex.FeePercent())

	_, err := f.ex.WithdrawFees(admin, vault)
	require.ErrorIs(t, err, domain.ErrNoFees)

	require.NoError(t, f.bank.Deposit(buyer, domain.Units(2)))
	_, err = f.ex.Buy(buyer, f.l.Address(), domain.Units(2))
	require.NoError(t, err)

	_, err = f.ex.WithdrawFees(admin, common.Address{})
	require.ErrorIs(t, err, domain.ErrZeroAddress)
	amount, err := f.ex.WithdrawFees(admin, vault)
	require.NoError(t, err)
	assert.Equal(t, "200000000000000000", amount.Dec())
	assert.Equal(t, amount, f.bank.BalanceOf(vault))
	assert.True(t, f.ex.AccumulatedFees().IsZero())

	require.ErrorIs(t, f.ex.EmergencyWithdraw(admin, vault, domain.Units(5)), domain.ErrInsufficientLiquidity)
	require.ErrorIs(t, f.ex.EmergencyWithdraw(admin, vault, new(uint256.Int)), domain.ErrZeroAmount)
	require.ErrorIs(t, f.ex.EmergencyWithdraw(buyer, vault, domain.Units(1)), domain.ErrNotAdmin)

	require.NoError(t, f.bank.Deposit(admin, domain.Units(3)))
	require.ErrorIs(t, f.ex.Deposit(buyer, domain.Units(1)), domain.ErrNotAdmin)
	require.NoError(t, f.ex.Deposit(admin, domain.Units(3)))
	assert.Equal(t, "4800000000000000000", f.ex.Balance().Dec())
}

func TestQuoteRejectsZero(t *testing.T) {
	f := newFixture(t)
	_, err := f.ex.QuoteBuy(f.l.Address(), nil)
	require.ErrorIs(t, err, domain.ErrZeroAmount)
	_, err = f.ex.QuoteSell(f.l.Address(), new(uint256.Int))
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestStateRestore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bank.Deposit(buyer, domain.Units(1)))
	_, err := f.ex.Buy(buyer, f.l.Address(), domain.Units(1))
	require.NoError(t, err)

	st := f.ex.State()
	other, err := New(Config{Admin: admin}, f.reg, f.bank, nil, nil)
	require.NoError(t, err)
	require.NoError(t, other.Restore(st))
	assert.Equal(t, f.ex.AccumulatedFees(), other.AccumulatedFees())
	assert.Equal(t, uint64(DefaultFeePercent), other.FeePercent())
}
