package ledger

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

var (
	owner    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000c3")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	ledgerID = common.HexToAddress("0x00000000000000000000000000000000000000e5")
)

type allowList map[common.Address]bool

func (a allowList) HasCapability(op, _ common.Address) bool { return a[op] }

type recorder struct{ kinds []domain.EventKind }

func (r *recorder) Emit(kind domain.EventKind, _ map[string]any) { r.kinds = append(r.kinds, kind) }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLedger(t *testing.T, price *uint256.Int) (*Ledger, *clock, *recorder) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	l, err := New(Config{
		Address: ledgerID,
		Owner:   owner,
		Name:    "Alice Coin",
		Symbol:  "ALC",
		Price:   price,
	}, allowList{operator: true}, rec, clk.Now)
	require.NoError(t, err)
	return l, clk, rec
}

func centPrice() *uint256.Int {
	// 0.01 native per unit.
	return uint256.NewInt(10_000_000_000_000_000)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Address: ledgerID, Owner: owner, Name: "x", Symbol: "X", Price: new(uint256.Int)}, nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = New(Config{Address: ledgerID, Name: "x", Symbol: "X", Price: uint256.NewInt(1)}, nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrZeroAddress)

	_, err = New(Config{Address: ledgerID, Owner: owner, Price: uint256.NewInt(1)}, nil, nil, nil)
	require.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestSetPriceCooldown(t *testing.T) {
	l, clk, rec := newTestLedger(t, centPrice())

	ok, remaining := l.CanUpdatePrice()
	assert.False(t, ok)
	assert.Equal(t, uint64(3600), remaining)

	err := l.SetPrice(owner, uint256.NewInt(5))
	require.ErrorIs(t, err, domain.ErrPriceCooldown)
	assert.Equal(t, domain.KindState, domain.KindOf(err))

	clk.Advance(59*time.Minute + 30*time.Second)
	_, remaining = l.CanUpdatePrice()
	assert.Equal(t, uint64(30), remaining)

	clk.Advance(30 * time.Second)
	ok, remaining = l.CanUpdatePrice()
	assert.True(t, ok)
	assert.Zero(t, remaining)

	require.ErrorIs(t, l.SetPrice(alice, uint256.NewInt(5)), domain.ErrNotOwner)
	require.ErrorIs(t, l.SetPrice(owner, new(uint256.Int)), domain.ErrInvalidPrice)
	require.ErrorIs(t, l.SetPrice(owner, centPrice()), domain.ErrPriceUnchanged)

	require.NoError(t, l.SetPrice(owner, uint256.NewInt(5)))
	assert.Equal(t, uint64(5), l.Price().Uint64())
	assert.Contains(t, rec.kinds, domain.EventLedgerPriceUpdated)

	// The cooldown restarts from the accepted update.
	require.ErrorIs(t, l.SetPrice(owner, uint256.NewInt(6)), domain.ErrPriceCooldown)
}

func TestSetPriceUpdateInterval(t *testing.T) {
	l, clk, _ := newTestLedger(t, centPrice())

	require.ErrorIs(t, l.SetPriceUpdateInterval(owner, 0), domain.ErrInvalidInterval)
	require.ErrorIs(t, l.SetPriceUpdateInterval(owner, DefaultPriceUpdateInterval), domain.ErrSettingUnchanged)
	require.ErrorIs(t, l.SetPriceUpdateInterval(bob, time.Minute), domain.ErrNotOwner)
	require.NoError(t, l.SetPriceUpdateInterval(owner, time.Minute))

	clk.Advance(time.Minute)
	require.NoError(t, l.SetPrice(owner, uint256.NewInt(7)))
}

func TestConversionsTruncate(t *testing.T) {
	l, _, _ := newTestLedger(t, uint256.NewInt(3))

	q, err := l.QuantityForAmount(uint256.NewInt(10))
	require.NoError(t, err)
	// 10 * 1e18 / 3
	assert.Equal(t, "3333333333333333333", q.Dec())

	v, err := l.AmountForQuantity(q)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), v.Uint64())

	_, err = l.QuantityForAmount(new(uint256.Int))
	require.ErrorIs(t, err, domain.ErrZeroAmount)
	_, err = l.AmountForQuantity(nil)
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestRoundTripNeverCreatesValue(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		price := uint256.NewInt(rng.Uint64()%1_000_000_000_000_000_000 + 1)
		l, _, _ := newTestLedger(t, price)
		v := uint256.NewInt(rng.Uint64() + 1)
		q, err := l.QuantityForAmount(v)
		require.NoError(t, err)
		if q.IsZero() {
			continue
		}
		back, err := l.AmountForQuantity(q)
		require.NoError(t, err)
		assert.True(t, back.Cmp(v) <= 0, "price=%s v=%s back=%s", price.Dec(), v.Dec(), back.Dec())
	}
}

func TestCreditDebitRequireCapability(t *testing.T) {
	l, _, _ := newTestLedger(t, centPrice())

	err := l.Credit(alice, bob, domain.Units(1))
	require.ErrorIs(t, err, domain.ErrUnauthorizedOperator)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	require.ErrorIs(t, l.Credit(operator, common.Address{}, domain.Units(1)), domain.ErrZeroAddress)
	require.ErrorIs(t, l.Credit(operator, bob, new(uint256.Int)), domain.ErrZeroAmount)

	require.NoError(t, l.Credit(operator, bob, domain.Units(3)))
	assert.Equal(t, domain.Units(3), l.BalanceOf(bob))
	assert.Equal(t, domain.Units(3), l.TotalIssued())

	require.ErrorIs(t, l.Debit(operator, bob, domain.Units(4)), domain.ErrInsufficientBalance)
	require.ErrorIs(t, l.Debit(bob, bob, domain.Units(1)), domain.ErrUnauthorizedOperator)
	require.NoError(t, l.Debit(operator, bob, domain.Units(3)))
	assert.True(t, l.BalanceOf(bob).IsZero())
	assert.True(t, l.TotalIssued().IsZero())
	assert.Empty(t, l.Holders())
}

func TestTransfersAndAllowances(t *testing.T) {
	l, _, _ := newTestLedger(t, centPrice())
	require.NoError(t, l.Credit(operator, alice, domain.Units(10)))

	require.NoError(t, l.Transfer(alice, bob, domain.Units(4)))
	require.ErrorIs(t, l.Transfer(bob, alice, domain.Units(5)), domain.ErrInsufficientBalance)
	require.ErrorIs(t, l.Transfer(bob, common.Address{}, domain.Units(1)), domain.ErrZeroAddress)

	require.ErrorIs(t, l.TransferFrom(bob, alice, bob, domain.Units(1)), domain.ErrInsufficientAllowance)
	require.NoError(t, l.Approve(alice, bob, domain.Units(2)))
	assert.Equal(t, domain.Units(2), l.Allowance(alice, bob))
	require.NoError(t, l.TransferFrom(bob, alice, bob, domain.Units(2)))
	assert.True(t, l.Allowance(alice, bob).IsZero())
	require.ErrorIs(t, l.TransferFrom(bob, alice, bob, domain.Units(1)), domain.ErrInsufficientAllowance)

	assert.Equal(t, domain.Units(4), l.BalanceOf(alice))
	assert.Equal(t, domain.Units(6), l.BalanceOf(bob))

	require.NoError(t, l.OperatorTransfer(operator, bob, alice, domain.Units(6)))
	require.ErrorIs(t, l.OperatorTransfer(alice, alice, bob, domain.Units(1)), domain.ErrUnauthorizedOperator)
	assert.Equal(t, domain.Units(10), l.BalanceOf(alice))
}

func TestSelfTransferFromKeepsAllowance(t *testing.T) {
	l, _, _ := newTestLedger(t, centPrice())
	require.NoError(t, l.Credit(operator, alice, domain.Units(5)))
	require.NoError(t, l.Approve(alice, bob, domain.Units(3)))

	require.NoError(t, l.TransferFrom(bob, alice, alice, domain.Units(2)))
	assert.Equal(t, domain.Units(3), l.Allowance(alice, bob))
	assert.Equal(t, domain.Units(5), l.BalanceOf(alice))

	require.ErrorIs(t, l.TransferFrom(bob, alice, alice, domain.Units(4)), domain.ErrInsufficientAllowance)
}

func TestReleaseNeedsNoCapability(t *testing.T) {
	l, _, _ := newTestLedger(t, centPrice())
	require.NoError(t, l.Credit(operator, alice, domain.Units(5)))
	require.NoError(t, l.OperatorTransfer(operator, alice, operator, domain.Units(5)))

	revoked, err := Restore(l.State(), allowList{}, nil, time.Now)
	require.NoError(t, err)
	require.ErrorIs(t, revoked.OperatorTransfer(operator, operator, bob, domain.Units(1)), domain.ErrUnauthorizedOperator)

	require.NoError(t, revoked.Release(operator, bob, domain.Units(2)))
	require.ErrorIs(t, revoked.Release(operator, bob, domain.Units(4)), domain.ErrInsufficientBalance)
	assert.Equal(t, domain.Units(2), revoked.BalanceOf(bob))
	assert.Equal(t, domain.Units(3), revoked.BalanceOf(operator))
	assert.Equal(t, domain.Units(5), revoked.TotalIssued())
}

func TestConcurrentMutationsConserveSupply(t *testing.T) {
	l, err := New(Config{
		Address: ledgerID,
		Owner:   owner,
		Name:    "Alice Coin",
		Symbol:  "ALC",
		Price:   centPrice(),
	}, allowList{operator: true}, nil, time.Now)
	require.NoError(t, err)
	require.NoError(t, l.Credit(operator, alice, domain.Units(1000)))
	require.NoError(t, l.Credit(operator, bob, domain.Units(1000)))

	const workers, rounds = 8, 200
	var g errgroup.Group
	for w := range workers {
		g.Go(func() error {
			from, to := alice, bob
			if w%2 == 1 {
				from, to = bob, alice
			}
			for range rounds {
				if err := l.Transfer(from, to, domain.Units(1)); err != nil {
					return err
				}
				if err := l.Credit(operator, from, domain.Units(2)); err != nil {
					return err
				}
				if err := l.Debit(operator, from, domain.Units(1)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every round issues one net unit.
	want := domain.Units(2000 + workers*rounds)
	assert.Equal(t, want, l.TotalIssued())
	sum := new(uint256.Int)
	for _, bal := range l.Holders() {
		sum.Add(sum, bal)
	}
	assert.Equal(t, want, sum)
	assert.Equal(t, domain.Units(1000+workers/2*rounds), l.BalanceOf(alice))
	assert.Equal(t, domain.Units(1000+workers/2*rounds), l.BalanceOf(bob))
}

func TestConservationUnderRandomOperations(t *testing.T) {
	l, _, _ := newTestLedger(t, centPrice())
	accounts := []common.Address{alice, bob, owner}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		a := accounts[rng.Intn(len(accounts))]
		b := accounts[rng.Intn(len(accounts))]
		qty := uint256.NewInt(uint64(rng.Intn(50) + 1))
		switch rng.Intn(4) {
		case 0:
			_ = l.Credit(operator, a, qty)
		case 1:
			_ = l.Debit(operator, a, qty)
		case 2:
			_ = l.Transfer(a, b, qty)
		case 3:
			_ = l.OperatorTransfer(operator, a, b, qty)
		}

		sum := new(uint256.Int)
		for _, bal := range l.Holders() {
			sum.Add(sum, bal)
		}
		require.Equal(t, l.TotalIssued().Dec(), sum.Dec(), "step %d", i)
	}
}

func TestStateRoundTrip(t *testing.T) {
	l, clk, _ := newTestLedger(t, centPrice())
	require.NoError(t, l.Credit(operator, alice, domain.Units(5)))
	require.NoError(t, l.Approve(alice, bob, domain.Units(1)))

	raw, err := json.Marshal(l.State())
	require.NoError(t, err)

	var st State
	require.NoError(t, json.Unmarshal(raw, &st))
	restored, err := Restore(st, allowList{operator: true}, nil, clk.Now)
	require.NoError(t, err)

	assert.Equal(t, l.Info(), restored.Info())
	assert.Equal(t, domain.Units(1), restored.Allowance(alice, bob))

	st.TotalIssued = "1"
	_, err = Restore(st, nil, nil, clk.Now)
	require.Error(t, err)
}
