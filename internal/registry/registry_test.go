package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

var (
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	creator  = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	other    = common.HexToAddress("0x0000000000000000000000000000000000000b22")
	exchange = domain.ComponentAddress("exchange")
	market   = domain.ComponentAddress("market")
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	r, err := New(Config{Admin: admin}, nil, func() time.Time { return now })
	require.NoError(t, err)
	return r
}

func TestRegisterCreator(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.RegisterCreator(creator, "Coin", "C", new(uint256.Int))
	require.ErrorIs(t, err, domain.ErrInvalidPrice)
	_, err = r.RegisterCreator(creator, " ", "C", uint256.NewInt(1))
	require.ErrorIs(t, err, domain.ErrInvalidName)

	l, err := r.RegisterCreator(creator, "Coin", "C", uint256.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, creator, l.Owner())
	assert.True(t, r.IsCreatorActive(creator))
	assert.False(t, r.IsCreatorActive(other))

	_, err = r.RegisterCreator(creator, "Coin 2", "C2", uint256.NewInt(100))
	require.ErrorIs(t, err, domain.ErrAlreadyRegistered)
	assert.Equal(t, 1, r.LedgerCount())

	got, err := r.LedgerOf(creator)
	require.NoError(t, err)
	assert.Same(t, l, got)

	byAddr, err := r.Ledger(l.Address())
	require.NoError(t, err)
	assert.Same(t, l, byAddr)

	_, err = r.Ledger(other)
	require.ErrorIs(t, err, domain.ErrUnknownLedger)
}

func TestLedgerAddressesAreDistinct(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.RegisterCreator(creator, "A", "A", uint256.NewInt(1))
	require.NoError(t, err)
	b, err := r.RegisterCreator(other, "B", "B", uint256.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, a.Address(), b.Address())
}

func TestBanLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.RegisterCreator(creator, "Coin", "C", uint256.NewInt(1))
	require.NoError(t, err)

	err = r.Ban(other, creator, "spam")
	require.ErrorIs(t, err, domain.ErrNotAdmin)
	require.ErrorIs(t, r.Ban(admin, other, "x"), domain.ErrUnknownCreator)
	require.ErrorIs(t, r.Unban(admin, creator), domain.ErrNotBanned)

	require.NoError(t, r.Ban(admin, creator, "spam"))
	assert.False(t, r.IsCreatorActive(creator))
	c, err := r.Creator(creator)
	require.NoError(t, err)
	assert.True(t, c.Banned)
	assert.Equal(t, "spam", c.BanReason)
	require.NotNil(t, c.BannedAt)

	require.ErrorIs(t, r.Ban(admin, creator, "again"), domain.ErrAlreadyBanned)

	require.NoError(t, r.Unban(admin, creator))
	c, err = r.Creator(creator)
	require.NoError(t, err)
	assert.False(t, c.Banned)
	assert.Empty(t, c.BanReason)
	assert.Nil(t, c.BannedAt)
	assert.True(t, r.IsCreatorActive(creator))
}

func TestBanOnReportNeedsAdjudicatorRole(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.RegisterCreator(creator, "Coin", "C", uint256.NewInt(1))
	require.NoError(t, err)

	require.ErrorIs(t, r.BanOnReport(market, creator, "fraud"), domain.ErrNotAdjudicator)
	require.ErrorIs(t, r.SetAdjudicator(other, market, true), domain.ErrNotAdmin)
	require.ErrorIs(t, r.SetAdjudicator(admin, common.Address{}, true), domain.ErrZeroAddress)
	require.NoError(t, r.SetAdjudicator(admin, market, true))

	require.NoError(t, r.BanOnReport(market, creator, "fraud"))
	assert.False(t, r.IsCreatorActive(creator))

	// The adjudicator cannot lift bans.
	require.ErrorIs(t, r.Unban(market, creator), domain.ErrNotAdmin)
}

func TestCapabilityNeedsBothTiers(t *testing.T) {
	r := newTestRegistry(t)
	l, err := r.RegisterCreator(creator, "Coin", "C", uint256.NewInt(1))
	require.NoError(t, err)

	assert.False(t, r.HasCapability(exchange, l.Address()))

	require.NoError(t, r.GrantOperator(creator, exchange))
	assert.False(t, r.HasCapability(exchange, l.Address()), "owner grant alone is not enough")

	require.ErrorIs(t, r.SetOperatorAuthorization(other, exchange, true), domain.ErrNotAdmin)
	require.ErrorIs(t, r.SetOperatorAuthorization(admin, common.Address{}, true), domain.ErrZeroAddress)
	require.NoError(t, r.SetOperatorAuthorization(admin, exchange, true))
	assert.True(t, r.HasCapability(exchange, l.Address()))
	assert.True(t, r.IsOperatorAuthorized(exchange))

	require.ErrorIs(t, r.GrantOperator(creator, exchange), domain.ErrSettingUnchanged)
	require.ErrorIs(t, r.GrantOperator(other, exchange), domain.ErrUnknownCreator)

	require.NoError(t, r.RevokeOperator(creator, exchange))
	assert.False(t, r.HasCapability(exchange, l.Address()))

	// The capability reaches the ledger itself.
	err = l.Credit(exchange, other, domain.Units(1))
	require.ErrorIs(t, err, domain.ErrUnauthorizedOperator)
	require.NoError(t, r.GrantOperator(creator, exchange))
	require.NoError(t, l.Credit(exchange, other, domain.Units(1)))

	require.NoError(t, r.SetOperatorAuthorization(admin, exchange, false))
	require.ErrorIs(t, l.Credit(exchange, other, domain.Units(1)), domain.ErrUnauthorizedOperator)
}

func TestLedgersPagination(t *testing.T) {
	r := newTestRegistry(t)

	page, err := r.Ledgers(0, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	for i := 1; i <= 5; i++ {
		_, err := r.RegisterCreator(common.BigToAddress(uint256.NewInt(uint64(1000+i)).ToBig()), "C", "C", uint256.NewInt(1))
		require.NoError(t, err)
	}

	page, err = r.Ledgers(0, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = r.Ledgers(4, 10)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	_, err = r.Ledgers(5, 10)
	require.ErrorIs(t, err, domain.ErrOutOfRange)
	_, err = r.Ledgers(-1, 10)
	require.ErrorIs(t, err, domain.ErrOutOfRange)
	_, err = r.Ledgers(0, 0)
	require.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestStateRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	l, err := r.RegisterCreator(creator, "Coin", "C", uint256.NewInt(5))
	require.NoError(t, err)
	_, err = r.RegisterCreator(other, "Other", "O", uint256.NewInt(9))
	require.NoError(t, err)
	require.NoError(t, r.SetOperatorAuthorization(admin, exchange, true))
	require.NoError(t, r.GrantOperator(creator, exchange))
	require.NoError(t, r.SetAdjudicator(admin, market, true))
	require.NoError(t, r.Ban(admin, other, "spam"))
	require.NoError(t, l.Credit(exchange, other, domain.Units(2)))

	raw, err := json.Marshal(r.State())
	require.NoError(t, err)
	var st State
	require.NoError(t, json.Unmarshal(raw, &st))

	restored, err := Restore(st, 0, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, restored.LedgerCount())
	assert.True(t, restored.HasCapability(exchange, l.Address()))
	assert.False(t, restored.IsCreatorActive(other))
	assert.True(t, restored.IsCreatorActive(creator))
	require.NoError(t, restored.BanOnReport(market, creator, "fraud"))

	rl, err := restored.Ledger(l.Address())
	require.NoError(t, err)
	assert.Equal(t, domain.Units(2), rl.BalanceOf(other))
	// Restored ledgers check capabilities against the restored registry.
	require.NoError(t, rl.Credit(exchange, other, domain.Units(1)))
}
