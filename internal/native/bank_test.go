package native

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

func TestBankTransfer(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	bank := New(nil)

	require.ErrorIs(t, bank.Deposit(common.Address{}, domain.Units(1)), domain.ErrZeroAddress)
	require.NoError(t, bank.Deposit(a, domain.Units(5)))

	err := bank.Transfer(a, b, domain.Units(6))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.KindResource, domain.KindOf(err))
	assert.Equal(t, domain.Units(5), bank.BalanceOf(a))

	require.NoError(t, bank.Transfer(a, b, domain.Units(2)))
	assert.Equal(t, domain.Units(3), bank.BalanceOf(a))
	assert.Equal(t, domain.Units(2), bank.BalanceOf(b))
	assert.Equal(t, domain.Units(5), bank.Supply())

	restored, err := Restore(bank.State(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Units(2), restored.BalanceOf(b))
	assert.Equal(t, domain.Units(5), restored.Supply())
}
