package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Creator is the registry record of an identity that issued a ledger.
type Creator struct {
	Address      common.Address
	Ledger       common.Address
	Active       bool
	Banned       bool
	BanReason    string
	BannedAt     *time.Time
	RegisteredAt time.Time
}

// LedgerInfo is a read-only view of a creator ledger.
type LedgerInfo struct {
	Address             common.Address
	Owner               common.Address
	Name                string
	Symbol              string
	Price               *uint256.Int // native base units per whole ledger unit
	LastPriceUpdate     time.Time
	PriceUpdateInterval time.Duration
	TotalIssued         *uint256.Int
	Holders             int
}

// NativeBank moves native settlement currency between accounts. Transfer is
// atomic: it either moves the full amount or changes nothing.
type NativeBank interface {
	BalanceOf(account common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}
