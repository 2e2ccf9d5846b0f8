package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// UnitDecimals is the fixed-point precision of both the native currency and
// every creator ledger unit.
const UnitDecimals = 18

// UnitScale is 10^UnitDecimals. Prices are expressed as native base units per
// whole ledger unit, so conversions multiply or divide by UnitScale.
var UnitScale = uint256.NewInt(1_000_000_000_000_000_000)

// Units returns n whole units in base units (n * 1e18).
func Units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), UnitScale)
}

// ParseAmount parses a base-unit decimal string such as "1500000000000000000".
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("domain: parse amount: empty string")
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	return v, nil
}

// MulDiv returns floor(x*y/d) using a 512-bit intermediate product. It fails
// with ErrOverflow when the result does not fit in 256 bits or d is zero.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Percent returns floor(v*pct/100).
func Percent(v *uint256.Int, pct uint64) *uint256.Int {
	// pct <= 100 in every caller, so the quotient never exceeds v.
	z, _ := new(uint256.Int).MulDivOverflow(v, uint256.NewInt(pct), uint256.NewInt(100))
	return z
}

// ComponentAddress derives the well-known account of a system component
// (exchange, market, registry) from its name.
func ComponentAddress(name string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("creatormarket:" + name))[12:])
}

// IsComponentAddress reports whether addr is the account of a built-in
// component. Those accounts have no key and never act as external callers.
func IsComponentAddress(addr common.Address) bool {
	for _, name := range []string{"registry", "exchange", "market"} {
		if addr == ComponentAddress(name) {
			return true
		}
	}
	return false
}

// ParseAddress parses a 0x-prefixed hex address and rejects malformed or zero
// values.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("domain: parse address %q: %w", s, ErrZeroAddress)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}
	return addr, nil
}
