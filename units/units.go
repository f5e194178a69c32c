// Package units converts between integer base-unit amounts reported by the
// ledger and their decimal display form.
//
// All arithmetic is exact (shopspring/decimal over math/big); no value ever
// passes through a binary float.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of fractional digits between wei and ether.
const EtherDecimals = 18

var (
	ErrNegative  = errors.New("units: negative amount")
	ErrPrecision = errors.New("units: too many fractional digits")
	ErrSyntax    = errors.New("units: invalid decimal amount")
)

// FormatUnits renders raw base units as a decimal string with trailing zeros trimmed.
// A nil raw value formats as "0".
func FormatUnits(raw *big.Int, decimals int32) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -decimals).String()
}

// ParseUnits converts a decimal string into raw base units.
//
// It is the exact inverse of FormatUnits for every non-negative integer.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrSyntax
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if d.Sign() < 0 {
		return nil, ErrNegative
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("%w: %q has more than %d", ErrPrecision, s, decimals)
	}
	return shifted.BigInt(), nil
}

func FormatEther(wei *big.Int) string { return FormatUnits(wei, EtherDecimals) }

func ParseEther(s string) (*big.Int, error) { return ParseUnits(s, EtherDecimals) }
