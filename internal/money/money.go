// Package money holds the fixed-point currency helpers shared by the ledger and its callers.
//
// Amounts travel through the code as decimal.Decimal and are persisted as signed minor units
// (cents). Anything with more than two fraction digits is rejected instead of rounded.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fraction digits an amount may carry.
const Scale = 2

var ErrInvalid = errors.New("invalid amount")

var maxMinor = decimal.NewFromBigInt(big.NewInt(1<<62), 0)

// Zero is a convenience zero amount.
var Zero = decimal.Zero

// Parse reads a decimal string like "12.50".
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalid)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Validate checks the scale and the persisted range.
func Validate(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(Scale)) {
		return fmt.Errorf("%w: %s has more than %d fraction digits", ErrInvalid, d.String(), Scale)
	}
	if d.Abs().Shift(Scale).GreaterThanOrEqual(maxMinor) {
		return fmt.Errorf("%w: %s out of range", ErrInvalid, d.String())
	}
	return nil
}

// ToMinor converts to cents.
func ToMinor(d decimal.Decimal) (int64, error) {
	if err := Validate(d); err != nil {
		return 0, err
	}
	return d.Shift(Scale).IntPart(), nil
}

// FromMinor converts cents back to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

// FloorShare returns floor(part * pool / whole) at currency scale. whole must be positive.
func FloorShare(part, pool, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	minor := part.Shift(Scale).Mul(pool.Shift(Scale)).Div(whole.Shift(Scale)).Floor()
	return minor.Shift(-Scale)
}
