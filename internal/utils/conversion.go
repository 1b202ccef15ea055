/*
This file contains common utility functions for fixed-point conversions between
unit-of-account notionals, asset quantities, and ratio math. All conversions
floor: the protocol never rounds value into existence.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidDecimals = errors.New("asset decimals are invalid")
	ErrAmountNil       = errors.New("amount is nil")
	ErrAmountNegative  = errors.New("amount is negative")
	ErrPriceInvalid    = errors.New("price must be positive")
)

// pow10Dec returns 10^decimals as a decimal.
func pow10Dec(decimals int) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromInt(sdkmath.NewIntWithDecimal(1, decimals))
}

// NotionalToQuantity converts a unit-of-account notional into an asset
// quantity in smallest units at the given price. The price is expressed as
// unit-of-account smallest units per one whole asset unit.
func NotionalToQuantity(notional sdkmath.Int, price sdkmath.LegacyDec, decimals int) (sdkmath.Int, error) {
	if notional.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if notional.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if decimals < 0 || decimals > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidDecimals, decimals)
	}
	if price.IsNil() || !price.IsPositive() {
		return sdkmath.ZeroInt(), ErrPriceInvalid
	}

	qty := sdkmath.LegacyNewDecFromInt(notional).
		Quo(price).
		Mul(pow10Dec(decimals))
	return qty.TruncateInt(), nil
}

// QuantityToNotional converts an asset quantity in smallest units back into a
// unit-of-account notional at the given price, flooring the result.
func QuantityToNotional(quantity sdkmath.Int, price sdkmath.LegacyDec, decimals int) (sdkmath.Int, error) {
	if quantity.IsNil() {
		return sdkmath.ZeroInt(), ErrAmountNil
	}
	if quantity.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}
	if decimals < 0 || decimals > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidDecimals, decimals)
	}
	if price.IsNil() || !price.IsPositive() {
		return sdkmath.ZeroInt(), ErrPriceInvalid
	}

	notional := sdkmath.LegacyNewDecFromInt(quantity).
		Quo(pow10Dec(decimals)).
		Mul(price)
	return notional.TruncateInt(), nil
}

// ApplyBps returns floor(amount * bps / 10000).
func ApplyBps(amount sdkmath.Int, bps int64) sdkmath.Int {
	if amount.IsNil() || amount.IsZero() || bps == 0 {
		return sdkmath.ZeroInt()
	}
	return amount.Mul(sdkmath.NewInt(bps)).Quo(sdkmath.NewInt(10_000))
}

// ApplyWeight returns floor(amount * weight / scale). The weight scale is
// passed explicitly so callers cannot mix scales silently.
func ApplyWeight(amount, weight sdkmath.Int, scale int64) sdkmath.Int {
	if amount.IsNil() || weight.IsNil() || amount.IsZero() || weight.IsZero() {
		return sdkmath.ZeroInt()
	}
	return amount.Mul(weight).Quo(sdkmath.NewInt(scale))
}

// ShareValue returns floor(shares * totalValue / totalShares): the value of a
// share count at the current share price. Zero supply values to zero.
func ShareValue(shares, totalValue, totalShares sdkmath.Int) sdkmath.Int {
	if shares.IsNil() || totalShares.IsNil() || totalShares.IsZero() || shares.IsZero() {
		return sdkmath.ZeroInt()
	}
	return shares.Mul(totalValue).Quo(totalShares)
}

// SharesForValue returns the share count minted for a deposit of the given
// value at the current share price. An empty vault mints 1:1.
func SharesForValue(value, totalValue, totalShares sdkmath.Int) sdkmath.Int {
	if value.IsNil() || value.IsZero() {
		return sdkmath.ZeroInt()
	}
	if totalShares.IsNil() || totalShares.IsZero() || totalValue.IsNil() || totalValue.IsZero() {
		return value
	}
	return value.Mul(totalShares).Quo(totalValue)
}
