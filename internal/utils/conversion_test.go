package utils

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotionalToQuantityFloors(t *testing.T) {
	price := sdkmath.LegacyNewDec(3) // 3 smallest units of account per whole asset

	qty, err := NotionalToQuantity(sdkmath.NewInt(10), price, 6)
	require.NoError(t, err)
	// 10/3 whole assets = 3.333... * 10^6 smallest units, floored.
	assert.Equal(t, "3333333", qty.String())

	back, err := QuantityToNotional(qty, price, 6)
	require.NoError(t, err)
	assert.Equal(t, "9", back.String(), "round trip loses at most the floored dust")
}

func TestNotionalToQuantityRejectsBadInputs(t *testing.T) {
	price := sdkmath.LegacyNewDec(2)

	_, err := NotionalToQuantity(sdkmath.Int{}, price, 6)
	assert.ErrorIs(t, err, ErrAmountNil)

	_, err = NotionalToQuantity(sdkmath.NewInt(-1), price, 6)
	assert.ErrorIs(t, err, ErrAmountNegative)

	_, err = NotionalToQuantity(sdkmath.NewInt(1), price, 19)
	assert.ErrorIs(t, err, ErrInvalidDecimals)

	_, err = NotionalToQuantity(sdkmath.NewInt(1), sdkmath.LegacyZeroDec(), 6)
	assert.ErrorIs(t, err, ErrPriceInvalid)

	_, err = QuantityToNotional(sdkmath.NewInt(1), sdkmath.LegacyDec{}, 6)
	assert.ErrorIs(t, err, ErrPriceInvalid)
}

func TestApplyBps(t *testing.T) {
	assert.Equal(t, "50", ApplyBps(sdkmath.NewInt(10_000), 50).String())
	assert.Equal(t, "0", ApplyBps(sdkmath.NewInt(199), 50).String(), "floors below one unit")
	assert.Equal(t, "0", ApplyBps(sdkmath.NewInt(10_000), 0).String())
	assert.Equal(t, "10000", ApplyBps(sdkmath.NewInt(10_000), 10_000).String())
}

func TestApplyWeight(t *testing.T) {
	// 40% of 10,000 at the 10^6 weight scale.
	got := ApplyWeight(sdkmath.NewInt(10_000), sdkmath.NewInt(400_000), 1_000_000)
	assert.Equal(t, "4000", got.String())

	// Flooring: 1/3 of 100.
	got = ApplyWeight(sdkmath.NewInt(100), sdkmath.NewInt(333_333), 1_000_000)
	assert.Equal(t, "33", got.String())

	assert.True(t, ApplyWeight(sdkmath.ZeroInt(), sdkmath.NewInt(1), 1_000_000).IsZero())
}

func TestShareMath(t *testing.T) {
	// Empty vault mints 1:1.
	minted := SharesForValue(sdkmath.NewInt(500), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	assert.Equal(t, "500", minted.String())

	// Share price 2: 100 value mints 50 shares.
	minted = SharesForValue(sdkmath.NewInt(100), sdkmath.NewInt(1000), sdkmath.NewInt(500))
	assert.Equal(t, "50", minted.String())

	// And 50 shares are worth 100 back at the same basis.
	value := ShareValue(minted, sdkmath.NewInt(1000), sdkmath.NewInt(500))
	assert.Equal(t, "100", value.String())

	assert.True(t, ShareValue(sdkmath.NewInt(5), sdkmath.NewInt(0), sdkmath.ZeroInt()).IsZero())
}
