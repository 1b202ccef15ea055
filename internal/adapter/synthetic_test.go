package adapter

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrionFinanceAI/orion-engine/internal/oracle"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

type stubMeta map[types.Asset]int

func (m stubMeta) AssetDecimals(asset types.Asset) (int, error) {
	d, ok := m[asset]
	if !ok {
		return 0, ErrInvalidAdapter
	}
	return d, nil
}

func newTestVenue(t *testing.T, outstanding int64) (*SyntheticVenue, *oracle.StaticOracle) {
	t.Helper()
	o := oracle.NewStaticOracle()
	require.NoError(t, o.SetPrice("wETH", sdkmath.LegacyNewDec(2)))
	v, err := NewSyntheticVenue("wETH", 6, sdkmath.NewInt(outstanding), stubMeta{"wETH": 6}, o)
	require.NoError(t, err)
	return v, o
}

func TestValidateGuards(t *testing.T) {
	v, _ := newTestVenue(t, 1_000_000)

	// Wrong underlying.
	require.ErrorIs(t, v.Validate("wBTC"), ErrInvalidAdapter)

	// Precision mismatch between registered and live metadata.
	o := oracle.NewStaticOracle()
	require.NoError(t, o.SetPrice("wETH", sdkmath.LegacyNewDec(2)))
	mis, err := NewSyntheticVenue("wETH", 8, sdkmath.NewInt(1_000_000), stubMeta{"wETH": 6}, o)
	require.NoError(t, err)
	require.ErrorIs(t, mis.Validate("wETH"), ErrInvalidAdapter)

	// Zero outstanding value.
	empty, err := NewSyntheticVenue("wETH", 6, sdkmath.ZeroInt(), stubMeta{"wETH": 6}, o)
	require.NoError(t, err)
	require.ErrorIs(t, empty.Validate("wETH"), ErrZeroTotalAssets)
}

func TestSellFillsAtOracleWithoutDrift(t *testing.T) {
	v, _ := newTestVenue(t, 1_000_000)

	// 3 whole assets at price 2.
	proceeds, err := v.Sell("wETH", sdkmath.NewInt(3_000_000))
	require.NoError(t, err)
	assert.Equal(t, "6", proceeds.String())
}

func TestSellAppliesAdverseDrift(t *testing.T) {
	v, _ := newTestVenue(t, 1_000_000)
	v.SetDriftBps(100) // fills 1% below oracle

	proceeds, err := v.Sell("wETH", sdkmath.NewInt(100_000_000)) // 100 whole assets
	require.NoError(t, err)
	assert.Equal(t, "198", proceeds.String())
}

func TestBuyCapsSpend(t *testing.T) {
	v, _ := newTestVenue(t, 100_000_000)
	v.SetDriftBps(100) // fills 1% above oracle: 2.02 per whole asset

	// Want 100 whole assets but cap the spend at 101: partial fill.
	bought, spent, err := v.Buy("wETH", sdkmath.NewInt(100_000_000), sdkmath.NewInt(101))
	require.NoError(t, err)
	assert.True(t, spent.LTE(sdkmath.NewInt(101)))
	assert.True(t, bought.LT(sdkmath.NewInt(100_000_000)))
}

func TestBuyRejectsWhenBookTooShallow(t *testing.T) {
	v, _ := newTestVenue(t, 600_000) // far less than requested

	_, _, err := v.Buy("wETH", sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.ErrorIs(t, err, ErrInsufficientFunds)
}
