package registry

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrionFinanceAI/orion-engine/internal/oracle"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

func testParams() types.ProtocolParameters {
	return types.ProtocolParameters{
		TargetBufferRatioBps: 50,
		MaxFulfillBatchSize:  32,
		EpochDuration:        time.Hour,
		VaultChunkSize:       8,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry("owner", []string{"guardian"}, testParams())
	require.NoError(t, err)
	return r
}

func TestPauseAuthorization(t *testing.T) {
	r := newTestRegistry(t)

	require.ErrorIs(t, r.Pause("stranger"), ErrNotAuthorized)
	assert.False(t, r.Paused())

	require.NoError(t, r.Pause("guardian"))
	assert.True(t, r.Paused())

	require.ErrorIs(t, r.Unpause("stranger"), ErrNotAuthorized)
	require.NoError(t, r.Unpause("owner"))
	assert.False(t, r.Paused())
}

func TestWhitelistLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	info := types.AssetInfo{Address: "wETH", Symbol: "wETH", Decimals: 6}

	require.ErrorIs(t, r.WhitelistAsset("guardian", info), ErrNotAuthorized)
	require.NoError(t, r.WhitelistAsset("owner", info))
	require.ErrorIs(t, r.WhitelistAsset("owner", info), ErrAlreadyWhitelisted)
	require.ErrorIs(t, r.WhitelistAsset("owner", types.AssetInfo{}), ErrZeroAddress)

	assert.True(t, r.IsWhitelisted("wETH"))
	assert.Equal(t, []types.Asset{"wETH"}, r.Assets())

	dec, err := r.AssetDecimals("wETH")
	require.NoError(t, err)
	assert.Equal(t, 6, dec)
}

func TestRemovedAssetKeepsMetadata(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.WhitelistAsset("owner", types.AssetInfo{Address: "wETH", Symbol: "wETH", Decimals: 6}))
	require.NoError(t, r.RemoveAsset("owner", "wETH"))

	// No longer tradable as a target...
	assert.False(t, r.IsWhitelisted("wETH"))
	assert.Empty(t, r.Assets())

	// ...but the forced liquidation of held balances still needs its
	// metadata to resolve.
	dec, err := r.AssetDecimals("wETH")
	require.NoError(t, err)
	assert.Equal(t, 6, dec)

	_, err = r.AssetInfo("wETH")
	require.NoError(t, err)
}

func TestAdapterAndOracleBindings(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.WhitelistAsset("owner", types.AssetInfo{Address: "wETH", Symbol: "wETH", Decimals: 6}))

	_, err := r.Adapter("wETH")
	require.ErrorIs(t, err, ErrAdapterNotSet)
	_, err = r.Price("wETH")
	require.ErrorIs(t, err, ErrOracleNotSet)

	o := oracle.NewStaticOracle()
	require.NoError(t, o.SetPrice("wETH", sdkmath.LegacyNewDec(2000)))
	require.NoError(t, r.SetOracle("owner", "wETH", o))

	price, err := r.Price("wETH")
	require.NoError(t, err)
	assert.Equal(t, "2000.000000000000000000", price.String())
}

func TestParameterGovernance(t *testing.T) {
	r := newTestRegistry(t)

	require.ErrorIs(t, r.SetTargetBufferRatio("guardian", 100), ErrNotAuthorized)
	require.NoError(t, r.SetTargetBufferRatio("owner", 100))
	require.Error(t, r.SetTargetBufferRatio("owner", types.BpsScale+1))

	require.NoError(t, r.SetMaxFulfillBatchSize("owner", 16))
	require.Error(t, r.SetMaxFulfillBatchSize("owner", 0))

	require.NoError(t, r.SetEpochDuration("owner", 30*time.Minute))

	params := r.Parameters()
	assert.Equal(t, int64(100), params.TargetBufferRatioBps)
	assert.Equal(t, int64(50), params.SlippageToleranceBps(), "tolerance is half the buffer ratio")
	assert.Equal(t, 16, params.MaxFulfillBatchSize)
	assert.Equal(t, 30*time.Minute, params.EpochDuration)
}
