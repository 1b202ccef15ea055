package main

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrionFinanceAI/orion-engine/internal/config"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

func newSeedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	config.OwnerAccount = "owner"
	reg, err := registry.NewRegistry("owner", nil, types.ProtocolParameters{
		TargetBufferRatioBps: 50,
		MaxFulfillBatchSize:  8,
		EpochDuration:        time.Hour,
		VaultChunkSize:       4,
	})
	require.NoError(t, err)
	return reg
}

func TestSeedLocalUniverse(t *testing.T) {
	reg := newSeedRegistry(t)

	require.NoError(t, seedLocalUniverse(reg, "wETH:18:2000.5, wBTC:8:60000"))

	assert.True(t, reg.IsWhitelisted("wETH"))
	assert.True(t, reg.IsWhitelisted("wBTC"))

	decimals, err := reg.AssetDecimals("wBTC")
	require.NoError(t, err)
	assert.Equal(t, 8, decimals)

	price, err := reg.Price("wETH")
	require.NoError(t, err)
	assert.Equal(t, sdkmath.LegacyMustNewDecFromStr("2000.5").String(), price.String())

	// Each asset gets a venue deep enough to absorb large trades, even at 18
	// decimals.
	venue, err := reg.Adapter("wETH")
	require.NoError(t, err)
	require.NoError(t, venue.Validate("wETH"))
}

func TestSeedLocalUniverseRejectsMalformedEntries(t *testing.T) {
	reg := newSeedRegistry(t)

	require.Error(t, seedLocalUniverse(reg, "wETH:18"))
	require.Error(t, seedLocalUniverse(reg, "wETH:many:1"))
	require.Error(t, seedLocalUniverse(reg, "wETH:18:not-a-price"))

	// Blank entries are skipped rather than rejected.
	require.NoError(t, seedLocalUniverse(reg, " , ,wBTC:8:60000"))
	assert.True(t, reg.IsWhitelisted("wBTC"))
}
