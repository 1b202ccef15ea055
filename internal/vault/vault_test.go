package vault

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrionFinanceAI/orion-engine/internal/intents"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

type stubWhitelist struct {
	assets map[types.Asset]bool
	paused bool
}

func (w *stubWhitelist) IsWhitelisted(asset types.Asset) bool { return w.assets[asset] }
func (w *stubWhitelist) Paused() bool                         { return w.paused }

func newStubWhitelist() *stubWhitelist {
	return &stubWhitelist{assets: map[types.Asset]bool{"wETH": true, "wBTC": true, "USDT": true}}
}

func newTestFactory(t *testing.T, broker *intents.Broker) (*Factory, *Directory) {
	t.Helper()
	dir := NewDirectory()
	f, err := NewFactory(newStubWhitelist(), broker, dir)
	require.NoError(t, err)
	return f, dir
}

func intent(entries ...types.PortfolioEntry) types.Portfolio {
	return types.Portfolio(entries)
}

func entry(asset types.Asset, weight int64) types.PortfolioEntry {
	return types.PortfolioEntry{Asset: asset, Weight: sdkmath.NewInt(weight)}
}

func TestSubmitIntentValidation(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	v, err := f.CreateVault("curator-1", types.VaultKindPlain)
	require.NoError(t, err)

	// Curator only.
	err = v.SubmitIntent("stranger", intent(entry("wETH", types.WeightScale)))
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// Weights must sum to exactly 100%.
	err = v.SubmitIntent("curator-1", intent(entry("wETH", 400_000), entry("wBTC", 500_000)))
	assert.ErrorIs(t, err, ErrInvalidIntent)

	// No duplicate assets.
	err = v.SubmitIntent("curator-1", intent(entry("wETH", 500_000), entry("wETH", 500_000)))
	assert.ErrorIs(t, err, ErrInvalidIntent)

	// Whitelisted assets only.
	err = v.SubmitIntent("curator-1", intent(entry("DOGE", types.WeightScale)))
	assert.ErrorIs(t, err, ErrInvalidIntent)

	// Empty intents read as having no valid intent.
	_, valid := v.GetIntent()
	assert.False(t, valid)

	err = v.SubmitIntent("curator-1", intent(entry("wETH", 400_000), entry("wBTC", 600_000)))
	require.NoError(t, err)
	got, valid := v.GetIntent()
	require.True(t, valid)
	assert.Len(t, got, 2)
}

func TestEncryptedIntentLifecycle(t *testing.T) {
	broker := intents.NewBroker()
	f, _ := newTestFactory(t, broker)
	v, err := f.CreateVault("curator-1", types.VaultKindEncrypted)
	require.NoError(t, err)

	// Plain submission on an encrypted vault is rejected.
	err = v.SubmitIntent("curator-1", intent(entry("wETH", types.WeightScale)))
	assert.ErrorIs(t, err, ErrWrongVaultKind)

	cipher, err := intents.Seal(intent(entry("wETH", types.WeightScale)))
	require.NoError(t, err)
	id, err := v.SubmitEncryptedIntent("curator-1", cipher, []byte("proof"))
	require.NoError(t, err)

	// Unresolved submissions contribute nothing.
	_, valid := v.GetIntent()
	assert.False(t, valid)

	decrypter := intents.NewLocalDecrypter(broker)
	require.Equal(t, 1, decrypter.Flush())

	got, valid := v.GetIntent()
	require.True(t, valid)
	assert.Equal(t, types.Asset("wETH"), got[0].Asset)

	// A second submission supersedes; the first request id can no longer be
	// resolved.
	cipher2, err := intents.Seal(intent(entry("wBTC", types.WeightScale)))
	require.NoError(t, err)
	_, err = v.SubmitEncryptedIntent("curator-1", cipher2, []byte("proof"))
	require.NoError(t, err)

	// The new submission also clears the previously committed intent.
	_, valid = v.GetIntent()
	assert.False(t, valid)

	err = broker.Post(intents.Resolution{Request: id, Valid: true})
	assert.ErrorIs(t, err, intents.ErrUnknownRequest)

	require.Equal(t, 1, decrypter.Flush())
	got, valid = v.GetIntent()
	require.True(t, valid)
	assert.Equal(t, types.Asset("wBTC"), got[0].Asset)
}

func TestEncryptedIntentInvalidResolution(t *testing.T) {
	broker := intents.NewBroker()
	f, _ := newTestFactory(t, broker)
	v, err := f.CreateVault("curator-1", types.VaultKindEncrypted)
	require.NoError(t, err)

	// Weights summing short decrypt fine but fail validation.
	cipher, err := intents.Seal(intent(entry("wETH", 1)))
	require.NoError(t, err)
	_, err = v.SubmitEncryptedIntent("curator-1", cipher, nil)
	require.NoError(t, err)

	require.Equal(t, 1, intents.NewLocalDecrypter(broker).Flush())
	_, valid := v.GetIntent()
	assert.False(t, valid)
}

func TestPendingQueueCaps(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	v, err := f.CreateVault("curator-1", types.VaultKindPlain)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, v.RequestDeposit("lp", sdkmath.NewInt(i*100)))
	}

	// The capped sum takes the first entries in submission order.
	assert.Equal(t, "300", v.PendingDepositAmount(2).String())
	assert.Equal(t, "1500", v.PendingDepositAmount(10).String())
	assert.True(t, v.PendingDepositAmount(0).IsZero())

	require.ErrorIs(t, v.RequestDeposit("lp", sdkmath.ZeroInt()), ErrInvalidAmount)

	// Redeems cannot outrun the outstanding supply.
	require.ErrorIs(t, v.RequestRedeem("lp", sdkmath.NewInt(1)), ErrInsufficientShares)
}

func TestFulfillFlowsSingleBasis(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	v, err := f.CreateVault("curator-1", types.VaultKindPlain)
	require.NoError(t, err)

	// Seed the vault: 1,000 value, 500 shares (share price 2).
	require.NoError(t, v.RequestDeposit("seed", sdkmath.NewInt(500)))
	v.FulfillFlows(1, 0)
	require.NoError(t, v.UpdateVaultState(nil, sdkmath.NewInt(1000)))
	require.Equal(t, "500", v.TotalShares().String())

	require.NoError(t, v.RequestDeposit("lp-a", sdkmath.NewInt(300)))
	require.NoError(t, v.RequestDeposit("lp-b", sdkmath.NewInt(200)))
	require.NoError(t, v.RequestRedeem("lp-c", sdkmath.NewInt(100)))

	t0 := v.TotalAssets()
	dep := v.PendingDepositAmount(2)
	redeemValue := v.PendingRedeemValue(1)
	t1Hat := t0.Add(dep).Sub(redeemValue)

	gotDep, gotShares, gotValue := v.FulfillFlows(2, 1)
	assert.Equal(t, dep.String(), gotDep.String())
	assert.Equal(t, "100", gotShares.String())
	assert.Equal(t, redeemValue.String(), gotValue.String())

	// The single price basis makes the post-flow total land on t1Hat exactly.
	assert.Equal(t, t1Hat.String(), v.TotalAssets().String())
}

func TestFulfillFlowsPinnedCounts(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	v, err := f.CreateVault("curator-1", types.VaultKindPlain)
	require.NoError(t, err)

	require.NoError(t, v.RequestDeposit("lp-a", sdkmath.NewInt(100)))
	pinned := v.PendingDepositAmount(1)

	// A deposit arriving after the accounting pass stays queued.
	require.NoError(t, v.RequestDeposit("lp-late", sdkmath.NewInt(900)))

	gotDep, _, _ := v.FulfillFlows(1, 0)
	assert.Equal(t, pinned.String(), gotDep.String())

	depLen, _ := v.QueueLengths()
	assert.Equal(t, 1, depLen, "late deposit rolls to the next epoch")
}

func TestDecommissionLifecycle(t *testing.T) {
	f, dir := newTestFactory(t, nil)
	v, err := f.CreateVault("curator-1", types.VaultKindPlain)
	require.NoError(t, err)

	// Seed 400 value / 400 shares, plus a deposit that will be refunded.
	require.NoError(t, v.RequestDeposit("seed", sdkmath.NewInt(400)))
	v.FulfillFlows(1, 0)
	require.NoError(t, v.RequestDeposit("late", sdkmath.NewInt(50)))
	require.NoError(t, v.RequestRedeem("seed", sdkmath.NewInt(10)))

	require.ErrorIs(t, v.StartDecommission("stranger"), ErrNotAuthorized)
	require.NoError(t, v.StartDecommission("curator-1"))

	// Decommissioning vaults accept no new requests and no early payouts.
	require.ErrorIs(t, v.RequestDeposit("lp", sdkmath.NewInt(1)), ErrVaultDecommissioned)
	require.ErrorIs(t, v.RequestRedeem("seed", sdkmath.NewInt(1)), ErrVaultDecommissioned)
	_, err = v.SynchronousRedeem("seed", sdkmath.NewInt(1))
	require.ErrorIs(t, err, ErrSynchronousCallDisabled)

	// Still part of the active set until drained.
	assert.Len(t, dir.Active(), 1)

	require.NoError(t, v.FinalizeDecommission(sdkmath.NewInt(400)))
	assert.Equal(t, types.VaultStatusDecommissioned, v.Status())
	assert.Len(t, dir.Active(), 0)

	depLen, redLen := v.QueueLengths()
	assert.Equal(t, 0, depLen, "queued deposits are refunded at the drain")
	assert.Equal(t, 0, redLen, "queued redeems are voided; holders exit synchronously")

	// Shares now redeem synchronously against the final cash balance.
	value, err := v.SynchronousRedeem("seed", sdkmath.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, "100", value.String())
	assert.Equal(t, "300", v.FinalCash().String())

	_, err = v.SynchronousRedeem("seed", sdkmath.NewInt(9_999))
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestVaultMutationsRejectedWhilePaused(t *testing.T) {
	broker := intents.NewBroker()
	wl := newStubWhitelist()
	dir := NewDirectory()
	f, err := NewFactory(wl, broker, dir)
	require.NoError(t, err)

	plain, err := f.CreateVault("curator-1", types.VaultKindPlain)
	require.NoError(t, err)
	enc, err := f.CreateVault("curator-2", types.VaultKindEncrypted)
	require.NoError(t, err)
	require.NoError(t, plain.RequestDeposit("seed", sdkmath.NewInt(500)))
	plain.FulfillFlows(1, 0)

	wl.paused = true

	err = plain.SubmitIntent("curator-1", intent(entry("wETH", types.WeightScale)))
	assert.ErrorIs(t, err, registry.ErrProtocolPaused)
	cipher, err := intents.Seal(intent(entry("wETH", types.WeightScale)))
	require.NoError(t, err)
	_, err = enc.SubmitEncryptedIntent("curator-2", cipher, nil)
	assert.ErrorIs(t, err, registry.ErrProtocolPaused)
	assert.ErrorIs(t, plain.RequestDeposit("lp", sdkmath.NewInt(100)), registry.ErrProtocolPaused)
	assert.ErrorIs(t, plain.RequestRedeem("seed", sdkmath.NewInt(10)), registry.ErrProtocolPaused)
	_, err = plain.SynchronousRedeem("seed", sdkmath.NewInt(10))
	assert.ErrorIs(t, err, registry.ErrProtocolPaused)
	assert.ErrorIs(t, plain.StartDecommission("curator-1"), registry.ErrProtocolPaused)

	// Resuming lifts the freeze without losing any queued state.
	wl.paused = false
	require.NoError(t, plain.RequestDeposit("lp", sdkmath.NewInt(100)))
	assert.Equal(t, "100", plain.PendingDepositAmount(1).String())
}

func TestUpdateVaultStateRejectsOverweight(t *testing.T) {
	f, _ := newTestFactory(t, nil)
	v, err := f.CreateVault("curator-1", types.VaultKindPlain)
	require.NoError(t, err)

	over := intent(entry("wETH", 700_000), entry("wBTC", 400_000))
	err = v.UpdateVaultState(over, sdkmath.NewInt(100))
	require.Error(t, err)

	// Under 100% is allowed: the remainder is implicit cash.
	under := intent(entry("wETH", 600_000))
	require.NoError(t, v.UpdateVaultState(under, sdkmath.NewInt(100)))
	held := v.HoldingValues()
	assert.Equal(t, "60", held["wETH"].String())
}
