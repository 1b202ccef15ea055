package engine

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrionFinanceAI/orion-engine/internal/adapter"
	"github.com/OrionFinanceAI/orion-engine/internal/intents"
	"github.com/OrionFinanceAI/orion-engine/internal/oracle"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/OrionFinanceAI/orion-engine/internal/vault"
)

type harness struct {
	registry *registry.Registry
	dir      *vault.Directory
	factory  *vault.Factory
	broker   *intents.Broker
	oracle   *oracle.StaticOracle
	recorder *MemoryRecorder
	agg      *InternalStateOrchestrator
	exec     *LiquidityOrchestrator
	venues   map[types.Asset]*adapter.SyntheticVenue
}

func testEngineParams() types.ProtocolParameters {
	return types.ProtocolParameters{
		TargetBufferRatioBps: 0,
		MaxFulfillBatchSize:  32,
		EpochDuration:        0,
		VaultChunkSize:       8,
	}
}

// newHarness wires a full local protocol: registry, oracle at price 1 per
// asset, deep synthetic venues, vault factory and both orchestrators. Price
// 1 with six decimals keeps every notional/quantity conversion exact.
func newHarness(t *testing.T, params types.ProtocolParameters, assets ...types.Asset) *harness {
	t.Helper()

	reg, err := registry.NewRegistry("owner", []string{"guardian"}, params)
	require.NoError(t, err)

	h := &harness{
		registry: reg,
		dir:      vault.NewDirectory(),
		broker:   intents.NewBroker(),
		oracle:   oracle.NewStaticOracle(),
		recorder: NewMemoryRecorder(),
		venues:   make(map[types.Asset]*adapter.SyntheticVenue),
	}

	for _, asset := range assets {
		require.NoError(t, h.oracle.SetPrice(asset, sdkmath.LegacyNewDec(1)))
		require.NoError(t, reg.WhitelistAsset("owner", types.AssetInfo{Address: asset, Symbol: string(asset), Decimals: 6}))
		require.NoError(t, reg.SetOracle("owner", asset, h.oracle))

		venue, err := adapter.NewSyntheticVenue(asset, 6, sdkmath.NewInt(1_000_000_000_000), reg, h.oracle)
		require.NoError(t, err)
		require.NoError(t, reg.SetAdapter("owner", asset, venue))
		h.venues[asset] = venue
	}

	h.factory, err = vault.NewFactory(reg, h.broker, h.dir)
	require.NoError(t, err)

	h.agg, err = NewInternalStateOrchestrator(InternalStateConfig{
		Registry: reg,
		Vaults:   h.dir,
		Recorder: h.recorder,
	})
	require.NoError(t, err)

	h.exec, err = NewLiquidityOrchestrator(LiquidityConfig{
		Registry: reg,
		Plans:    h.agg,
		Recorder: h.recorder,
	})
	require.NoError(t, err)
	return h
}

// newVault creates a plain vault, optionally with an intent and queued
// deposits.
func (h *harness) newVault(t *testing.T, curator string, target types.Portfolio, deposits ...int64) *vault.Vault {
	t.Helper()
	v, err := h.factory.CreateVault(curator, types.VaultKindPlain)
	require.NoError(t, err)
	if target != nil {
		require.NoError(t, v.SubmitIntent(curator, target))
	}
	for _, d := range deposits {
		require.NoError(t, v.RequestDeposit("lp", sdkmath.NewInt(d)))
	}
	return v
}

func (h *harness) runAggregation(t *testing.T) {
	t.Helper()
	before := h.agg.CompletedEpoch()
	for i := 0; i < 100; i++ {
		require.NoError(t, h.agg.Step(time.Now()))
		if h.agg.CompletedEpoch() > before && h.agg.Phase() == types.AggIdle {
			return
		}
	}
	t.Fatal("aggregation did not complete within 100 steps")
}

func (h *harness) runExecution(t *testing.T) {
	t.Helper()
	before := h.exec.LastProcessedEpoch()
	for i := 0; i < 200; i++ {
		require.NoError(t, h.exec.Step(time.Now()))
		if h.exec.LastProcessedEpoch() > before && h.exec.Phase() == types.ExecIdle {
			return
		}
	}
	t.Fatal("execution did not complete within 200 steps")
}

func portfolio(entries ...types.PortfolioEntry) types.Portfolio { return types.Portfolio(entries) }

func entry(asset types.Asset, weight int64) types.PortfolioEntry {
	return types.PortfolioEntry{Asset: asset, Weight: sdkmath.NewInt(weight)}
}

func orderFor(orders []types.Order, asset types.Asset) (types.Order, bool) {
	for _, o := range orders {
		if o.Asset == asset {
			return o, true
		}
	}
	return types.Order{}, false
}

func TestAggregationNetsIntentsOverDeposits(t *testing.T) {
	h := newHarness(t, testEngineParams(), "A", "B")
	h.newVault(t, "curator-1", portfolio(entry("A", 400_000), entry("B", 600_000)), 10_000)
	h.newVault(t, "curator-2", portfolio(entry("A", 500_000), entry("B", 500_000)), 15_000)

	h.runAggregation(t)

	book, ok := h.agg.LatestOrderBook()
	require.True(t, ok)
	assert.Empty(t, book.Sells)
	require.Len(t, book.Buys, 2)

	buyA, ok := orderFor(book.Buys, "A")
	require.True(t, ok)
	assert.Equal(t, "11500", buyA.Notional.String())

	buyB, ok := orderFor(book.Buys, "B")
	require.True(t, ok)
	assert.Equal(t, "13500", buyB.Notional.String())

	assert.Equal(t, "25000", book.NetFlows.String())
	assert.Equal(t, "25000", book.NetCashFlow.String())
	assert.True(t, book.Buffer.IsZero())
	assert.True(t, book.PriorCash.IsZero())
	assert.True(t, book.Unallocated.IsZero())
	assert.True(t, book.DecommissionDrain.IsZero())

	// The epoch snapshot and event are persisted at finalization.
	snap, ok := h.recorder.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, 2, snap.VaultCount)
	assert.Equal(t, "25000", snap.TotalProtocolValue.String())

	events := h.recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventInternalStateProcessed, events[0].Kind)
	assert.Equal(t, uint64(1), events[0].Epoch)
}

func TestAggregationRejectsEarlyEpoch(t *testing.T) {
	params := testEngineParams()
	params.EpochDuration = time.Hour
	h := newHarness(t, params, "A")
	h.newVault(t, "curator-1", portfolio(entry("A", types.WeightScale)), 1_000)

	h.runAggregation(t)
	require.ErrorIs(t, h.agg.Step(time.Now()), ErrTooEarly)
	assert.Equal(t, types.AggIdle, h.agg.Phase())
}

func TestAggregationProcessesVaultsInChunks(t *testing.T) {
	params := testEngineParams()
	params.VaultChunkSize = 1
	h := newHarness(t, params, "A")
	for i := 0; i < 3; i++ {
		h.newVault(t, "curator", portfolio(entry("A", types.WeightScale)), 100)
	}

	require.NoError(t, h.agg.Step(time.Now())) // Idle -> Preprocessing
	assert.Equal(t, types.AggPreprocessingVaults, h.agg.Phase())

	// One vault per call: two more calls stay in the same phase.
	require.NoError(t, h.agg.Step(time.Now()))
	require.NoError(t, h.agg.Step(time.Now()))
	assert.Equal(t, types.AggPreprocessingVaults, h.agg.Phase())
	require.NoError(t, h.agg.Step(time.Now()))
	assert.Equal(t, types.AggBuffering, h.agg.Phase())

	require.NoError(t, h.agg.Step(time.Now()))
	assert.Equal(t, types.AggPostprocessingVaults, h.agg.Phase())
	for i := 0; i < 3; i++ {
		require.NoError(t, h.agg.Step(time.Now()))
	}
	assert.Equal(t, types.AggBuildingOrders, h.agg.Phase())

	require.NoError(t, h.agg.Step(time.Now()))
	assert.Equal(t, types.AggIdle, h.agg.Phase())
	assert.Equal(t, uint64(1), h.agg.CompletedEpoch())
}

func TestAggregationBuffersAndSellsOutInvalidIntent(t *testing.T) {
	params := testEngineParams()
	params.TargetBufferRatioBps = 50
	h := newHarness(t, params, "A")

	// A vault holding A at 100% with no intent declared: everything is
	// scheduled for sale and its investable value goes unallocated.
	v := h.newVault(t, "curator-1", nil)
	require.NoError(t, v.UpdateVaultState(portfolio(entry("A", types.WeightScale)), sdkmath.NewInt(1_000)))

	h.runAggregation(t)

	book, ok := h.agg.LatestOrderBook()
	require.True(t, ok)
	require.Len(t, book.Sells, 1)
	assert.Equal(t, "1000", book.Sells[0].Notional.String())
	assert.Empty(t, book.Buys)

	assert.Equal(t, "5", book.Buffer.String(), "50 bps of 1000")
	assert.Equal(t, "995", book.Unallocated.String())

	// NetCashFlow == NetFlows - Buffer + PriorCash - Unallocated - Drain.
	assert.Equal(t, "-1000", book.NetCashFlow.String())

	snap, ok := h.recorder.Snapshot(1)
	require.True(t, ok)
	require.Len(t, snap.Accounting, 1)
	assert.False(t, snap.Accounting[0].IntentValid)
}

func TestAggregationForcesLiquidationOfUntargetedAssets(t *testing.T) {
	h := newHarness(t, testEngineParams(), "A", "B")

	// Holds A and B evenly, but the intent targets only A.
	v := h.newVault(t, "curator-1", nil)
	require.NoError(t, v.UpdateVaultState(portfolio(entry("A", 500_000), entry("B", 500_000)), sdkmath.NewInt(1_000)))
	require.NoError(t, v.SubmitIntent("curator-1", portfolio(entry("A", types.WeightScale))))

	// B is removed from the whitelist before the epoch runs; its held
	// balance must still be fully liquidated.
	require.NoError(t, h.registry.RemoveAsset("owner", "B"))

	h.runAggregation(t)

	book, ok := h.agg.LatestOrderBook()
	require.True(t, ok)

	sellB, ok := orderFor(book.Sells, "B")
	require.True(t, ok)
	assert.Equal(t, "500", sellB.Notional.String())

	buyA, ok := orderFor(book.Buys, "A")
	require.True(t, ok)
	assert.Equal(t, "500", buyA.Notional.String(), "target 1000 minus 500 already held")
}

func TestAggregationImplicitCashReconciles(t *testing.T) {
	h := newHarness(t, testEngineParams(), "A")

	// Held weights summing to 60% leave 40% of the total as implicit cash.
	v := h.newVault(t, "curator-1", nil)
	require.NoError(t, v.UpdateVaultState(portfolio(entry("A", 600_000)), sdkmath.NewInt(1_000)))
	require.NoError(t, v.SubmitIntent("curator-1", portfolio(entry("A", types.WeightScale))))

	h.runAggregation(t)

	book, ok := h.agg.LatestOrderBook()
	require.True(t, ok)
	assert.Equal(t, "400", book.PriorCash.String())

	// Target 1000, held 600: one buy funded entirely by the implicit cash.
	buyA, ok := orderFor(book.Buys, "A")
	require.True(t, ok)
	assert.Equal(t, "400", buyA.Notional.String())
	assert.Equal(t, "400", book.NetCashFlow.String())
}

func TestAggregationSkipsUnresolvedEncryptedIntent(t *testing.T) {
	h := newHarness(t, testEngineParams(), "A")

	v, err := h.factory.CreateVault("curator-1", types.VaultKindEncrypted)
	require.NoError(t, err)
	require.NoError(t, v.UpdateVaultState(portfolio(entry("A", types.WeightScale)), sdkmath.NewInt(500)))

	cipher, err := intents.Seal(portfolio(entry("A", types.WeightScale)))
	require.NoError(t, err)
	_, err = v.SubmitEncryptedIntent("curator-1", cipher, []byte("proof"))
	require.NoError(t, err)

	// The decryption has not resolved: the epoch treats the vault as having
	// no intent and schedules its holdings for sale.
	h.runAggregation(t)
	book, ok := h.agg.LatestOrderBook()
	require.True(t, ok)
	require.Len(t, book.Sells, 1)
	assert.Empty(t, book.Buys)

	// Once resolved, the next epoch reads the revealed weights.
	require.Equal(t, 1, intents.NewLocalDecrypter(h.broker).Flush())
	h.runExecution(t)
	h.runAggregation(t)

	book, ok = h.agg.LatestOrderBook()
	require.True(t, ok)
	buyA, ok := orderFor(book.Buys, "A")
	require.True(t, ok)
	assert.False(t, buyA.Notional.IsZero())
}

func TestAggregationWaitsForExecution(t *testing.T) {
	h := newHarness(t, testEngineParams(), "A")
	v := h.newVault(t, "curator-1", portfolio(entry("A", types.WeightScale)), 10_000)

	h.runAggregation(t)
	require.NoError(t, h.exec.Step(time.Now())) // Idle -> SellingLeg

	// Epoch 1 is mid-execution, so its pinned deposits are still queued. A
	// second aggregation pass now would count the same cash again.
	err := h.agg.Step(time.Now())
	require.ErrorIs(t, err, ErrTooEarly)
	assert.Equal(t, types.AggIdle, h.agg.Phase())

	due, _, err := h.agg.CheckUpkeep(context.Background())
	require.NoError(t, err)
	assert.False(t, due, "keeper must not trigger a blocked epoch")

	h.runExecution(t)
	h.runAggregation(t)

	// With the flows drained, epoch 2 sees nothing to move.
	book, ok := h.agg.LatestOrderBook()
	require.True(t, ok)
	assert.True(t, book.NetFlows.IsZero())
	assert.Empty(t, book.Buys)
	assert.Equal(t, "10000", v.TotalAssets().String())
}

func TestGaugeFloatHandlesHugeValues(t *testing.T) {
	assert.Equal(t, 25_000.0, gaugeFloat(sdkmath.NewInt(25_000)))

	// Values past int64 range degrade to an approximation instead of
	// panicking.
	huge := sdkmath.NewIntWithDecimal(1, 30)
	assert.InEpsilon(t, 1e30, gaugeFloat(huge), 1e-9)
	assert.InEpsilon(t, -1e30, gaugeFloat(huge.Neg()), 1e-9)
}

func TestPerformUpkeepRejectsPhaseMismatch(t *testing.T) {
	h := newHarness(t, testEngineParams(), "A")
	h.newVault(t, "curator-1", portfolio(entry("A", types.WeightScale)), 1_000)

	ctx := context.Background()
	due, data, err := h.agg.CheckUpkeep(ctx)
	require.NoError(t, err)
	require.True(t, due)
	require.NoError(t, h.agg.PerformUpkeep(ctx, data))

	// Replaying the Idle-phase tag once the machine has moved on is
	// rejected without any state change.
	err = h.agg.PerformUpkeep(ctx, data)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, types.AggPreprocessingVaults, h.agg.Phase())

	err = h.agg.PerformUpkeep(ctx, nil)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestPausePreservesPhaseAcrossResume(t *testing.T) {
	h := newHarness(t, testEngineParams(), "A")
	h.newVault(t, "curator-1", portfolio(entry("A", types.WeightScale)), 1_000)

	ctx := context.Background()
	require.NoError(t, h.agg.Step(time.Now()))
	require.Equal(t, types.AggPreprocessingVaults, h.agg.Phase())

	require.NoError(t, h.registry.Pause("guardian"))

	_, data, err := h.agg.CheckUpkeep(ctx)
	require.NoError(t, err)
	require.ErrorIs(t, h.agg.PerformUpkeep(ctx, data), registry.ErrProtocolPaused)
	require.ErrorIs(t, h.exec.PerformUpkeep(ctx, []byte{byte(types.ExecIdle)}), registry.ErrProtocolPaused)
	assert.Equal(t, types.AggPreprocessingVaults, h.agg.Phase(), "pause must not disturb the phase")

	require.NoError(t, h.registry.Unpause("owner"))
	h.runAggregation(t)
	assert.Equal(t, uint64(1), h.agg.CompletedEpoch())
}
