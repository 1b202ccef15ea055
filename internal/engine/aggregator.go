/*

This file contains the InternalStateOrchestrator, the phased state machine
that turns per-vault intents and pending cash flows into one net order book
per epoch. Each external trigger call advances at most one phase, and the
vault-scanning phases process at most one chunk of vaults per call.

*/

package engine

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/metrics"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/OrionFinanceAI/orion-engine/internal/utils"
	"github.com/OrionFinanceAI/orion-engine/internal/vault"
)

// vaultPlan is the per-vault slice of an epoch plan. The accounting figures
// are committed here during aggregation and reproduced exactly by the
// execution round.
type vaultPlan struct {
	vault      *vault.Vault
	accounting types.VaultAccounting

	buffer      sdkmath.Int // cash reserved, not traded
	investable  sdkmath.Int // t1Hat minus buffer, the value targets are cut from
	priorCash   sdkmath.Int // cash already implicit in the held portfolio
	unallocated sdkmath.Int // investable value left without a valid target

	// Queue entry counts pinned at aggregation time. Execution fulfills
	// exactly these entries; requests queued later wait for the next epoch.
	fulfillDeposits int
	fulfillRedeems  int

	// Absolute target value per asset. Insertion order is preserved so the
	// write-back portfolio is deterministic.
	targets     map[types.Asset]sdkmath.Int
	targetOrder []types.Asset
}

// epochPlan is everything one aggregation round decided. Protocol parameters
// are snapshotted at epoch start so both rounds use identical caps even if
// governance changes them mid-epoch.
type epochPlan struct {
	Epoch     uint64
	RunID     uuid.UUID
	StartedAt time.Time
	Params    types.ProtocolParameters

	vaults []*vaultPlan
	Book   types.OrderBook

	TotalProtocolValue sdkmath.Int
}

// InternalStateConfig holds the dependencies for the aggregation orchestrator.
type InternalStateConfig struct {
	Registry *registry.Registry
	Vaults   *vault.Directory
	Recorder Recorder
}

// ExecutionProgress reports how far the execution side has gotten. The
// liquidity orchestrator satisfies this.
type ExecutionProgress interface {
	LastProcessedEpoch() uint64
}

// InternalStateOrchestrator drives the aggregation state machine
// Idle -> PreprocessingVaults -> Buffering -> PostprocessingVaults ->
// BuildingOrders -> Idle, one phase (or one vault chunk) per Step call.
type InternalStateOrchestrator struct {
	logger   zerolog.Logger
	registry *registry.Registry
	vaults   *vault.Directory
	recorder Recorder

	mu             sync.Mutex
	phase          types.AggregationPhase
	lastEpochStart time.Time

	// In-flight epoch. The roster is pinned at epoch start; vaults created
	// mid-epoch join the next epoch.
	plan       *epochPlan
	roster     []*vault.Vault
	cursor     int
	deltas     map[types.Asset]sdkmath.Int
	assetOrder []types.Asset

	// Latest finalized epoch, consumed by the execution orchestrator.
	finalized      *epochPlan
	completedEpoch uint64

	// Execution progress tracker. While the executor is still working a
	// finalized plan, no new epoch may start: the new pass would pin the
	// same queued flows a second time and double-count them.
	progress ExecutionProgress
}

// NewInternalStateOrchestrator creates the aggregation orchestrator with
// dependency injection.
func NewInternalStateOrchestrator(cfg InternalStateConfig) (*InternalStateOrchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Vaults == nil {
		return nil, fmt.Errorf("vault directory cannot be nil")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}

	return &InternalStateOrchestrator{
		logger:   logger.GetForComponent("internal_state_orchestrator"),
		registry: cfg.Registry,
		vaults:   cfg.Vaults,
		recorder: cfg.Recorder,
		phase:    types.AggIdle,
	}, nil
}

// TrackExecution binds the execution progress the epoch gate consults.
// NewLiquidityOrchestrator calls this when it is handed this orchestrator as
// its plan source.
func (o *InternalStateOrchestrator) TrackExecution(p ExecutionProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress = p
}

// Phase returns the current aggregation phase.
func (o *InternalStateOrchestrator) Phase() types.AggregationPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// CompletedEpoch returns the number of the latest finalized epoch, zero if
// none has completed yet.
func (o *InternalStateOrchestrator) CompletedEpoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completedEpoch
}

// LatestPlan returns the most recently finalized epoch plan.
func (o *InternalStateOrchestrator) LatestPlan() (*epochPlan, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized == nil {
		return nil, false
	}
	return o.finalized, true
}

// LatestOrderBook returns a copy of the finalized order book for read-only
// consumers such as the web server.
func (o *InternalStateOrchestrator) LatestOrderBook() (types.OrderBook, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finalized == nil {
		return types.OrderBook{}, false
	}
	return o.finalized.Book, true
}

// Step advances the state machine by exactly one phase step. A step that
// returns an error commits no state mutation; the caller fixes the cause and
// re-triggers.
func (o *InternalStateOrchestrator) Step(now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.phase {
	case types.AggIdle:
		return o.stepIdle(now)
	case types.AggPreprocessingVaults:
		return o.stepPreprocessing()
	case types.AggBuffering:
		return o.stepBuffering()
	case types.AggPostprocessingVaults:
		return o.stepPostprocessing()
	case types.AggBuildingOrders:
		return o.stepBuildingOrders(now)
	default:
		return fmt.Errorf("unknown aggregation phase %d", o.phase)
	}
}

// stepIdle starts a new epoch: advances the persistent epoch counter, pins
// the active vault roster and snapshots protocol parameters.
func (o *InternalStateOrchestrator) stepIdle(now time.Time) error {
	params := o.registry.Parameters()
	if !o.lastEpochStart.IsZero() && now.Sub(o.lastEpochStart) < params.EpochDuration {
		return fmt.Errorf("%w: next epoch starts at %s", ErrTooEarly, o.lastEpochStart.Add(params.EpochDuration).Format(time.RFC3339))
	}
	if o.progress != nil && o.completedEpoch > o.progress.LastProcessedEpoch() {
		return fmt.Errorf("%w: epoch %d is still executing", ErrTooEarly, o.completedEpoch)
	}

	epoch, err := o.recorder.NextEpoch()
	if err != nil {
		return fmt.Errorf("failed to advance epoch counter: %w", err)
	}

	o.plan = &epochPlan{
		Epoch:     epoch,
		RunID:     uuid.New(),
		StartedAt: now,
		Params:    params,
	}
	o.roster = o.vaults.Active()
	o.cursor = 0
	o.deltas = make(map[types.Asset]sdkmath.Int)
	o.assetOrder = nil
	o.lastEpochStart = now
	o.phase = types.AggPreprocessingVaults

	metrics.EpochsStarted.Inc()
	o.logger.Info().
		Uint64("epoch", epoch).
		Str("runID", o.plan.RunID.String()).
		Int("vaults", len(o.roster)).
		Int64("bufferRatioBps", params.TargetBufferRatioBps).
		Int("maxFulfillBatchSize", params.MaxFulfillBatchSize).
		Msg("Epoch started, entering PreprocessingVaults")
	return nil
}

// stepPreprocessing computes, for one chunk of vaults, the capped pending
// flows and the hypothetical post-flow total t1Hat. Vaults already
// decommissioning get zeroed flows; their value drains instead.
func (o *InternalStateOrchestrator) stepPreprocessing() error {
	batchCap := o.plan.Params.MaxFulfillBatchSize

	end := min(o.cursor+o.plan.Params.VaultChunkSize, len(o.roster))
	for ; o.cursor < end; o.cursor++ {
		v := o.roster[o.cursor]
		t0 := v.TotalAssets()

		vp := &vaultPlan{
			vault: v,
			accounting: types.VaultAccounting{
				Vault:           v.Address(),
				Status:          v.Status(),
				TotalAssets:     t0,
				CappedDeposits:  sdkmath.ZeroInt(),
				CappedRedeems:   sdkmath.ZeroInt(),
				CappedRedeemVal: sdkmath.ZeroInt(),
				T1Hat:           t0,
			},
			buffer:      sdkmath.ZeroInt(),
			investable:  sdkmath.ZeroInt(),
			priorCash:   sdkmath.ZeroInt(),
			unallocated: sdkmath.ZeroInt(),
		}

		if vp.accounting.Status == types.VaultStatusActive {
			depLen, redeemLen := v.QueueLengths()
			vp.fulfillDeposits = min(depLen, batchCap)
			vp.fulfillRedeems = min(redeemLen, batchCap)

			deposits := v.PendingDepositAmount(vp.fulfillDeposits)
			redeemShares := v.PendingRedeemShares(vp.fulfillRedeems)
			redeemValue := v.PendingRedeemValue(vp.fulfillRedeems)

			vp.accounting.CappedDeposits = deposits
			vp.accounting.CappedRedeems = redeemShares
			vp.accounting.CappedRedeemVal = redeemValue
			vp.accounting.T1Hat = t0.Add(deposits).Sub(redeemValue)
		}

		o.plan.vaults = append(o.plan.vaults, vp)
		o.logger.Debug().
			Str("vault", v.Address()).
			Str("t0", t0.String()).
			Str("t1Hat", vp.accounting.T1Hat.String()).
			Msg("Preprocessed vault flows")
	}

	if o.cursor == len(o.roster) {
		o.cursor = 0
		o.phase = types.AggBuffering
		o.logger.Info().Uint64("epoch", o.plan.Epoch).Msg("PreprocessingVaults complete, entering Buffering")
	}
	return nil
}

// stepBuffering reserves the configured buffer ratio of each active vault's
// post-flow value as non-traded cash. The remainder is the investable value
// that intent weights are applied to.
func (o *InternalStateOrchestrator) stepBuffering() error {
	bufferBps := o.plan.Params.TargetBufferRatioBps
	for _, vp := range o.plan.vaults {
		if vp.accounting.Status != types.VaultStatusActive {
			continue
		}
		vp.buffer = utils.ApplyBps(vp.accounting.T1Hat, bufferBps)
		vp.investable = vp.accounting.T1Hat.Sub(vp.buffer)
	}
	o.cursor = 0
	o.phase = types.AggPostprocessingVaults
	o.logger.Info().
		Uint64("epoch", o.plan.Epoch).
		Int64("bufferRatioBps", bufferBps).
		Msg("Buffering complete, entering PostprocessingVaults")
	return nil
}

// stepPostprocessing converts one chunk of vaults' intent weights into
// absolute target values and diffs them against current held values. A vault
// with an invalid or unresolved intent contributes an empty target, so its
// holdings are fully scheduled for sale. A target on an asset no longer
// whitelisted is dropped the same way.
func (o *InternalStateOrchestrator) stepPostprocessing() error {
	end := min(o.cursor+o.plan.Params.VaultChunkSize, len(o.roster))
	for ; o.cursor < end; o.cursor++ {
		vp := o.plan.vaults[o.cursor]
		t0 := vp.accounting.TotalAssets

		portfolio, _ := vp.vault.GetPortfolio()
		held := sdkmath.ZeroInt()
		for _, e := range portfolio {
			val := utils.ApplyWeight(t0, e.Weight, types.WeightScale)
			o.addDelta(e.Asset, val)
			held = held.Add(val)
		}
		vp.priorCash = t0.Sub(held)

		if vp.accounting.Status != types.VaultStatusActive {
			continue
		}

		intent, valid := vp.vault.GetIntent()
		vp.accounting.IntentValid = valid
		vp.targets = make(map[types.Asset]sdkmath.Int)

		allocated := sdkmath.ZeroInt()
		if valid {
			for _, e := range intent {
				if !o.registry.IsWhitelisted(e.Asset) {
					o.logger.Warn().
						Str("vault", vp.vault.Address()).
						Str("asset", string(e.Asset)).
						Msg("Intent targets a removed asset, dropping the target")
					continue
				}
				target := utils.ApplyWeight(vp.investable, e.Weight, types.WeightScale)
				if target.IsZero() {
					continue
				}
				vp.targets[e.Asset] = target
				vp.targetOrder = append(vp.targetOrder, e.Asset)
				o.addDelta(e.Asset, target.Neg())
				allocated = allocated.Add(target)
			}
		}
		vp.unallocated = vp.investable.Sub(allocated)
	}

	if o.cursor == len(o.roster) {
		o.cursor = 0
		o.phase = types.AggBuildingOrders
		o.logger.Info().Uint64("epoch", o.plan.Epoch).Msg("PostprocessingVaults complete, entering BuildingOrders")
	}
	return nil
}

// stepBuildingOrders nets per-vault deltas into the epoch's order book,
// verifies the cash reconciliation identity, persists the epoch snapshot and
// finalizes the plan for the execution round.
func (o *InternalStateOrchestrator) stepBuildingOrders(now time.Time) error {
	book := types.OrderBook{
		Epoch:             o.plan.Epoch,
		NetFlows:          sdkmath.ZeroInt(),
		Buffer:            sdkmath.ZeroInt(),
		PriorCash:         sdkmath.ZeroInt(),
		Unallocated:       sdkmath.ZeroInt(),
		DecommissionDrain: sdkmath.ZeroInt(),
	}

	for _, asset := range o.assetOrder {
		delta := o.deltas[asset]
		switch {
		case delta.IsPositive():
			book.Sells = append(book.Sells, types.Order{Asset: asset, Notional: delta})
		case delta.IsNegative():
			book.Buys = append(book.Buys, types.Order{Asset: asset, Notional: delta.Neg()})
		}
	}

	protocolValue := sdkmath.ZeroInt()
	for _, vp := range o.plan.vaults {
		protocolValue = protocolValue.Add(vp.accounting.T1Hat)
		book.Buffer = book.Buffer.Add(vp.buffer)
		book.PriorCash = book.PriorCash.Add(vp.priorCash)
		book.Unallocated = book.Unallocated.Add(vp.unallocated)
		if vp.accounting.Status == types.VaultStatusActive {
			book.NetFlows = book.NetFlows.
				Add(vp.accounting.CappedDeposits).
				Sub(vp.accounting.CappedRedeemVal)
		} else {
			book.DecommissionDrain = book.DecommissionDrain.Add(vp.accounting.T1Hat)
		}
	}
	book.NetCashFlow = book.BuyTotal().Sub(book.SellTotal())

	// Every unit of account must be spoken for before any trade happens.
	expected := book.NetFlows.
		Sub(book.Buffer).
		Add(book.PriorCash).
		Sub(book.Unallocated).
		Sub(book.DecommissionDrain)
	if !book.NetCashFlow.Equal(expected) {
		o.logger.Error().
			Uint64("epoch", o.plan.Epoch).
			Str("netCashFlow", book.NetCashFlow.String()).
			Str("expected", expected.String()).
			Msg("Order book failed cash reconciliation")
		return fmt.Errorf("%w: net cash flow %s, expected %s", ErrReconciliation, book.NetCashFlow, expected)
	}

	o.plan.Book = book
	o.plan.TotalProtocolValue = protocolValue

	snap := types.EpochSnapshot{
		Epoch:              o.plan.Epoch,
		RunID:              o.plan.RunID.String(),
		StartedAt:          o.plan.StartedAt,
		VaultCount:         len(o.plan.vaults),
		TotalProtocolValue: protocolValue,
		OrderBook:          book,
	}
	for _, vp := range o.plan.vaults {
		snap.Accounting = append(snap.Accounting, vp.accounting)
	}
	if err := o.recorder.RecordEpochSnapshot(snap); err != nil {
		return fmt.Errorf("failed to persist epoch snapshot: %w", err)
	}

	details, _ := json.Marshal(map[string]any{
		"run_id":         o.plan.RunID.String(),
		"vaults":         len(o.plan.vaults),
		"sell_orders":    len(book.Sells),
		"buy_orders":     len(book.Buys),
		"protocol_value": protocolValue.String(),
	})
	if err := o.recorder.RecordEvent(types.EngineEvent{
		Kind:      types.EventInternalStateProcessed,
		Epoch:     o.plan.Epoch,
		Timestamp: now,
		Details:   string(details),
	}); err != nil {
		return fmt.Errorf("failed to record aggregation event: %w", err)
	}

	metrics.AggregationsCompleted.Inc()
	metrics.ProtocolValue.Set(gaugeFloat(protocolValue))
	metrics.BufferLevel.Set(gaugeFloat(book.Buffer))
	metrics.UnallocatedDust.Add(gaugeFloat(book.Unallocated))

	o.logger.Info().
		Uint64("epoch", o.plan.Epoch).
		Int("sellOrders", len(book.Sells)).
		Int("buyOrders", len(book.Buys)).
		Str("protocolValue", protocolValue.String()).
		Str("buffer", book.Buffer.String()).
		Msg("Order book finalized, epoch aggregation complete")

	o.finalized = o.plan
	o.completedEpoch = o.plan.Epoch
	o.plan = nil
	o.roster = nil
	o.deltas = nil
	o.assetOrder = nil
	o.phase = types.AggIdle
	return nil
}

// gaugeFloat converts an amount for the float64 metrics surface. Values past
// int64 range lose precision only; they never panic the pipeline.
func gaugeFloat(v sdkmath.Int) float64 {
	f, _ := new(big.Float).SetInt(v.BigInt()).Float64()
	return f
}

// addDelta accumulates a signed value delta for an asset, keeping a stable
// first-seen ordering so the order book is deterministic.
func (o *InternalStateOrchestrator) addDelta(asset types.Asset, delta sdkmath.Int) {
	cur, ok := o.deltas[asset]
	if !ok {
		o.assetOrder = append(o.assetOrder, asset)
		cur = sdkmath.ZeroInt()
	}
	o.deltas[asset] = cur.Add(delta)
}
