/*

This file contains the LiquidityOrchestrator, the phased execution engine
that turns a finalized order book into adapter trades, drains capped pending
deposits and redeems, writes post-trade portfolios back into the vaults and
finalizes decommissioning vaults. One order, one vault or one phase
transition per trigger call.

*/

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/OrionFinanceAI/orion-engine/internal/adapter"
	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/metrics"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/OrionFinanceAI/orion-engine/internal/utils"
)

// PlanSource hands finalized epoch plans to the execution side. The
// aggregation orchestrator satisfies this.
type PlanSource interface {
	LatestPlan() (*epochPlan, bool)
}

// LiquidityConfig holds the dependencies for the execution orchestrator.
type LiquidityConfig struct {
	Registry *registry.Registry
	Plans    PlanSource
	Recorder Recorder
}

// LiquidityOrchestrator drives the execution state machine
// Idle -> SellingLeg -> BuyingLeg -> FulfillingFlows -> Decommissioning ->
// Idle. A failed order rotates to the back of its leg's queue so the other
// orders keep making progress; the epoch cannot complete until every order
// has cleared.
type LiquidityOrchestrator struct {
	logger   zerolog.Logger
	registry *registry.Registry
	plans    PlanSource
	recorder Recorder

	mu                 sync.Mutex
	phase              types.ExecutionPhase
	lastProcessedEpoch uint64

	// In-flight epoch.
	plan      *epochPlan
	sellQueue []types.Order
	buyQueue  []types.Order
	cursor    int

	// Realized figures for the epoch snapshot. The reserve is the engine's
	// trading cash pot: deposit inflows and sell proceeds in, buy spend,
	// redeem payouts and decommission drains out.
	reserve          sdkmath.Int
	realizedProceeds sdkmath.Int
	realizedSpend    sdkmath.Int
	slippage         sdkmath.Int
	decommissioned   int
}

// NewLiquidityOrchestrator creates the execution orchestrator with
// dependency injection.
func NewLiquidityOrchestrator(cfg LiquidityConfig) (*LiquidityOrchestrator, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if cfg.Plans == nil {
		return nil, fmt.Errorf("plan source cannot be nil")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("recorder cannot be nil")
	}

	o := &LiquidityOrchestrator{
		logger:   logger.GetForComponent("liquidity_orchestrator"),
		registry: cfg.Registry,
		plans:    cfg.Plans,
		recorder: cfg.Recorder,
		phase:    types.ExecIdle,
	}
	// The aggregation side must not start an epoch while this one is still
	// executing the previous plan, or the same queued flows get pinned twice.
	if agg, ok := cfg.Plans.(*InternalStateOrchestrator); ok {
		agg.TrackExecution(o)
	}
	return o, nil
}

// Phase returns the current execution phase.
func (o *LiquidityOrchestrator) Phase() types.ExecutionPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// LastProcessedEpoch returns the number of the last fully executed epoch.
func (o *LiquidityOrchestrator) LastProcessedEpoch() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastProcessedEpoch
}

// Step advances the state machine by exactly one phase step. A step that
// returns an error commits no state mutation beyond rotating the failed
// order; the caller fixes the cause and re-triggers.
func (o *LiquidityOrchestrator) Step(now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.phase {
	case types.ExecIdle:
		return o.stepIdle()
	case types.ExecSellingLeg:
		return o.stepSellingLeg()
	case types.ExecBuyingLeg:
		return o.stepBuyingLeg()
	case types.ExecFulfillingFlows:
		return o.stepFulfillingFlows()
	case types.ExecDecommissioning:
		return o.stepDecommissioning(now)
	default:
		return fmt.Errorf("unknown execution phase %d", o.phase)
	}
}

// stepIdle loads the latest finalized plan, seeds the working queues and
// collects the capped deposit cash into the trading reserve.
func (o *LiquidityOrchestrator) stepIdle() error {
	plan, ok := o.plans.LatestPlan()
	if !ok {
		return ErrNoPlan
	}
	if plan.Epoch <= o.lastProcessedEpoch {
		return fmt.Errorf("%w: epoch %d already processed", ErrStaleEpoch, plan.Epoch)
	}

	o.plan = plan
	o.sellQueue = append([]types.Order(nil), plan.Book.Sells...)
	o.buyQueue = append([]types.Order(nil), plan.Book.Buys...)
	o.cursor = 0
	o.realizedProceeds = sdkmath.ZeroInt()
	o.realizedSpend = sdkmath.ZeroInt()
	o.slippage = sdkmath.ZeroInt()
	o.decommissioned = 0

	// Deposit cash is in hand as soon as the epoch is loaded; redeem and
	// drain payouts leave at fulfillment time.
	o.reserve = plan.Book.PriorCash
	for _, vp := range plan.vaults {
		o.reserve = o.reserve.Add(vp.accounting.CappedDeposits)
	}

	o.phase = types.ExecSellingLeg
	o.logger.Info().
		Uint64("epoch", plan.Epoch).
		Int("sellOrders", len(o.sellQueue)).
		Int("buyOrders", len(o.buyQueue)).
		Str("reserve", o.reserve.String()).
		Msg("Execution round started, entering SellingLeg")
	return nil
}

// stepSellingLeg executes the sell order at the head of the queue. The
// realized proceeds must land within the slippage tolerance of the
// oracle-implied expected proceeds or the fill is rejected.
func (o *LiquidityOrchestrator) stepSellingLeg() error {
	if len(o.sellQueue) == 0 {
		o.phase = types.ExecBuyingLeg
		o.logger.Info().Uint64("epoch", o.plan.Epoch).Msg("SellingLeg complete, entering BuyingLeg")
		return nil
	}

	order := o.sellQueue[0]
	quantity, expected, venue, err := o.prepareOrder(order)
	if err != nil {
		return o.rotateOrder(&o.sellQueue, "sell", err)
	}
	if quantity.IsZero() {
		// Notional too small to express a single asset unit; dust like this
		// is absorbed on the next epoch's diff.
		o.sellQueue = o.sellQueue[1:]
		o.logger.Warn().
			Str("asset", string(order.Asset)).
			Str("notional", order.Notional.String()).
			Msg("Sell notional rounds to zero quantity, skipping")
		return nil
	}

	proceeds, err := venue.Sell(order.Asset, quantity)
	if err != nil {
		return o.rotateOrder(&o.sellQueue, "sell", fmt.Errorf("sell %s failed: %w", order.Asset, err))
	}

	tolerance := utils.ApplyBps(expected, o.plan.Params.SlippageToleranceBps())
	if proceeds.LT(expected.Sub(tolerance)) || proceeds.GT(expected.Add(tolerance)) {
		err := fmt.Errorf("%w: sell %s realized %s, expected %s within %s",
			ErrSlippageExceeded, order.Asset, proceeds, expected, tolerance)
		return o.rotateOrder(&o.sellQueue, "sell", err)
	}

	o.sellQueue = o.sellQueue[1:]
	o.reserve = o.reserve.Add(proceeds)
	o.realizedProceeds = o.realizedProceeds.Add(proceeds)
	o.slippage = o.slippage.Add(expected.Sub(proceeds))
	metrics.TradesExecuted.WithLabelValues("sell").Inc()

	o.logger.Info().
		Uint64("epoch", o.plan.Epoch).
		Str("asset", string(order.Asset)).
		Str("quantity", quantity.String()).
		Str("proceeds", proceeds.String()).
		Int("remaining", len(o.sellQueue)).
		Msg("Sell order executed")
	return nil
}

// stepBuyingLeg executes the buy order at the head of the queue, capping the
// spend at expected * (1 + slippageTolerance). Any unspent amount stays in
// the reserve, which is the immediate refund.
func (o *LiquidityOrchestrator) stepBuyingLeg() error {
	if len(o.buyQueue) == 0 {
		o.cursor = 0
		o.phase = types.ExecFulfillingFlows
		o.logger.Info().Uint64("epoch", o.plan.Epoch).Msg("BuyingLeg complete, entering FulfillingFlows")
		return nil
	}

	order := o.buyQueue[0]
	quantity, expected, venue, err := o.prepareOrder(order)
	if err != nil {
		return o.rotateOrder(&o.buyQueue, "buy", err)
	}
	if quantity.IsZero() {
		o.buyQueue = o.buyQueue[1:]
		o.logger.Warn().
			Str("asset", string(order.Asset)).
			Str("notional", order.Notional.String()).
			Msg("Buy notional rounds to zero quantity, skipping")
		return nil
	}

	maxSpend := expected.Add(utils.ApplyBps(expected, o.plan.Params.SlippageToleranceBps()))
	bought, spent, err := venue.Buy(order.Asset, quantity, maxSpend)
	if err != nil {
		return o.rotateOrder(&o.buyQueue, "buy", fmt.Errorf("buy %s failed: %w", order.Asset, err))
	}
	// The adapter sits across a trust boundary: a reported spend above the
	// cap is rejected before it touches the reserve.
	if spent.GT(maxSpend) {
		err := fmt.Errorf("%w: buy %s reported spend %s above cap %s",
			ErrSlippageExceeded, order.Asset, spent, maxSpend)
		return o.rotateOrder(&o.buyQueue, "buy", err)
	}

	o.buyQueue = o.buyQueue[1:]
	o.reserve = o.reserve.Sub(spent)
	o.realizedSpend = o.realizedSpend.Add(spent)
	o.slippage = o.slippage.Add(spent.Sub(expected))
	metrics.TradesExecuted.WithLabelValues("buy").Inc()

	o.logger.Info().
		Uint64("epoch", o.plan.Epoch).
		Str("asset", string(order.Asset)).
		Str("bought", bought.String()).
		Str("spent", spent.String()).
		Int("remaining", len(o.buyQueue)).
		Msg("Buy order executed")
	return nil
}

// stepFulfillingFlows processes one vault per call: drains the pinned capped
// deposits and redeems against the aggregation-time basis, then writes the
// post-trade portfolio back with the target weights cut against t1Hat.
func (o *LiquidityOrchestrator) stepFulfillingFlows() error {
	if o.cursor >= len(o.plan.vaults) {
		o.cursor = 0
		o.phase = types.ExecDecommissioning
		o.logger.Info().Uint64("epoch", o.plan.Epoch).Msg("FulfillingFlows complete, entering Decommissioning")
		return nil
	}

	vp := o.plan.vaults[o.cursor]
	if vp.accounting.Status != types.VaultStatusActive {
		o.cursor++
		return nil
	}

	// Guard before mutating: the capped figures the vault will fulfill must
	// still be exactly what the order book was built on.
	previewDep := vp.vault.PendingDepositAmount(vp.fulfillDeposits)
	previewRedeemVal := vp.vault.PendingRedeemValue(vp.fulfillRedeems)
	if !previewDep.Equal(vp.accounting.CappedDeposits) || !previewRedeemVal.Equal(vp.accounting.CappedRedeemVal) {
		return fmt.Errorf("%w: vault %s capped flows drifted since aggregation (deposits %s vs %s, redeem value %s vs %s)",
			ErrReconciliation, vp.vault.Address(),
			previewDep, vp.accounting.CappedDeposits,
			previewRedeemVal, vp.accounting.CappedRedeemVal)
	}

	depositAmount, redeemShares, redeemValue := vp.vault.FulfillFlows(vp.fulfillDeposits, vp.fulfillRedeems)
	o.reserve = o.reserve.Sub(redeemValue)

	portfolio := make(types.Portfolio, 0, len(vp.targetOrder))
	if vp.accounting.T1Hat.IsPositive() {
		for _, asset := range vp.targetOrder {
			weight := vp.targets[asset].MulRaw(types.WeightScale).Quo(vp.accounting.T1Hat)
			if weight.IsZero() {
				continue
			}
			portfolio = append(portfolio, types.PortfolioEntry{Asset: asset, Weight: weight})
		}
	}
	if err := vp.vault.UpdateVaultState(portfolio, vp.accounting.T1Hat); err != nil {
		return fmt.Errorf("failed to write back vault %s state: %w", vp.vault.Address(), err)
	}

	o.logger.Info().
		Uint64("epoch", o.plan.Epoch).
		Str("vault", vp.vault.Address()).
		Str("deposits", depositAmount.String()).
		Str("redeemShares", redeemShares.String()).
		Str("redeemValue", redeemValue.String()).
		Int("holdings", len(portfolio)).
		Msg("Vault flows fulfilled and state written back")
	o.cursor++
	return nil
}

// stepDecommissioning hands one decommissioning vault per call its final
// cash. When none remain the epoch is complete: the snapshot is updated, the
// rebalance event recorded and lastProcessedEpoch advances.
func (o *LiquidityOrchestrator) stepDecommissioning(now time.Time) error {
	for o.cursor < len(o.plan.vaults) {
		vp := o.plan.vaults[o.cursor]
		if vp.accounting.Status != types.VaultStatusDecommissioning {
			o.cursor++
			continue
		}

		cash := vp.accounting.T1Hat
		if err := vp.vault.FinalizeDecommission(cash); err != nil {
			return fmt.Errorf("failed to finalize decommission of vault %s: %w", vp.vault.Address(), err)
		}
		o.reserve = o.reserve.Sub(cash)
		o.decommissioned++
		o.cursor++

		o.logger.Info().
			Uint64("epoch", o.plan.Epoch).
			Str("vault", vp.vault.Address()).
			Str("finalCash", cash.String()).
			Msg("Vault decommissioned and drained")
		return nil
	}

	return o.completeEpoch(now)
}

// completeEpoch persists the execution outcome and returns the machine to
// Idle. Runs once per epoch; the stale-epoch guard in stepIdle makes a
// repeated trigger afterwards a no-op.
func (o *LiquidityOrchestrator) completeEpoch(now time.Time) error {
	snap := types.EpochSnapshot{
		Epoch:                o.plan.Epoch,
		RunID:                o.plan.RunID.String(),
		StartedAt:            o.plan.StartedAt,
		CompletedAt:          now,
		VaultCount:           len(o.plan.vaults),
		TotalProtocolValue:   o.plan.TotalProtocolValue,
		OrderBook:            o.plan.Book,
		RealizedSellProceeds: o.realizedProceeds,
		RealizedBuySpend:     o.realizedSpend,
		SlippageAbsorbed:     o.slippage,
		VaultsDecommissioned: o.decommissioned,
	}
	for _, vp := range o.plan.vaults {
		snap.Accounting = append(snap.Accounting, vp.accounting)
	}
	if err := o.recorder.RecordEpochSnapshot(snap); err != nil {
		return fmt.Errorf("failed to persist execution snapshot: %w", err)
	}

	details, _ := json.Marshal(map[string]any{
		"run_id":                o.plan.RunID.String(),
		"realized_proceeds":     o.realizedProceeds.String(),
		"realized_spend":        o.realizedSpend.String(),
		"slippage_absorbed":     o.slippage.String(),
		"vaults_decommissioned": o.decommissioned,
		"reserve":               o.reserve.String(),
	})
	if err := o.recorder.RecordEvent(types.EngineEvent{
		Kind:      types.EventPortfolioRebalanced,
		Epoch:     o.plan.Epoch,
		Timestamp: now,
		Details:   string(details),
	}); err != nil {
		return fmt.Errorf("failed to record rebalance event: %w", err)
	}

	metrics.RebalancesCompleted.Inc()
	o.logger.Info().
		Uint64("epoch", o.plan.Epoch).
		Str("realizedProceeds", o.realizedProceeds.String()).
		Str("realizedSpend", o.realizedSpend.String()).
		Str("slippageAbsorbed", o.slippage.String()).
		Int("vaultsDecommissioned", o.decommissioned).
		Msg("Execution round complete, portfolio rebalanced")

	o.lastProcessedEpoch = o.plan.Epoch
	o.plan = nil
	o.sellQueue = nil
	o.buyQueue = nil
	o.cursor = 0
	o.phase = types.ExecIdle
	return nil
}

// prepareOrder resolves the adapter, price and quantity for an order and
// validates the adapter binding before any funds move.
func (o *LiquidityOrchestrator) prepareOrder(order types.Order) (sdkmath.Int, sdkmath.Int, adapter.ExecutionAdapter, error) {
	venue, err := o.registry.Adapter(order.Asset)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, nil, err
	}
	if err := venue.Validate(order.Asset); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, nil, err
	}

	price, err := o.registry.Price(order.Asset)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, nil, err
	}
	decimals, err := o.registry.AssetDecimals(order.Asset)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, nil, err
	}

	quantity, err := utils.NotionalToQuantity(order.Notional, price, decimals)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, nil, err
	}
	// Expected value of the expressible quantity at the oracle price. The
	// floor from notional to quantity means this can sit slightly under the
	// ordered notional; the difference is dust, not slippage.
	expected, err := utils.QuantityToNotional(quantity, price, decimals)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, nil, err
	}
	return quantity, expected, venue, nil
}

// rotateOrder moves the failed head order to the back of its queue so later
// orders keep making progress, then surfaces the failure.
func (o *LiquidityOrchestrator) rotateOrder(queue *[]types.Order, side string, err error) error {
	failed := (*queue)[0]
	*queue = append((*queue)[1:], failed)
	metrics.TradeFailures.WithLabelValues(failureReason(err)).Inc()
	o.logger.Error().
		Err(err).
		Str("side", side).
		Str("asset", string(failed.Asset)).
		Msg("Order execution failed, rotated to back of queue")
	return err
}

// failureReason buckets a trade failure for the failures counter.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSlippageExceeded):
		return "slippage_exceeded"
	case errors.Is(err, registry.ErrAdapterNotSet):
		return "adapter_not_set"
	case errors.Is(err, registry.ErrOracleNotSet):
		return "oracle_not_set"
	case errors.Is(err, adapter.ErrZeroTotalAssets):
		return "zero_total_assets"
	case errors.Is(err, adapter.ErrInvalidAdapter):
		return "invalid_adapter"
	case errors.Is(err, adapter.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "other"
	}
}
