/*

This file contains the epoch snapshot and engine event types persisted to the
database after each aggregation and execution round.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultAccounting is the per-vault figures the aggregation pass committed to.
// The execution pass must reproduce these numbers exactly.
type VaultAccounting struct {
	Vault           string      `json:"vault"`
	Status          VaultStatus `json:"status"`
	TotalAssets     sdkmath.Int `json:"total_assets"`      // t0, before flows
	CappedDeposits  sdkmath.Int `json:"capped_deposits"`   // first maxFulfillBatchSize queued deposit amounts
	CappedRedeems   sdkmath.Int `json:"capped_redeems"`    // shares, same cap
	CappedRedeemVal sdkmath.Int `json:"capped_redeem_val"` // value of the capped redeem shares
	T1Hat           sdkmath.Int `json:"t1_hat"`            // hypothetical post-flow total assets
	IntentValid     bool        `json:"intent_valid"`
}

// EpochSnapshot captures everything one epoch decided and did. Persisted once
// after aggregation completes and updated once execution completes.
type EpochSnapshot struct {
	Epoch       uint64    `json:"epoch"`
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	VaultCount         int               `json:"vault_count"`
	TotalProtocolValue sdkmath.Int       `json:"total_protocol_value"`
	Accounting         []VaultAccounting `json:"accounting"`
	OrderBook          OrderBook         `json:"order_book"`

	// Execution outcome, filled in by the execution round.
	RealizedSellProceeds sdkmath.Int `json:"realized_sell_proceeds,omitempty"`
	RealizedBuySpend     sdkmath.Int `json:"realized_buy_spend,omitempty"`
	SlippageAbsorbed     sdkmath.Int `json:"slippage_absorbed,omitempty"`
	VaultsDecommissioned int         `json:"vaults_decommissioned,omitempty"`
}

// EventKind names an externally observed engine event.
type EventKind string

const (
	EventInternalStateProcessed EventKind = "InternalStateProcessed"
	EventPortfolioRebalanced    EventKind = "PortfolioRebalanced"
)

// EngineEvent is one emitted event, persisted to the event log.
type EngineEvent struct {
	ID        int64     `json:"id,omitempty"` // assigned by the store
	Kind      EventKind `json:"kind"`
	Epoch     uint64    `json:"epoch"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}
