/*

This file contains the epoch-scoped order book types and the phase enums for
the two orchestrator state machines.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// Order is one net protocol-wide order for an asset. The notional is expressed
// in unit-of-account smallest units at aggregation time; conversion to an
// adapter-native asset quantity happens at execution time against the
// then-current oracle price.
type Order struct {
	Asset    Asset       `json:"asset"`
	Notional sdkmath.Int `json:"notional"`
}

// OrderBook is the finalized result of one epoch's aggregation. Immutable once
// built; the execution side reads it and never mutates it.
type OrderBook struct {
	Epoch uint64  `json:"epoch"`
	Sells []Order `json:"sells"`
	Buys  []Order `json:"buys"`

	// Reconciliation components, all in unit-of-account smallest units.
	// The identity
	//   NetCashFlow == NetFlows - Buffer + PriorCash - Unallocated - DecommissionDrain
	// must hold exactly or the epoch is incomplete.
	NetCashFlow       sdkmath.Int `json:"net_cash_flow"`      // sum(buys) - sum(sells)
	NetFlows          sdkmath.Int `json:"net_flows"`          // capped deposits - capped redeem value
	Buffer            sdkmath.Int `json:"buffer"`             // reserved non-traded cash this epoch
	PriorCash         sdkmath.Int `json:"prior_cash"`         // cash already implicit in vault holdings
	Unallocated       sdkmath.Int `json:"unallocated"`        // rounding dust + value with no valid target
	DecommissionDrain sdkmath.Int `json:"decommission_drain"` // cash handed to vaults leaving the active set
}

// SellTotal returns the summed sell notional.
func (b *OrderBook) SellTotal() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, o := range b.Sells {
		total = total.Add(o.Notional)
	}
	return total
}

// BuyTotal returns the summed buy notional.
func (b *OrderBook) BuyTotal() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, o := range b.Buys {
		total = total.Add(o.Notional)
	}
	return total
}

// AggregationPhase is the phase tag of the aggregation state machine.
type AggregationPhase uint8

const (
	AggIdle AggregationPhase = iota
	AggPreprocessingVaults
	AggBuffering
	AggPostprocessingVaults
	AggBuildingOrders
)

func (p AggregationPhase) String() string {
	switch p {
	case AggIdle:
		return "Idle"
	case AggPreprocessingVaults:
		return "PreprocessingVaults"
	case AggBuffering:
		return "Buffering"
	case AggPostprocessingVaults:
		return "PostprocessingVaults"
	case AggBuildingOrders:
		return "BuildingOrders"
	default:
		return "Unknown"
	}
}

// ExecutionPhase is the phase tag of the execution state machine.
type ExecutionPhase uint8

const (
	ExecIdle ExecutionPhase = iota
	ExecSellingLeg
	ExecBuyingLeg
	ExecFulfillingFlows
	ExecDecommissioning
)

func (p ExecutionPhase) String() string {
	switch p {
	case ExecIdle:
		return "Idle"
	case ExecSellingLeg:
		return "SellingLeg"
	case ExecBuyingLeg:
		return "BuyingLeg"
	case ExecFulfillingFlows:
		return "FulfillingFlows"
	case ExecDecommissioning:
		return "Decommissioning"
	default:
		return "Unknown"
	}
}
