/*

This file contains the default protocol parameters for the epoch pipeline.

These values are used if no active parameters are found in the database during
initialization. Each value balances capital efficiency against execution risk.

*/

package config

import (
	"time"

	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

// DefaultProtocolParameters provides a baseline parameter set for the engine.
var DefaultProtocolParameters = types.ProtocolParameters{
	TargetBufferRatioBps: 50, // Reserve 0.50% of protocol value as cash.
	// Rationale: the buffer absorbs per-trade slippage and rounding dust.
	// 50 bps matches the buffer control target the protocol simulations
	// converged on; it also fixes the slippage tolerance at 25 bps.

	MaxFulfillBatchSize: 32, // Fulfill at most 32 queued requests per vault per epoch.
	// Rationale: bounds the per-call cost of the fulfillment leg. Requests
	// beyond the cap stay queued untouched and roll to the next epoch.

	EpochDuration: 24 * time.Hour, // One epoch per day.
	// Rationale: aggregation is rejected before this much time has passed
	// since the previous epoch start, regardless of trigger frequency.

	VaultChunkSize: 8, // Process eight vaults per trigger call.
	// Rationale: keeps each aggregation step cheap and predictable even as
	// the vault set grows.
}
