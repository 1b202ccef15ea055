/*

This file contains the protocol parameters governing the epoch pipeline. The
active set is persisted in the database; the defaults in internal/config seed
the first row.

*/

package types

import (
	"errors"
	"time"
)

// ProtocolParameters are the operator-tunable knobs of the epoch pipeline.
type ProtocolParameters struct {
	// TargetBufferRatioBps is the fraction of protocol value, in basis
	// points, reserved as non-traded cash each epoch.
	TargetBufferRatioBps int64 `json:"target_buffer_ratio_bps"`

	// MaxFulfillBatchSize caps how many queued deposit or redeem requests
	// are fulfilled per vault per epoch, oldest first.
	MaxFulfillBatchSize int `json:"max_fulfill_batch_size"`

	// EpochDuration is the minimum wall-clock time between epoch starts.
	EpochDuration time.Duration `json:"epoch_duration"`

	// VaultChunkSize bounds how many vaults one trigger call processes
	// during the per-vault aggregation phases.
	VaultChunkSize int `json:"vault_chunk_size"`
}

// SlippageToleranceBps is derived as exactly half the target buffer ratio. It
// bounds the worst acceptable execution price drift per trade.
func (p ProtocolParameters) SlippageToleranceBps() int64 {
	return p.TargetBufferRatioBps / 2
}

// Validate rejects parameter sets the pipeline cannot run with.
func (p ProtocolParameters) Validate() error {
	if p.TargetBufferRatioBps < 0 || p.TargetBufferRatioBps > BpsScale {
		return errors.New("target buffer ratio must be between 0 and 10000 bps")
	}
	if p.MaxFulfillBatchSize < 1 {
		return errors.New("max fulfill batch size must be at least 1")
	}
	if p.EpochDuration < 0 {
		return errors.New("epoch duration cannot be negative")
	}
	if p.VaultChunkSize < 1 {
		return errors.New("vault chunk size must be at least 1")
	}
	return nil
}
