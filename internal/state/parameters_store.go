// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

// SaveProtocolParameters saves a new version of the protocol parameters.
func SaveProtocolParameters(params types.ProtocolParameters, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE protocol_parameters SET is_active = FALSE WHERE is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters: %w", err)
		}
	}

	stmtInsert := `
		INSERT INTO protocol_parameters (
			is_active, activated_at,
			target_buffer_ratio_bps, max_fulfill_batch_size,
			epoch_duration_seconds, vault_chunk_size
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id;
	`

	var paramsID int64
	err = tx.QueryRow(
		stmtInsert,
		makeActive, time.Now(),
		params.TargetBufferRatioBps, params.MaxFulfillBatchSize,
		int64(params.EpochDuration/time.Second), params.VaultChunkSize,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert protocol parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit protocol parameters: %w", err)
	}

	log.Info().Int64("paramsID", paramsID).Bool("active", makeActive).Msg("Saved protocol parameters")
	return paramsID, nil
}

// LoadActiveProtocolParameters returns the currently active parameter set.
// When none exists yet, the given defaults are saved, activated and
// returned.
func LoadActiveProtocolParameters(defaults types.ProtocolParameters) (types.ProtocolParameters, error) {
	if DB == nil {
		return types.ProtocolParameters{}, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT target_buffer_ratio_bps, max_fulfill_batch_size,
		       epoch_duration_seconds, vault_chunk_size
		FROM protocol_parameters
		WHERE is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;
	`

	var params types.ProtocolParameters
	var epochSeconds int64
	err := DB.QueryRow(query).Scan(
		&params.TargetBufferRatioBps, &params.MaxFulfillBatchSize,
		&epochSeconds, &params.VaultChunkSize,
	)
	if err == sql.ErrNoRows {
		log.Info().Msg("No active protocol parameters found, seeding defaults")
		if _, seedErr := SaveProtocolParameters(defaults, true); seedErr != nil {
			return types.ProtocolParameters{}, seedErr
		}
		return defaults, nil
	}
	if err != nil {
		return types.ProtocolParameters{}, fmt.Errorf("failed to load active protocol parameters: %w", err)
	}

	params.EpochDuration = time.Duration(epochSeconds) * time.Second
	if err := params.Validate(); err != nil {
		return types.ProtocolParameters{}, fmt.Errorf("stored parameters are invalid: %w", err)
	}
	return params, nil
}
