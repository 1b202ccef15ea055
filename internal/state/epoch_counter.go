/*

This file manages the persistent global epoch counter. The counter is stored
in the database so epoch numbers stay monotonic across engine restarts.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// GetCurrentEpochNumber retrieves the current epoch number from the database.
func GetCurrentEpochNumber() (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `SELECT current_epoch FROM epoch_counter WHERE id = 1;`

	var currentEpoch uint64
	row := DB.QueryRow(query)
	err := row.Scan(&currentEpoch)

	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn().Msg("No epoch counter row found, treating as epoch 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current epoch number: %w", err)
	}

	log.Debug().Uint64("currentEpoch", currentEpoch).Msg("Retrieved current epoch number")
	return currentEpoch, nil
}

// IncrementEpochNumber increments the epoch counter and returns the new value.
func IncrementEpochNumber() (uint64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		UPDATE epoch_counter
		SET current_epoch = current_epoch + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_epoch;
	`

	var newEpoch uint64
	err := DB.QueryRow(query).Scan(&newEpoch)
	if err != nil {
		return 0, fmt.Errorf("failed to increment epoch number: %w", err)
	}

	log.Info().Uint64("epoch", newEpoch).Msg("Advanced epoch counter")
	return newEpoch, nil
}
