package state

import (
	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

// PostgresRecorder persists engine output through the global database pool.
// It satisfies the engine's Recorder interface.
type PostgresRecorder struct{}

// NewPostgresRecorder returns a recorder backed by the initialized database.
func NewPostgresRecorder() *PostgresRecorder {
	return &PostgresRecorder{}
}

// NextEpoch advances and returns the persistent epoch counter.
func (r *PostgresRecorder) NextEpoch() (uint64, error) {
	return IncrementEpochNumber()
}

// RecordEpochSnapshot persists (or updates) one epoch's snapshot.
func (r *PostgresRecorder) RecordEpochSnapshot(snap types.EpochSnapshot) error {
	return SaveEpochSnapshot(snap)
}

// RecordEvent appends one engine event to the event log.
func (r *PostgresRecorder) RecordEvent(ev types.EngineEvent) error {
	_, err := SaveEngineEvent(ev)
	return err
}
