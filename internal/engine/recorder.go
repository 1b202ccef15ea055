package engine

import (
	"sync"

	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

// Recorder persists what the pipeline decided and did. The postgres-backed
// implementation lives in internal/state; tests and local runs without a
// database use the MemoryRecorder.
type Recorder interface {
	// NextEpoch advances and returns the monotonic epoch counter.
	NextEpoch() (uint64, error)

	// RecordEpochSnapshot persists (or updates) one epoch's snapshot.
	RecordEpochSnapshot(snap types.EpochSnapshot) error

	// RecordEvent appends one engine event to the event log.
	RecordEvent(ev types.EngineEvent) error
}

// MemoryRecorder is an in-memory Recorder.
type MemoryRecorder struct {
	mu        sync.Mutex
	epoch     uint64
	snapshots map[uint64]types.EpochSnapshot
	events    []types.EngineEvent
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{snapshots: make(map[uint64]types.EpochSnapshot)}
}

// NextEpoch implements Recorder.
func (m *MemoryRecorder) NextEpoch() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	return m.epoch, nil
}

// RecordEpochSnapshot implements Recorder.
func (m *MemoryRecorder) RecordEpochSnapshot(snap types.EpochSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.Epoch] = snap
	return nil
}

// RecordEvent implements Recorder.
func (m *MemoryRecorder) RecordEvent(ev types.EngineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Snapshot returns the stored snapshot for an epoch.
func (m *MemoryRecorder) Snapshot(epoch uint64) (types.EpochSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snapshots[epoch]
	return snap, ok
}

// Events returns a copy of the event log.
func (m *MemoryRecorder) Events() []types.EngineEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.EngineEvent, len(m.events))
	copy(out, m.events)
	return out
}
