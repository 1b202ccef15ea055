/*

This file contains the deferred-resolution plumbing for confidential intents.
A confidential vault submits ciphertext and a validity proof; the contribution
to aggregation is deferred until an out-of-band decryption oracle posts a
callback revealing the weight vector (or confirming invalidity). Submission
enqueues a pending-resolution record; the callback atomically hands the result
to the vault's sink. The aggregator never blocks on a pending resolution.

*/

package intents

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownRequest  = errors.New("no pending decryption request with that id")
	ErrEmptyCiphertext = errors.New("ciphertext cannot be empty")
)

// Resolution is the decryption oracle's verdict on one request.
type Resolution struct {
	Request uuid.UUID
	Entries types.Portfolio // revealed weights; empty when invalid
	Valid   bool
}

// Sink receives the resolution for one outstanding request. Called exactly
// once per request unless the request was superseded first.
type Sink func(res Resolution)

// PendingRequest is one enqueued ciphertext awaiting decryption.
type PendingRequest struct {
	ID         uuid.UUID
	Ciphertext []byte
	Proof      []byte
}

// Broker is the pending-resolution queue between confidential vaults and the
// decryption oracle.
type Broker struct {
	mu      sync.Mutex
	logger  zerolog.Logger
	pending map[uuid.UUID]brokerEntry
	order   []uuid.UUID
}

type brokerEntry struct {
	req  PendingRequest
	sink Sink
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		logger:  logger.GetForComponent("intent_broker"),
		pending: make(map[uuid.UUID]brokerEntry),
	}
}

// Submit enqueues a ciphertext for decryption and returns the request id.
func (b *Broker) Submit(ciphertext, proof []byte, sink Sink) (uuid.UUID, error) {
	if len(ciphertext) == 0 {
		return uuid.Nil, ErrEmptyCiphertext
	}
	if sink == nil {
		return uuid.Nil, errors.New("sink cannot be nil")
	}
	id := uuid.New()
	b.mu.Lock()
	b.pending[id] = brokerEntry{
		req:  PendingRequest{ID: id, Ciphertext: ciphertext, Proof: proof},
		sink: sink,
	}
	b.order = append(b.order, id)
	b.mu.Unlock()

	b.logger.Debug().Str("request", id.String()).Msg("Decryption request enqueued")
	return id, nil
}

// Supersede drops a pending request. A later Post for it is rejected, so a
// stale intent can never land after its replacement.
func (b *Broker) Supersede(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[id]; !ok {
		return
	}
	delete(b.pending, id)
	b.logger.Debug().Str("request", id.String()).Msg("Decryption request superseded")
}

// Post is the decryption oracle's callback entry point. It atomically removes
// the pending record and delivers the resolution to the vault's sink.
func (b *Broker) Post(res Resolution) error {
	b.mu.Lock()
	entry, ok := b.pending[res.Request]
	if ok {
		delete(b.pending, res.Request)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, res.Request)
	}

	entry.sink(res)
	b.logger.Info().
		Str("request", res.Request.String()).
		Bool("valid", res.Valid).
		Msg("Decryption resolution delivered")
	return nil
}

// Pending returns the queued requests in submission order, skipping ones
// already resolved or superseded.
func (b *Broker) Pending() []PendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PendingRequest, 0, len(b.pending))
	kept := b.order[:0]
	for _, id := range b.order {
		if e, ok := b.pending[id]; ok {
			out = append(out, e.req)
			kept = append(kept, id)
		}
	}
	b.order = kept
	return out
}
