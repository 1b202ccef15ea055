package intents

import (
	"encoding/json"
	"fmt"

	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/rs/zerolog"
)

// LocalDecrypter plays the decryption oracle in local mode. The "ciphertext"
// is a JSON envelope, not real cryptography: it exists so the pipeline's
// deferred-resolution path is exercised end to end without an FHE service.
type LocalDecrypter struct {
	logger zerolog.Logger
	broker *Broker
}

// NewLocalDecrypter creates a decrypter draining the given broker.
func NewLocalDecrypter(broker *Broker) *LocalDecrypter {
	return &LocalDecrypter{
		logger: logger.GetForComponent("local_decrypter"),
		broker: broker,
	}
}

// Seal produces a local-mode ciphertext for a weight vector.
func Seal(entries types.Portfolio) ([]byte, error) {
	return json.Marshal(entries)
}

// Flush resolves every pending request. Returns how many were delivered.
func (d *LocalDecrypter) Flush() int {
	delivered := 0
	for _, req := range d.broker.Pending() {
		res := Resolution{Request: req.ID}
		var entries types.Portfolio
		if err := json.Unmarshal(req.Ciphertext, &entries); err != nil {
			d.logger.Warn().Str("request", req.ID.String()).Err(err).Msg("Ciphertext did not decode; posting invalid")
		} else {
			res.Entries = entries
			res.Valid = true
		}
		if err := d.broker.Post(res); err != nil {
			// Superseded between Pending and Post; nothing to deliver.
			d.logger.Debug().Str("request", req.ID.String()).Msg(fmt.Sprintf("skipping: %v", err))
			continue
		}
		delivered++
	}
	return delivered
}
