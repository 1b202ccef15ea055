package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/rs/zerolog"
)

var ErrVaultNotFound = errors.New("vault not found")

// Directory is the registry of all vaults ever created. Decommissioned vaults
// stay listed (never deleted) but leave the active set.
type Directory struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	vaults map[string]*Vault
	order  []string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		logger: logger.GetForComponent("vault_directory"),
		vaults: make(map[string]*Vault),
	}
}

func (d *Directory) add(v *Vault) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.vaults[v.Address()]; ok {
		return fmt.Errorf("vault %s already registered", v.Address())
	}
	d.vaults[v.Address()] = v
	d.order = append(d.order, v.Address())
	d.logger.Info().Str("vault", v.Address()).Str("kind", string(v.Kind())).Msg("Vault registered")
	return nil
}

// Get returns the vault with the given address.
func (d *Directory) Get(address string) (*Vault, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.vaults[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, address)
	}
	return v, nil
}

// Active returns every vault that has not finished decommissioning, in
// creation order. Decommissioning vaults are included: the pipeline still has
// to drain them.
func (d *Directory) Active() []*Vault {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Vault, 0, len(d.order))
	for _, addr := range d.order {
		v := d.vaults[addr]
		if v.Status() != types.VaultStatusDecommissioned {
			out = append(out, v)
		}
	}
	return out
}

// ByKind returns the active vaults of one kind, in creation order.
func (d *Directory) ByKind(kind types.VaultKind) []*Vault {
	out := make([]*Vault, 0)
	for _, v := range d.Active() {
		if v.Kind() == kind {
			out = append(out, v)
		}
	}
	return out
}

// All returns every vault ever created, in creation order.
func (d *Directory) All() []*Vault {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Vault, 0, len(d.order))
	for _, addr := range d.order {
		out = append(out, d.vaults[addr])
	}
	return out
}

// Count returns how many vaults exist, active or not.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}
