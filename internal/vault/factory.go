package vault

import (
	"fmt"

	"github.com/OrionFinanceAI/orion-engine/internal/intents"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/google/uuid"
)

// Factory creates vaults and registers them in the directory.
type Factory struct {
	whitelist Whitelist
	broker    *intents.Broker
	directory *Directory
}

// NewFactory wires a factory. The broker may be nil only if no encrypted
// vaults will ever be created.
func NewFactory(whitelist Whitelist, broker *intents.Broker, directory *Directory) (*Factory, error) {
	if whitelist == nil {
		return nil, fmt.Errorf("whitelist cannot be nil")
	}
	if directory == nil {
		return nil, fmt.Errorf("directory cannot be nil")
	}
	return &Factory{whitelist: whitelist, broker: broker, directory: directory}, nil
}

// CreateVault creates a vault for the given curator and registers it.
func (f *Factory) CreateVault(curator string, kind types.VaultKind) (*Vault, error) {
	if curator == "" {
		return nil, fmt.Errorf("curator cannot be empty")
	}
	if kind == types.VaultKindEncrypted && f.broker == nil {
		return nil, fmt.Errorf("no intent broker configured for encrypted vaults")
	}
	address := "orionvault-" + uuid.NewString()
	v := newVault(address, curator, kind, f.whitelist, f.broker)
	if err := f.directory.add(v); err != nil {
		return nil, err
	}
	return v, nil
}
