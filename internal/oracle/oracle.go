package oracle

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

var (
	ErrPriceNotSet      = errors.New("no price registered for asset")
	ErrNonPositivePrice = errors.New("price must be positive")
)

// PriceOracle returns the current value of one whole unit of an asset in
// unit-of-account smallest units.
type PriceOracle interface {
	GetPrice(asset types.Asset) (sdkmath.LegacyDec, error)
}

// StaticOracle is a PriceOracle backed by an in-memory price table. It serves
// local mode and tests; production deployments plug in their own feed behind
// the same interface.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[types.Asset]sdkmath.LegacyDec
}

// NewStaticOracle creates an empty static oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[types.Asset]sdkmath.LegacyDec)}
}

// SetPrice registers or replaces the price for an asset.
func (o *StaticOracle) SetPrice(asset types.Asset, price sdkmath.LegacyDec) error {
	if price.IsNil() || !price.IsPositive() {
		return fmt.Errorf("%w: asset %s", ErrNonPositivePrice, asset)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = price
	return nil
}

// GetPrice implements PriceOracle.
func (o *StaticOracle) GetPrice(asset types.Asset) (sdkmath.LegacyDec, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrPriceNotSet, asset)
	}
	return price, nil
}
