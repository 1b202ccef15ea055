/*

This file contains the protocol registry: the asset whitelist, the per-asset
execution adapter and price oracle bindings, the tunable protocol parameters,
and the pause surface. Everything the orchestrators resolve by lookup lives
here.

*/

package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/OrionFinanceAI/orion-engine/internal/adapter"
	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/oracle"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/rs/zerolog"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNotAuthorized       = errors.New("caller is not authorized")
	ErrProtocolPaused      = errors.New("protocol is paused")
	ErrZeroAddress         = errors.New("address or binding cannot be empty")
	ErrAssetNotWhitelisted = errors.New("asset is not whitelisted")
	ErrAlreadyWhitelisted  = errors.New("asset is already whitelisted")
	ErrAdapterNotSet       = errors.New("no execution adapter registered for asset")
	ErrOracleNotSet        = errors.New("no price oracle registered for asset")
)

// Registry is the protocol-wide configuration store.
type Registry struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	owner     string
	guardians map[string]struct{}
	paused    bool

	assets     map[types.Asset]types.AssetInfo
	assetOrder []types.Asset
	removed    map[types.Asset]types.AssetInfo
	adapters   map[types.Asset]adapter.ExecutionAdapter
	oracles    map[types.Asset]oracle.PriceOracle

	params types.ProtocolParameters
}

// NewRegistry creates a registry owned by the given account.
func NewRegistry(owner string, guardians []string, params types.ProtocolParameters) (*Registry, error) {
	if owner == "" {
		return nil, ErrZeroAddress
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		logger:    logger.GetForComponent("registry"),
		owner:     owner,
		guardians: make(map[string]struct{}, len(guardians)),
		assets:    make(map[types.Asset]types.AssetInfo),
		removed:   make(map[types.Asset]types.AssetInfo),
		adapters:  make(map[types.Asset]adapter.ExecutionAdapter),
		oracles:   make(map[types.Asset]oracle.PriceOracle),
		params:    params,
	}
	for _, g := range guardians {
		if g == "" {
			return nil, ErrZeroAddress
		}
		r.guardians[g] = struct{}{}
	}
	return r, nil
}

// --- Pause surface ---

// Pause halts every phase-advance entry point. Guardian or owner only.
func (r *Registry) Pause(caller string) error {
	if err := r.requireGuardian(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
	r.logger.Warn().Str("caller", caller).Msg("Protocol paused")
	return nil
}

// Unpause resumes the pipeline from exactly the phase it was in.
func (r *Registry) Unpause(caller string) error {
	if err := r.requireGuardian(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = false
	r.logger.Info().Str("caller", caller).Msg("Protocol unpaused")
	return nil
}

// Paused reports the global pause flag.
func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// --- Asset whitelist ---

// WhitelistAsset registers a new tradable asset. Metadata is immutable once
// whitelisted. Owner only.
func (r *Registry) WhitelistAsset(caller string, info types.AssetInfo) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	if info.Address == "" {
		return ErrZeroAddress
	}
	if info.Decimals < 0 || info.Decimals > 18 {
		return fmt.Errorf("asset %s: decimals must be between 0 and 18", info.Address)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[info.Address]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyWhitelisted, info.Address)
	}
	r.assets[info.Address] = info
	r.assetOrder = append(r.assetOrder, info.Address)
	r.logger.Info().Str("asset", info.Address.String()).Str("symbol", info.Symbol).Msg("Asset whitelisted")
	return nil
}

// RemoveAsset drops an asset from the whitelist. Any protocol-held balance of
// it is force liquidated by the next epoch's execution round. Owner only.
func (r *Registry) RemoveAsset(caller string, asset types.Asset) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.assets[asset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	// Metadata stays resolvable so the next epoch can liquidate any
	// protocol-held balance of the removed asset.
	r.removed[asset] = info
	delete(r.assets, asset)
	for i, a := range r.assetOrder {
		if a == asset {
			r.assetOrder = append(r.assetOrder[:i], r.assetOrder[i+1:]...)
			break
		}
	}
	r.logger.Warn().Str("asset", asset.String()).Msg("Asset removed from whitelist; held balances will be liquidated next epoch")
	return nil
}

// IsWhitelisted reports whether the asset is currently tradable.
func (r *Registry) IsWhitelisted(asset types.Asset) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.assets[asset]
	return ok
}

// AssetInfo returns the registered metadata for an asset. Removed assets
// still resolve: their held balances must remain liquidatable.
func (r *Registry) AssetInfo(asset types.Asset) (types.AssetInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.assets[asset]; ok {
		return info, nil
	}
	if info, ok := r.removed[asset]; ok {
		return info, nil
	}
	return types.AssetInfo{}, fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
}

// AssetDecimals returns the live precision of a whitelisted asset. Satisfies
// the adapter's meta source.
func (r *Registry) AssetDecimals(asset types.Asset) (int, error) {
	info, err := r.AssetInfo(asset)
	if err != nil {
		return 0, err
	}
	return info.Decimals, nil
}

// Assets returns the whitelisted assets in registration order.
func (r *Registry) Assets() []types.Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Asset, len(r.assetOrder))
	copy(out, r.assetOrder)
	return out
}

// --- Adapter and oracle bindings ---

// SetAdapter binds an execution adapter to an asset. Owner only.
func (r *Registry) SetAdapter(caller string, asset types.Asset, a adapter.ExecutionAdapter) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	if a == nil {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	r.adapters[asset] = a
	return nil
}

// Adapter resolves the execution adapter for an asset.
func (r *Registry) Adapter(asset types.Asset) (adapter.ExecutionAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotSet, asset)
	}
	return a, nil
}

// SetOracle binds a price oracle to an asset. Owner only.
func (r *Registry) SetOracle(caller string, asset types.Asset, o oracle.PriceOracle) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	if o == nil {
		return ErrZeroAddress
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assets[asset]; !ok {
		return fmt.Errorf("%w: %s", ErrAssetNotWhitelisted, asset)
	}
	r.oracles[asset] = o
	return nil
}

// Price resolves the oracle for an asset and returns its current price in
// unit-of-account smallest units per whole asset unit.
func (r *Registry) Price(asset types.Asset) (sdkmath.LegacyDec, error) {
	r.mu.RLock()
	o, ok := r.oracles[asset]
	r.mu.RUnlock()
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s", ErrOracleNotSet, asset)
	}
	return o.GetPrice(asset)
}

// --- Parameters ---

// SetTargetBufferRatio updates the buffer ratio in basis points. The slippage
// tolerance is derived from it as exactly half. Owner only.
func (r *Registry) SetTargetBufferRatio(caller string, bps int64) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.params
	next.TargetBufferRatioBps = bps
	if err := next.Validate(); err != nil {
		return err
	}
	r.params = next
	r.logger.Info().
		Int64("bufferRatioBps", bps).
		Int64("slippageToleranceBps", next.SlippageToleranceBps()).
		Msg("Target buffer ratio updated")
	return nil
}

// SetMaxFulfillBatchSize updates the per-vault per-epoch fulfillment cap. Owner only.
func (r *Registry) SetMaxFulfillBatchSize(caller string, n int) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.params
	next.MaxFulfillBatchSize = n
	if err := next.Validate(); err != nil {
		return err
	}
	r.params = next
	return nil
}

// SetEpochDuration updates the minimum time between epoch starts. Owner only.
func (r *Registry) SetEpochDuration(caller string, d time.Duration) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.params
	next.EpochDuration = d
	if err := next.Validate(); err != nil {
		return err
	}
	r.params = next
	return nil
}

// Parameters returns a copy of the active parameter set.
func (r *Registry) Parameters() types.ProtocolParameters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params
}

// CuratorIntentDecimals returns the decimal precision curators use when
// expressing intent weights.
func (r *Registry) CuratorIntentDecimals() int {
	return types.CuratorIntentDecimals
}

// --- Authorization helpers ---

func (r *Registry) requireOwner(caller string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caller != r.owner {
		return fmt.Errorf("%w: %s is not the owner", ErrNotAuthorized, caller)
	}
	return nil
}

func (r *Registry) requireGuardian(caller string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caller == r.owner {
		return nil
	}
	if _, ok := r.guardians[caller]; !ok {
		return fmt.Errorf("%w: %s is not a guardian", ErrNotAuthorized, caller)
	}
	return nil
}
