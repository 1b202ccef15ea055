package adapter

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/oracle"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/OrionFinanceAI/orion-engine/internal/utils"
	"github.com/rs/zerolog"
)

// AssetMetaSource resolves the live precision of an asset. The whitelist
// registry satisfies this.
type AssetMetaSource interface {
	AssetDecimals(asset types.Asset) (int, error)
}

// SyntheticVenue is an ExecutionAdapter that fills against the oracle price
// with a configurable adverse drift, in basis points. It backs local mode and
// tests; a production deployment registers venue-specific adapters behind the
// same interface.
type SyntheticVenue struct {
	mu sync.Mutex

	logger      zerolog.Logger
	underlying  types.Asset
	decimals    int // registered precision, fixed at construction
	meta        AssetMetaSource
	oracle      oracle.PriceOracle
	driftBps    int64       // adverse price drift applied to every fill
	outstanding sdkmath.Int // venue-held quantity of the underlying, smallest units
}

// NewSyntheticVenue creates a venue for one underlying asset seeded with the
// given outstanding quantity.
func NewSyntheticVenue(underlying types.Asset, decimals int, outstanding sdkmath.Int, meta AssetMetaSource, priceOracle oracle.PriceOracle) (*SyntheticVenue, error) {
	if meta == nil || priceOracle == nil {
		return nil, fmt.Errorf("%w: nil meta source or oracle", ErrInvalidAdapter)
	}
	if outstanding.IsNil() || outstanding.IsNegative() {
		return nil, fmt.Errorf("%w: outstanding quantity must be non-negative", ErrInvalidAdapter)
	}
	return &SyntheticVenue{
		logger:      logger.GetForComponent("synthetic_venue"),
		underlying:  underlying,
		decimals:    decimals,
		meta:        meta,
		oracle:      priceOracle,
		outstanding: outstanding,
	}, nil
}

// SetDriftBps configures the adverse drift applied to every fill. Sells fill
// below oracle, buys fill above it.
func (v *SyntheticVenue) SetDriftBps(bps int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.driftBps = bps
}

// Validate implements ExecutionAdapter.
func (v *SyntheticVenue) Validate(asset types.Asset) error {
	if asset != v.underlying {
		return fmt.Errorf("%w: asset %s does not match configured underlying %s", ErrInvalidAdapter, asset, v.underlying)
	}
	liveDecimals, err := v.meta.AssetDecimals(asset)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAdapter, err)
	}
	if liveDecimals != v.decimals {
		return fmt.Errorf("%w: live precision %d does not match registered precision %d", ErrInvalidAdapter, liveDecimals, v.decimals)
	}

	v.mu.Lock()
	outstanding := v.outstanding
	v.mu.Unlock()
	if outstanding.IsZero() {
		return fmt.Errorf("%w: %s", ErrZeroTotalAssets, asset)
	}
	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAdapter, err)
	}
	value, err := utils.QuantityToNotional(outstanding, price, v.decimals)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAdapter, err)
	}
	if value.IsZero() {
		return fmt.Errorf("%w: %s", ErrZeroTotalAssets, asset)
	}
	return nil
}

// Sell implements ExecutionAdapter.
func (v *SyntheticVenue) Sell(asset types.Asset, quantity sdkmath.Int) (sdkmath.Int, error) {
	if err := v.Validate(asset); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if quantity.IsNil() || !quantity.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: sell quantity must be positive", ErrInvalidAdapter)
	}

	fillPrice, err := v.fillPrice(asset, -1)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	proceeds, err := utils.QuantityToNotional(quantity, fillPrice, v.decimals)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}

	v.mu.Lock()
	v.outstanding = v.outstanding.Add(quantity)
	v.mu.Unlock()

	v.logger.Debug().
		Str("asset", asset.String()).
		Str("quantity", quantity.String()).
		Str("proceeds", proceeds.String()).
		Msg("Sell filled")
	return proceeds, nil
}

// Buy implements ExecutionAdapter.
func (v *SyntheticVenue) Buy(asset types.Asset, quantity, maxSpend sdkmath.Int) (sdkmath.Int, sdkmath.Int, error) {
	if err := v.Validate(asset); err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	if quantity.IsNil() || !quantity.IsPositive() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: buy quantity must be positive", ErrInvalidAdapter)
	}
	if maxSpend.IsNil() || maxSpend.IsNegative() {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: max spend must be non-negative", ErrInvalidAdapter)
	}

	fillPrice, err := v.fillPrice(asset, +1)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}

	bought := quantity
	cost, err := utils.QuantityToNotional(bought, fillPrice, v.decimals)
	if err != nil {
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
	}
	if cost.GT(maxSpend) {
		// Partial fill up to the spend cap; the remainder is refunded by
		// never being taken.
		bought, err = utils.NotionalToQuantity(maxSpend, fillPrice, v.decimals)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
		cost, err = utils.QuantityToNotional(bought, fillPrice, v.decimals)
		if err != nil {
			return sdkmath.ZeroInt(), sdkmath.ZeroInt(), err
		}
	}

	v.mu.Lock()
	if v.outstanding.LT(bought) {
		v.mu.Unlock()
		return sdkmath.ZeroInt(), sdkmath.ZeroInt(), fmt.Errorf("%w: asset %s", ErrInsufficientFunds, asset)
	}
	v.outstanding = v.outstanding.Sub(bought)
	v.mu.Unlock()

	v.logger.Debug().
		Str("asset", asset.String()).
		Str("bought", bought.String()).
		Str("spent", cost.String()).
		Msg("Buy filled")
	return bought, cost, nil
}

// fillPrice applies the adverse drift in the given direction: -1 for sells
// (fills below oracle), +1 for buys (fills above).
func (v *SyntheticVenue) fillPrice(asset types.Asset, direction int64) (sdkmath.LegacyDec, error) {
	price, err := v.oracle.GetPrice(asset)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	v.mu.Lock()
	drift := v.driftBps
	v.mu.Unlock()
	if drift == 0 {
		return price, nil
	}
	factor := sdkmath.LegacyNewDec(types.BpsScale + direction*drift).
		Quo(sdkmath.LegacyNewDec(types.BpsScale))
	return price.Mul(factor), nil
}
