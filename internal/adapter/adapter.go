package adapter

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/OrionFinanceAI/orion-engine/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidAdapter    = errors.New("adapter validation failed")
	ErrZeroTotalAssets   = errors.New("asset has zero total outstanding value")
	ErrInsufficientFunds = errors.New("venue cannot fill the requested quantity")
)

// ExecutionAdapter performs one buy or one sell against a single asset's
// market. Quantities are asset smallest units; notionals are unit-of-account
// smallest units. The adapter must validate itself before any funds move.
type ExecutionAdapter interface {
	// Sell disposes of the given quantity and returns the realized
	// proceeds. The caller enforces the slippage bound on the result.
	Sell(asset types.Asset, quantity sdkmath.Int) (proceeds sdkmath.Int, err error)

	// Buy acquires up to the target quantity, spending at most maxSpend.
	// Any unspent amount is refunded in the same call: spent is the exact
	// amount taken.
	Buy(asset types.Asset, quantity, maxSpend sdkmath.Int) (bought, spent sdkmath.Int, err error)

	// Validate checks, before any transfer, that the traded asset matches
	// the adapter's configured underlying, that the asset's live precision
	// matches its registered precision, and that the asset's outstanding
	// value is non-zero.
	Validate(asset types.Asset) error
}
