/*

This file contains the asset types shared across the protocol. An asset is a
whitelisted tradable instrument identified by an address-like string; its
metadata is immutable once whitelisted.

*/

package types

// Asset identifies one tradable instrument.
type Asset string

func (a Asset) String() string {
	return string(a)
}

// AssetInfo holds the immutable metadata registered at whitelisting time.
type AssetInfo struct {
	Address  Asset  `json:"address"`
	Symbol   string `json:"symbol"`   // e.g., "wETH"
	Decimals int    `json:"decimals"` // e.g., 6 = smallest unit is 10^-6 of one asset
}

const (
	// WeightScale is the fixed scale portfolio and intent weights sum to.
	// 10^6 corresponds to 100%.
	WeightScale = 1_000_000

	// BpsScale is the basis point scale used for ratios (buffer, slippage).
	BpsScale = 10_000

	// CuratorIntentDecimals is the decimal precision curators use when
	// expressing intent weights (WeightScale = 10^CuratorIntentDecimals).
	CuratorIntentDecimals = 6
)
