/*

This file contains the portfolio and intent types. A portfolio describes what a
vault currently holds; an intent describes what its curator wants it to hold.
Both are lists of (asset, weight) pairs against WeightScale.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// PortfolioEntry is one (asset, weight) pair. Weights are fixed-point against
// WeightScale.
type PortfolioEntry struct {
	Asset  Asset       `json:"asset"`
	Weight sdkmath.Int `json:"weight"`
}

// Portfolio is an ordered set of entries. For a held portfolio the weights may
// sum to less than WeightScale; the remainder is implicit cash. Intent weights
// must sum to exactly WeightScale to be valid.
type Portfolio []PortfolioEntry

// TotalWeight returns the sum of all entry weights.
func (p Portfolio) TotalWeight() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, e := range p {
		total = total.Add(e.Weight)
	}
	return total
}

// Clone returns a deep copy of the portfolio.
func (p Portfolio) Clone() Portfolio {
	if p == nil {
		return nil
	}
	out := make(Portfolio, len(p))
	copy(out, p)
	return out
}

// VaultKind distinguishes how a vault's intent is submitted.
type VaultKind string

const (
	VaultKindPlain     VaultKind = "PLAIN"
	VaultKindEncrypted VaultKind = "ENCRYPTED"
)

// VaultStatus is the lifecycle state of a vault.
type VaultStatus string

const (
	VaultStatusActive          VaultStatus = "ACTIVE"
	VaultStatusDecommissioning VaultStatus = "DECOMMISSIONING"
	VaultStatusDecommissioned  VaultStatus = "DECOMMISSIONED"
)
