/*

This file contains the vault: a pool of depositor capital with a current
portfolio, a curator-declared intent, batch-limited pending deposit/redeem
queues, and a decommissioning lifecycle. Vaults are mutated only by the
execution engine (portfolio, totals) and by their own deposit/redeem entry
points (pending queues); they are never deleted, only decommissioned and
drained.

*/

package vault

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/OrionFinanceAI/orion-engine/internal/intents"
	"github.com/OrionFinanceAI/orion-engine/internal/logger"
	"github.com/OrionFinanceAI/orion-engine/internal/registry"
	"github.com/OrionFinanceAI/orion-engine/internal/types"
	"github.com/OrionFinanceAI/orion-engine/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Error definitions for zero-tolerance error handling
var (
	ErrVaultDecommissioned     = errors.New("vault is decommissioning or decommissioned")
	ErrSynchronousCallDisabled = errors.New("synchronous redemption is disabled")
	ErrNotDecommissioned       = errors.New("vault has not completed decommissioning")
	ErrInvalidIntent           = errors.New("intent is invalid")
	ErrNotAuthorized           = errors.New("caller is not authorized for this vault")
	ErrWrongVaultKind          = errors.New("operation does not match the vault kind")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInsufficientShares      = errors.New("share amount exceeds outstanding supply")
	ErrInsufficientCash        = errors.New("final cash balance cannot cover redemption")
)

// Whitelist answers whether an asset is currently tradable and whether the
// protocol is paused. The protocol registry satisfies this. A pause freezes
// every user-facing vault mutation alongside the pipeline itself.
type Whitelist interface {
	IsWhitelisted(asset types.Asset) bool
	Paused() bool
}

// PendingDeposit is one queued deposit request, amount in unit-of-account
// smallest units.
type PendingDeposit struct {
	Depositor string      `json:"depositor"`
	Amount    sdkmath.Int `json:"amount"`
}

// PendingRedeem is one queued redeem request, in shares.
type PendingRedeem struct {
	Redeemer string      `json:"redeemer"`
	Shares   sdkmath.Int `json:"shares"`
}

// Intent is the curator's declared target allocation together with its
// validity state. For encrypted vaults validity stays pending until the
// decryption callback lands.
type Intent struct {
	Entries types.Portfolio
	Valid   bool
	Pending bool
}

// Vault holds depositor capital for one fund.
type Vault struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	address   string
	curator   string
	kind      types.VaultKind
	whitelist Whitelist
	broker    *intents.Broker // nil for plain vaults

	portfolio   types.Portfolio
	totalAssets sdkmath.Int
	totalShares sdkmath.Int

	intent         Intent
	pendingRequest uuid.UUID

	depositQueue []PendingDeposit
	redeemQueue  []PendingRedeem

	status types.VaultStatus
	cash   sdkmath.Int // final cash balance once decommissioned
}

func newVault(address, curator string, kind types.VaultKind, whitelist Whitelist, broker *intents.Broker) *Vault {
	return &Vault{
		logger:      logger.GetForComponent("vault").With().Str("vault", address).Logger(),
		address:     address,
		curator:     curator,
		kind:        kind,
		whitelist:   whitelist,
		broker:      broker,
		totalAssets: sdkmath.ZeroInt(),
		totalShares: sdkmath.ZeroInt(),
		status:      types.VaultStatusActive,
		cash:        sdkmath.ZeroInt(),
	}
}

// Address returns the vault identifier.
func (v *Vault) Address() string { return v.address }

// Curator returns the account allowed to declare intents.
func (v *Vault) Curator() string { return v.curator }

// Kind returns whether the vault declares plaintext or encrypted intents.
func (v *Vault) Kind() types.VaultKind { return v.kind }

// Status returns the lifecycle state.
func (v *Vault) Status() types.VaultStatus {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.status
}

// --- Read surface consumed by the orchestrators ---

// GetPortfolio returns the held portfolio and its total value. Held weights
// may sum to less than WeightScale; the remainder is implicit cash.
func (v *Vault) GetPortfolio() (types.Portfolio, sdkmath.Int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.portfolio.Clone(), v.totalAssets
}

// TotalAssets returns the vault value in unit-of-account smallest units.
func (v *Vault) TotalAssets() sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalAssets
}

// TotalShares returns the outstanding share supply.
func (v *Vault) TotalShares() sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalShares
}

// HoldingValues returns the per-asset held value implied by the current
// weights and total, flooring each conversion.
func (v *Vault) HoldingValues() map[types.Asset]sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[types.Asset]sdkmath.Int, len(v.portfolio))
	for _, e := range v.portfolio {
		out[e.Asset] = utils.ApplyWeight(v.totalAssets, e.Weight, types.WeightScale)
	}
	return out
}

// GetIntent returns the latest committed intent and whether it is valid. An
// unresolved encrypted intent reads as invalid; the aggregator never blocks
// waiting for a pending decryption.
func (v *Vault) GetIntent() (types.Portfolio, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.intent.Pending || !v.intent.Valid {
		return nil, false
	}
	return v.intent.Entries.Clone(), true
}

// --- Intent submission ---

// SubmitIntent declares a plaintext target allocation. Curator only; validity
// is computed synchronously.
func (v *Vault) SubmitIntent(caller string, entries types.Portfolio) error {
	if v.whitelist.Paused() {
		return registry.ErrProtocolPaused
	}
	if caller != v.curator {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller)
	}
	if v.kind != types.VaultKindPlain {
		return fmt.Errorf("%w: encrypted vaults submit ciphertext", ErrWrongVaultKind)
	}
	if err := v.validateIntentEntries(entries); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != types.VaultStatusActive {
		return ErrVaultDecommissioned
	}
	// A new submission supersedes whatever was there.
	v.intent = Intent{Entries: entries.Clone(), Valid: true}
	v.logger.Info().Int("entries", len(entries)).Msg("Plaintext intent accepted")
	return nil
}

// SubmitEncryptedIntent declares a confidential target allocation as
// ciphertext plus a validity proof. The contribution to aggregation is
// deferred until the decryption oracle posts its callback. Submitting again
// before the previous request resolves fully supersedes it.
func (v *Vault) SubmitEncryptedIntent(caller string, ciphertext, proof []byte) (uuid.UUID, error) {
	if v.whitelist.Paused() {
		return uuid.Nil, registry.ErrProtocolPaused
	}
	if caller != v.curator {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotAuthorized, caller)
	}
	if v.kind != types.VaultKindEncrypted {
		return uuid.Nil, fmt.Errorf("%w: plain vaults submit weights directly", ErrWrongVaultKind)
	}

	v.mu.Lock()
	if v.status != types.VaultStatusActive {
		v.mu.Unlock()
		return uuid.Nil, ErrVaultDecommissioned
	}
	prior := v.pendingRequest
	v.mu.Unlock()

	if prior != uuid.Nil {
		v.broker.Supersede(prior)
	}

	id, err := v.broker.Submit(ciphertext, proof, v.resolveIntent)
	if err != nil {
		return uuid.Nil, err
	}

	v.mu.Lock()
	v.pendingRequest = id
	// The prior intent must not leak into an epoch that runs before the
	// new one resolves.
	v.intent = Intent{Pending: true}
	v.mu.Unlock()

	v.logger.Info().Str("request", id.String()).Msg("Encrypted intent submitted, awaiting decryption")
	return id, nil
}

// resolveIntent is the sink the decryption oracle's callback lands on.
func (v *Vault) resolveIntent(res intents.Resolution) {
	valid := res.Valid
	if valid {
		if err := v.validateIntentEntries(res.Entries); err != nil {
			v.logger.Warn().Err(err).Msg("Decrypted intent failed validation")
			valid = false
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pendingRequest != res.Request {
		// Superseded while the callback was in flight.
		return
	}
	v.pendingRequest = uuid.Nil
	if valid {
		v.intent = Intent{Entries: res.Entries.Clone(), Valid: true}
	} else {
		v.intent = Intent{}
	}
	v.logger.Info().Bool("valid", valid).Msg("Encrypted intent resolved")
}

func (v *Vault) validateIntentEntries(entries types.Portfolio) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidIntent)
	}
	seen := make(map[types.Asset]struct{}, len(entries))
	total := sdkmath.ZeroInt()
	for _, e := range entries {
		if e.Weight.IsNil() || !e.Weight.IsPositive() {
			return fmt.Errorf("%w: weight for %s must be positive", ErrInvalidIntent, e.Asset)
		}
		if _, dup := seen[e.Asset]; dup {
			return fmt.Errorf("%w: duplicate asset %s", ErrInvalidIntent, e.Asset)
		}
		seen[e.Asset] = struct{}{}
		if !v.whitelist.IsWhitelisted(e.Asset) {
			return fmt.Errorf("%w: asset %s is not whitelisted", ErrInvalidIntent, e.Asset)
		}
		total = total.Add(e.Weight)
	}
	if !total.Equal(sdkmath.NewInt(types.WeightScale)) {
		return fmt.Errorf("%w: weights sum to %s, want %d", ErrInvalidIntent, total, types.WeightScale)
	}
	return nil
}

// --- Deposit / redeem queues ---

// RequestDeposit queues a deposit. The cash is accounted into the vault only
// when the execution engine fulfills the request.
func (v *Vault) RequestDeposit(depositor string, amount sdkmath.Int) error {
	if v.whitelist.Paused() {
		return registry.ErrProtocolPaused
	}
	if amount.IsNil() || !amount.IsPositive() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != types.VaultStatusActive {
		return ErrVaultDecommissioned
	}
	v.depositQueue = append(v.depositQueue, PendingDeposit{Depositor: depositor, Amount: amount})
	return nil
}

// RequestRedeem queues a redemption in shares.
func (v *Vault) RequestRedeem(redeemer string, shares sdkmath.Int) error {
	if v.whitelist.Paused() {
		return registry.ErrProtocolPaused
	}
	if shares.IsNil() || !shares.IsPositive() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != types.VaultStatusActive {
		return ErrVaultDecommissioned
	}
	if shares.GT(v.totalShares) {
		return ErrInsufficientShares
	}
	v.redeemQueue = append(v.redeemQueue, PendingRedeem{Redeemer: redeemer, Shares: shares})
	return nil
}

// PendingDepositAmount sums the first cap queued deposit amounts in submission
// order. This capped figure is what both the accounting pass and the
// execution pass must use, or value is double-counted across epochs.
func (v *Vault) PendingDepositAmount(cap int) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	total := sdkmath.ZeroInt()
	for i, d := range v.depositQueue {
		if i >= cap {
			break
		}
		total = total.Add(d.Amount)
	}
	return total
}

// PendingRedeemShares sums the first cap queued redeem share counts.
func (v *Vault) PendingRedeemShares(cap int) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	total := sdkmath.ZeroInt()
	for i, r := range v.redeemQueue {
		if i >= cap {
			break
		}
		total = total.Add(r.Shares)
	}
	return total
}

// PendingRedeemValue values the capped redeem shares at the current share
// price.
func (v *Vault) PendingRedeemValue(cap int) sdkmath.Int {
	shares := v.PendingRedeemShares(cap)
	v.mu.RLock()
	defer v.mu.RUnlock()
	return utils.ShareValue(shares, v.totalAssets, v.totalShares)
}

// QueueLengths returns the deposit and redeem queue lengths.
func (v *Vault) QueueLengths() (int, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.depositQueue), len(v.redeemQueue)
}

// --- Mutation surface reserved for the execution engine ---

// FulfillFlows drains the first depCount queued deposits and the first
// redeemCount queued redeems, oldest first, minting and burning shares
// against a single share price basis captured at entry. The counts are the
// ones the accounting pass pinned, never the live queue lengths: requests
// queued after that pass must wait for the next epoch or the totals diverge
// from what the order book was built on. With the single basis the resulting
// total matches t1Hat = t0 + cappedDeposits - cappedRedeemValue exactly.
func (v *Vault) FulfillFlows(depCount, redeemCount int) (depositAmount, redeemShares, redeemValue sdkmath.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	basisAssets := v.totalAssets
	basisShares := v.totalShares

	depositAmount = sdkmath.ZeroInt()
	mintedShares := sdkmath.ZeroInt()
	n := min(depCount, len(v.depositQueue))
	for _, d := range v.depositQueue[:n] {
		depositAmount = depositAmount.Add(d.Amount)
		mintedShares = mintedShares.Add(utils.SharesForValue(d.Amount, basisAssets, basisShares))
	}
	v.depositQueue = v.depositQueue[n:]

	redeemShares = sdkmath.ZeroInt()
	redeemValue = sdkmath.ZeroInt()
	m := min(redeemCount, len(v.redeemQueue))
	for _, r := range v.redeemQueue[:m] {
		redeemShares = redeemShares.Add(r.Shares)
	}
	redeemValue = utils.ShareValue(redeemShares, basisAssets, basisShares)
	v.redeemQueue = v.redeemQueue[m:]

	v.totalAssets = v.totalAssets.Add(depositAmount).Sub(redeemValue)
	v.totalShares = v.totalShares.Add(mintedShares).Sub(redeemShares)

	v.logger.Debug().
		Int("depositsFulfilled", n).
		Int("redeemsFulfilled", m).
		Str("depositAmount", depositAmount.String()).
		Str("redeemValue", redeemValue.String()).
		Msg("Pending flows fulfilled")
	return depositAmount, redeemShares, redeemValue
}

// UpdateVaultState is the execution engine's write-back of the post-trade
// portfolio and total value.
func (v *Vault) UpdateVaultState(portfolio types.Portfolio, totalAssets sdkmath.Int) error {
	if totalAssets.IsNil() || totalAssets.IsNegative() {
		return ErrInvalidAmount
	}
	seen := make(map[types.Asset]struct{}, len(portfolio))
	total := sdkmath.ZeroInt()
	for _, e := range portfolio {
		if e.Weight.IsNil() || e.Weight.IsNegative() {
			return fmt.Errorf("portfolio weight for %s cannot be negative", e.Asset)
		}
		if _, dup := seen[e.Asset]; dup {
			return fmt.Errorf("duplicate asset %s in portfolio", e.Asset)
		}
		seen[e.Asset] = struct{}{}
		total = total.Add(e.Weight)
	}
	if total.GT(sdkmath.NewInt(types.WeightScale)) {
		return fmt.Errorf("portfolio weights sum to %s, exceeding scale %d", total, types.WeightScale)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.portfolio = portfolio.Clone()
	v.totalAssets = totalAssets
	return nil
}

// --- Decommissioning lifecycle ---

// StartDecommission marks the vault for removal. New deposit and redeem
// requests are rejected from this point; funds are freed only after the next
// epoch's aggregation and execution complete.
func (v *Vault) StartDecommission(caller string) error {
	if v.whitelist.Paused() {
		return registry.ErrProtocolPaused
	}
	if caller != v.curator {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, caller)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != types.VaultStatusActive {
		return ErrVaultDecommissioned
	}
	v.status = types.VaultStatusDecommissioning
	v.logger.Warn().Msg("Vault marked for decommissioning")
	return nil
}

// FinalizeDecommission is the execution engine's drain: queued deposits are
// refunded untouched, the final cash balance is set, and the vault leaves the
// active set for good.
func (v *Vault) FinalizeDecommission(cash sdkmath.Int) error {
	if cash.IsNil() || cash.IsNegative() {
		return ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.status != types.VaultStatusDecommissioning {
		return fmt.Errorf("%w: status is %s", ErrNotDecommissioned, v.status)
	}
	refunded := len(v.depositQueue)
	dropped := len(v.redeemQueue)
	v.depositQueue = nil
	// Queued redemptions are void once the drain is done. The holders still
	// own their shares and exit through SynchronousRedeem instead.
	v.redeemQueue = nil
	v.portfolio = nil
	v.totalAssets = sdkmath.ZeroInt()
	v.cash = cash
	v.status = types.VaultStatusDecommissioned
	v.logger.Warn().
		Int("depositsRefunded", refunded).
		Int("redeemsDropped", dropped).
		Str("finalCash", cash.String()).
		Msg("Vault decommissioned")
	return nil
}

// SynchronousRedeem pays out shares directly against the vault's final cash
// balance. Available only once decommissioning has fully completed; while the
// drain is in progress the call is disabled.
func (v *Vault) SynchronousRedeem(redeemer string, shares sdkmath.Int) (sdkmath.Int, error) {
	if v.whitelist.Paused() {
		return sdkmath.ZeroInt(), registry.ErrProtocolPaused
	}
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidAmount
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.status {
	case types.VaultStatusActive:
		return sdkmath.ZeroInt(), fmt.Errorf("%w: active vaults redeem through the pending queue", ErrSynchronousCallDisabled)
	case types.VaultStatusDecommissioning:
		return sdkmath.ZeroInt(), ErrSynchronousCallDisabled
	}
	if shares.GT(v.totalShares) {
		return sdkmath.ZeroInt(), ErrInsufficientShares
	}
	value := utils.ShareValue(shares, v.cash, v.totalShares)
	if value.GT(v.cash) {
		return sdkmath.ZeroInt(), ErrInsufficientCash
	}
	v.cash = v.cash.Sub(value)
	v.totalShares = v.totalShares.Sub(shares)
	v.logger.Info().
		Str("redeemer", redeemer).
		Str("shares", shares.String()).
		Str("value", value.String()).
		Msg("Synchronous redemption paid from final cash")
	return value, nil
}

// FinalCash returns the cash balance left for synchronous redemption.
func (v *Vault) FinalCash() sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cash
}
