package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// VaultBook maintains in-memory account balances for the settlement asset.
// The vault escrow account is the RiskVault: its balance is, by double-entry
// construction, the running sum of all liquidity deposits and premium
// receipts minus all withdrawals and payouts.
type VaultBook struct {
	balances map[AccountKey]int64
}

func NewVaultBook() *VaultBook {
	return &VaultBook{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (vb *VaultBook) ApplyJournal(j Journal) {
	vb.balances[j.DebitAccount] += j.Amount
	vb.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (vb *VaultBook) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		vb.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (vb *VaultBook) GetBalance(key AccountKey) int64 {
	return vb.balances[key]
}

// SetBalance overwrites an account balance (snapshot restore only)
func (vb *VaultBook) SetBalance(key AccountKey, balance int64) {
	vb.balances[key] = balance
}

// VaultBalance returns the pooled escrow balance
func (vb *VaultBook) VaultBalance(assetID AssetID) int64 {
	return vb.GetBalance(NewVaultAccountKey(assetID))
}

// WalletBalance returns an identity's settlement-asset balance
func (vb *VaultBook) WalletBalance(owner uuid.UUID, assetID AssetID) int64 {
	return vb.GetBalance(NewWalletAccountKey(owner, assetID))
}

// === Invariant Checks ===

// ValidateVaultNonNegative checks the escrow balance is >= 0
func (vb *VaultBook) ValidateVaultNonNegative(assetID AssetID) error {
	balance := vb.VaultBalance(assetID)
	if balance < 0 {
		return fmt.Errorf("vault escrow has negative balance for asset %d: %d", assetID, balance)
	}
	return nil
}

// ValidateWalletNonNegative checks an identity's wallet balance is >= 0
func (vb *VaultBook) ValidateWalletNonNegative(owner uuid.UUID, assetID AssetID) error {
	balance := vb.WalletBalance(owner, assetID)
	if balance < 0 {
		return fmt.Errorf("wallet %s has negative balance for asset %d: %d",
			owner.String(), assetID, balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum book)
func (vb *VaultBook) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range vb.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (vb *VaultBook) ValidateNonNegative(key AccountKey) error {
	balance := vb.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing and persistence)
func (vb *VaultBook) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(vb.balances))
	for k, v := range vb.balances {
		snapshot[k] = v
	}
	return snapshot
}
