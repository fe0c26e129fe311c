package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks book invariants
type InvariantValidator struct {
	book *VaultBook
}

func NewInvariantValidator(book *VaultBook) *InvariantValidator {
	return &InvariantValidator{
		book: book,
	}
}

// ValidateBatchBalance verifies the batch is balanced and well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultSolvent verifies the escrow never went negative
func (v *InvariantValidator) ValidateVaultSolvent(assetID AssetID) error {
	return v.book.ValidateVaultNonNegative(assetID)
}

// ValidateWalletNonNegative checks a wallet balance >= 0
func (v *InvariantValidator) ValidateWalletNonNegative(owner uuid.UUID, assetID AssetID) error {
	return v.book.ValidateWalletNonNegative(owner, assetID)
}

// ValidateGlobalBalance verifies the book is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.book.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
