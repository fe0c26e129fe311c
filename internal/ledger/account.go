package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	// AccountScopeWallet is a per-identity settlement-asset balance
	// (the external funding source purchase debits and payout credits).
	AccountScopeWallet AccountScope = iota

	// AccountScopeVault is the pooled risk escrow backing all coverage.
	AccountScopeVault

	// AccountScopeExternal is the boundary with the settlement-asset
	// rails (on/off-ramp). Funding a wallet moves value across it.
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Wallet sub-types
	SubTypeSettlement AccountSubType = iota

	// Vault sub-types
	SubTypeVaultEscrow

	// External sub-types
	SubTypeExternalSettlement
)

// AssetID maps settlement-asset strings to numeric IDs for performance
type AssetID uint16

var (
	assetToID = map[string]AssetID{
		"USDC": 1,
		"USDT": 2,
		"DAI":  3,
	}
	idToAsset = map[AssetID]string{
		1: "USDC",
		2: "USDT",
		3: "DAI",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for wallets, fixed tag for vault/external
	SubType  AccountSubType
	AssetID  AssetID
}

// NewWalletAccountKey creates a key for an identity's wallet account
func NewWalletAccountKey(owner uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeWallet,
		EntityID: owner,
		SubType:  SubTypeSettlement,
		AssetID:  assetID,
	}
}

// NewVaultAccountKey creates the key for the pooled escrow account
func NewVaultAccountKey(assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte("escrow"))
	return AccountKey{
		Scope:    AccountScopeVault,
		EntityID: entityID,
		SubType:  SubTypeVaultEscrow,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates the key for the settlement rails boundary
func NewExternalAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalSettlement,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeWallet:
		owner := uuid.UUID(k.EntityID)
		return fmt.Sprintf("wallet:%s:%s", owner.String(), assetName)
	case AccountScopeVault:
		return fmt.Sprintf("vault:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeSettlement:
		return "settlement"
	case SubTypeVaultEscrow:
		return "escrow"
	case SubTypeExternalSettlement:
		return "settlement"
	default:
		return "unknown"
	}
}
