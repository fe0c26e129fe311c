// Package receipt mints the proof-of-coverage token handed back to a
// policyholder after purchase. The token is deterministic: recovery replay
// regenerates byte-identical receipts.
package receipt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/google/uuid"
)

// Receipt is the proof of coverage for one purchased policy.
type Receipt struct {
	PolicyID     uint64    `json:"policy_id"`
	Policyholder uuid.UUID `json:"policyholder"`
	ProductID    uint64    `json:"product_id"`
	PremiumPaid  int64     `json:"premium_paid"`
	Sequence     int64     `json:"sequence"`
	IssuedAt     int64     `json:"issued_at"`
	Token        string    `json:"token"`
}

// Mint builds a receipt with its coverage token.
func Mint(policyID uint64, policyholder uuid.UUID, productID uint64, premiumPaid, sequence, issuedAt int64) *Receipt {
	return &Receipt{
		PolicyID:     policyID,
		Policyholder: policyholder,
		ProductID:    productID,
		PremiumPaid:  premiumPaid,
		Sequence:     sequence,
		IssuedAt:     issuedAt,
		Token:        Token(policyID, policyholder, sequence),
	}
}

// Token derives the coverage token: SHA-256 over the policy identity and
// the ledger sequence it was committed at.
func Token(policyID uint64, policyholder uuid.UUID, sequence int64) string {
	hasher := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], policyID)
	hasher.Write(buf[:])
	hasher.Write(policyholder[:])
	binary.BigEndian.PutUint64(buf[:], uint64(sequence))
	hasher.Write(buf[:])

	return hex.EncodeToString(hasher.Sum(nil))
}
