package core

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/google/uuid"
)

// DerivePolicyID computes a policy's identity from its purchase inputs:
// SHA-256(policyholder || flight || departure || nonce), truncated to the
// first 8 bytes big-endian. The same inputs always derive the same ID, so
// a retried purchase lands on the existing policy instead of minting a
// second one. Distinct inputs colliding on the truncated hash is resolved
// by rejecting the purchase; the caller retries with a fresh nonce.
func DerivePolicyID(policyholder uuid.UUID, flightNumber string, departure int64, nonce uint64) uint64 {
	hasher := sha256.New()

	hasher.Write(policyholder[:])
	hasher.Write([]byte(flightNumber))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(departure))
	hasher.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], nonce)
	hasher.Write(buf[:])

	sum := hasher.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
