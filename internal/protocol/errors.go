// Package protocol defines the error taxonomy shared by the engine, the
// ops API, and the ingestion layer. Every rejected command maps to exactly
// one sentinel so callers can branch with errors.Is.
package protocol

import (
	"errors"
	"fmt"
)

var (
	// Lifecycle
	ErrAlreadyInitialized  = errors.New("protocol already initialized")
	ErrNotInitialized      = errors.New("protocol not initialized")
	ErrProtocolPaused      = errors.New("protocol is paused")
	ErrVaultNotEmpty       = errors.New("risk vault still holds funds")
	ErrPoliciesOutstanding = errors.New("active policies still outstanding")

	// Authorization
	ErrUnauthorized          = errors.New("actor lacks required capability")
	ErrWithdrawalNotApproved = errors.New("withdrawal missing approver countersignature")
	ErrOracleSourceMismatch  = errors.New("oracle source does not match configured source")

	// Validation
	ErrUnknownAsset         = errors.New("unknown settlement asset")
	ErrUnknownRole          = errors.New("unknown role name")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidProductParams = errors.New("invalid product parameters")
	ErrInvalidFlightNumber  = errors.New("invalid flight number")
	ErrDepartureInPast      = errors.New("departure must be in the future")

	// Catalog
	ErrProductExists   = errors.New("product already exists")
	ErrProductNotFound = errors.New("product not found")
	ErrProductInactive = errors.New("product is not active")

	// Policy lifecycle
	ErrPolicyIDCollision    = errors.New("derived policy id collides with existing policy")
	ErrPolicyNotFound       = errors.New("policy not found")
	ErrPolicyNotActive      = errors.New("policy is not active")
	ErrDelayThresholdNotMet = errors.New("reported delay below payout threshold")
	ErrClaimWindowOpen      = errors.New("claim window has not lapsed")

	// Funds
	ErrInsufficientPremium        = errors.New("offered premium below required premium")
	ErrInsufficientFunds          = errors.New("wallet balance insufficient")
	ErrInsufficientVaultLiquidity = errors.New("vault liquidity insufficient")
	ErrProviderNotFound           = errors.New("liquidity provider not found")

	// ErrExceedsActiveDeposit refines ErrInvalidAmount: a withdrawal asking
	// for more than the provider's active deposit is a malformed amount, not
	// a funds shortage.
	ErrExceedsActiveDeposit = fmt.Errorf("%w: withdrawal exceeds active deposit", ErrInvalidAmount)
)

// ErrorClass buckets an error into a stable label for metrics and the ops
// API status mapping. Unrecognized errors class as "internal".
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyInitialized),
		errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrVaultNotEmpty),
		errors.Is(err, ErrPoliciesOutstanding):
		return "lifecycle"
	case errors.Is(err, ErrProtocolPaused):
		return "paused"
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrWithdrawalNotApproved),
		errors.Is(err, ErrOracleSourceMismatch):
		return "unauthorized"
	case errors.Is(err, ErrUnknownAsset),
		errors.Is(err, ErrUnknownRole),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidProductParams),
		errors.Is(err, ErrInvalidFlightNumber),
		errors.Is(err, ErrDepartureInPast):
		return "validation"
	case errors.Is(err, ErrProductExists),
		errors.Is(err, ErrPolicyIDCollision):
		return "conflict"
	case errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrPolicyNotFound),
		errors.Is(err, ErrProviderNotFound):
		return "not_found"
	case errors.Is(err, ErrProductInactive),
		errors.Is(err, ErrPolicyNotActive),
		errors.Is(err, ErrDelayThresholdNotMet),
		errors.Is(err, ErrClaimWindowOpen):
		return "precondition"
	case errors.Is(err, ErrInsufficientPremium),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientVaultLiquidity):
		return "insufficient_funds"
	default:
		return "internal"
	}
}
