package command

import (
	"time"

	"github.com/google/uuid"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeInitialize
	CommandTypeSetPauseStatus
	CommandTypeCloseConfig
	CommandTypeAssignRole
	CommandTypeCreateProduct
	CommandTypeUpdateProduct
	CommandTypeFundWallet
	CommandTypePurchasePolicy
	CommandTypeProcessPayout
	CommandTypeExpirePolicy
	CommandTypeSweepExpired
	CommandTypeDepositLiquidity
	CommandTypeWithdrawLiquidity
)

// CommandEnvelope wraps every committed command in the log
type CommandEnvelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Actor returns the identity invoking the command
	Actor() uuid.UUID

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// CommandTimestamp returns the versioned input time (unix seconds)
	CommandTimestamp() int64
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypeInitialize:
		return "Initialize"
	case CommandTypeSetPauseStatus:
		return "SetPauseStatus"
	case CommandTypeCloseConfig:
		return "CloseConfig"
	case CommandTypeAssignRole:
		return "AssignRole"
	case CommandTypeCreateProduct:
		return "CreateProduct"
	case CommandTypeUpdateProduct:
		return "UpdateProduct"
	case CommandTypeFundWallet:
		return "FundWallet"
	case CommandTypePurchasePolicy:
		return "PurchasePolicy"
	case CommandTypeProcessPayout:
		return "ProcessPayout"
	case CommandTypeExpirePolicy:
		return "ExpirePolicy"
	case CommandTypeSweepExpired:
		return "SweepExpired"
	case CommandTypeDepositLiquidity:
		return "DepositLiquidity"
	case CommandTypeWithdrawLiquidity:
		return "WithdrawLiquidity"
	default:
		return "Unknown"
	}
}
