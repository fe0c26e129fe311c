package command

import "github.com/google/uuid"

// FundWallet credits an internal wallet from the external settlement rails.
type FundWallet struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Wallet    uuid.UUID `json:"wallet"`
	Amount    int64     `json:"amount"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *FundWallet) IdempotencyKey() string   { return c.CommandID.String() }
func (c *FundWallet) CommandType() CommandType { return CommandTypeFundWallet }
func (c *FundWallet) Actor() uuid.UUID         { return c.ActorID }
func (c *FundWallet) SourceSequence() int64    { return c.Sequence }
func (c *FundWallet) CommandTimestamp() int64  { return c.Timestamp }

// DepositLiquidity moves provider funds into the risk vault escrow.
type DepositLiquidity struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Amount    int64     `json:"amount"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *DepositLiquidity) IdempotencyKey() string   { return c.CommandID.String() }
func (c *DepositLiquidity) CommandType() CommandType { return CommandTypeDepositLiquidity }
func (c *DepositLiquidity) Actor() uuid.UUID         { return c.ActorID }
func (c *DepositLiquidity) SourceSequence() int64    { return c.Sequence }
func (c *DepositLiquidity) CommandTimestamp() int64  { return c.Timestamp }

// WithdrawLiquidity returns escrowed funds to a provider's wallet. The
// command is co-authorized: the provider initiates, the withdrawal
// approver countersigns.
type WithdrawLiquidity struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Approver  uuid.UUID `json:"approver"`
	Amount    int64     `json:"amount"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *WithdrawLiquidity) IdempotencyKey() string   { return c.CommandID.String() }
func (c *WithdrawLiquidity) CommandType() CommandType { return CommandTypeWithdrawLiquidity }
func (c *WithdrawLiquidity) Actor() uuid.UUID         { return c.ActorID }
func (c *WithdrawLiquidity) SourceSequence() int64    { return c.Sequence }
func (c *WithdrawLiquidity) CommandTimestamp() int64  { return c.Timestamp }
