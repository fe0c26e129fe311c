package command

import "github.com/google/uuid"

// Initialize creates the protocol config singleton. One-shot.
type Initialize struct {
	CommandID       uuid.UUID `json:"command_id"`
	ActorID         uuid.UUID `json:"actor_id"`
	SettlementAsset string    `json:"settlement_asset"`
	OracleSource    string    `json:"oracle_source"`
	Sequence        int64     `json:"sequence"`
	Timestamp       int64     `json:"timestamp"`
}

func (c *Initialize) IdempotencyKey() string   { return c.CommandID.String() }
func (c *Initialize) CommandType() CommandType { return CommandTypeInitialize }
func (c *Initialize) Actor() uuid.UUID         { return c.ActorID }
func (c *Initialize) SourceSequence() int64    { return c.Sequence }
func (c *Initialize) CommandTimestamp() int64  { return c.Timestamp }

// SetPauseStatus flips the protocol-wide pause flag.
type SetPauseStatus struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Paused    bool      `json:"paused"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *SetPauseStatus) IdempotencyKey() string   { return c.CommandID.String() }
func (c *SetPauseStatus) CommandType() CommandType { return CommandTypeSetPauseStatus }
func (c *SetPauseStatus) Actor() uuid.UUID         { return c.ActorID }
func (c *SetPauseStatus) SourceSequence() int64    { return c.Sequence }
func (c *SetPauseStatus) CommandTimestamp() int64  { return c.Timestamp }

// CloseConfig destroys the config singleton and all role grants.
type CloseConfig struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *CloseConfig) IdempotencyKey() string   { return c.CommandID.String() }
func (c *CloseConfig) CommandType() CommandType { return CommandTypeCloseConfig }
func (c *CloseConfig) Actor() uuid.UUID         { return c.ActorID }
func (c *CloseConfig) SourceSequence() int64    { return c.Sequence }
func (c *CloseConfig) CommandTimestamp() int64  { return c.Timestamp }

// AssignRole grants a protocol capability to an identity.
type AssignRole struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Role      string    `json:"role"`
	Holder    uuid.UUID `json:"holder"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *AssignRole) IdempotencyKey() string   { return c.CommandID.String() }
func (c *AssignRole) CommandType() CommandType { return CommandTypeAssignRole }
func (c *AssignRole) Actor() uuid.UUID         { return c.ActorID }
func (c *AssignRole) SourceSequence() int64    { return c.Sequence }
func (c *AssignRole) CommandTimestamp() int64  { return c.Timestamp }
