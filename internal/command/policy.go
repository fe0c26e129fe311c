package command

import "github.com/google/uuid"

// PurchasePolicy buys coverage against a product for a specific flight.
// The engine derives the policy ID from (policyholder, flight, departure,
// nonce); callers never supply one.
type PurchasePolicy struct {
	CommandID          uuid.UUID `json:"command_id"`
	ActorID            uuid.UUID `json:"actor_id"`
	ProductID          uint64    `json:"product_id"`
	FlightNumber       string    `json:"flight_number"`
	DepartureTimestamp int64     `json:"departure_timestamp"`
	PremiumOffered     int64     `json:"premium_offered"`
	Nonce              uint64    `json:"nonce"`
	Sequence           int64     `json:"sequence"`
	Timestamp          int64     `json:"timestamp"`
}

func (c *PurchasePolicy) IdempotencyKey() string   { return c.CommandID.String() }
func (c *PurchasePolicy) CommandType() CommandType { return CommandTypePurchasePolicy }
func (c *PurchasePolicy) Actor() uuid.UUID         { return c.ActorID }
func (c *PurchasePolicy) SourceSequence() int64    { return c.Sequence }
func (c *PurchasePolicy) CommandTimestamp() int64  { return c.Timestamp }

// ProcessPayout settles an active policy against an oracle-attested delay.
type ProcessPayout struct {
	CommandID    uuid.UUID `json:"command_id"`
	ActorID      uuid.UUID `json:"actor_id"`
	PolicyID     uint64    `json:"policy_id"`
	DelayMinutes int64     `json:"delay_minutes"`
	OracleSource string    `json:"oracle_source"`
	Sequence     int64     `json:"sequence"`
	Timestamp    int64     `json:"timestamp"`
}

func (c *ProcessPayout) IdempotencyKey() string   { return c.CommandID.String() }
func (c *ProcessPayout) CommandType() CommandType { return CommandTypeProcessPayout }
func (c *ProcessPayout) Actor() uuid.UUID         { return c.ActorID }
func (c *ProcessPayout) SourceSequence() int64    { return c.Sequence }
func (c *ProcessPayout) CommandTimestamp() int64  { return c.Timestamp }

// ExpirePolicy retires a single active policy whose claim window has lapsed.
type ExpirePolicy struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	PolicyID  uint64    `json:"policy_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *ExpirePolicy) IdempotencyKey() string   { return c.CommandID.String() }
func (c *ExpirePolicy) CommandType() CommandType { return CommandTypeExpirePolicy }
func (c *ExpirePolicy) Actor() uuid.UUID         { return c.ActorID }
func (c *ExpirePolicy) SourceSequence() int64    { return c.Sequence }
func (c *ExpirePolicy) CommandTimestamp() int64  { return c.Timestamp }

// SweepExpired retires every active policy past its claim window in one
// deterministic pass.
type SweepExpired struct {
	CommandID uuid.UUID `json:"command_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"`
}

func (c *SweepExpired) IdempotencyKey() string   { return c.CommandID.String() }
func (c *SweepExpired) CommandType() CommandType { return CommandTypeSweepExpired }
func (c *SweepExpired) Actor() uuid.UUID         { return c.ActorID }
func (c *SweepExpired) SourceSequence() int64    { return c.Sequence }
func (c *SweepExpired) CommandTimestamp() int64  { return c.Timestamp }
