package command

import "github.com/google/uuid"

// CreateProduct registers a new coverage product.
type CreateProduct struct {
	CommandID         uuid.UUID `json:"command_id"`
	ActorID           uuid.UUID `json:"actor_id"`
	ProductID         uint64    `json:"product_id"`
	FlightRoute       string    `json:"flight_route"`
	DelayThresholdMin int64     `json:"delay_threshold_min"`
	CoverageAmount    int64     `json:"coverage_amount"`
	PremiumRateBps    int64     `json:"premium_rate_bps"`
	ClaimWindowHours  int64     `json:"claim_window_hours"`
	Sequence          int64     `json:"sequence"`
	Timestamp         int64     `json:"timestamp"`
}

func (c *CreateProduct) IdempotencyKey() string   { return c.CommandID.String() }
func (c *CreateProduct) CommandType() CommandType { return CommandTypeCreateProduct }
func (c *CreateProduct) Actor() uuid.UUID         { return c.ActorID }
func (c *CreateProduct) SourceSequence() int64    { return c.Sequence }
func (c *CreateProduct) CommandTimestamp() int64  { return c.Timestamp }

// UpdateProduct mutates an existing product's terms. Policies already sold
// keep the terms they were purchased under.
type UpdateProduct struct {
	CommandID         uuid.UUID `json:"command_id"`
	ActorID           uuid.UUID `json:"actor_id"`
	ProductID         uint64    `json:"product_id"`
	DelayThresholdMin int64     `json:"delay_threshold_min"`
	CoverageAmount    int64     `json:"coverage_amount"`
	PremiumRateBps    int64     `json:"premium_rate_bps"`
	ClaimWindowHours  int64     `json:"claim_window_hours"`
	Active            bool      `json:"active"`
	Sequence          int64     `json:"sequence"`
	Timestamp         int64     `json:"timestamp"`
}

func (c *UpdateProduct) IdempotencyKey() string   { return c.CommandID.String() }
func (c *UpdateProduct) CommandType() CommandType { return CommandTypeUpdateProduct }
func (c *UpdateProduct) Actor() uuid.UUID         { return c.ActorID }
func (c *UpdateProduct) SourceSequence() int64    { return c.Sequence }
func (c *UpdateProduct) CommandTimestamp() int64  { return c.Timestamp }
