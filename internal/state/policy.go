package state

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxFlightNumberLen bounds the flight number field.
const MaxFlightNumberLen = 20

// PolicyStatus tracks a policy through its lifecycle. PaidOut and Expired
// are terminal.
type PolicyStatus int32

const (
	PolicyStatusActive PolicyStatus = iota
	PolicyStatusPaidOut
	PolicyStatusExpired
)

func (ps PolicyStatus) String() string {
	switch ps {
	case PolicyStatusActive:
		return "Active"
	case PolicyStatusPaidOut:
		return "PaidOut"
	case PolicyStatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates status transitions.
func (ps PolicyStatus) CanTransitionTo(next PolicyStatus) bool {
	if ps != PolicyStatusActive {
		return false
	}
	return next == PolicyStatusPaidOut || next == PolicyStatusExpired
}

// Policy is one purchased coverage contract.
type Policy struct {
	PolicyID           uint64
	ProductID          uint64
	Policyholder       uuid.UUID
	FlightNumber       string
	DepartureTimestamp int64 // unix seconds, scheduled departure
	CoverageAmount     int64
	ClaimWindowSeconds int64 // snapshotted from the product at purchase
	PremiumPaid        int64
	Status             PolicyStatus
	PurchasedAt        int64
	SettledAt          int64 // set when the policy leaves Active
	PayoutAmount       int64 // set on payout
	DelayMinutes       int64 // oracle-reported delay at settlement
}

// PolicyBook holds all policies. Single-writer, no locking.
type PolicyBook struct {
	policies map[uint64]*Policy
}

func NewPolicyBook() *PolicyBook {
	return &PolicyBook{policies: make(map[uint64]*Policy)}
}

func (pb *PolicyBook) Get(policyID uint64) (*Policy, bool) {
	p, ok := pb.policies[policyID]
	return p, ok
}

func (pb *PolicyBook) Exists(policyID uint64) bool {
	_, ok := pb.policies[policyID]
	return ok
}

// Add registers a policy. Callers must have rejected duplicate IDs already.
func (pb *PolicyBook) Add(p *Policy) {
	pb.policies[p.PolicyID] = p
}

// Transition moves a policy to a terminal status, recording the settlement
// timestamp. Returns an error when the transition is not permitted.
func (pb *PolicyBook) Transition(policyID uint64, next PolicyStatus, timestamp int64) error {
	p, ok := pb.policies[policyID]
	if !ok {
		return fmt.Errorf("policy %d not found", policyID)
	}
	if !p.Status.CanTransitionTo(next) {
		return fmt.Errorf("policy %d: invalid transition %s -> %s", policyID, p.Status, next)
	}
	p.Status = next
	p.SettledAt = timestamp
	return nil
}

// ExpiryCandidates returns the IDs of active policies whose claim window
// has lapsed as of now. A policy is lapsed strictly after
// departure + claim window.
func (pb *PolicyBook) ExpiryCandidates(now int64) []uint64 {
	var out []uint64
	for id, p := range pb.policies {
		if p.Status == PolicyStatusActive && now > p.DepartureTimestamp+p.ClaimWindowSeconds {
			out = append(out, id)
		}
	}
	return out
}

// All returns every policy in unspecified order, for snapshots and queries.
func (pb *PolicyBook) All() []*Policy {
	out := make([]*Policy, 0, len(pb.policies))
	for _, p := range pb.policies {
		out = append(out, p)
	}
	return out
}

func (pb *PolicyBook) Count() int {
	return len(pb.policies)
}

// CountByStatus tallies policies per status, for metrics.
func (pb *PolicyBook) CountByStatus() map[PolicyStatus]int {
	out := make(map[PolicyStatus]int)
	for _, p := range pb.policies {
		out[p.Status]++
	}
	return out
}
