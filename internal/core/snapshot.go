package core

import (
	"zyura/internal/ledger"
	"zyura/internal/state"

	"github.com/google/uuid"
)

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte
	Balances  map[ledger.AccountKey]int64

	ConfigInitialized bool
	ConfigAdmin       uuid.UUID
	SettlementAsset   ledger.AssetID
	OracleSource      string
	Paused            bool
	Roles             map[state.Role]uuid.UUID

	Products  []*state.Product
	Policies  []*state.Policy
	Providers []*state.LiquidityProvider

	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the engine's in-memory state. On warm
// restart, load the latest snapshot then replay the command log tail.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.sequence = snap.Sequence + 1 // next sequence to assign
	e.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		e.book.SetBalance(key, balance)
	}

	if snap.ConfigInitialized {
		e.config.Initialize(snap.ConfigAdmin, snap.SettlementAsset, snap.OracleSource)
		e.config.Paused = snap.Paused
		e.config.RestoreRoles(snap.Roles)
	}

	for _, p := range snap.Products {
		e.catalog.Create(p)
	}
	for _, p := range snap.Policies {
		e.policies.Add(p)
	}
	for _, lp := range snap.Providers {
		e.providers.Restore(lp)
	}

	for partition, nextSeq := range snap.SequenceState {
		e.seqValidator.SetExpectedSequence(partition, nextSeq)
	}

	e.journalGen.SetSequence(snap.Sequence)
}

// WarmLRU loads recent idempotency keys so replay and the first live
// commands skip the cold-path DB lookup.
func (e *Engine) WarmLRU(keys []string) {
	e.deduper.WarmFromKeys(keys)
}

// SetReplaying toggles replay mode: committed commands are re-applied to
// state without re-emitting to the persistence or projection channels.
func (e *Engine) SetReplaying(replaying bool) {
	e.replaying = replaying
}

// GetSequence returns the next sequence the engine will assign.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:  e.sequence - 1, // last processed sequence
		StateHash: e.hasher.GetPrevHash(),
		Balances:  e.book.Snapshot(),

		ConfigInitialized: e.config.Initialized,
		ConfigAdmin:       e.config.Admin,
		SettlementAsset:   e.config.SettlementAsset,
		OracleSource:      e.config.OracleSource,
		Paused:            e.config.Paused,
		Roles:             e.config.Roles(),

		Products:  e.catalog.All(),
		Policies:  e.policies.All(),
		Providers: e.providers.All(),

		SequenceState:   e.seqValidator.Partitions(),
		IdempotencyKeys: e.deduper.Keys(),
	}
}
