package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zyura/internal/core"
	"zyura/internal/ledger"
	"zyura/internal/state"
)

// BalanceRow is the JSON-serializable form of one ledger account balance.
// AccountKey is a struct key and cannot be a JSON map key directly.
type BalanceRow struct {
	Scope    uint8  `json:"scope"`
	EntityID string `json:"entity_id"` // hex-free: uuid string for wallets, tag for vault/external
	SubType  uint8  `json:"sub_type"`
	AssetID  uint16 `json:"asset_id"`
	Balance  int64  `json:"balance"`
}

// SnapshotData is the JSON document stored in command_log.snapshots.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	StateHash []byte `json:"state_hash"`

	Balances []BalanceRow `json:"balances"`

	ConfigInitialized bool              `json:"config_initialized"`
	ConfigAdmin       uuid.UUID         `json:"config_admin"`
	SettlementAsset   uint16            `json:"settlement_asset"`
	OracleSource      string            `json:"oracle_source"`
	Paused            bool              `json:"paused"`
	Roles             map[string]string `json:"roles"`

	Products  []*state.Product           `json:"products"`
	Policies  []*state.Policy            `json:"policies"`
	Providers []*state.LiquidityProvider `json:"providers"`

	SequenceState   map[string]int64 `json:"sequence_state"`
	IdempotencyKeys []string         `json:"idempotency_keys"`
}

// SnapshotFromState converts the engine's typed snapshot into storage form.
func SnapshotFromState(snap *core.SnapshotState) *SnapshotData {
	data := &SnapshotData{
		Sequence:          snap.Sequence,
		StateHash:         snap.StateHash[:],
		ConfigInitialized: snap.ConfigInitialized,
		ConfigAdmin:       snap.ConfigAdmin,
		SettlementAsset:   uint16(snap.SettlementAsset),
		OracleSource:      snap.OracleSource,
		Paused:            snap.Paused,
		Roles:             make(map[string]string, len(snap.Roles)),
		Products:          snap.Products,
		Policies:          snap.Policies,
		Providers:         snap.Providers,
		SequenceState:     snap.SequenceState,
		IdempotencyKeys:   snap.IdempotencyKeys,
	}

	for role, holder := range snap.Roles {
		data.Roles[role.String()] = holder.String()
	}

	data.Balances = make([]BalanceRow, 0, len(snap.Balances))
	for key, balance := range snap.Balances {
		data.Balances = append(data.Balances, BalanceRow{
			Scope:    uint8(key.Scope),
			EntityID: uuid.UUID(key.EntityID).String(),
			SubType:  uint8(key.SubType),
			AssetID:  uint16(key.AssetID),
			Balance:  balance,
		})
	}

	return data
}

// ToState converts stored snapshot data back into the engine's typed form.
func (d *SnapshotData) ToState() (*core.SnapshotState, error) {
	snap := &core.SnapshotState{
		Sequence:          d.Sequence,
		Balances:          make(map[ledger.AccountKey]int64, len(d.Balances)),
		ConfigInitialized: d.ConfigInitialized,
		ConfigAdmin:       d.ConfigAdmin,
		SettlementAsset:   ledger.AssetID(d.SettlementAsset),
		OracleSource:      d.OracleSource,
		Paused:            d.Paused,
		Roles:             make(map[state.Role]uuid.UUID, len(d.Roles)),
		Products:          d.Products,
		Policies:          d.Policies,
		Providers:         d.Providers,
		SequenceState:     d.SequenceState,
		IdempotencyKeys:   d.IdempotencyKeys,
	}

	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want 32", len(d.StateHash))
	}
	copy(snap.StateHash[:], d.StateHash)

	for roleName, holderStr := range d.Roles {
		role, ok := state.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("snapshot role %q: unknown role", roleName)
		}
		holder, err := uuid.Parse(holderStr)
		if err != nil {
			return nil, fmt.Errorf("snapshot role holder %q: %w", holderStr, err)
		}
		snap.Roles[role] = holder
	}

	for _, row := range d.Balances {
		entity, err := uuid.Parse(row.EntityID)
		if err != nil {
			return nil, fmt.Errorf("snapshot account entity %q: %w", row.EntityID, err)
		}
		key := ledger.AccountKey{
			Scope:    ledger.AccountScope(row.Scope),
			EntityID: entity,
			SubType:  ledger.AccountSubType(row.SubType),
			AssetID:  ledger.AssetID(row.AssetID),
		}
		snap.Balances[key] = row.Balance
	}

	return snap, nil
}

// SnapshotManager stores and loads engine state snapshots so restart can
// avoid replaying the full command log.
type SnapshotManager struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewSnapshotManager(db *sql.DB, log zerolog.Logger) *SnapshotManager {
	return &SnapshotManager{db: db, log: log}
}

// SaveSnapshot writes a snapshot at the given sequence. Saving the same
// sequence twice overwrites; snapshots start unverified.
func (m *SnapshotManager) SaveSnapshot(ctx context.Context, data *SnapshotData) error {
	doc, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	start := time.Now()
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO command_log.snapshots (sequence, state_hash, snapshot_data, verified)
		VALUES ($1, $2, $3, FALSE)
		ON CONFLICT (sequence) DO UPDATE
		SET state_hash = EXCLUDED.state_hash,
		    snapshot_data = EXCLUDED.snapshot_data,
		    verified = FALSE,
		    created_at = NOW()
	`, data.Sequence, data.StateHash, doc)
	if err != nil {
		return fmt.Errorf("save snapshot at sequence %d: %w", data.Sequence, err)
	}

	m.log.Info().
		Int64("sequence", data.Sequence).
		Int("bytes", len(doc)).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return nil
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil
// when none exists.
func (m *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var doc []byte
	err := m.db.QueryRowContext(ctx, `
		SELECT snapshot_data FROM command_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}

	var data SnapshotData
	if err := json.Unmarshal(doc, &data); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &data, nil
}

// MarkVerified flags a snapshot as safe to restore from. Called after the
// replayed state hash matches the snapshot's recorded hash.
func (m *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	res, err := m.db.ExecContext(ctx,
		`UPDATE command_log.snapshots SET verified = TRUE WHERE sequence = $1`,
		sequence,
	)
	if err != nil {
		return fmt.Errorf("mark snapshot %d verified: %w", sequence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no snapshot at sequence %d", sequence)
	}
	return nil
}

// LoadCommandsFrom reads committed commands starting at fromSequence,
// ordered by sequence, up to limit rows.
func (m *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM command_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("load commands from %d: %w", fromSequence, err)
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var row CommandRow
		if err := rows.Scan(
			&row.Sequence, &row.CommandType, &row.IdempotencyKey, &row.Payload,
			&row.StateHash, &row.PrevHash, &row.Timestamp, &row.SourceSequence,
		); err != nil {
			return nil, fmt.Errorf("scan command row: %w", err)
		}
		commands = append(commands, row)
	}
	return commands, rows.Err()
}

// GetLatestSequence returns the highest committed sequence, or -1 when the
// command log is empty.
func (m *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM command_log.commands`,
	).Scan(&seq)
	if err != nil {
		return -1, fmt.Errorf("get latest sequence: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
