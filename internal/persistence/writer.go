package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"zyura/internal/command"
	"zyura/internal/ledger"
)

// CommandLogWriter writes committed commands and their journals to Postgres
// using multi-row INSERT. Writes are idempotent: replays and crash-recovery
// re-flushes land on ON CONFLICT DO NOTHING.
type CommandLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in command_log.commands
type CommandRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in command_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	CommandRef    string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// CoreOutput is the persistence-shaped view of one committed command.
type CoreOutput struct {
	CommandRow  CommandRow
	JournalRows []JournalRow
}

// RowsFromOutput flattens an envelope and its batch into log rows.
func RowsFromOutput(env *command.CommandEnvelope, batch *ledger.Batch) CoreOutput {
	out := CoreOutput{
		CommandRow: CommandRow{
			Sequence:       env.Sequence,
			CommandType:    env.CommandType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Payload:        env.Payload,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
			SourceSequence: env.SourceSequence,
		},
	}

	if batch == nil {
		return out
	}

	out.JournalRows = make([]JournalRow, 0, len(batch.Journals))
	for _, j := range batch.Journals {
		out.JournalRows = append(out.JournalRows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			CommandRef:    j.CommandRef,
			Sequence:      env.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return out
}

func NewCommandLogWriter(db *sql.DB) *CommandLogWriter {
	return &CommandLogWriter{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteCommandBatch writes a batch of commands to command_log.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, tx execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO command_log.commands
		(sequence, command_type, idempotency_key, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(commands))
	args := make([]interface{}, 0, len(commands)*8)

	for i, c := range commands {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			c.Sequence, c.CommandType, c.IdempotencyKey, c.Payload,
			c.StateHash, c.PrevHash, c.Timestamp, c.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to command_log.journal.
func (w *CommandLogWriter) WriteJournalBatch(ctx context.Context, tx execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO command_log.journal
		(journal_id, batch_id, command_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.CommandRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
