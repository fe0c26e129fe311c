package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletFund JournalType = iota
	JournalTypePremiumReceipt
	JournalTypeCoveragePayout
	JournalTypeLiquidityDeposit
	JournalTypeLiquidityWithdrawal
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeWalletFund:
		return "wallet_fund"
	case JournalTypePremiumReceipt:
		return "premium_receipt"
	case JournalTypeCoveragePayout:
		return "coverage_payout"
	case JournalTypeLiquidityDeposit:
		return "liquidity_deposit"
	case JournalTypeLiquidityWithdrawal:
		return "liquidity_withdrawal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	CommandRef    string      // Idempotency key of source command
	Sequence      int64       // Global command sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Base units of the settlement asset (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID    uuid.UUID
	CommandRef string
	Sequence   int64
	Timestamp  int64
	Journals   []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by
// construction (a single positive amount moves from credit account to debit
// account). Therefore Σ debits == Σ credits is guaranteed per-entry.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		// No self-transfers
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
	}

	return nil
}
