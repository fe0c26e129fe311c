package ledger

import (
	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for protocol fund
// movements. Solvency guards live in the engine handlers, which evaluate
// every precondition before a batch is generated or applied; the generator
// itself only shapes the transfers.
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// SetSequence resets the generator sequence (snapshot restore)
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

func (jg *JournalGenerator) singleJournalBatch(
	commandRef string,
	debit, credit AccountKey,
	assetID AssetID,
	amount int64,
	journalType JournalType,
	timestamp int64,
) *Batch {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:    batchID,
		CommandRef: commandRef,
		Sequence:   jg.sequence,
		Timestamp:  timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			CommandRef:    commandRef,
			Sequence:      jg.sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       assetID,
			Amount:        amount,
			JournalType:   journalType,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch
}

// GenerateWalletFund moves funds across the rails boundary into a wallet.
// external:settlement → wallet:owner
func (jg *JournalGenerator) GenerateWalletFund(
	commandRef string,
	owner uuid.UUID,
	assetID AssetID,
	amount int64,
	timestamp int64,
) *Batch {
	return jg.singleJournalBatch(
		commandRef,
		NewWalletAccountKey(owner, assetID),
		NewExternalAccountKey(assetID),
		assetID,
		amount,
		JournalTypeWalletFund,
		timestamp,
	)
}

// GeneratePremiumReceipt moves a premium payment into escrow.
// wallet:policyholder → vault:escrow
func (jg *JournalGenerator) GeneratePremiumReceipt(
	commandRef string,
	policyholder uuid.UUID,
	assetID AssetID,
	premium int64,
	timestamp int64,
) *Batch {
	return jg.singleJournalBatch(
		commandRef,
		NewVaultAccountKey(assetID),
		NewWalletAccountKey(policyholder, assetID),
		assetID,
		premium,
		JournalTypePremiumReceipt,
		timestamp,
	)
}

// GenerateCoveragePayout settles a claim from escrow to the policyholder.
// vault:escrow → wallet:policyholder
func (jg *JournalGenerator) GenerateCoveragePayout(
	commandRef string,
	policyholder uuid.UUID,
	assetID AssetID,
	coverage int64,
	timestamp int64,
) *Batch {
	return jg.singleJournalBatch(
		commandRef,
		NewWalletAccountKey(policyholder, assetID),
		NewVaultAccountKey(assetID),
		assetID,
		coverage,
		JournalTypeCoveragePayout,
		timestamp,
	)
}

// GenerateLiquidityDeposit moves provider capital into escrow.
// wallet:provider → vault:escrow
func (jg *JournalGenerator) GenerateLiquidityDeposit(
	commandRef string,
	provider uuid.UUID,
	assetID AssetID,
	amount int64,
	timestamp int64,
) *Batch {
	return jg.singleJournalBatch(
		commandRef,
		NewVaultAccountKey(assetID),
		NewWalletAccountKey(provider, assetID),
		assetID,
		amount,
		JournalTypeLiquidityDeposit,
		timestamp,
	)
}

// GenerateLiquidityWithdrawal returns provider capital from escrow.
// vault:escrow → wallet:provider
func (jg *JournalGenerator) GenerateLiquidityWithdrawal(
	commandRef string,
	provider uuid.UUID,
	assetID AssetID,
	amount int64,
	timestamp int64,
) *Batch {
	return jg.singleJournalBatch(
		commandRef,
		NewWalletAccountKey(provider, assetID),
		NewVaultAccountKey(assetID),
		assetID,
		amount,
		JournalTypeLiquidityWithdrawal,
		timestamp,
	)
}
