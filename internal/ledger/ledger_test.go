package ledger_test

import (
	"testing"

	"zyura/internal/ledger"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_WalletPath(t *testing.T) {
	owner := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewWalletAccountKey(owner, assetID)

	path := key.AccountPath()
	expected := "wallet:550e8400-e29b-41d4-a716-446655440000:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_VaultPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewVaultAccountKey(assetID)

	path := key.AccountPath()
	if path != "vault:escrow:USDC" {
		t.Errorf("got %q, want %q", path, "vault:escrow:USDC")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	key := ledger.NewExternalAccountKey(assetID)

	path := key.AccountPath()
	if path != "external:settlement:USDC" {
		t.Errorf("got %q, want %q", path, "external:settlement:USDC")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known settlement asset")
	}
	if id == 0 {
		t.Error("USDC asset ID should be non-zero")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known settlement asset")
	}
}

// ============================================================================
// Test: VaultBook
// ============================================================================

func TestVaultBook_InitialBalancesZero(t *testing.T) {
	vb := ledger.NewVaultBook()
	owner := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	if vb.WalletBalance(owner, assetID) != 0 {
		t.Error("initial wallet balance should be 0")
	}
	if vb.VaultBalance(assetID) != 0 {
		t.Error("initial vault balance should be 0")
	}
}

func TestVaultBook_ApplyJournal(t *testing.T) {
	vb := ledger.NewVaultBook()
	owner := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	// Fund wallet: debit wallet, credit external boundary
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewWalletAccountKey(owner, assetID),
		CreditAccount: ledger.NewExternalAccountKey(assetID),
		AssetID:       assetID,
		Amount:        1_000_000,
	}

	vb.ApplyJournal(j)

	if got := vb.WalletBalance(owner, assetID); got != 1_000_000 {
		t.Errorf("wallet: got %d, want 1_000_000", got)
	}
}

func TestVaultBook_GlobalBalanceZeroSum(t *testing.T) {
	vb := ledger.NewVaultBook()
	owner := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")
	jg := ledger.NewJournalGenerator(0)

	for _, batch := range []*ledger.Batch{
		jg.GenerateWalletFund("fund-1", owner, assetID, 5_000_000, 100),
		jg.GenerateLiquidityDeposit("dep-1", owner, assetID, 3_000_000, 200),
		jg.GenerateLiquidityWithdrawal("wd-1", owner, assetID, 1_000_000, 300),
	} {
		if err := vb.ApplyBatch(batch); err != nil {
			t.Fatalf("ApplyBatch: %v", err)
		}
	}

	v := ledger.NewInvariantValidator(vb)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("book should be zero-sum: %v", err)
	}
	if got := vb.VaultBalance(assetID); got != 2_000_000 {
		t.Errorf("vault: got %d, want 2_000_000", got)
	}
	if got := vb.WalletBalance(owner, assetID); got != 3_000_000 {
		t.Errorf("wallet: got %d, want 3_000_000", got)
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatch_Validate_EmptyBatch(t *testing.T) {
	batch := &ledger.Batch{BatchID: uuid.New()}
	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatch_Validate_NonPositiveAmount(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.NewVaultAccountKey(assetID),
			CreditAccount: ledger.NewExternalAccountKey(assetID),
			AssetID:       assetID,
			Amount:        0,
		}},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero-amount journal should fail validation")
	}
}

func TestBatch_Validate_SelfTransfer(t *testing.T) {
	assetID, _ := ledger.GetAssetID("USDC")
	batchID := uuid.New()
	key := ledger.NewVaultAccountKey(assetID)
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  key,
			CreditAccount: key,
			AssetID:       assetID,
			Amount:        100,
		}},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator transfer directions
// ============================================================================

func TestJournalGenerator_PremiumReceiptDirection(t *testing.T) {
	vb := ledger.NewVaultBook()
	jg := ledger.NewJournalGenerator(0)
	holder := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	vb.ApplyBatch(jg.GenerateWalletFund("fund", holder, assetID, 20_000_000, 100))
	vb.ApplyBatch(jg.GeneratePremiumReceipt("buy", holder, assetID, 10_000_000, 200))

	if got := vb.VaultBalance(assetID); got != 10_000_000 {
		t.Errorf("vault after premium: got %d, want 10_000_000", got)
	}
	if got := vb.WalletBalance(holder, assetID); got != 10_000_000 {
		t.Errorf("wallet after premium: got %d, want 10_000_000", got)
	}
}

func TestJournalGenerator_CoveragePayoutDirection(t *testing.T) {
	vb := ledger.NewVaultBook()
	jg := ledger.NewJournalGenerator(0)
	holder := uuid.New()
	provider := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	vb.ApplyBatch(jg.GenerateWalletFund("fund", provider, assetID, 2_000_000_000, 100))
	vb.ApplyBatch(jg.GenerateLiquidityDeposit("dep", provider, assetID, 2_000_000_000, 200))
	vb.ApplyBatch(jg.GenerateCoveragePayout("pay", holder, assetID, 1_000_000_000, 300))

	if got := vb.VaultBalance(assetID); got != 1_000_000_000 {
		t.Errorf("vault after payout: got %d, want 1_000_000_000", got)
	}
	if got := vb.WalletBalance(holder, assetID); got != 1_000_000_000 {
		t.Errorf("holder wallet after payout: got %d, want 1_000_000_000", got)
	}
}

func TestJournalGenerator_SequenceAdvances(t *testing.T) {
	jg := ledger.NewJournalGenerator(7)
	owner := uuid.New()
	assetID, _ := ledger.GetAssetID("USDC")

	b1 := jg.GenerateWalletFund("a", owner, assetID, 1, 0)
	b2 := jg.GenerateWalletFund("b", owner, assetID, 1, 0)

	if b1.Sequence != 7 || b2.Sequence != 8 {
		t.Errorf("sequences: got %d, %d; want 7, 8", b1.Sequence, b2.Sequence)
	}
}
