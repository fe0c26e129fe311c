package query

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"zyura/internal/ledger"
	"zyura/internal/persistence"
	"zyura/internal/protocol"
	"zyura/internal/testutil"
)

func setupQueryDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	if err := persistence.NewMigrator(db, "../../migrations", zerolog.Nop()).Up(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return db, cleanup
}

func seedBalance(t *testing.T, db *sql.DB, accountPath string, assetID ledger.AssetID, balance int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, 1)
	`, accountPath, int16(assetID), balance)
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

func seedWatermark(t *testing.T, db *sql.DB, seq int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, $2)
	`, seq, time.Now().UTC())
	if err != nil {
		t.Fatalf("seed watermark: %v", err)
	}
}

func TestService_Balances(t *testing.T) {
	db, cleanup := setupQueryDB(t)
	defer cleanup()

	ctx := context.Background()
	svc := NewService(db)
	owner := uuid.New()

	assetID, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC not registered")
	}

	seedWatermark(t, db, 7)
	seedBalance(t, db, ledger.NewWalletAccountKey(owner, assetID).AccountPath(), assetID, 25_000_000)
	seedBalance(t, db, ledger.NewVaultAccountKey(assetID).AccountPath(), assetID, 500_000_000)

	wallet, err := svc.GetWalletBalance(ctx, owner, "USDC")
	if err != nil {
		t.Fatalf("wallet balance: %v", err)
	}
	if wallet.Balance != 25_000_000 {
		t.Errorf("wallet balance: got %d, want 25_000_000", wallet.Balance)
	}
	if wallet.AsOfSequence != 7 {
		t.Errorf("as_of_sequence: got %d, want 7", wallet.AsOfSequence)
	}

	vault, err := svc.GetVaultBalance(ctx, "USDC")
	if err != nil {
		t.Fatalf("vault balance: %v", err)
	}
	if vault.Balance != 500_000_000 {
		t.Errorf("vault balance: got %d, want 500_000_000", vault.Balance)
	}

	// An account with no journal activity has no row and reads as zero.
	idle, err := svc.GetWalletBalance(ctx, uuid.New(), "USDC")
	if err != nil {
		t.Fatalf("idle wallet balance: %v", err)
	}
	if idle.Balance != 0 {
		t.Errorf("idle wallet balance: got %d, want 0", idle.Balance)
	}

	if _, err := svc.GetWalletBalance(ctx, owner, "DOGE"); !errors.Is(err, protocol.ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}
