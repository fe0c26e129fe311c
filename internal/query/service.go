package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"zyura/internal/ledger"
	"zyura/internal/protocol"
)

// Service provides read-only access to the projection tables. Responses
// carry as_of_sequence so callers can judge freshness against the core.
type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// GetWalletBalance returns an identity's settlement wallet balance.
func (s *Service) GetWalletBalance(ctx context.Context, owner uuid.UUID, asset string) (*WalletBalanceResponse, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, protocol.ErrUnknownAsset
	}

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.NewWalletAccountKey(owner, assetID).AccountPath()
	balance, err := s.getProjectedBalance(ctx, path)
	if err != nil {
		return nil, err
	}

	return &WalletBalanceResponse{
		Owner:        owner,
		Asset:        asset,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetVaultBalance returns the escrow vault balance for an asset.
func (s *Service) GetVaultBalance(ctx context.Context, asset string) (*VaultBalanceResponse, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return nil, protocol.ErrUnknownAsset
	}

	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.NewVaultAccountKey(assetID).AccountPath()
	balance, err := s.getProjectedBalance(ctx, path)
	if err != nil {
		return nil, err
	}

	return &VaultBalanceResponse{
		Asset:        asset,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPolicy returns a single policy by ID.
func (s *Service) GetPolicy(ctx context.Context, policyID uint64) (*PolicyResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p PolicyResponse
	p.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT policy_id, product_id, policyholder, flight_number, departure_timestamp,
		       coverage_amount, claim_window_seconds, premium_paid, status,
		       purchased_at, settled_at, payout_amount, delay_minutes
		FROM projections.policies
		WHERE policy_id = $1
	`, strconv.FormatUint(policyID, 10)).Scan(
		&p.PolicyID, &p.ProductID, &p.Policyholder, &p.FlightNumber, &p.DepartureTimestamp,
		&p.CoverageAmount, &p.ClaimWindowSeconds, &p.PremiumPaid, &p.Status,
		&p.PurchasedAt, &p.SettledAt, &p.PayoutAmount, &p.DelayMinutes,
	)
	if err == sql.ErrNoRows {
		return nil, protocol.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPoliciesByHolder returns a policyholder's policies, newest first,
// with cursor-based pagination on purchased_at.
func (s *Service) GetPoliciesByHolder(
	ctx context.Context,
	holder uuid.UUID,
	limit int,
	beforePurchasedAt *int64,
) ([]PolicyResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT policy_id, product_id, flight_number, departure_timestamp,
		       coverage_amount, claim_window_seconds, premium_paid, status,
		       purchased_at, settled_at, payout_amount, delay_minutes
		FROM projections.policies
		WHERE policyholder = $1
	`
	args := []interface{}{holder}
	argIdx := 2

	if beforePurchasedAt != nil {
		query += fmt.Sprintf(" AND purchased_at < $%d", argIdx)
		args = append(args, *beforePurchasedAt)
		argIdx++
	}

	query += " ORDER BY purchased_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyResponse
	for rows.Next() {
		var p PolicyResponse
		p.Policyholder = holder
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PolicyID, &p.ProductID, &p.FlightNumber, &p.DepartureTimestamp,
			&p.CoverageAmount, &p.ClaimWindowSeconds, &p.PremiumPaid, &p.Status,
			&p.PurchasedAt, &p.SettledAt, &p.PayoutAmount, &p.DelayMinutes,
		); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// GetProduct returns a single product by ID.
func (s *Service) GetProduct(ctx context.Context, productID uint64) (*ProductResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var p ProductResponse
	p.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT product_id, flight_route, delay_threshold_min, coverage_amount,
		       premium_rate_bps, claim_window_hours, active, policies_sold,
		       created_at, updated_at
		FROM projections.products
		WHERE product_id = $1
	`, strconv.FormatUint(productID, 10)).Scan(
		&p.ProductID, &p.FlightRoute, &p.DelayThresholdMin, &p.CoverageAmount,
		&p.PremiumRateBps, &p.ClaimWindowHours, &p.Active, &p.PoliciesSold,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, protocol.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProducts returns the product catalog, optionally active products only.
func (s *Service) ListProducts(ctx context.Context, activeOnly bool) ([]ProductResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT product_id, flight_route, delay_threshold_min, coverage_amount,
		       premium_rate_bps, claim_window_hours, active, policies_sold,
		       created_at, updated_at
		FROM projections.products
	`
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	query += " ORDER BY product_id"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []ProductResponse
	for rows.Next() {
		var p ProductResponse
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.ProductID, &p.FlightRoute, &p.DelayThresholdMin, &p.CoverageAmount,
			&p.PremiumRateBps, &p.ClaimWindowHours, &p.Active, &p.PoliciesSold,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProvider returns a liquidity provider's deposit record.
func (s *Service) GetProvider(ctx context.Context, provider uuid.UUID) (*ProviderResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var lp ProviderResponse
	lp.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT provider, active_deposit, total_deposited, total_withdrawn,
		       first_deposit_at, last_activity_at
		FROM projections.providers
		WHERE provider = $1
	`, provider).Scan(
		&lp.Provider, &lp.ActiveDeposit, &lp.TotalDeposited, &lp.TotalWithdrawn,
		&lp.FirstDepositAt, &lp.LastActivityAt,
	)
	if err == sql.ErrNoRows {
		return nil, protocol.ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lp, nil
}

// GetConfig returns the protocol config singleton.
func (s *Service) GetConfig(ctx context.Context) (*ConfigResponse, error) {
	asOfSeq, err := s.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var cfg ConfigResponse
	var rolesDoc []byte
	cfg.AsOfSequence = asOfSeq
	err = s.db.QueryRowContext(ctx, `
		SELECT initialized, admin, settlement_asset, oracle_source, paused, roles
		FROM projections.config
		WHERE id = 1
	`).Scan(&cfg.Initialized, &cfg.Admin, &cfg.SettlementAsset, &cfg.OracleSource, &cfg.Paused, &rolesDoc)
	if err == sql.ErrNoRows {
		return nil, protocol.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}

	if len(rolesDoc) > 0 {
		if err := json.Unmarshal(rolesDoc, &cfg.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
	}
	return &cfg, nil
}

// GetReceipt looks up a coverage receipt by its token.
func (s *Service) GetReceipt(ctx context.Context, token string) (*ReceiptResponse, error) {
	var r ReceiptResponse
	err := s.db.QueryRowContext(ctx, `
		SELECT token, policy_id, policyholder, product_id, premium_paid, sequence, issued_at
		FROM projections.receipts
		WHERE token = $1
	`, token).Scan(&r.Token, &r.PolicyID, &r.Policyholder, &r.ProductID, &r.PremiumPaid, &r.Sequence, &r.IssuedAt)
	if err == sql.ErrNoRows {
		return nil, protocol.ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetJournalHistory returns an identity's journal entries with pagination.
func (s *Service) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("wallet:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, command_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM command_log.journal
		WHERE debit_account LIKE $1 OR credit_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.CommandRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity checks hash chain continuity in the command log and the
// global zero-sum invariant over the balance projection.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM command_log.commands c1
		LEFT JOIN command_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 0 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

func (s *Service) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// getProjectedBalance reads one account balance. Accounts with no journal
// activity have no row and balance zero.
func (s *Service) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances WHERE account_path = $1
	`, accountPath).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
