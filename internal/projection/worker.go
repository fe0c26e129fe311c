package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"zyura/internal/command"
	"zyura/internal/core"
	"zyura/internal/ledger"
	"zyura/internal/state"
)

// Worker updates the projections schema from committed command outputs.
// The projection channel is non-blocking with drop on the engine side;
// anything missed can be rebuilt from the command log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	log       zerolog.Logger
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan core.CoreOutput, log zerolog.Logger) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
		log:       log,
	}
}

// Run consumes outputs until the context is cancelled or the channel
// closes. Projection failures are logged and skipped, not retried: the
// tables are eventually consistent and rebuildable.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-w.inputChan:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, output); err != nil {
				w.log.Warn().
					Err(err).
					Int64("sequence", output.Envelope.Sequence).
					Str("command_type", output.Envelope.CommandType.String()).
					Msg("projection update failed")
			}
			w.lastSeq = output.Envelope.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, output core.CoreOutput) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence

	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			if err := w.upsertBalance(ctx, tx, j, seq); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}

	res := output.Result
	if res != nil {
		if res.Product != nil {
			if err := w.upsertProduct(ctx, tx, res.Product, seq); err != nil {
				return fmt.Errorf("product projection: %w", err)
			}
		}
		if res.Policy != nil {
			if err := w.upsertPolicy(ctx, tx, res.Policy, seq); err != nil {
				return fmt.Errorf("policy projection: %w", err)
			}
		}
		if res.Provider != nil {
			if err := w.upsertProvider(ctx, tx, res.Provider, seq); err != nil {
				return fmt.Errorf("provider projection: %w", err)
			}
		}
		if res.Config != nil {
			if err := w.upsertConfig(ctx, tx, res.Config, seq); err != nil {
				return fmt.Errorf("config projection: %w", err)
			}
		}
		if res.Receipt != nil {
			if err := w.insertReceipt(ctx, tx, res); err != nil {
				return fmt.Errorf("receipt projection: %w", err)
			}
		}
		if output.Envelope.CommandType == command.CommandTypeSweepExpired {
			if err := w.markExpired(ctx, tx, res.ExpiredPolicies, output.Envelope.Timestamp.Unix(), seq); err != nil {
				return fmt.Errorf("sweep projection: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (w *Worker) upsertBalance(ctx context.Context, tx *sql.Tx, j ledger.Journal, seq int64) error {
	// Debit increases, credit decreases, matching the in-memory book.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount.AccountPath(), uint16(j.AssetID), j.Amount, seq)
	return err
}

func (w *Worker) upsertProduct(ctx context.Context, tx *sql.Tx, p *state.Product, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.products
			(product_id, flight_route, delay_threshold_min, coverage_amount,
			 premium_rate_bps, claim_window_hours, active, policies_sold,
			 created_at, updated_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (product_id) DO UPDATE SET
			flight_route = $2, delay_threshold_min = $3, coverage_amount = $4,
			premium_rate_bps = $5, claim_window_hours = $6, active = $7,
			policies_sold = $8, updated_at = $10, last_sequence = $11
	`, strconv.FormatUint(p.ProductID, 10), p.FlightRoute, p.DelayThresholdMin,
		p.CoverageAmount, p.PremiumRateBps, p.ClaimWindowHours, p.Active,
		p.PoliciesSold, p.CreatedAtTimestamp, p.UpdatedAtTimestamp, seq)
	return err
}

func (w *Worker) upsertPolicy(ctx context.Context, tx *sql.Tx, p *state.Policy, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.policies
			(policy_id, product_id, policyholder, flight_number, departure_timestamp,
			 coverage_amount, claim_window_seconds, premium_paid, status,
			 purchased_at, settled_at, payout_amount, delay_minutes, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (policy_id) DO UPDATE SET
			status = $9, settled_at = $11, payout_amount = $12,
			delay_minutes = $13, last_sequence = $14
	`, strconv.FormatUint(p.PolicyID, 10), strconv.FormatUint(p.ProductID, 10),
		p.Policyholder, p.FlightNumber, p.DepartureTimestamp,
		p.CoverageAmount, p.ClaimWindowSeconds, p.PremiumPaid, p.Status.String(),
		p.PurchasedAt, p.SettledAt, p.PayoutAmount, p.DelayMinutes, seq)
	return err
}

func (w *Worker) upsertProvider(ctx context.Context, tx *sql.Tx, lp *state.LiquidityProvider, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.providers
			(provider, active_deposit, total_deposited, total_withdrawn,
			 first_deposit_at, last_activity_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider) DO UPDATE SET
			active_deposit = $2, total_deposited = $3, total_withdrawn = $4,
			last_activity_at = $6, last_sequence = $7
	`, lp.Provider, lp.ActiveDeposit, lp.TotalDeposited, lp.TotalWithdrawn,
		lp.FirstDepositAt, lp.LastActivityAt, seq)
	return err
}

func (w *Worker) upsertConfig(ctx context.Context, tx *sql.Tx, cfg *core.ConfigView, seq int64) error {
	roles, err := json.Marshal(cfg.Roles)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.config
			(id, initialized, admin, settlement_asset, oracle_source, paused, roles, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			initialized = $1, admin = $2, settlement_asset = $3,
			oracle_source = $4, paused = $5, roles = $6, last_sequence = $7
	`, cfg.Initialized, cfg.Admin, cfg.SettlementAsset, cfg.OracleSource,
		cfg.Paused, roles, seq)
	return err
}

func (w *Worker) insertReceipt(ctx context.Context, tx *sql.Tx, res *core.CommandResult) error {
	r := res.Receipt
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.receipts
			(token, policy_id, policyholder, product_id, premium_paid, sequence, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (token) DO NOTHING
	`, r.Token, strconv.FormatUint(r.PolicyID, 10), r.Policyholder,
		strconv.FormatUint(r.ProductID, 10), r.PremiumPaid, r.Sequence, r.IssuedAt)
	return err
}

func (w *Worker) markExpired(ctx context.Context, tx *sql.Tx, policyIDs []uint64, settledAt, seq int64) error {
	for _, id := range policyIDs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.policies
			SET status = 'Expired', settled_at = $2, last_sequence = $3
			WHERE policy_id = $1
		`, strconv.FormatUint(id, 10), settledAt, seq); err != nil {
			return err
		}
	}
	return nil
}

// RebuildBalances recomputes the balance projection from the journal log.
// Policy, product and provider projections are rebuilt by replaying the
// command log through the engine instead.
func RebuildBalances(ctx context.Context, db *sql.DB, log zerolog.Logger) error {
	statements := []string{
		`TRUNCATE projections.balances`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset balance projection: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT debit_account, asset_id, SUM(amount), MAX(sequence)
		FROM command_log.journal
		GROUP BY debit_account, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT credit_account, asset_id, -SUM(amount), MAX(sequence)
		FROM command_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Info().Msg("balance projection rebuild complete")
	return nil
}
