package query

import "github.com/google/uuid"

// WalletBalanceResponse reports an identity's settlement wallet balance.
type WalletBalanceResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Asset        string    `json:"asset"`
	Balance      int64     `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// VaultBalanceResponse reports the escrow vault balance.
type VaultBalanceResponse struct {
	Asset        string `json:"asset"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PolicyResponse represents a policy for API queries.
type PolicyResponse struct {
	PolicyID           string    `json:"policy_id"`
	ProductID          string    `json:"product_id"`
	Policyholder       uuid.UUID `json:"policyholder"`
	FlightNumber       string    `json:"flight_number"`
	DepartureTimestamp int64     `json:"departure_timestamp"`
	CoverageAmount     int64     `json:"coverage_amount"`
	ClaimWindowSeconds int64     `json:"claim_window_seconds"`
	PremiumPaid        int64     `json:"premium_paid"`
	Status             string    `json:"status"`
	PurchasedAt        int64     `json:"purchased_at"`
	SettledAt          int64     `json:"settled_at"`
	PayoutAmount       int64     `json:"payout_amount"`
	DelayMinutes       int64     `json:"delay_minutes"`
	AsOfSequence       int64     `json:"as_of_sequence"`
}

// ProductResponse represents an insurance product for API queries.
type ProductResponse struct {
	ProductID         string `json:"product_id"`
	FlightRoute       string `json:"flight_route"`
	DelayThresholdMin int64  `json:"delay_threshold_min"`
	CoverageAmount    int64  `json:"coverage_amount"`
	PremiumRateBps    int64  `json:"premium_rate_bps"`
	ClaimWindowHours  int64  `json:"claim_window_hours"`
	Active            bool   `json:"active"`
	PoliciesSold      int64  `json:"policies_sold"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
	AsOfSequence      int64  `json:"as_of_sequence"`
}

// ProviderResponse represents a liquidity provider for API queries.
type ProviderResponse struct {
	Provider       uuid.UUID `json:"provider"`
	ActiveDeposit  int64     `json:"active_deposit"`
	TotalDeposited int64     `json:"total_deposited"`
	TotalWithdrawn int64     `json:"total_withdrawn"`
	FirstDepositAt int64     `json:"first_deposit_at"`
	LastActivityAt int64     `json:"last_activity_at"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// ConfigResponse represents the protocol config singleton for API queries.
type ConfigResponse struct {
	Initialized     bool              `json:"initialized"`
	Admin           uuid.UUID         `json:"admin"`
	SettlementAsset string            `json:"settlement_asset"`
	OracleSource    string            `json:"oracle_source"`
	Paused          bool              `json:"paused"`
	Roles           map[string]string `json:"roles"`
	AsOfSequence    int64             `json:"as_of_sequence"`
}

// ReceiptResponse represents a coverage receipt for API queries.
type ReceiptResponse struct {
	Token        string    `json:"token"`
	PolicyID     string    `json:"policy_id"`
	Policyholder uuid.UUID `json:"policyholder"`
	ProductID    string    `json:"product_id"`
	PremiumPaid  int64     `json:"premium_paid"`
	Sequence     int64     `json:"sequence"`
	IssuedAt     int64     `json:"issued_at"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	CommandRef    string `json:"command_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
