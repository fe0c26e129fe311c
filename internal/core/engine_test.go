package core

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"zyura/internal/command"
	"zyura/internal/ledger"
	"zyura/internal/protocol"
	"zyura/internal/state"
)

// newTestEngine builds an engine with buffered output channels large
// enough that tests never block on emission.
func newTestEngine(t *testing.T) (*Engine, chan CoreOutput, chan CoreOutput) {
	t.Helper()
	persistChan := make(chan CoreOutput, 1024)
	projectionChan := make(chan CoreOutput, 1024)
	engine := NewEngine(0, persistChan, projectionChan, nil, nil)
	return engine, persistChan, projectionChan
}

var (
	testAdmin    = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	testHolder   = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	testProvider = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	testOperator = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
)

const testOracle = "flightstats-feed-1"

func mustProcess(t *testing.T, e *Engine, cmd command.Command) *CommandResult {
	t.Helper()
	result, err := e.ProcessCommand(cmd)
	if err != nil {
		t.Fatalf("%s rejected: %v", cmd.CommandType(), err)
	}
	return result
}

func initializeProtocol(t *testing.T, e *Engine) {
	t.Helper()
	mustProcess(t, e, &command.Initialize{
		CommandID:       uuid.New(),
		ActorID:         testAdmin,
		SettlementAsset: "USDC",
		OracleSource:    testOracle,
		Timestamp:       1_000,
	})
}

func createTestProduct(t *testing.T, e *Engine, productID uint64) {
	t.Helper()
	mustProcess(t, e, &command.CreateProduct{
		CommandID:         uuid.New(),
		ActorID:           testAdmin,
		ProductID:         productID,
		FlightRoute:       "SGN-HAN",
		DelayThresholdMin: 120,
		CoverageAmount:    100_000_000, // 100 USDC
		PremiumRateBps:    500,         // 5%
		ClaimWindowHours:  72,
		Timestamp:         1_100,
	})
}

func fundWallet(t *testing.T, e *Engine, wallet uuid.UUID, amount int64) {
	t.Helper()
	mustProcess(t, e, &command.FundWallet{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Wallet:    wallet,
		Amount:    amount,
		Timestamp: 1_200,
	})
}

func depositLiquidity(t *testing.T, e *Engine, provider uuid.UUID, amount int64) {
	t.Helper()
	fundWallet(t, e, provider, amount)
	mustProcess(t, e, &command.DepositLiquidity{
		CommandID: uuid.New(),
		ActorID:   provider,
		Amount:    amount,
		Timestamp: 1_300,
	})
}

func purchaseTestPolicy(t *testing.T, e *Engine, holder uuid.UUID, productID uint64) *CommandResult {
	t.Helper()
	fundWallet(t, e, holder, 10_000_000)
	return mustProcess(t, e, &command.PurchasePolicy{
		CommandID:          uuid.New(),
		ActorID:            holder,
		ProductID:          productID,
		FlightNumber:       "VN254",
		DepartureTimestamp: 100_000,
		PremiumOffered:     5_000_000,
		Nonce:              1,
		Timestamp:          2_000,
	})
}

// ============================================================================
// Initialization and config
// ============================================================================

func TestEngine_Initialize(t *testing.T) {
	e, _, _ := newTestEngine(t)

	result := mustProcess(t, e, &command.Initialize{
		CommandID:       uuid.New(),
		ActorID:         testAdmin,
		SettlementAsset: "USDC",
		OracleSource:    testOracle,
		Timestamp:       1_000,
	})

	if result.Config == nil || !result.Config.Initialized {
		t.Fatal("initialize should report an initialized config")
	}
	if result.Config.Admin != testAdmin {
		t.Error("admin not recorded")
	}
	if result.Config.SettlementAsset != "USDC" {
		t.Errorf("settlement asset: got %s", result.Config.SettlementAsset)
	}
}

func TestEngine_Initialize_Twice(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)

	_, err := e.ProcessCommand(&command.Initialize{
		CommandID:       uuid.New(),
		ActorID:         testAdmin,
		SettlementAsset: "USDC",
		OracleSource:    testOracle,
		Timestamp:       1_001,
	})
	if !errors.Is(err, protocol.ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestEngine_Initialize_UnknownAsset(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ProcessCommand(&command.Initialize{
		CommandID:       uuid.New(),
		ActorID:         testAdmin,
		SettlementAsset: "DOGE",
		OracleSource:    testOracle,
		Timestamp:       1_000,
	})
	if !errors.Is(err, protocol.ErrUnknownAsset) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestEngine_CommandsBeforeInitialize(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.ProcessCommand(&command.CreateProduct{
		CommandID:         uuid.New(),
		ActorID:           testAdmin,
		ProductID:         1,
		DelayThresholdMin: 120,
		CoverageAmount:    100,
		PremiumRateBps:    500,
		Timestamp:         1_000,
	})
	if !errors.Is(err, protocol.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestEngine_CloseConfig(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)

	result := mustProcess(t, e, &command.CloseConfig{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Timestamp: 2_000,
	})
	if result.Config.Initialized {
		t.Error("close should leave the protocol uninitialized")
	}
}

func TestEngine_CloseConfig_VaultNotEmpty(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	depositLiquidity(t, e, testProvider, 1_000_000)

	_, err := e.ProcessCommand(&command.CloseConfig{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Timestamp: 2_000,
	})
	if !errors.Is(err, protocol.ErrVaultNotEmpty) {
		t.Errorf("expected ErrVaultNotEmpty, got %v", err)
	}
}

func TestEngine_CloseConfig_ActivePolicies(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	purchaseTestPolicy(t, e, testHolder, 1)

	_, err := e.ProcessCommand(&command.CloseConfig{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Timestamp: 3_000,
	})
	if !errors.Is(err, protocol.ErrPoliciesOutstanding) {
		t.Errorf("expected ErrPoliciesOutstanding, got %v", err)
	}
}

func TestEngine_AssignRole(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)

	mustProcess(t, e, &command.AssignRole{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Role:      "PauseAdmin",
		Holder:    testOperator,
		Timestamp: 1_500,
	})

	// Old admin can no longer pause; the operator can.
	_, err := e.ProcessCommand(&command.SetPauseStatus{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Paused:    true,
		Timestamp: 1_600,
	})
	if !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for admin after delegation, got %v", err)
	}

	mustProcess(t, e, &command.SetPauseStatus{
		CommandID: uuid.New(),
		ActorID:   testOperator,
		Paused:    true,
		Timestamp: 1_700,
	})
}

func TestEngine_AssignRole_NonAdmin(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)

	_, err := e.ProcessCommand(&command.AssignRole{
		CommandID: uuid.New(),
		ActorID:   testOperator,
		Role:      "PauseAdmin",
		Holder:    testOperator,
		Timestamp: 1_500,
	})
	if !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

// ============================================================================
// Products
// ============================================================================

func TestEngine_CreateProduct_Duplicate(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)

	_, err := e.ProcessCommand(&command.CreateProduct{
		CommandID:         uuid.New(),
		ActorID:           testAdmin,
		ProductID:         1,
		DelayThresholdMin: 60,
		CoverageAmount:    50,
		PremiumRateBps:    100,
		ClaimWindowHours:  24,
		Timestamp:         1_200,
	})
	if !errors.Is(err, protocol.ErrProductExists) {
		t.Errorf("expected ErrProductExists, got %v", err)
	}
}

func TestEngine_CreateProduct_InvalidParams(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)

	_, err := e.ProcessCommand(&command.CreateProduct{
		CommandID:         uuid.New(),
		ActorID:           testAdmin,
		ProductID:         1,
		DelayThresholdMin: 120,
		CoverageAmount:    100,
		PremiumRateBps:    10_001, // above the bps domain
		ClaimWindowHours:  24,
		Timestamp:         1_200,
	})
	if !errors.Is(err, protocol.ErrInvalidProductParams) {
		t.Errorf("expected ErrInvalidProductParams, got %v", err)
	}
}

func TestEngine_UpdateProduct_DoesNotAffectSoldPolicies(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	depositLiquidity(t, e, testProvider, 500_000_000)

	purchase := purchaseTestPolicy(t, e, testHolder, 1)

	mustProcess(t, e, &command.UpdateProduct{
		CommandID:         uuid.New(),
		ActorID:           testAdmin,
		ProductID:         1,
		DelayThresholdMin: 120,
		CoverageAmount:    1_000, // drastically lower coverage
		PremiumRateBps:    500,
		ClaimWindowHours:  72,
		Active:            true,
		Timestamp:         3_000,
	})

	// Payout settles at the coverage captured at purchase time.
	result := mustProcess(t, e, &command.ProcessPayout{
		CommandID:    uuid.New(),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 180,
		OracleSource: testOracle,
		Sequence:     0,
		Timestamp:    4_000,
	})
	if result.PayoutAmount != 100_000_000 {
		t.Errorf("payout should use purchase-time coverage: got %d", result.PayoutAmount)
	}
}

// ============================================================================
// Purchase
// ============================================================================

func TestEngine_PurchasePolicy(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	fundWallet(t, e, testHolder, 10_000_000)

	result := mustProcess(t, e, &command.PurchasePolicy{
		CommandID:          uuid.New(),
		ActorID:            testHolder,
		ProductID:          1,
		FlightNumber:       "VN254",
		DepartureTimestamp: 100_000,
		PremiumOffered:     5_000_000,
		Nonce:              1,
		Timestamp:          2_000,
	})

	if result.PolicyID == 0 {
		t.Fatal("purchase should derive a policy id")
	}
	if result.RequiredPremium != 5_000_000 {
		t.Errorf("required premium: got %d, want 5_000_000", result.RequiredPremium)
	}
	if result.Policy.Status != state.PolicyStatusActive {
		t.Error("new policy should be Active")
	}
	if result.Receipt == nil || result.Receipt.Token == "" {
		t.Error("purchase should mint a coverage receipt")
	}
	if result.VaultBalance != 5_000_000 {
		t.Errorf("premium should be escrowed: vault=%d", result.VaultBalance)
	}
}

func TestEngine_PurchasePolicy_SurplusCaptured(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	fundWallet(t, e, testHolder, 10_000_000)

	result := mustProcess(t, e, &command.PurchasePolicy{
		CommandID:          uuid.New(),
		ActorID:            testHolder,
		ProductID:          1,
		FlightNumber:       "VN254",
		DepartureTimestamp: 100_000,
		PremiumOffered:     7_000_000, // 2 USDC over the required premium
		Nonce:              1,
		Timestamp:          2_000,
	})

	if result.VaultBalance != 7_000_000 {
		t.Errorf("full offered premium should be escrowed: vault=%d", result.VaultBalance)
	}
	if result.Policy.PremiumPaid != 7_000_000 {
		t.Errorf("policy should record the paid premium: got %d", result.Policy.PremiumPaid)
	}
}

func TestEngine_PurchasePolicy_Rejections(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	fundWallet(t, e, testHolder, 10_000_000)

	base := command.PurchasePolicy{
		ActorID:            testHolder,
		ProductID:          1,
		FlightNumber:       "VN254",
		DepartureTimestamp: 100_000,
		PremiumOffered:     5_000_000,
		Nonce:              1,
		Timestamp:          2_000,
	}

	tests := []struct {
		name   string
		mutate func(*command.PurchasePolicy)
		want   error
	}{
		{"unknown_product", func(c *command.PurchasePolicy) { c.ProductID = 99 }, protocol.ErrProductNotFound},
		{"empty_flight", func(c *command.PurchasePolicy) { c.FlightNumber = "" }, protocol.ErrInvalidFlightNumber},
		{"flight_too_long", func(c *command.PurchasePolicy) { c.FlightNumber = "VN2542424242424242424242" }, protocol.ErrInvalidFlightNumber},
		{"departed_flight", func(c *command.PurchasePolicy) { c.DepartureTimestamp = 1_999 }, protocol.ErrDepartureInPast},
		{"premium_too_low", func(c *command.PurchasePolicy) { c.PremiumOffered = 4_999_999 }, protocol.ErrInsufficientPremium},
		{"wallet_too_small", func(c *command.PurchasePolicy) { c.PremiumOffered = 11_000_000 }, protocol.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := base
			cmd.CommandID = uuid.New()
			tt.mutate(&cmd)
			_, err := e.ProcessCommand(&cmd)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEngine_PurchasePolicy_IDCollision(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	fundWallet(t, e, testHolder, 5_000_000)

	buy := func(id uuid.UUID) (*CommandResult, error) {
		return e.ProcessCommand(&command.PurchasePolicy{
			CommandID:          id,
			ActorID:            testHolder,
			ProductID:          1,
			FlightNumber:       "VN254",
			DepartureTimestamp: 100_000,
			PremiumOffered:     5_000_000,
			Nonce:              7,
			Timestamp:          2_000,
		})
	}

	if _, err := buy(uuid.New()); err != nil {
		t.Fatalf("first purchase: %v", err)
	}

	// Same inputs with a fresh command ID derive the same policy ID. The
	// first purchase emptied the wallet, so this retry also lacks funds;
	// the collision still wins.
	_, err := buy(uuid.New())
	if !errors.Is(err, protocol.ErrPolicyIDCollision) {
		t.Errorf("expected ErrPolicyIDCollision, got %v", err)
	}
}

// ============================================================================
// Payout
// ============================================================================

func TestEngine_ProcessPayout(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	depositLiquidity(t, e, testProvider, 500_000_000)
	purchase := purchaseTestPolicy(t, e, testHolder, 1)

	holderBefore := e.book.WalletBalance(testHolder, e.config.SettlementAsset)

	result := mustProcess(t, e, &command.ProcessPayout{
		CommandID:    uuid.New(),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 150,
		OracleSource: testOracle,
		Sequence:     0,
		Timestamp:    110_000,
	})

	if result.PayoutAmount != 100_000_000 {
		t.Errorf("payout: got %d, want 100_000_000", result.PayoutAmount)
	}
	if result.Policy.Status != state.PolicyStatusPaidOut {
		t.Error("policy should be PaidOut")
	}
	holderAfter := e.book.WalletBalance(testHolder, e.config.SettlementAsset)
	if holderAfter-holderBefore != 100_000_000 {
		t.Errorf("holder wallet delta: got %d", holderAfter-holderBefore)
	}
}

func TestEngine_ProcessPayout_Rejections(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	depositLiquidity(t, e, testProvider, 500_000_000)
	purchase := purchaseTestPolicy(t, e, testHolder, 1)

	// The oracle partition is strictly ordered and advances even when a
	// guard later rejects the command, so every attempt consumes a slot.
	oracleSeq := int64(0)
	payout := func(mutate func(*command.ProcessPayout)) error {
		cmd := &command.ProcessPayout{
			CommandID:    uuid.New(),
			ActorID:      testAdmin,
			PolicyID:     purchase.PolicyID,
			DelayMinutes: 150,
			OracleSource: testOracle,
			Sequence:     oracleSeq,
			Timestamp:    110_000,
		}
		mutate(cmd)
		oracleSeq++
		_, err := e.ProcessCommand(cmd)
		return err
	}

	if err := payout(func(c *command.ProcessPayout) { c.ActorID = testOperator }); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("non-authority payout: expected ErrUnauthorized, got %v", err)
	}
	if err := payout(func(c *command.ProcessPayout) { c.OracleSource = "other-feed" }); !errors.Is(err, protocol.ErrOracleSourceMismatch) {
		t.Errorf("wrong oracle: expected ErrOracleSourceMismatch, got %v", err)
	}
	if err := payout(func(c *command.ProcessPayout) { c.PolicyID = 424242 }); !errors.Is(err, protocol.ErrPolicyNotFound) {
		t.Errorf("unknown policy: expected ErrPolicyNotFound, got %v", err)
	}
	if err := payout(func(c *command.ProcessPayout) { c.DelayMinutes = 119 }); !errors.Is(err, protocol.ErrDelayThresholdNotMet) {
		t.Errorf("below threshold: expected ErrDelayThresholdNotMet, got %v", err)
	}

	// Exactly at threshold pays out.
	if err := payout(func(c *command.ProcessPayout) { c.DelayMinutes = 120 }); err != nil {
		t.Errorf("at-threshold payout should settle: %v", err)
	}

	// Second payout on the same policy is rejected.
	if err := payout(func(c *command.ProcessPayout) {}); !errors.Is(err, protocol.ErrPolicyNotActive) {
		t.Errorf("double payout: expected ErrPolicyNotActive, got %v", err)
	}
}

func TestEngine_ProcessPayout_InsufficientVault(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	// Vault holds only the premium, far below the 100 USDC coverage.
	purchase := purchaseTestPolicy(t, e, testHolder, 1)

	_, err := e.ProcessCommand(&command.ProcessPayout{
		CommandID:    uuid.New(),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 150,
		OracleSource: testOracle,
		Sequence:     0,
		Timestamp:    110_000,
	})
	if !errors.Is(err, protocol.ErrInsufficientVaultLiquidity) {
		t.Errorf("expected ErrInsufficientVaultLiquidity, got %v", err)
	}

	// The policy must remain Active and claimable.
	p, _ := e.policies.Get(purchase.PolicyID)
	if p.Status != state.PolicyStatusActive {
		t.Error("failed payout must not consume the policy")
	}
}

// ============================================================================
// Pause gating
// ============================================================================

func TestEngine_PauseGating(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	depositLiquidity(t, e, testProvider, 500_000_000)
	purchase := purchaseTestPolicy(t, e, testHolder, 1)

	mustProcess(t, e, &command.SetPauseStatus{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Paused:    true,
		Timestamp: 3_000,
	})

	// Purchase and payout are gated.
	fundWallet(t, e, testHolder, 10_000_000)
	_, err := e.ProcessCommand(&command.PurchasePolicy{
		CommandID:          uuid.New(),
		ActorID:            testHolder,
		ProductID:          1,
		FlightNumber:       "VN255",
		DepartureTimestamp: 100_000,
		PremiumOffered:     5_000_000,
		Nonce:              2,
		Timestamp:          3_100,
	})
	if !errors.Is(err, protocol.ErrProtocolPaused) {
		t.Errorf("paused purchase: expected ErrProtocolPaused, got %v", err)
	}

	_, err = e.ProcessCommand(&command.ProcessPayout{
		CommandID:    uuid.New(),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 150,
		OracleSource: testOracle,
		Sequence:     0,
		Timestamp:    110_000,
	})
	if !errors.Is(err, protocol.ErrProtocolPaused) {
		t.Errorf("paused payout: expected ErrProtocolPaused, got %v", err)
	}

	// Liquidity operations are NOT gated: providers can always exit.
	fundWallet(t, e, testProvider, 1_000_000)
	mustProcess(t, e, &command.DepositLiquidity{
		CommandID: uuid.New(),
		ActorID:   testProvider,
		Amount:    1_000_000,
		Timestamp: 3_200,
	})
	mustProcess(t, e, &command.WithdrawLiquidity{
		CommandID: uuid.New(),
		ActorID:   testProvider,
		Approver:  testAdmin,
		Amount:    1_000_000,
		Timestamp: 3_300,
	})
}

// ============================================================================
// Expiry
// ============================================================================

func TestEngine_ExpirePolicy(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	purchase := purchaseTestPolicy(t, e, testHolder, 1) // departs at 100_000

	// Claim window still open, inclusive of the boundary instant.
	window := int64(72 * 3600)
	_, err := e.ProcessCommand(&command.ExpirePolicy{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		PolicyID:  purchase.PolicyID,
		Timestamp: 100_000 + window,
	})
	if !errors.Is(err, protocol.ErrClaimWindowOpen) {
		t.Errorf("expected ErrClaimWindowOpen, got %v", err)
	}

	vaultBefore := e.book.VaultBalance(e.config.SettlementAsset)

	result := mustProcess(t, e, &command.ExpirePolicy{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		PolicyID:  purchase.PolicyID,
		Timestamp: 100_000 + window + 1,
	})
	if result.Policy.Status != state.PolicyStatusExpired {
		t.Error("policy should be Expired")
	}
	if e.book.VaultBalance(e.config.SettlementAsset) != vaultBefore {
		t.Error("expiry must not move funds")
	}
}

func TestEngine_SweepExpired(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	fundWallet(t, e, testHolder, 20_000_000)

	buy := func(flight string, departure int64, nonce uint64) uint64 {
		result := mustProcess(t, e, &command.PurchasePolicy{
			CommandID:          uuid.New(),
			ActorID:            testHolder,
			ProductID:          1,
			FlightNumber:       flight,
			DepartureTimestamp: departure,
			PremiumOffered:     5_000_000,
			Nonce:              nonce,
			Timestamp:          2_000,
		})
		return result.PolicyID
	}

	lapsed := buy("VN254", 100_000, 1)
	pending := buy("VN255", 900_000, 2)

	result := mustProcess(t, e, &command.SweepExpired{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Timestamp: 100_000 + 72*3600 + 1,
	})

	if len(result.ExpiredPolicies) != 1 || result.ExpiredPolicies[0] != lapsed {
		t.Fatalf("sweep should expire exactly the lapsed policy, got %v", result.ExpiredPolicies)
	}
	p, _ := e.policies.Get(pending)
	if p.Status != state.PolicyStatusActive {
		t.Error("pending policy must survive the sweep")
	}
}

// ============================================================================
// Withdrawal co-authorization
// ============================================================================

func TestEngine_WithdrawLiquidity_Rejections(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	depositLiquidity(t, e, testProvider, 10_000_000)

	// Wrong approver.
	_, err := e.ProcessCommand(&command.WithdrawLiquidity{
		CommandID: uuid.New(),
		ActorID:   testProvider,
		Approver:  testOperator,
		Amount:    1_000_000,
		Timestamp: 2_000,
	})
	if !errors.Is(err, protocol.ErrWithdrawalNotApproved) {
		t.Errorf("expected ErrWithdrawalNotApproved, got %v", err)
	}

	// More than the active deposit.
	_, err = e.ProcessCommand(&command.WithdrawLiquidity{
		CommandID: uuid.New(),
		ActorID:   testProvider,
		Approver:  testAdmin,
		Amount:    10_000_001,
		Timestamp: 2_000,
	})
	if !errors.Is(err, protocol.ErrExceedsActiveDeposit) {
		t.Errorf("expected ErrExceedsActiveDeposit, got %v", err)
	}
	if !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Errorf("over-deposit withdrawal must reject as an invalid amount, got %v", err)
	}

	// Unknown provider.
	_, err = e.ProcessCommand(&command.WithdrawLiquidity{
		CommandID: uuid.New(),
		ActorID:   testOperator,
		Approver:  testAdmin,
		Amount:    1,
		Timestamp: 2_000,
	})
	if !errors.Is(err, protocol.ErrProviderNotFound) {
		t.Errorf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestEngine_WithdrawLiquidity_DelegatedApprover(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	depositLiquidity(t, e, testProvider, 10_000_000)

	mustProcess(t, e, &command.AssignRole{
		CommandID: uuid.New(),
		ActorID:   testAdmin,
		Role:      "WithdrawalApprover",
		Holder:    testOperator,
		Timestamp: 1_500,
	})

	// Admin countersignature no longer suffices.
	_, err := e.ProcessCommand(&command.WithdrawLiquidity{
		CommandID: uuid.New(),
		ActorID:   testProvider,
		Approver:  testAdmin,
		Amount:    1_000_000,
		Timestamp: 2_000,
	})
	if !errors.Is(err, protocol.ErrWithdrawalNotApproved) {
		t.Errorf("expected ErrWithdrawalNotApproved, got %v", err)
	}

	result := mustProcess(t, e, &command.WithdrawLiquidity{
		CommandID: uuid.New(),
		ActorID:   testProvider,
		Approver:  testOperator,
		Amount:    1_000_000,
		Timestamp: 2_100,
	})
	if result.Provider.TotalWithdrawn != 1_000_000 {
		t.Errorf("total withdrawn: got %d", result.Provider.TotalWithdrawn)
	}
}

// ============================================================================
// Idempotency, hashing, recovery
// ============================================================================

func TestEngine_DuplicateCommand(t *testing.T) {
	e, _, _ := newTestEngine(t)

	cmdID := uuid.New()
	init := &command.Initialize{
		CommandID:       cmdID,
		ActorID:         testAdmin,
		SettlementAsset: "USDC",
		OracleSource:    testOracle,
		Timestamp:       1_000,
	}

	first := mustProcess(t, e, init)
	second := mustProcess(t, e, init)

	if first.Duplicate {
		t.Error("first submission should not be a duplicate")
	}
	if !second.Duplicate {
		t.Error("second submission should be flagged duplicate")
	}
	if e.GetSequence() != first.Sequence+1 {
		t.Error("duplicate must not consume a sequence slot")
	}
}

func TestEngine_RejectedCommandLeavesNoTrace(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)

	seqBefore := e.GetSequence()
	hashBefore := e.GetStateHash()

	_, err := e.ProcessCommand(&command.DepositLiquidity{
		CommandID: uuid.New(),
		ActorID:   testProvider,
		Amount:    -5,
		Timestamp: 2_000,
	})
	if !errors.Is(err, protocol.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	if e.GetSequence() != seqBefore {
		t.Error("rejected command consumed a sequence slot")
	}
	if e.GetStateHash() != hashBefore {
		t.Error("rejected command advanced the hash chain")
	}
}

func TestEngine_DeterministicHashChain(t *testing.T) {
	run := func() [32]byte {
		e, _, _ := newTestEngine(t)
		initializeProtocol2(t, e)
		return e.GetStateHash()
	}

	if run() != run() {
		t.Error("identical command streams must produce identical state hashes")
	}
}

// initializeProtocol2 drives a fixed multi-command scenario with fixed
// command IDs, used by determinism tests.
func initializeProtocol2(t *testing.T, e *Engine) {
	t.Helper()
	fixed := func(n byte) uuid.UUID {
		var u uuid.UUID
		u[15] = n
		u[0] = 0xF
		return u
	}
	mustProcess(t, e, &command.Initialize{
		CommandID: fixed(1), ActorID: testAdmin,
		SettlementAsset: "USDC", OracleSource: testOracle, Timestamp: 1_000,
	})
	mustProcess(t, e, &command.CreateProduct{
		CommandID: fixed(2), ActorID: testAdmin, ProductID: 1,
		FlightRoute: "SGN-HAN", DelayThresholdMin: 120,
		CoverageAmount: 100_000_000, PremiumRateBps: 500,
		ClaimWindowHours: 72, Timestamp: 1_100,
	})
	mustProcess(t, e, &command.FundWallet{
		CommandID: fixed(3), ActorID: testAdmin, Wallet: testHolder,
		Amount: 10_000_000, Timestamp: 1_200,
	})
	mustProcess(t, e, &command.PurchasePolicy{
		CommandID: fixed(4), ActorID: testHolder, ProductID: 1,
		FlightNumber: "VN254", DepartureTimestamp: 100_000,
		PremiumOffered: 5_000_000, Nonce: 1, Timestamp: 2_000,
	})
}

func TestEngine_EnvelopeHashChain(t *testing.T) {
	e, persistChan, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	fundWallet(t, e, testHolder, 10_000_000)

	var envelopes []*command.CommandEnvelope
	for {
		select {
		case out := <-persistChan:
			envelopes = append(envelopes, out.Envelope)
			continue
		default:
		}
		break
	}

	if len(envelopes) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envelopes))
	}
	for i := 1; i < len(envelopes); i++ {
		if envelopes[i].PrevHash != envelopes[i-1].StateHash {
			t.Errorf("envelope %d prev_hash does not chain", i)
		}
		if envelopes[i].Sequence != envelopes[i-1].Sequence+1 {
			t.Errorf("envelope %d sequence gap", i)
		}
	}
}

func TestEngine_SnapshotRestore(t *testing.T) {
	e, _, _ := newTestEngine(t)
	initializeProtocol(t, e)
	createTestProduct(t, e, 1)
	depositLiquidity(t, e, testProvider, 500_000_000)
	purchase := purchaseTestPolicy(t, e, testHolder, 1)

	snap := e.CreateSnapshotState()

	restored, _, _ := newTestEngine(t)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != e.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), e.GetSequence())
	}
	if restored.GetStateHash() != e.GetStateHash() {
		t.Error("state hash not restored")
	}

	// The restored engine keeps processing equivalently: pay out the
	// open policy on both and compare.
	payout := &command.ProcessPayout{
		CommandID:    uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 150,
		OracleSource: testOracle,
		Sequence:     0,
		Timestamp:    110_000,
	}
	r1 := mustProcess(t, e, payout)
	r2 := mustProcess(t, restored, payout)

	if r1.StateHash != r2.StateHash {
		t.Error("restored engine diverged from original")
	}
	if r1.VaultBalance != r2.VaultBalance {
		t.Error("vault balances diverged after restore")
	}
}

// drainOutputs empties a buffered output channel, standing in for the
// committed command log.
func drainOutputs(ch chan CoreOutput) []CoreOutput {
	var outputs []CoreOutput
	for {
		select {
		case out := <-ch:
			outputs = append(outputs, out)
		default:
			return outputs
		}
	}
}

// logBackedChecker answers duplicate lookups from committed envelopes, the
// way the Postgres checker answers them from the command log.
type logBackedChecker struct {
	keys map[string]bool
}

func (c *logBackedChecker) IsDuplicate(commandType, idempotencyKey string) (bool, error) {
	return c.keys[commandType+":"+idempotencyKey], nil
}

func TestEngine_ReplayRebuildsStateFromCommittedLog(t *testing.T) {
	live, livePersist, _ := newTestEngine(t)
	initializeProtocol(t, live)
	createTestProduct(t, live, 1)
	depositLiquidity(t, live, testProvider, 500_000_000)
	purchase := purchaseTestPolicy(t, live, testHolder, 1)
	mustProcess(t, live, &command.ProcessPayout{
		CommandID:    uuid.New(),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 150,
		OracleSource: testOracle,
		Sequence:     0,
		Timestamp:    110_000,
	})

	outputs := drainOutputs(livePersist)

	// The recovering engine sees every committed key as already present,
	// both in the DB checker and in the warmed LRU, exactly as at startup.
	checker := &logBackedChecker{keys: make(map[string]bool)}
	var warmKeys []string
	for _, out := range outputs {
		key := out.Envelope.CommandType.String() + ":" + out.Envelope.IdempotencyKey
		checker.keys[key] = true
		warmKeys = append(warmKeys, key)
	}

	persistChan := make(chan CoreOutput, 1024)
	projectionChan := make(chan CoreOutput, 1024)
	recovered := NewEngine(0, persistChan, projectionChan, checker, nil)
	recovered.WarmLRU(warmKeys)

	recovered.SetReplaying(true)
	for _, out := range outputs {
		cmd, err := command.Decode(out.Envelope.CommandType, out.Envelope.Payload)
		if err != nil {
			t.Fatalf("decode seq %d: %v", out.Envelope.Sequence, err)
		}
		result, err := recovered.ProcessCommand(cmd)
		if err != nil {
			t.Fatalf("re-apply seq %d (%s): %v", out.Envelope.Sequence, out.Envelope.CommandType, err)
		}
		if result.Duplicate {
			t.Fatalf("seq %d skipped as duplicate during recovery", out.Envelope.Sequence)
		}
		if result.StateHash != out.Envelope.StateHash {
			t.Fatalf("seq %d state hash diverged from the committed log", out.Envelope.Sequence)
		}
	}
	recovered.SetReplaying(false)

	if recovered.GetSequence() != live.GetSequence() {
		t.Errorf("sequence: got %d, want %d", recovered.GetSequence(), live.GetSequence())
	}
	if recovered.GetStateHash() != live.GetStateHash() {
		t.Error("state hash diverged after recovery")
	}
	usdcID, _ := ledger.GetAssetID("USDC")
	if got, want := recovered.book.VaultBalance(usdcID), live.book.VaultBalance(usdcID); got != want {
		t.Errorf("vault balance: got %d, want %d", got, want)
	}
	policy, ok := recovered.policies.Get(purchase.PolicyID)
	if !ok || policy.Status != state.PolicyStatusPaidOut {
		t.Error("paid-out policy not recovered as PaidOut")
	}

	// Back live, a retry of a committed command is flagged, not re-applied.
	last := outputs[len(outputs)-1].Envelope
	retry, err := command.Decode(last.CommandType, last.Payload)
	if err != nil {
		t.Fatalf("decode retry: %v", err)
	}
	result := mustProcess(t, recovered, retry)
	if !result.Duplicate {
		t.Error("post-recovery retry should be flagged duplicate")
	}
}

func TestEngine_ReplayAfterRejectedOracleAttempt(t *testing.T) {
	live, livePersist, _ := newTestEngine(t)
	initializeProtocol(t, live)
	createTestProduct(t, live, 1)
	depositLiquidity(t, live, testProvider, 500_000_000)
	purchase := purchaseTestPolicy(t, live, testHolder, 1)

	// A below-threshold attestation consumes oracle slot 0 without ever
	// reaching the log.
	_, err := live.ProcessCommand(&command.ProcessPayout{
		CommandID:    uuid.New(),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 60,
		OracleSource: testOracle,
		Sequence:     0,
		Timestamp:    110_000,
	})
	if !errors.Is(err, protocol.ErrDelayThresholdNotMet) {
		t.Fatalf("expected ErrDelayThresholdNotMet, got %v", err)
	}
	mustProcess(t, live, &command.ProcessPayout{
		CommandID:    uuid.New(),
		ActorID:      testAdmin,
		PolicyID:     purchase.PolicyID,
		DelayMinutes: 150,
		OracleSource: testOracle,
		Sequence:     1,
		Timestamp:    111_000,
	})

	outputs := drainOutputs(livePersist)

	recovered, _, _ := newTestEngine(t)
	recovered.SetReplaying(true)
	for _, out := range outputs {
		cmd, err := command.Decode(out.Envelope.CommandType, out.Envelope.Payload)
		if err != nil {
			t.Fatalf("decode seq %d: %v", out.Envelope.Sequence, err)
		}
		if _, err := recovered.ProcessCommand(cmd); err != nil {
			t.Fatalf("re-apply seq %d (%s): %v", out.Envelope.Sequence, out.Envelope.CommandType, err)
		}
	}
	recovered.SetReplaying(false)

	if recovered.GetStateHash() != live.GetStateHash() {
		t.Error("state hash diverged after recovery")
	}
	// The oracle cursor lands past the committed attestation.
	if got := recovered.seqValidator.GetExpectedSequence("oracle"); got != 2 {
		t.Errorf("oracle cursor: got %d, want 2", got)
	}
}

func TestDerivePolicyID(t *testing.T) {
	a := DerivePolicyID(testHolder, "VN254", 100_000, 1)
	b := DerivePolicyID(testHolder, "VN254", 100_000, 1)
	if a != b {
		t.Error("same inputs must derive the same id")
	}

	if DerivePolicyID(testHolder, "VN254", 100_000, 2) == a {
		t.Error("nonce must change the derived id")
	}
	if DerivePolicyID(testHolder, "VN255", 100_000, 1) == a {
		t.Error("flight must change the derived id")
	}
	if DerivePolicyID(testOperator, "VN254", 100_000, 1) == a {
		t.Error("policyholder must change the derived id")
	}
}
