package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"zyura/internal/command"
	"zyura/internal/ledger"
	"zyura/internal/observability"
	"zyura/internal/protocol"
	"zyura/internal/receipt"
	"zyura/internal/state"
)

// Engine is the single-threaded command processor. All protocol state
// lives behind it; nothing else mutates the books.
type Engine struct {
	sequence     int64
	hasher       *StateHasher
	book         *ledger.VaultBook
	journalGen   *ledger.JournalGenerator
	validator    *ledger.InvariantValidator
	config       *state.Config
	catalog      *state.Catalog
	policies     *state.PolicyBook
	providers    *state.ProviderBook
	deduper      *CommandDeduper
	seqValidator *SequenceValidator
	metrics      *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	// replaying suppresses channel emission while the log is re-applied
	// during recovery.
	replaying bool
}

// CoreOutput is what the engine hands to the persistence and projection
// workers for every committed command.
type CoreOutput struct {
	Envelope *command.CommandEnvelope
	Batch    *ledger.Batch
	Result   *CommandResult
}

// CommandResult reports what a committed command did. Fields beyond
// Sequence and StateHash are populated per command type.
type CommandResult struct {
	Sequence    int64
	StateHash   [32]byte
	CommandType command.CommandType
	Duplicate   bool

	PolicyID        uint64
	RequiredPremium int64
	PayoutAmount    int64
	ExpiredPolicies []uint64
	VaultBalance    int64

	Receipt  *receipt.Receipt
	Policy   *state.Policy
	Product  *state.Product
	Provider *state.LiquidityProvider
	Config   *ConfigView

	// Canonical bytes describing non-ledger state changes, folded into
	// the state digest.
	digestExtra []byte
}

// ConfigView is the serializable projection of the config singleton.
type ConfigView struct {
	Initialized     bool                 `json:"initialized"`
	Admin           uuid.UUID            `json:"admin"`
	SettlementAsset string               `json:"settlement_asset"`
	OracleSource    string               `json:"oracle_source"`
	Paused          bool                 `json:"paused"`
	Roles           map[string]uuid.UUID `json:"roles"`
}

// Submission pairs a command with an optional reply channel. Reply must be
// buffered (capacity 1) or nil for fire-and-forget submissions. A
// submission with Snapshot set instead of Command asks the engine to
// capture its state on the writer goroutine, keeping the single-writer
// discipline.
type Submission struct {
	Command  command.Command
	Reply    chan SubmissionReply
	Snapshot chan *SnapshotState
}

type SubmissionReply struct {
	Result *CommandResult
	Err    error
}

func NewEngine(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBDedupChecker,
	metrics *observability.Metrics,
) *Engine {
	book := ledger.NewVaultBook()

	return &Engine{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		book:           book,
		journalGen:     ledger.NewJournalGenerator(startSequence),
		validator:      ledger.NewInvariantValidator(book),
		config:         state.NewConfig(),
		catalog:        state.NewCatalog(),
		policies:       state.NewPolicyBook(),
		providers:      state.NewProviderBook(),
		deduper:        NewCommandDeduper(1_000_000, dbChecker),
		seqValidator:   NewSequenceValidator(),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Run drains the inbox until the context is cancelled. This is the only
// goroutine allowed to touch engine state.
func (e *Engine) Run(ctx context.Context, inbox <-chan Submission) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-inbox:
			if !ok {
				return
			}
			if sub.Snapshot != nil {
				sub.Snapshot <- e.CreateSnapshotState()
				continue
			}
			result, err := e.ProcessCommand(sub.Command)
			if sub.Reply != nil {
				sub.Reply <- SubmissionReply{Result: result, Err: err}
			}
		}
	}
}

// ProcessCommand is the main processing pipeline
func (e *Engine) ProcessCommand(cmd command.Command) (*CommandResult, error) {
	start := time.Now()
	cmdType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier). Replay feeds the engine
	// commands the log already committed, so the check is skipped there;
	// Step 8 still records the keys so post-recovery retries are caught.
	isDuplicate := false
	if !e.replaying {
		isDuplicate = e.deduper.IsDuplicate(cmdType, idempotencyKey)
	}

	// Step 2: Sequence validation. The oracle partition is strictly
	// ordered; the ops partition tolerates gaps because client sources
	// assign sequences independently. During replay the log order is
	// authoritative: rejected commands advanced the live counters without
	// occupying a log slot, so the counters are set, not validated.
	if e.replaying {
		e.seqValidator.SetExpectedSequence(e.getPartition(cmd), cmd.SourceSequence()+1)
	} else if partition := e.getPartition(cmd); partition == "oracle" {
		if err := e.seqValidator.ValidateStrict(partition, cmd.SourceSequence(), isDuplicate); err != nil {
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	} else {
		if err := e.seqValidator.ValidateMonotonic(partition, cmd.SourceSequence()); err != nil {
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(cmdType, "duplicate").Inc()
		}
		return &CommandResult{CommandType: cmd.CommandType(), Duplicate: true}, nil
	}

	// Step 3: Dispatch. Handlers run every guard before mutating anything,
	// so a returned error means state is untouched.
	result := &CommandResult{CommandType: cmd.CommandType()}

	batch, err := e.dispatchCommand(cmd, result)
	if err != nil {
		if e.metrics != nil {
			e.metrics.CoreCommandsRejected.WithLabelValues(cmdType, protocol.ErrorClass(err)).Inc()
		}
		return nil, err
	}

	// Step 4: Validate and apply the batch. Guard-only commands produce
	// an empty batch but still occupy a log slot.
	if len(batch.Journals) > 0 {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := e.book.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 5: State digest and hash chain
	stateDigest := e.computeStateDigest(batch, result.digestExtra)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: command payload not serializable: %v", err))
	}

	envelope := &command.CommandEnvelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		Timestamp:      time.Unix(cmd.CommandTimestamp(), 0).UTC(),
		SourceSequence: cmd.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	result.Sequence = e.sequence
	result.StateHash = stateHash
	if e.config.Initialized {
		result.VaultBalance = e.book.VaultBalance(e.config.SettlementAsset)
	}

	e.sequence++

	// Step 6: Post-checks
	if err := e.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Emit. Persist channel uses a blocking send (backpressure),
	// projection channel drops on full and catches up from the log.
	if !e.replaying {
		output := CoreOutput{Envelope: envelope, Batch: batch, Result: result}

		e.persistChan <- output

		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.WithLabelValues(cmdType).Inc()
			}
		}
	}

	// Step 8: Mark as processed
	e.deduper.MarkProcessed(cmdType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.CoreCommandsApplied.WithLabelValues(cmdType).Inc()
		e.metrics.CoreCommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		if e.config.Initialized {
			e.metrics.VaultBalance.Set(float64(e.book.VaultBalance(e.config.SettlementAsset)))
		}
	}

	return result, nil
}

// getPartition determines the partition key for sequence validation
func (e *Engine) getPartition(cmd command.Command) string {
	if cmd.CommandType() == command.CommandTypeProcessPayout {
		return "oracle"
	}
	return "ops"
}

func (e *Engine) dispatchCommand(cmd command.Command, result *CommandResult) (*ledger.Batch, error) {
	switch c := cmd.(type) {
	case *command.Initialize:
		return e.handleInitialize(c, result)
	case *command.SetPauseStatus:
		return e.handleSetPauseStatus(c, result)
	case *command.CloseConfig:
		return e.handleCloseConfig(c, result)
	case *command.AssignRole:
		return e.handleAssignRole(c, result)
	case *command.CreateProduct:
		return e.handleCreateProduct(c, result)
	case *command.UpdateProduct:
		return e.handleUpdateProduct(c, result)
	case *command.FundWallet:
		return e.handleFundWallet(c, result)
	case *command.PurchasePolicy:
		return e.handlePurchasePolicy(c, result)
	case *command.ProcessPayout:
		return e.handleProcessPayout(c, result)
	case *command.ExpirePolicy:
		return e.handleExpirePolicy(c, result)
	case *command.SweepExpired:
		return e.handleSweepExpired(c, result)
	case *command.DepositLiquidity:
		return e.handleDepositLiquidity(c, result)
	case *command.WithdrawLiquidity:
		return e.handleWithdrawLiquidity(c, result)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

// --- Guards ---

func (e *Engine) requireInitialized() error {
	if !e.config.Initialized {
		return protocol.ErrNotInitialized
	}
	return nil
}

func (e *Engine) requireRole(role state.Role, actor uuid.UUID) error {
	if e.config.Holder(role) != actor {
		return protocol.ErrUnauthorized
	}
	return nil
}

func (e *Engine) requireNotPaused() error {
	if e.config.Paused {
		return protocol.ErrProtocolPaused
	}
	return nil
}

// emptyBatch wraps a guard-only command so it still occupies a log slot.
func (e *Engine) emptyBatch(commandRef string, timestamp int64) *ledger.Batch {
	return &ledger.Batch{
		BatchID:    uuid.New(),
		CommandRef: commandRef,
		Sequence:   e.sequence,
		Timestamp:  timestamp,
		Journals:   []ledger.Journal{},
	}
}

// --- Admin handlers ---

func (e *Engine) handleInitialize(cmd *command.Initialize, result *CommandResult) (*ledger.Batch, error) {
	if e.config.Initialized {
		return nil, protocol.ErrAlreadyInitialized
	}

	assetID, ok := ledger.GetAssetID(cmd.SettlementAsset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownAsset, cmd.SettlementAsset)
	}
	if cmd.OracleSource == "" {
		return nil, fmt.Errorf("%w: empty oracle source", protocol.ErrOracleSourceMismatch)
	}

	e.config.Initialize(cmd.ActorID, assetID, cmd.OracleSource)

	result.Config = e.configView()
	result.digestExtra = e.configDigest()

	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

func (e *Engine) handleSetPauseStatus(cmd *command.SetPauseStatus, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if err := e.requireRole(state.RolePauseAdmin, cmd.ActorID); err != nil {
		return nil, err
	}

	e.config.Paused = cmd.Paused

	result.Config = e.configView()
	result.digestExtra = e.configDigest()

	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

func (e *Engine) handleCloseConfig(cmd *command.CloseConfig, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if cmd.ActorID != e.config.Admin {
		return nil, protocol.ErrUnauthorized
	}
	if e.policies.CountByStatus()[state.PolicyStatusActive] > 0 {
		return nil, protocol.ErrPoliciesOutstanding
	}
	if e.book.VaultBalance(e.config.SettlementAsset) != 0 {
		return nil, protocol.ErrVaultNotEmpty
	}

	e.config.Close()

	result.Config = e.configView()
	result.digestExtra = e.configDigest()

	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

func (e *Engine) handleAssignRole(cmd *command.AssignRole, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if cmd.ActorID != e.config.Admin {
		return nil, protocol.ErrUnauthorized
	}

	role, ok := state.ParseRole(cmd.Role)
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownRole, cmd.Role)
	}

	e.config.AssignRole(role, cmd.Holder)

	result.Config = e.configView()
	result.digestExtra = e.configDigest()

	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

// --- Product handlers ---

func (e *Engine) handleCreateProduct(cmd *command.CreateProduct, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if err := e.requireRole(state.RoleProductAdmin, cmd.ActorID); err != nil {
		return nil, err
	}
	if err := state.ValidateProductParams(cmd.DelayThresholdMin, cmd.CoverageAmount, cmd.PremiumRateBps, cmd.ClaimWindowHours); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidProductParams, err)
	}
	if e.catalog.Exists(cmd.ProductID) {
		return nil, protocol.ErrProductExists
	}

	product := &state.Product{
		ProductID:          cmd.ProductID,
		FlightRoute:        cmd.FlightRoute,
		DelayThresholdMin:  cmd.DelayThresholdMin,
		CoverageAmount:     cmd.CoverageAmount,
		PremiumRateBps:     cmd.PremiumRateBps,
		ClaimWindowHours:   cmd.ClaimWindowHours,
		Active:             true,
		CreatedAtTimestamp: cmd.Timestamp,
		UpdatedAtTimestamp: cmd.Timestamp,
	}
	e.catalog.Create(product)

	snapshot := *product
	result.Product = &snapshot
	result.RequiredPremium = product.RequiredPremium()
	result.digestExtra = productDigest(product)

	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

func (e *Engine) handleUpdateProduct(cmd *command.UpdateProduct, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if err := e.requireRole(state.RoleProductAdmin, cmd.ActorID); err != nil {
		return nil, err
	}
	if err := state.ValidateProductParams(cmd.DelayThresholdMin, cmd.CoverageAmount, cmd.PremiumRateBps, cmd.ClaimWindowHours); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidProductParams, err)
	}

	product, ok := e.catalog.Get(cmd.ProductID)
	if !ok {
		return nil, protocol.ErrProductNotFound
	}

	// Policies already sold keep the terms they were purchased under;
	// only future purchases see the update.
	product.DelayThresholdMin = cmd.DelayThresholdMin
	product.CoverageAmount = cmd.CoverageAmount
	product.PremiumRateBps = cmd.PremiumRateBps
	product.ClaimWindowHours = cmd.ClaimWindowHours
	product.Active = cmd.Active
	product.UpdatedAtTimestamp = cmd.Timestamp

	snapshot := *product
	result.Product = &snapshot
	result.RequiredPremium = product.RequiredPremium()
	result.digestExtra = productDigest(product)

	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

// --- Wallet and liquidity handlers ---

func (e *Engine) handleFundWallet(cmd *command.FundWallet, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	// Funding crosses the rails boundary, so only the admin (acting as
	// rails operator) may attest it.
	if cmd.ActorID != e.config.Admin {
		return nil, protocol.ErrUnauthorized
	}
	if cmd.Amount <= 0 {
		return nil, protocol.ErrInvalidAmount
	}

	return e.journalGen.GenerateWalletFund(
		cmd.IdempotencyKey(), cmd.Wallet, e.config.SettlementAsset, cmd.Amount, cmd.Timestamp,
	), nil
}

func (e *Engine) handleDepositLiquidity(cmd *command.DepositLiquidity, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if cmd.Amount <= 0 {
		return nil, protocol.ErrInvalidAmount
	}
	if e.book.WalletBalance(cmd.ActorID, e.config.SettlementAsset) < cmd.Amount {
		return nil, protocol.ErrInsufficientFunds
	}

	batch := e.journalGen.GenerateLiquidityDeposit(
		cmd.IdempotencyKey(), cmd.ActorID, e.config.SettlementAsset, cmd.Amount, cmd.Timestamp,
	)

	lp := e.providers.RecordDeposit(cmd.ActorID, cmd.Amount, cmd.Timestamp)

	snapshot := *lp
	result.Provider = &snapshot
	result.digestExtra = providerDigest(lp)

	return batch, nil
}

func (e *Engine) handleWithdrawLiquidity(cmd *command.WithdrawLiquidity, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if cmd.Amount <= 0 {
		return nil, protocol.ErrInvalidAmount
	}
	if cmd.Approver != e.config.Holder(state.RoleWithdrawalApprover) {
		return nil, protocol.ErrWithdrawalNotApproved
	}

	lp, ok := e.providers.Get(cmd.ActorID)
	if !ok {
		return nil, protocol.ErrProviderNotFound
	}
	if lp.ActiveDeposit < cmd.Amount {
		return nil, protocol.ErrExceedsActiveDeposit
	}
	if e.book.VaultBalance(e.config.SettlementAsset) < cmd.Amount {
		return nil, protocol.ErrInsufficientVaultLiquidity
	}

	batch := e.journalGen.GenerateLiquidityWithdrawal(
		cmd.IdempotencyKey(), cmd.ActorID, e.config.SettlementAsset, cmd.Amount, cmd.Timestamp,
	)

	e.providers.RecordWithdrawal(cmd.ActorID, cmd.Amount, cmd.Timestamp)

	snapshot := *lp
	result.Provider = &snapshot
	result.digestExtra = providerDigest(lp)

	return batch, nil
}

// --- Policy handlers ---

func (e *Engine) handlePurchasePolicy(cmd *command.PurchasePolicy, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if err := e.requireNotPaused(); err != nil {
		return nil, err
	}

	product, ok := e.catalog.Get(cmd.ProductID)
	if !ok {
		return nil, protocol.ErrProductNotFound
	}
	if !product.Active {
		return nil, protocol.ErrProductInactive
	}
	if cmd.FlightNumber == "" || len(cmd.FlightNumber) > state.MaxFlightNumberLen {
		return nil, protocol.ErrInvalidFlightNumber
	}
	if cmd.DepartureTimestamp <= cmd.Timestamp {
		return nil, protocol.ErrDepartureInPast
	}

	required := product.RequiredPremium()
	result.RequiredPremium = required
	if cmd.PremiumOffered < required {
		return nil, protocol.ErrInsufficientPremium
	}

	policyID := DerivePolicyID(cmd.ActorID, cmd.FlightNumber, cmd.DepartureTimestamp, cmd.Nonce)
	if e.policies.Exists(policyID) {
		return nil, protocol.ErrPolicyIDCollision
	}

	if e.book.WalletBalance(cmd.ActorID, e.config.SettlementAsset) < cmd.PremiumOffered {
		return nil, protocol.ErrInsufficientFunds
	}

	// The full offered premium moves to escrow; any surplus over the
	// required premium is captured by the vault.
	batch := e.journalGen.GeneratePremiumReceipt(
		cmd.IdempotencyKey(), cmd.ActorID, e.config.SettlementAsset, cmd.PremiumOffered, cmd.Timestamp,
	)

	policy := &state.Policy{
		PolicyID:           policyID,
		ProductID:          cmd.ProductID,
		Policyholder:       cmd.ActorID,
		FlightNumber:       cmd.FlightNumber,
		DepartureTimestamp: cmd.DepartureTimestamp,
		CoverageAmount:     product.CoverageAmount,
		ClaimWindowSeconds: product.ClaimWindowSeconds(),
		PremiumPaid:        cmd.PremiumOffered,
		Status:             state.PolicyStatusActive,
		PurchasedAt:        cmd.Timestamp,
	}
	e.policies.Add(policy)
	product.PoliciesSold++

	result.PolicyID = policyID
	snapshot := *policy
	result.Policy = &snapshot
	result.Receipt = receipt.Mint(policyID, cmd.ActorID, cmd.ProductID, cmd.PremiumOffered, e.sequence, cmd.Timestamp)
	result.digestExtra = policyDigest(policy)

	if e.metrics != nil {
		e.metrics.PremiumsCollected.Add(float64(cmd.PremiumOffered))
	}

	return batch, nil
}

func (e *Engine) handleProcessPayout(cmd *command.ProcessPayout, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if err := e.requireNotPaused(); err != nil {
		return nil, err
	}
	if err := e.requireRole(state.RolePayoutAuthority, cmd.ActorID); err != nil {
		return nil, err
	}
	if cmd.OracleSource != e.config.OracleSource {
		return nil, protocol.ErrOracleSourceMismatch
	}

	policy, ok := e.policies.Get(cmd.PolicyID)
	if !ok {
		return nil, protocol.ErrPolicyNotFound
	}
	if policy.Status != state.PolicyStatusActive {
		return nil, protocol.ErrPolicyNotActive
	}

	product, ok := e.catalog.Get(policy.ProductID)
	if !ok {
		return nil, protocol.ErrProductNotFound
	}
	if cmd.DelayMinutes < product.DelayThresholdMin {
		return nil, protocol.ErrDelayThresholdNotMet
	}
	if e.book.VaultBalance(e.config.SettlementAsset) < policy.CoverageAmount {
		return nil, protocol.ErrInsufficientVaultLiquidity
	}

	batch := e.journalGen.GenerateCoveragePayout(
		cmd.IdempotencyKey(), policy.Policyholder, e.config.SettlementAsset, policy.CoverageAmount, cmd.Timestamp,
	)

	if err := e.policies.Transition(cmd.PolicyID, state.PolicyStatusPaidOut, cmd.Timestamp); err != nil {
		panic(fmt.Sprintf("FATAL: guarded transition failed: %v", err))
	}
	policy.PayoutAmount = policy.CoverageAmount
	policy.DelayMinutes = cmd.DelayMinutes

	result.PolicyID = cmd.PolicyID
	result.PayoutAmount = policy.CoverageAmount
	snapshot := *policy
	result.Policy = &snapshot
	result.digestExtra = policyDigest(policy)

	if e.metrics != nil {
		e.metrics.PayoutsPaid.Add(float64(policy.CoverageAmount))
	}

	return batch, nil
}

func (e *Engine) handleExpirePolicy(cmd *command.ExpirePolicy, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}

	policy, ok := e.policies.Get(cmd.PolicyID)
	if !ok {
		return nil, protocol.ErrPolicyNotFound
	}
	if policy.Status != state.PolicyStatusActive {
		return nil, protocol.ErrPolicyNotActive
	}
	if cmd.Timestamp <= policy.DepartureTimestamp+policy.ClaimWindowSeconds {
		return nil, protocol.ErrClaimWindowOpen
	}

	if err := e.policies.Transition(cmd.PolicyID, state.PolicyStatusExpired, cmd.Timestamp); err != nil {
		panic(fmt.Sprintf("FATAL: guarded transition failed: %v", err))
	}

	result.PolicyID = cmd.PolicyID
	snapshot := *policy
	result.Policy = &snapshot
	result.digestExtra = policyDigest(policy)

	// The premium stays in the vault; expiry moves no funds.
	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

func (e *Engine) handleSweepExpired(cmd *command.SweepExpired, result *CommandResult) (*ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}

	candidates := e.policies.ExpiryCandidates(cmd.Timestamp)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	digest := make([]byte, 0, len(candidates)*9)
	for _, policyID := range candidates {
		if err := e.policies.Transition(policyID, state.PolicyStatusExpired, cmd.Timestamp); err != nil {
			panic(fmt.Sprintf("FATAL: guarded transition failed: %v", err))
		}
		p, _ := e.policies.Get(policyID)
		digest = append(digest, policyDigest(p)...)
	}

	result.ExpiredPolicies = candidates
	result.digestExtra = digest

	return e.emptyBatch(cmd.IdempotencyKey(), cmd.Timestamp), nil
}

// --- State digest ---

// computeStateDigest creates canonical bytes for the state hash: every
// account touched by the batch with its post-apply balance, followed by
// handler-supplied bytes for non-ledger state changes.
func (e *Engine) computeStateDigest(batch *ledger.Batch, extra []byte) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(extra))

	for _, key := range accounts {
		balance := e.book.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, balance)
	}

	return append(digest, extra...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return appendInt64LE(buf, int64(v))
}

func policyDigest(p *state.Policy) []byte {
	buf := make([]byte, 0, 26)
	buf = appendUint64LE(buf, p.PolicyID)
	buf = append(buf, byte(p.Status))
	buf = appendInt64LE(buf, p.PremiumPaid)
	buf = appendInt64LE(buf, p.PayoutAmount)
	return buf
}

func productDigest(p *state.Product) []byte {
	buf := make([]byte, 0, 41)
	buf = appendUint64LE(buf, p.ProductID)
	buf = appendInt64LE(buf, p.DelayThresholdMin)
	buf = appendInt64LE(buf, p.CoverageAmount)
	buf = appendInt64LE(buf, p.PremiumRateBps)
	buf = appendInt64LE(buf, p.ClaimWindowHours)
	if p.Active {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func providerDigest(lp *state.LiquidityProvider) []byte {
	buf := make([]byte, 0, 40)
	buf = append(buf, lp.Provider[:]...)
	buf = appendInt64LE(buf, lp.ActiveDeposit)
	buf = appendInt64LE(buf, lp.TotalDeposited)
	buf = appendInt64LE(buf, lp.TotalWithdrawn)
	return buf
}

func (e *Engine) configDigest() []byte {
	c := e.config
	buf := make([]byte, 0, 64)
	if c.Initialized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, c.Admin[:]...)
	buf = append(buf, byte(c.SettlementAsset))
	buf = append(buf, []byte(c.OracleSource)...)
	if c.Paused {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	roles := c.Roles()
	keys := make([]int, 0, len(roles))
	for r := range roles {
		keys = append(keys, int(r))
	}
	sort.Ints(keys)
	for _, r := range keys {
		id := roles[state.Role(r)]
		buf = append(buf, byte(r))
		buf = append(buf, id[:]...)
	}
	return buf
}

func (e *Engine) configView() *ConfigView {
	assetName, _ := ledger.GetAssetName(e.config.SettlementAsset)
	roles := make(map[string]uuid.UUID)
	for r, id := range e.config.Roles() {
		roles[r.String()] = id
	}
	return &ConfigView{
		Initialized:     e.config.Initialized,
		Admin:           e.config.Admin,
		SettlementAsset: assetName,
		OracleSource:    e.config.OracleSource,
		Paused:          e.config.Paused,
		Roles:           roles,
	}
}

// postCheckInvariants validates invariants after batch application
func (e *Engine) postCheckInvariants() error {
	if e.config.Initialized {
		if err := e.validator.ValidateVaultSolvent(e.config.SettlementAsset); err != nil {
			return err
		}
	}

	// Periodic global zero-sum check
	if e.sequence > 0 && e.sequence%1000 == 0 {
		totals := e.book.ComputeGlobalBalance()
		for assetID, total := range totals {
			if total != 0 {
				return fmt.Errorf("global balance non-zero for asset %d: %d (at seq %d)",
					assetID, total, e.sequence)
			}
		}
	}

	return nil
}
