package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"zyura/internal/command"
	"zyura/internal/core"
	"zyura/internal/observability"
	"zyura/internal/protocol"
	"zyura/internal/query"
)

// HTTPServer is the interactive command and query surface. High-volume
// command traffic goes through NATS; this covers dashboards, tooling and
// admin operations.
type HTTPServer struct {
	server  *http.Server
	inbox   chan<- core.Submission
	queries *query.Service
	health  *observability.HealthChecker
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewHTTPServer(
	addr string,
	inbox chan<- core.Submission,
	queries *query.Service,
	health *observability.HealthChecker,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *HTTPServer {
	s := &HTTPServer{
		inbox:   inbox,
		queries: queries,
		health:  health,
		log:     log,
		metrics: metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/admin/initialize", s.submitHandler(command.CommandTypeInitialize))
	mux.HandleFunc("POST /v1/admin/pause", s.submitHandler(command.CommandTypeSetPauseStatus))
	mux.HandleFunc("POST /v1/admin/close", s.submitHandler(command.CommandTypeCloseConfig))
	mux.HandleFunc("POST /v1/admin/roles", s.submitHandler(command.CommandTypeAssignRole))
	mux.HandleFunc("POST /v1/products", s.submitHandler(command.CommandTypeCreateProduct))
	mux.HandleFunc("PATCH /v1/products", s.submitHandler(command.CommandTypeUpdateProduct))
	mux.HandleFunc("POST /v1/wallets/fund", s.submitHandler(command.CommandTypeFundWallet))
	mux.HandleFunc("POST /v1/policies/purchase", s.submitHandler(command.CommandTypePurchasePolicy))
	mux.HandleFunc("POST /v1/policies/expire", s.submitHandler(command.CommandTypeExpirePolicy))
	mux.HandleFunc("POST /v1/policies/sweep", s.submitHandler(command.CommandTypeSweepExpired))
	mux.HandleFunc("POST /v1/liquidity/deposit", s.submitHandler(command.CommandTypeDepositLiquidity))
	mux.HandleFunc("POST /v1/liquidity/withdraw", s.submitHandler(command.CommandTypeWithdrawLiquidity))
	mux.HandleFunc("POST /v1/oracle/payout", s.submitHandler(command.CommandTypeProcessPayout))

	mux.HandleFunc("GET /v1/wallets/{owner}/balance", s.handleWalletBalance)
	mux.HandleFunc("GET /v1/vault", s.handleVaultBalance)
	mux.HandleFunc("GET /v1/policies/{id}", s.handleGetPolicy)
	mux.HandleFunc("GET /v1/policyholders/{holder}/policies", s.handleListPolicies)
	mux.HandleFunc("GET /v1/products", s.handleListProducts)
	mux.HandleFunc("GET /v1/products/{id}", s.handleGetProduct)
	mux.HandleFunc("GET /v1/providers/{id}", s.handleGetProvider)
	mux.HandleFunc("GET /v1/config", s.handleGetConfig)
	mux.HandleFunc("GET /v1/receipts/{token}", s.handleGetReceipt)
	mux.HandleFunc("GET /v1/journal/{owner}", s.handleJournalHistory)
	mux.HandleFunc("GET /v1/admin/integrity", s.handleVerifyIntegrity)

	mux.Handle("GET /metrics", promhttp.Handler())
	if health != nil {
		mux.HandleFunc("GET /healthz", health.LivenessHandler)
		mux.HandleFunc("GET /readyz", health.ReadinessHandler)
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// commandResponse is the JSON shape returned for accepted commands.
type commandResponse struct {
	Sequence        int64     `json:"sequence"`
	StateHash       string    `json:"state_hash"`
	Duplicate       bool      `json:"duplicate,omitempty"`
	PolicyID        string    `json:"policy_id,omitempty"`
	RequiredPremium int64     `json:"required_premium,omitempty"`
	PayoutAmount    int64     `json:"payout_amount,omitempty"`
	ExpiredPolicies []string  `json:"expired_policies,omitempty"`
	VaultBalance    int64     `json:"vault_balance,omitempty"`
	Receipt         any       `json:"receipt,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// submitHandler decodes the request body into a typed command and runs it
// through the engine, waiting synchronously for the result.
func (s *HTTPServer) submitHandler(ct command.CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		cmd, err := command.Decode(ct, body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if cmd.IdempotencyKey() == uuid.Nil.String() {
			writeError(w, http.StatusBadRequest, errors.New("command_id is required"))
			return
		}
		if cmd.Actor() == uuid.Nil {
			writeError(w, http.StatusBadRequest, errors.New("actor_id is required"))
			return
		}

		result, err := s.submit(r.Context(), cmd)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}

		resp := commandResponse{
			Sequence:        result.Sequence,
			StateHash:       fmt.Sprintf("%x", result.StateHash),
			Duplicate:       result.Duplicate,
			RequiredPremium: result.RequiredPremium,
			PayoutAmount:    result.PayoutAmount,
			VaultBalance:    result.VaultBalance,
			Receipt:         result.Receipt,
			SubmittedAt:     time.Now().UTC(),
		}
		if result.PolicyID != 0 {
			resp.PolicyID = strconv.FormatUint(result.PolicyID, 10)
		}
		for _, id := range result.ExpiredPolicies {
			resp.ExpiredPolicies = append(resp.ExpiredPolicies, strconv.FormatUint(id, 10))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *HTTPServer) submit(ctx context.Context, cmd command.Command) (*core.CommandResult, error) {
	reply := make(chan core.SubmissionReply, 1)

	select {
	case s.inbox <- core.Submission{Command: cmd, Reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.Result, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- query handlers ---

func (s *HTTPServer) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(r.PathValue("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "USDC"
	}
	s.serveQuery(w, r, "wallet_balance", func(ctx context.Context) (any, error) {
		return s.queries.GetWalletBalance(ctx, owner, asset)
	})
}

func (s *HTTPServer) handleVaultBalance(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		asset = "USDC"
	}
	s.serveQuery(w, r, "vault_balance", func(ctx context.Context) (any, error) {
		return s.queries.GetVaultBalance(ctx, asset)
	})
}

func (s *HTTPServer) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	policyID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid policy id: %w", err))
		return
	}
	s.serveQuery(w, r, "policy", func(ctx context.Context) (any, error) {
		return s.queries.GetPolicy(ctx, policyID)
	})
}

func (s *HTTPServer) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	holder, err := uuid.Parse(r.PathValue("holder"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid holder: %w", err))
		return
	}
	limit := queryLimit(r, 50, 200)
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid before cursor: %w", err))
			return
		}
		before = &ts
	}
	s.serveQuery(w, r, "policies_by_holder", func(ctx context.Context) (any, error) {
		return s.queries.GetPoliciesByHolder(ctx, holder, limit, before)
	})
}

func (s *HTTPServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	s.serveQuery(w, r, "products", func(ctx context.Context) (any, error) {
		return s.queries.ListProducts(ctx, activeOnly)
	})
}

func (s *HTTPServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid product id: %w", err))
		return
	}
	s.serveQuery(w, r, "product", func(ctx context.Context) (any, error) {
		return s.queries.GetProduct(ctx, productID)
	})
}

func (s *HTTPServer) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid provider: %w", err))
		return
	}
	s.serveQuery(w, r, "provider", func(ctx context.Context) (any, error) {
		return s.queries.GetProvider(ctx, provider)
	})
}

func (s *HTTPServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, "config", func(ctx context.Context) (any, error) {
		return s.queries.GetConfig(ctx)
	})
}

func (s *HTTPServer) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	s.serveQuery(w, r, "receipt", func(ctx context.Context) (any, error) {
		return s.queries.GetReceipt(ctx, token)
	})
}

func (s *HTTPServer) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(r.PathValue("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}
	limit := queryLimit(r, 100, 500)
	var after *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid cursor: %w", err))
			return
		}
		after = &seq
	}
	s.serveQuery(w, r, "journal", func(ctx context.Context) (any, error) {
		return s.queries.GetJournalHistory(ctx, owner, limit, after)
	})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	s.serveQuery(w, r, "integrity", func(ctx context.Context) (any, error) {
		return s.queries.VerifyIntegrity(ctx)
	})
}

func (s *HTTPServer) serveQuery(w http.ResponseWriter, r *http.Request, name string, fn func(ctx context.Context) (any, error)) {
	start := time.Now()
	result, err := fn(r.Context())

	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(name).Inc()
		s.metrics.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			s.metrics.QueryErrors.WithLabelValues(name).Inc()
		}
	}

	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- helpers ---

func statusForError(err error) int {
	switch protocol.ErrorClass(err) {
	case "validation":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "conflict", "lifecycle":
		return http.StatusConflict
	case "paused":
		return http.StatusServiceUnavailable
	case "precondition":
		return http.StatusPreconditionFailed
	case "insufficient_funds":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request, def, max int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}
