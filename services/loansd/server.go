// Package loansd exposes the loan engine over an authenticated JSON API with
// replayable mutations, oracle price feeds and portfolio snapshot exports.
package loansd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	nativecommon "tranchor/native/common"
	"tranchor/native/loans"
	"tranchor/native/oracle"
	"tranchor/observability"
	"tranchor/reporting"
)

const (
	maxBodyBytes      = 1 << 16 // 64 KiB
	headerIdempotency = "Idempotency-Key"
	defaultIdemTTL    = 24 * time.Hour
)

// Config describes the dependencies and tunables of the HTTP server. Engine
// and Auth are mandatory; reporting, exports and the replay cache are optional
// and the matching endpoints degrade gracefully when absent.
type Config struct {
	Engine         *loans.Engine
	Prices         *oracle.ManualSource
	Reports        *reporting.Store
	Exports        *reporting.Exporter
	Idempotency    *IdempotencyStore
	IdempotencyTTL time.Duration
	Auth           *Authenticator
	RateLimit      RateLimit
}

// Server implements the HTTP handlers of the valuation service. Mutating
// engine calls are serialised through a single mutex because the engine
// itself is not concurrency safe.
type Server struct {
	engine  *loans.Engine
	prices  *oracle.ManualSource
	reports *reporting.Store
	exports *reporting.Exporter
	idem    *IdempotencyStore
	idemTTL time.Duration
	auth    *Authenticator
	limiter *RateLimiter
	tracer  trace.Tracer

	mu     sync.Mutex
	nowFn  func() time.Time
	router chi.Router
}

// NewServer wires the handlers onto a chi router.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("loansd: engine required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("loansd: authenticator required")
	}
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdemTTL
	}
	server := &Server{
		engine:  cfg.Engine,
		prices:  cfg.Prices,
		reports: cfg.Reports,
		exports: cfg.Exports,
		idem:    cfg.Idempotency,
		idemTTL: ttl,
		auth:    cfg.Auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		tracer:  otel.Tracer("tranchor/loansd"),
		nowFn:   time.Now,
	}
	server.router = server.buildRouter()
	return server, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(protected chi.Router) {
		protected.Use(s.limiter.Middleware)
		protected.Use(s.auth.Middleware)

		protected.Route("/v1/pools/{pool}", func(pool chi.Router) {
			pool.With(metricsMiddleware("loans.create")).Post("/loans", s.handleCreateLoan)
			pool.With(metricsMiddleware("loans.list")).Get("/loans", s.handleListLoans)
			pool.With(metricsMiddleware("pool.nav")).Get("/nav", s.handleNAV)
			pool.With(metricsMiddleware("pool.snapshot")).Post("/snapshot", s.handleSnapshot)
			pool.With(metricsMiddleware("pool.policy.get")).Get("/policy", s.handleGetPolicy)
			pool.With(metricsMiddleware("pool.policy.set")).Put("/policy", s.handleSetPolicy)

			pool.Route("/loans/{loanID}", func(loan chi.Router) {
				loan.With(metricsMiddleware("loans.get")).Get("/", s.handleGetLoan)
				loan.With(metricsMiddleware("loans.borrow")).Post("/borrow", s.handleBorrow)
				loan.With(metricsMiddleware("loans.repay")).Post("/repay", s.handleRepay)
				loan.With(metricsMiddleware("loans.writeoff")).Post("/write-off", s.handleWriteOff)
				loan.With(metricsMiddleware("loans.admin_writeoff")).Post("/admin-write-off", s.handleAdminWriteOff)
				loan.With(metricsMiddleware("loans.close")).Post("/close", s.handleClose)
				loan.With(metricsMiddleware("loans.value")).Get("/value", s.handleValue)
				loan.With(metricsMiddleware("loans.cashflows")).Get("/cashflows", s.handleCashflows)
				loan.With(metricsMiddleware("loans.payment")).Get("/payment", s.handleExpectedPayment)
			})
		})

		protected.With(metricsMiddleware("oracle.price")).Post("/v1/oracle/prices", s.handlePostPrice)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	if record, ok := s.tryReplay(r); ok {
		s.writeCachedResponse(w, record)
		return
	}
	var info loans.LoanInfo
	if err := json.Unmarshal(body, &info); err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid JSON payload", nil)
		return
	}
	s.mu.Lock()
	loan, err := s.engine.CreateLoan(pool, info, s.now().Unix())
	s.mu.Unlock()
	observability.Engine().ObserveOperation(pool, "create", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.persistAndWrite(w, r, map[string]any{"loan": loan}, http.StatusCreated)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.handleFunding(w, r, "borrow", s.engine.Borrow)
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.handleFunding(w, r, "repay", s.engine.Repay)
}

// handleFunding is the shared drawdown/repayment handler: both take a
// FundingAmount body and return the updated loan plus the principal delta in
// pool currency.
func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request, operation string, apply func(string, uint64, loans.FundingAmount, int64) (*loans.Loan, *big.Int, error)) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	if record, ok := s.tryReplay(r); ok {
		s.writeCachedResponse(w, record)
		return
	}
	var funding loans.FundingAmount
	if err := json.Unmarshal(body, &funding); err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid JSON payload", nil)
		return
	}
	s.mu.Lock()
	loan, principal, err := apply(pool, id, funding, s.now().Unix())
	s.mu.Unlock()
	observability.Engine().ObserveOperation(pool, operation, err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.persistAndWrite(w, r, map[string]any{"loan": loan, "principal": principal}, http.StatusOK)
}

func (s *Server) handleWriteOff(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	if record, ok := s.tryReplay(r); ok {
		s.writeCachedResponse(w, record)
		return
	}
	s.mu.Lock()
	loan, err := s.engine.WriteOff(pool, id, s.now().Unix())
	s.mu.Unlock()
	observability.Engine().ObserveOperation(pool, "writeoff", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	observability.Engine().RecordWriteOff(pool, "policy")
	s.persistAndWrite(w, r, map[string]any{"loan": loan}, http.StatusOK)
}

func (s *Server) handleAdminWriteOff(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	if record, ok := s.tryReplay(r); ok {
		s.writeCachedResponse(w, record)
		return
	}
	var status loans.WriteOffStatus
	if err := json.Unmarshal(body, &status); err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid JSON payload", nil)
		return
	}
	s.mu.Lock()
	loan, err := s.engine.AdminWriteOff(pool, id, status, s.now().Unix())
	s.mu.Unlock()
	observability.Engine().ObserveOperation(pool, "admin_writeoff", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	observability.Engine().RecordWriteOff(pool, "admin")
	s.persistAndWrite(w, r, map[string]any{"loan": loan}, http.StatusOK)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	if record, ok := s.tryReplay(r); ok {
		s.writeCachedResponse(w, record)
		return
	}
	s.mu.Lock()
	loan, err := s.engine.Close(pool, id, s.now().Unix())
	s.mu.Unlock()
	observability.Engine().ObserveOperation(pool, "close", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.persistAndWrite(w, r, map[string]any{"loan": loan}, http.StatusOK)
}

func (s *Server) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	loan, err := s.engine.GetLoan(pool, id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"loan": loan}, http.StatusOK)
}

func (s *Server) handleListLoans(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	list, err := s.engine.ListLoans(pool)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"pool": pool, "loans": list}, http.StatusOK)
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	at, err := s.queryTime(r, "at")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid at parameter", nil)
		return
	}
	start := time.Now()
	valuation, err := s.engine.PresentValue(pool, id, at)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	observability.Engine().ObserveValuation("loan", time.Since(start))
	s.writeJSON(w, valuation, http.StatusOK)
}

func (s *Server) handleNAV(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	at, err := s.queryTime(r, "at")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid at parameter", nil)
		return
	}
	start := time.Now()
	portfolio, err := s.engine.PortfolioValuation(pool, at)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	observability.Engine().ObserveValuation("portfolio", time.Since(start))
	observability.Engine().RecordPortfolioValue(pool, portfolio.Total)
	s.writeJSON(w, portfolio, http.StatusOK)
}

func (s *Server) handleCashflows(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	payments, err := s.engine.Cashflows(pool, id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"pool": pool, "id": id, "payments": payments}, http.StatusOK)
}

func (s *Server) handleExpectedPayment(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	id, err := s.loanID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	until, err := s.queryTime(r, "until")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid until parameter", nil)
		return
	}
	total, err := s.engine.ExpectedPayment(pool, id, until)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"pool": pool, "id": id, "until": until, "total": total}, http.StatusOK)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	policy, err := s.engine.WriteOffPolicyOf(pool)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, policy, http.StatusOK)
}

func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	var policy loans.WriteOffPolicy
	if err := json.Unmarshal(body, &policy); err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid JSON payload", nil)
		return
	}
	s.mu.Lock()
	err = s.engine.SetWriteOffPolicy(pool, policy)
	s.mu.Unlock()
	observability.Engine().ObserveOperation(pool, "set_policy", err)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, policy, http.StatusOK)
}

// handleSnapshot values the pool, persists the result and renders the file
// exports when an exporter is configured.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		s.writeError(w, http.StatusServiceUnavailable, "LND-503", "reporting store not configured", nil)
		return
	}
	pool := chi.URLParam(r, "pool")
	if record, ok := s.tryReplay(r); ok {
		s.writeCachedResponse(w, record)
		return
	}
	ctx, span := s.tracer.Start(r.Context(), "loansd.snapshot",
		trace.WithAttributes(attribute.String("pool", pool)))
	defer span.End()
	start := time.Now()
	portfolio, err := s.engine.PortfolioValuation(pool, s.now().Unix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.writeEngineError(w, err)
		return
	}
	observability.Engine().ObserveValuation("portfolio", time.Since(start))
	observability.Engine().RecordPortfolioValue(pool, portfolio.Total)
	snapshot, err := s.reports.SaveSnapshot(ctx, portfolio)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.writeError(w, http.StatusInternalServerError, "LND-500", "failed to persist snapshot", nil)
		return
	}
	span.SetAttributes(attribute.Int("loan_count", snapshot.LoanCount))
	payload := map[string]any{
		"snapshot_id": snapshot.ID,
		"pool":        snapshot.Pool,
		"valued_at":   snapshot.ValuedAt,
		"total":       snapshot.Total,
		"loan_count":  snapshot.LoanCount,
	}
	if s.exports != nil {
		files, err := s.exports.Write(snapshot)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.writeError(w, http.StatusInternalServerError, "LND-500", "failed to render exports", nil)
			return
		}
		payload["exports"] = map[string]any{
			"csv":            files.CSVPath,
			"csv_checksum":   files.CSVChecksum,
			"jsonl":          files.JSONLPath,
			"jsonl_checksum": files.JSONLChecksum,
			"parquet":        files.ParquetPath,
			"rows":           files.Count,
		}
	}
	s.persistAndWrite(w, r, payload, http.StatusCreated)
}

type priceRequest struct {
	Pool      string `json:"pool"`
	PriceID   string `json:"price_id"`
	Value     string `json:"value,omitempty"`
	Decimal   string `json:"decimal,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

// handlePostPrice feeds the manual oracle source. Value carries the price as
// an integer string in oracle precision; Decimal carries a human decimal
// string. Exactly one of the two must be set.
func (s *Server) handlePostPrice(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		s.writeError(w, http.StatusServiceUnavailable, "LND-503", "manual price source not configured", nil)
		return
	}
	body, err := s.readBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	var req priceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", "invalid JSON payload", nil)
		return
	}
	if (req.Value == "") == (req.Decimal == "") {
		s.writeError(w, http.StatusBadRequest, "LND-400", "exactly one of value or decimal required", nil)
		return
	}
	updatedAt := req.UpdatedAt
	if updatedAt == 0 {
		updatedAt = s.now().Unix()
	}
	if req.Decimal != "" {
		err = s.prices.SetDecimal(req.Pool, req.PriceID, req.Decimal, updatedAt)
	} else {
		value, ok := new(big.Int).SetString(strings.TrimSpace(req.Value), 10)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "LND-400", "value must be a base-10 integer", nil)
			return
		}
		err = s.prices.Set(req.Pool, req.PriceID, value, updatedAt)
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "LND-400", err.Error(), nil)
		return
	}
	observability.Oracle().RecordUpdate("manual")
	s.writeJSON(w, map[string]any{
		"pool":       strings.TrimSpace(req.Pool),
		"price_id":   strings.TrimSpace(req.PriceID),
		"updated_at": updatedAt,
	}, http.StatusOK)
}

func (s *Server) loanID(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "loanID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid loan id %q", raw)
	}
	return id, nil
}

func (s *Server) queryTime(r *http.Request, key string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return s.now().Unix(), nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	reader := io.LimitReader(r.Body, maxBodyBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (s *Server) now() time.Time {
	if s.nowFn == nil {
		return time.Now().UTC()
	}
	return s.nowFn().UTC()
}

func (s *Server) tryReplay(r *http.Request) (IdempotencyRecord, bool) {
	idemKey := strings.TrimSpace(r.Header.Get(headerIdempotency))
	if idemKey == "" || s.idem == nil {
		return IdempotencyRecord{}, false
	}
	key := idempotencyKey(SubjectFromContext(r.Context()), r.Method, r.URL.Path, idemKey)
	record, found, err := s.idem.Get(key, s.now())
	if err != nil {
		return IdempotencyRecord{}, false
	}
	return record, found
}

func (s *Server) writeCachedResponse(w http.ResponseWriter, record IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Cache", "hit")
	w.WriteHeader(record.StatusCode)
	_, _ = w.Write(record.Body)
}

// persistAndWrite emits a success payload and, when the request carried an
// idempotency key, stores it for replay. Only successful responses are
// cached so retries of failed calls re-execute.
func (s *Server) persistAndWrite(w http.ResponseWriter, r *http.Request, payload any, status int) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "LND-500", "failed to marshal response", nil)
		return
	}
	if idem := strings.TrimSpace(r.Header.Get(headerIdempotency)); idem != "" && s.idem != nil {
		key := idempotencyKey(SubjectFromContext(r.Context()), r.Method, r.URL.Path, idem)
		_ = s.idem.Put(key, IdempotencyRecord{
			StatusCode: status,
			Body:       body,
			StoredAt:   s.now(),
			ExpiresAt:  s.now().Add(s.idemTTL),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any, status int) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "LND-500", "failed to marshal response", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status, code := statusFromError(err)
	s.writeError(w, status, code, err.Error(), nil)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	payload := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	}
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// statusFromError maps engine sentinels onto HTTP statuses: lookups that miss
// are 404, rejected state transitions are 409, invalid terms or amounts are
// 400 and a paused module is 503.
func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, loans.ErrLoanNotFound):
		return http.StatusNotFound, "LND-404"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "LND-503"
	case errors.Is(err, loans.ErrLoanNotActive),
		errors.Is(err, loans.ErrCollateralInUse),
		errors.Is(err, loans.ErrPriceVariation),
		errors.Is(err, loans.ErrNoApplicableRule),
		errors.Is(err, loans.ErrNotClosable),
		errors.Is(err, loans.ErrExpiredMaturity),
		errors.Is(err, loans.ErrAccrualOutOfOrder),
		errors.Is(err, loans.ErrDebtUnderflow),
		errors.Is(err, oracle.ErrNoPrice),
		errors.Is(err, oracle.ErrNoFreshPrice):
		return http.StatusConflict, "LND-409"
	case errors.Is(err, loans.ErrInvalidAmount),
		errors.Is(err, loans.ErrAmountTooSmall),
		errors.Is(err, loans.ErrMaxBorrowExceeded),
		errors.Is(err, loans.ErrBorrowRestricted),
		errors.Is(err, loans.ErrRepayRestricted),
		errors.Is(err, loans.ErrNoOutstandingDebt),
		errors.Is(err, loans.ErrInvalidRate),
		errors.Is(err, loans.ErrInvalidPricing),
		errors.Is(err, loans.ErrInvalidSchedule),
		errors.Is(err, loans.ErrInvalidRestrictions),
		errors.Is(err, loans.ErrInvalidWriteOff),
		errors.Is(err, loans.ErrInvalidLifetime):
		return http.StatusBadRequest, "LND-400"
	default:
		return http.StatusInternalServerError, "LND-500"
	}
}

func idempotencyKey(subject, method, path, idem string) string {
	return fmt.Sprintf("%s|%s|%s|%s", subject, method, path, idem)
}
