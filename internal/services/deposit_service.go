package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/edupass/backend/internal/audit"
	"github.com/edupass/backend/internal/config"
	"github.com/edupass/backend/internal/metrics"
	"github.com/edupass/backend/internal/middleware"
	"github.com/edupass/backend/internal/models"
)

// DepositService reconciles claimed on-chain PZO deposits into EDU
// balance credits: resolve identity, atomically reserve the tx hash,
// resolve the exchange rate, credit the balance, finalize the ledger
// record. All three entry points share this path and differ only in
// how the identity claim is built.
type DepositService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *DepositLedgerService
	balances  *BalanceService
	rates     *ExchangeRateService
	identity  *IdentityService
	audit     *audit.Logger
	validator *ValidationHelper
	cfg       *config.DepositConfig
}

func NewDepositService(db *sql.DB, redisClient *redis.Client, cfg *config.DepositConfig) *DepositService {
	return &DepositService{
		db:        db,
		redis:     redisClient,
		ledger:    NewDepositLedgerService(db, cfg.ReservationTimeout),
		balances:  NewBalanceService(db),
		rates:     NewExchangeRateService(db, redisClient, cfg.RateCacheTTL),
		identity:  NewIdentityService(db),
		audit:     audit.NewLogger(),
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// DepositRequest is the shared body of all three deposit entry points.
// PzoAmount is kept raw because clients send it as either a JSON string
// or a number.
type DepositRequest struct {
	TxHash        string          `json:"txHash" validate:"required"`
	PzoAmount     json.RawMessage `json:"pzoAmount" validate:"required"`
	WalletAddress string          `json:"walletAddress,omitempty"`
	UserID        string          `json:"userId,omitempty"`
}

// DepositResult is the success payload of a reconciliation, also
// returned verbatim on idempotent replays.
type DepositResult struct {
	UserID       string          `json:"userId"`
	TxHash       string          `json:"txHash"`
	PzoDeposited decimal.Decimal `json:"pzoDeposited"`
	EduCredited  decimal.Decimal `json:"eduCredited"`
	NewBalance   decimal.Decimal `json:"newBalance"`
	Replayed     bool            `json:"replayed,omitempty"`
}

// Deposit credits a PZO deposit to the authenticated user's account
// @Summary Deposit PZO for the session user
// @Description Verify and credit a claimed on-chain PZO deposit to the authenticated account
// @Tags deposits
// @Accept json
// @Produce json
// @Param deposit body DepositRequest true "Deposit claim"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /point/deposit [post]
func (ds *DepositService) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	req, ok := ds.decodeDepositRequest(w, r)
	if !ok {
		return
	}

	ds.handleDeposit(w, r, IdentityClaim{SessionUserID: userID}, req, models.EntryPointSession)
}

// DepositPublic credits a PZO deposit by linked wallet address
// @Summary Deposit PZO by wallet address
// @Description Credit a claimed deposit to the account linked to the supplied wallet address
// @Tags deposits
// @Accept json
// @Produce json
// @Param deposit body DepositRequest true "Deposit claim with walletAddress"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /point/deposit-public [post]
func (ds *DepositService) DepositPublic(w http.ResponseWriter, r *http.Request) {
	req, ok := ds.decodeDepositRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.WalletAddress) == "" {
		SendErrorResponse(w, "walletAddress is required", http.StatusBadRequest, nil)
		return
	}

	ds.handleDeposit(w, r, IdentityClaim{WalletAddress: req.WalletAddress}, req, models.EntryPointPublic)
}

// AdminProcessDeposit manually credits a deposit for a given user
// @Summary Admin manual deposit override
// @Description Credit a claimed deposit on behalf of a user identified by id or wallet address
// @Tags admin
// @Accept json
// @Produce json
// @Param deposit body DepositRequest true "Deposit claim with userId or walletAddress"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/process-deposit [post]
func (ds *DepositService) AdminProcessDeposit(w http.ResponseWriter, r *http.Request) {
	req, ok := ds.decodeDepositRequest(w, r)
	if !ok {
		return
	}

	var claim IdentityClaim
	switch {
	case strings.TrimSpace(req.UserID) != "":
		claim = IdentityClaim{AdminUserID: req.UserID}
	case strings.TrimSpace(req.WalletAddress) != "":
		claim = IdentityClaim{WalletAddress: req.WalletAddress}
	default:
		SendErrorResponse(w, "userId or walletAddress is required", http.StatusBadRequest, nil)
		return
	}

	ds.handleDeposit(w, r, claim, req, models.EntryPointAdmin)
}

func (ds *DepositService) decodeDepositRequest(w http.ResponseWriter, r *http.Request) (*DepositRequest, bool) {
	var req DepositRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return nil, false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return nil, false
	}

	if err := ds.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return nil, false
	}
	return &req, true
}

func (ds *DepositService) handleDeposit(w http.ResponseWriter, r *http.Request, claim IdentityClaim, req *DepositRequest, entryPoint string) {
	result, err := ds.ProcessDeposit(r.Context(), claim, req, entryPoint)
	if err != nil {
		status, outcome := depositErrorStatus(err)
		metrics.DepositsTotal.WithLabelValues(entryPoint, outcome).Inc()
		SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	if result.Replayed {
		metrics.DepositsTotal.WithLabelValues(entryPoint, "replayed").Inc()
	} else {
		metrics.DepositsTotal.WithLabelValues(entryPoint, "confirmed").Inc()
		metrics.EduCreditedTotal.Add(result.EduCredited.InexactFloat64())
	}
	SendSuccessResponse(w, http.StatusOK, result)
}

// ProcessDeposit runs one reconciliation. Exactly one balance credit
// and one terminal ledger record per tx hash result from any number of
// calls, concurrent or sequential.
func (ds *DepositService) ProcessDeposit(ctx context.Context, claim IdentityClaim, req *DepositRequest, entryPoint string) (*DepositResult, error) {
	start := time.Now()
	defer func() { metrics.DepositDuration.Observe(time.Since(start).Seconds()) }()

	// Tx hashes are case-insensitive hex; normalize once so the ledger
	// and the replay cache agree on a single key.
	txHash := strings.ToLower(strings.TrimSpace(req.TxHash))
	if txHash == "" {
		return nil, fmt.Errorf("%w: txHash is required", ErrInvalidAmount)
	}

	// 1. Validate the claimed amount before touching any state.
	pzoAmount, err := parseAmount(req.PzoAmount)
	if err != nil {
		return nil, err
	}

	// 2. Resolve the identity claim.
	userID, err := ds.identity.Resolve(ctx, claim)
	if err != nil {
		return nil, err
	}

	// Replay fast path: a confirmed result cached at finalize time.
	// Checked only after the identity claim resolves, so an invalid
	// claim fails the same way whether or not the cache is warm.
	if cached := ds.cachedResult(ctx, txHash); cached != nil {
		ds.audit.LogReplay(txHash, cached.UserID, entryPoint)
		return cached, nil
	}

	// 3. Atomically reserve the tx hash.
	outcome, err := ds.ledger.Reserve(ctx, txHash, userID, pzoAmount, entryPoint)
	if err != nil {
		return nil, err
	}
	if outcome.AlreadyConfirmed {
		result, err := ds.replayResult(ctx, outcome.Confirmed)
		if err != nil {
			return nil, err
		}
		ds.audit.LogReplay(txHash, outcome.Confirmed.UserID, entryPoint)
		return result, nil
	}
	reservation := outcome.Reservation

	// 4. Resolve the rate once; this reconciliation finishes under it.
	rate, err := ds.rates.Resolve(ctx)
	if err != nil {
		ds.abort(ctx, reservation, txHash, userID, entryPoint, err)
		return nil, err
	}
	eduAmount, err := ds.rates.Convert(pzoAmount, rate)
	if err != nil {
		ds.abort(ctx, reservation, txHash, userID, entryPoint, err)
		return nil, err
	}

	// 5. Credit the balance.
	newBalance, err := ds.balances.Credit(ctx, userID, eduAmount)
	if err != nil {
		ds.abort(ctx, reservation, txHash, userID, entryPoint, err)
		return nil, err
	}

	// 6. Finalize the reservation.
	if _, err := ds.ledger.Finalize(ctx, reservation, eduAmount, rate.Price); err != nil {
		// The credit is already durable; losing the reservation here
		// means the timeout was shorter than this request took.
		log.Printf("[DEPOSIT] CRITICAL: credited %s EDU for %s but finalize failed: %v", eduAmount, txHash, err)
		return nil, fmt.Errorf("%w: finalize failed after credit", ErrStorageFailure)
	}

	result := &DepositResult{
		UserID:       userID,
		TxHash:       txHash,
		PzoDeposited: pzoAmount,
		EduCredited:  eduAmount,
		NewBalance:   newBalance,
	}
	ds.cacheResult(ctx, result)
	ds.audit.LogCredit(txHash, userID, entryPoint, pzoAmount, eduAmount)
	log.Printf("[DEPOSIT] Confirmed %s: %s PZO -> %s EDU for user %s via %s", txHash, pzoAmount, eduAmount, userID, entryPoint)
	return result, nil
}

// replayResult rebuilds the original confirmation payload from the
// ledger record when the Redis fast path missed.
func (ds *DepositService) replayResult(ctx context.Context, dep *models.Deposit) (*DepositResult, error) {
	acct, err := ds.balances.Get(ctx, dep.UserID)
	if err != nil {
		return nil, err
	}
	result := &DepositResult{
		UserID:       dep.UserID,
		TxHash:       dep.TxHash,
		PzoDeposited: dep.PzoAmount,
		NewBalance:   acct.EduBalance,
		Replayed:     true,
	}
	if dep.EduAmount != nil {
		result.EduCredited = *dep.EduAmount
	}
	return result, nil
}

// abort releases the reservation; the outcome metric is recorded by the
// handler, which owns the single increment per request.
func (ds *DepositService) abort(ctx context.Context, res *Reservation, txHash, userID, entryPoint string, cause error) {
	ds.audit.LogError(txHash, userID, entryPoint, cause)
	if err := ds.ledger.Abort(ctx, res, cause.Error()); err != nil {
		log.Printf("[DEPOSIT] Failed to abort reservation for %s: %v", txHash, err)
	}
}

func (ds *DepositService) cachedResult(ctx context.Context, txHash string) *DepositResult {
	if ds.redis == nil {
		return nil
	}
	data, err := ds.redis.Get(ctx, replayCacheKey(txHash)).Bytes()
	if err != nil {
		return nil
	}
	var result DepositResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	result.Replayed = true
	return &result
}

func (ds *DepositService) cacheResult(ctx context.Context, result *DepositResult) {
	if ds.redis == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := ds.redis.Set(ctx, replayCacheKey(result.TxHash), data, ds.cfg.ReplayCacheTTL).Err(); err != nil {
		log.Printf("[DEPOSIT] Failed to cache replay result for %s: %v", result.TxHash, err)
	}
}

// replayCacheKey expects a tx hash already normalized by ProcessDeposit.
func replayCacheKey(txHash string) string {
	return "deposit:tx:" + txHash
}

// parseAmount accepts the claimed amount as a JSON string or number and
// requires it to be a positive finite decimal.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return decimal.Zero, fmt.Errorf("%w: pzoAmount is required", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: pzoAmount %q is not a number", ErrInvalidAmount, s)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: pzoAmount must be positive", ErrInvalidAmount)
	}
	return amount, nil
}

func depositErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest, "rejected"
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound, "rejected"
	case errors.Is(err, ErrReservationHeld):
		return http.StatusConflict, "rejected"
	case errors.Is(err, ErrRateUnavailable):
		return http.StatusServiceUnavailable, "aborted"
	default:
		return http.StatusInternalServerError, "aborted"
	}
}

// GetBalance returns the session user's EDU balance
// @Summary Get EDU balance
// @Tags deposits
// @Produce json
// @Success 200 {object} SuccessResponse
// @Failure 401 {object} ErrorResponse
// @Router /point/balance [get]
func (ds *DepositService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	acct, err := ds.balances.Get(r.Context(), userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}
	SendSuccessResponse(w, http.StatusOK, acct)
}

// ListDeposits returns the session user's deposit history
// @Summary List own deposits
// @Tags deposits
// @Produce json
// @Param limit query int false "Page size (default 20, max 100)"
// @Param offset query int false "Offset"
// @Success 200 {object} SuccessResponse
// @Failure 401 {object} ErrorResponse
// @Router /point/deposits [get]
func (ds *DepositService) ListDeposits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, offset := pageParams(r, 20, ds.cfg.MaxHistoryPage)
	deposits, err := ds.ledger.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch deposits", http.StatusInternalServerError, nil)
		return
	}
	SendSuccessResponse(w, http.StatusOK, deposits)
}

// GetExchangeRate returns the currently effective PZO/EDU rate
// @Summary Get effective exchange rate
// @Tags deposits
// @Produce json
// @Success 200 {object} SuccessResponse
// @Failure 503 {object} ErrorResponse
// @Router /point/exchange-rate [get]
func (ds *DepositService) GetExchangeRate(w http.ResponseWriter, r *http.Request) {
	rate, err := ds.rates.Resolve(r.Context())
	if err != nil {
		status, _ := depositErrorStatus(err)
		SendErrorResponse(w, err.Error(), status, nil)
		return
	}
	SendSuccessResponse(w, http.StatusOK, rate)
}

// SetExchangeRateRequest is the admin body for appending a rate config.
type SetExchangeRateRequest struct {
	Price      json.RawMessage `json:"price,omitempty"`
	MinConvert json.RawMessage `json:"minConvert,omitempty"`
	MaxConvert json.RawMessage `json:"maxConvert,omitempty"`
}

// SetExchangeRate appends a new exchange rate config
// @Summary Set exchange rate
// @Description Append a new rate config; the most recently effective config wins
// @Tags admin
// @Accept json
// @Produce json
// @Param rate body SetExchangeRateRequest true "Rate config"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /admin/exchange-rate [post]
func (ds *DepositService) SetExchangeRate(w http.ResponseWriter, r *http.Request) {
	var req SetExchangeRateRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	price, err := parseOptionalAmount(req.Price)
	if err != nil {
		SendErrorResponse(w, "price is not a number", http.StatusBadRequest, nil)
		return
	}
	minConvert, err := parseOptionalAmount(req.MinConvert)
	if err != nil {
		SendErrorResponse(w, "minConvert is not a number", http.StatusBadRequest, nil)
		return
	}
	maxConvert, err := parseOptionalAmount(req.MaxConvert)
	if err != nil {
		SendErrorResponse(w, "maxConvert is not a number", http.StatusBadRequest, nil)
		return
	}

	adminID, _ := middleware.UserIDFromContext(r.Context())
	rate, err := ds.rates.SetRate(r.Context(), price, minConvert, maxConvert, adminID)
	if err != nil {
		status, _ := depositErrorStatus(err)
		SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	ds.audit.LogRateChange(adminID, rate)
	log.Printf("[EXCHANGE_RATE] New config by %s: price=%s", adminID, rate.Price)
	SendSuccessResponse(w, http.StatusOK, rate)
}

// AdminListDeposits lists ledger records by status
// @Summary List deposits by status
// @Tags admin
// @Produce json
// @Param status query string false "PENDING, CONFIRMED or FAILED (default PENDING)"
// @Param limit query int false "Page size (default 50)"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Router /admin/deposits [get]
func (ds *DepositService) AdminListDeposits(w http.ResponseWriter, r *http.Request) {
	status := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))
	if status == "" {
		status = models.DepositPending
	}
	switch status {
	case models.DepositPending, models.DepositConfirmed, models.DepositFailed:
	default:
		SendErrorResponse(w, "invalid status filter", http.StatusBadRequest, nil)
		return
	}

	limit, _ := pageParams(r, 50, ds.cfg.MaxHistoryPage)
	deposits, err := ds.ledger.ListByStatus(r.Context(), status, limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch deposits", http.StatusInternalServerError, nil)
		return
	}
	SendSuccessResponse(w, http.StatusOK, deposits)
}

func parseOptionalAmount(raw json.RawMessage) (*decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	amount, err := parseAmount(raw)
	if err != nil {
		return nil, err
	}
	return &amount, nil
}

func pageParams(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
