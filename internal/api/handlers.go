/**
 * @description
 * HTTP handlers for the credit core. Handlers decode the request, call the
 * credit service and map domain errors onto HTTP statuses.
 */
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Cr0nia/Cronia/internal/app"
	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// CreditService is the part of app.Service the HTTP layer uses.
type CreditService interface {
	DepositCollateral(ctx context.Context, consumerID string, req app.DepositRequest) (*app.CollateralResult, error)
	WithdrawCollateral(ctx context.Context, depositID, consumerID string) (*app.CollateralResult, error)
	RevalueCollateral(ctx context.Context, depositID string, valueUSD decimal.Decimal) (*app.CollateralResult, error)
	CreateDrawSession(ctx context.Context, merchantID string, amount decimal.Decimal, currency string) (*domain.DrawSession, error)
	GetDrawSession(ctx context.Context, sessionID string) (*domain.DrawSession, error)
	ApproveDraw(ctx context.Context, sessionID, consumerID string) (*app.DrawResult, error)
	RejectDraw(ctx context.Context, sessionID string) (*domain.DrawSession, error)
	Repay(ctx context.Context, invoiceID, consumerID string, req app.RepayRequest) (*app.RepayResult, error)
	GetAccountOverview(ctx context.Context, consumerID string) (*app.AccountOverview, error)
	ListInvoices(ctx context.Context, consumerID string) ([]domain.Invoice, error)
	ListTransactions(ctx context.Context, consumerID string, limit int) ([]domain.Transaction, error)
	RunBillingCycle(ctx context.Context, cycleKey string) (*app.BillingResult, error)
	RunRiskMonitor(ctx context.Context) (*app.RiskMonitorResult, error)
	RunLiquidation(ctx context.Context) (*app.LiquidationResult, error)
	ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error)
	ListReceivables(ctx context.Context, merchantID, status string) ([]domain.Receivable, error)
	GetReceivable(ctx context.Context, receivableID string) (*domain.Receivable, error)
	SettleReceivable(ctx context.Context, receivableID, settlementRef string) (*domain.Receivable, error)
}

// Handler holds the credit service that handlers interact with.
type Handler struct {
	service CreditService
	logger  *slog.Logger
}

// NewHandler creates a new Handler with the given service.
func NewHandler(service CreditService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createDrawRequest struct {
	MerchantID string          `json:"merchant_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

type revalueRequest struct {
	ValueUSD decimal.Decimal `json:"value_usd"`
}

type settleReceivableRequest struct {
	SettlementRef string `json:"settlement_ref"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (h *Handler) handleDepositCollateral(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := ConsumerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	var req app.DepositRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.DepositCollateral(r.Context(), consumerID, req)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, result)
}

func (h *Handler) handleWithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := ConsumerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	result, err := h.service.WithdrawCollateral(r.Context(), chi.URLParam(r, "id"), consumerID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRevalueCollateral(w http.ResponseWriter, r *http.Request) {
	var req revalueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.RevalueCollateral(r.Context(), chi.URLParam(r, "id"), req.ValueUSD)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := ConsumerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	overview, err := h.service.GetAccountOverview(r.Context(), consumerID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, overview)
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := ConsumerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(), consumerID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, invoices)
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := ConsumerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	txns, err := h.service.ListTransactions(r.Context(), consumerID, queryInt(r, "limit"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, txns)
}

func (h *Handler) handleCreateDraw(w http.ResponseWriter, r *http.Request) {
	var req createDrawRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := h.service.CreateDrawSession(r.Context(), req.MerchantID, req.Amount, req.Currency)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleGetDraw(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetDrawSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

func (h *Handler) handleApproveDraw(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := ConsumerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	result, err := h.service.ApproveDraw(r.Context(), chi.URLParam(r, "id"), consumerID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRejectDraw(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.RejectDraw(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, session)
}

func (h *Handler) handleRepay(w http.ResponseWriter, r *http.Request) {
	consumerID, ok := ConsumerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
		return
	}

	var req app.RepayRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.service.Repay(r.Context(), chi.URLParam(r, "id"), consumerID, req)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunBilling(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunBillingCycle(r.Context(), strings.TrimSpace(r.URL.Query().Get("cycle")))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunRiskMonitor(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunRiskMonitor(r.Context())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRunLiquidation(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunLiquidation(r.Context())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListJobRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.ListJobRuns(r.Context(), strings.TrimSpace(r.URL.Query().Get("job")), queryInt(r, "limit"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	if runs == nil {
		runs = []domain.JobRun{}
	}
	respondWithJSON(w, http.StatusOK, runs)
}

// statusForKind maps a domain error kind to its HTTP status.
func statusForKind(kind string) int {
	switch kind {
	case "invalid_request", "invalid_amount":
		return http.StatusBadRequest
	case "unauthorized":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "invalid_state", "already_paid", "no_active_account":
		return http.StatusConflict
	case "expired":
		return http.StatusGone
	case "insufficient_credit", "exceeds_balance", "withdrawal_rejected":
		return http.StatusUnprocessableEntity
	case "rate_limited":
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleListReceivables(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	receivables, err := h.service.ListReceivables(r.Context(), query.Get("merchant_id"), strings.TrimSpace(query.Get("status")))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, receivables)
}

func (h *Handler) handleGetReceivable(w http.ResponseWriter, r *http.Request) {
	receivable, err := h.service.GetReceivable(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, receivable)
}

func (h *Handler) handleSettleReceivable(w http.ResponseWriter, r *http.Request) {
	var req settleReceivableRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receivable, err := h.service.SettleReceivable(r.Context(), chi.URLParam(r, "id"), req.SettlementRef)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, receivable)
}

func (h *Handler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, status, "Internal Server Error", kind)
		return
	}
	h.logger.Warn("request rejected", "method", r.Method, "path", r.URL.Path, "kind", kind, "error", err)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, status, err.Error(), kind)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "invalid_request")
		return false
	}
	return true
}

func queryInt(r *http.Request, name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(name)))
	if err != nil {
		return 0
	}
	return value
}

func writeError(w http.ResponseWriter, code int, message, kind string) {
	respondWithJSON(w, code, errorResponse{Error: message, Kind: kind})
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
