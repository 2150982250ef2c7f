/*
handlers.go - HTTP API handlers for the reconciliation service

PURPOSE:
  Exposes the reconciliation engine and the sale ledger via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Storefront:
    POST   /api/transactions              Record a new sale (status unpaid)

  Gateway:
    POST   /api/gateway/webhook           Charge event intake (HMAC-verified)

  Admin (bearer-token protected):
    GET    /api/admin/reconciliation       Run reconciliation, return report
    GET    /api/admin/reconciliation/runs  Run history
    GET    /api/admin/dashboard            Back-office stats
    GET    /api/admin/transactions         List sales
    GET    /api/admin/transactions/{id}    Get one sale
    POST   /api/admin/transactions/{id}/complete  Confirm receipt

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, bad webhook signature
  - 401: Missing/invalid bearer token
  - 404: Sale not found
  - 500: Data-source failures, malformed records (reconciliation aborts
         whole; there are no partial reports)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - recon/runner.go: The reconciliation routine itself
*/
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/textmatch/recon-engine/recon"
	"github.com/textmatch/recon-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Runner *recon.Runner

	// AuthToken protects admin routes; WebhookSecret signs gateway events.
	AuthToken     string
	WebhookSecret string

	Log zerolog.Logger
}

// NewHandler creates a new handler with the given dependencies.
func NewHandler(store *sqlite.Store, runner *recon.Runner, authToken, webhookSecret string, log zerolog.Logger) *Handler {
	return &Handler{
		Store:         store,
		Runner:        runner,
		AuthToken:     authToken,
		WebhookSecret: webhookSecret,
		Log:           log.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RunReconciliation executes one reconciliation run and returns the report.
// GET /api/admin/reconciliation
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := uuid.NewString()

	if err := h.Store.RecordRun(ctx, runID, "manual"); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record run", err)
		return
	}

	report, err := h.Runner.Run(ctx)
	if err != nil {
		h.Store.FailRun(ctx, runID, err)
		h.Log.Error().Err(err).Str("run_id", runID).Msg("reconciliation failed")

		switch {
		case errors.Is(err, recon.ErrMalformedRecord):
			writeError(w, http.StatusInternalServerError, "Reconciliation aborted on malformed record", err)
		case errors.Is(err, recon.ErrSourceUnavailable):
			writeError(w, http.StatusInternalServerError, "Reconciliation data source failed", err)
		default:
			writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		}
		return
	}

	if err := h.Store.CompleteRun(ctx, runID, report.Summary); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record run result", err)
		return
	}

	h.Log.Info().
		Str("run_id", runID).
		Int("discrepancies", report.Summary.DiscrepancyCount).
		Int64("ledger_total", report.Summary.LedgerTotal).
		Int64("gateway_total", report.Summary.GatewayTotal).
		Msg("reconciliation complete")

	writeJSON(w, http.StatusOK, toReconciliationResponse(runID, report))
}

// ListRuns returns reconciliation run history.
// GET /api/admin/reconciliation/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	runs, err := h.Store.ListRuns(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get reconciliation runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": dtos})
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale records a new sale in the ledger. Sales start unpaid; the
// gateway webhook advances them.
// POST /api/transactions
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Sale id is required", nil)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "Amount must be positive", nil)
		return
	}

	sale := sqlite.Sale{
		ID:       req.ID,
		Title:    req.Title,
		SellerID: req.SellerID,
		BuyerID:  req.BuyerID,
		Amount:   req.Amount,
		Status:   recon.StatusUnpaid,
	}

	if err := h.Store.SaveSale(r.Context(), sale); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create sale", err)
		return
	}

	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// GetSale returns a single sale.
// GET /api/admin/transactions/{id}
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sale, err := h.Store.GetSale(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get sale", err)
		return
	}
	if sale == nil {
		writeError(w, http.StatusNotFound, "Sale not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toSaleDTO(*sale))
}

// ListSales returns sales for the back-office, optionally status-filtered.
// GET /api/admin/transactions?status=paid&limit=100
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	status := recon.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Unknown status filter", nil)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	sales, err := h.Store.ListSales(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sales", err)
		return
	}

	dtos := make([]SaleDTO, 0, len(sales))
	for _, sale := range sales {
		dtos = append(dtos, toSaleDTO(sale))
	}

	writeJSON(w, http.StatusOK, map[string]any{"sales": dtos})
}

// CompleteSale confirms receipt of a paid sale.
// POST /api/admin/transactions/{id}/complete
func (h *Handler) CompleteSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.Store.MarkCompleted(r.Context(), id)
	if errors.Is(err, sqlite.ErrSaleNotFound) {
		writeError(w, http.StatusNotFound, "Sale not found or not paid", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to complete sale", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "id": id})
}

// Dashboard returns back-office stats.
// GET /api/admin/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Dashboard(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute dashboard stats", err)
		return
	}

	byStatus := make(map[string]int64, len(stats.CountByStatus))
	for status, count := range stats.CountByStatus {
		byStatus[string(status)] = count
	}

	writeJSON(w, http.StatusOK, DashboardDTO{
		TotalSales:    stats.TotalSales,
		CountByStatus: byStatus,
		Revenue:       stats.Revenue,
		TodaySales:    stats.TodaySales,
	})
}

// =============================================================================
// WEBHOOK HANDLER
// =============================================================================

// HandleWebhook applies gateway charge events to the ledger.
//
// payment.succeeded: mark the referenced sale paid, record the gateway id.
// payment.failed:    mark the referenced sale failed.
// Other event types are acknowledged and ignored.
//
// POST /api/gateway/webhook
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	signature := r.Header.Get("X-Gateway-Signature")
	if signature == "" {
		writeError(w, http.StatusBadRequest, "No signature", nil)
		return
	}
	if !verifySignature(body, signature, h.WebhookSecret) {
		writeError(w, http.StatusBadRequest, "Invalid signature", nil)
		return
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event payload", err)
		return
	}

	ctx := r.Context()
	textbookID := event.Data.Metadata[recon.MetadataTextbookKey]

	switch event.Type {
	case "payment.succeeded":
		if textbookID == "" {
			break // charge without a back-reference; nothing to update
		}
		err := h.Store.MarkPaid(ctx, textbookID, event.Data.ID, time.Now())
		if errors.Is(err, sqlite.ErrSaleNotFound) {
			// The reconciliation run surfaces this as missing_in_ledger.
			h.Log.Warn().Str("textbook_id", textbookID).Str("payment_id", event.Data.ID).
				Msg("webhook for unknown sale")
			break
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to record payment", err)
			return
		}
		h.Log.Info().Str("textbook_id", textbookID).Str("payment_id", event.Data.ID).
			Msg("sale marked paid")

	case "payment.failed":
		if textbookID == "" {
			break
		}
		if err := h.Store.MarkFailed(ctx, textbookID); err != nil && !errors.Is(err, sqlite.ErrSaleNotFound) {
			writeError(w, http.StatusInternalServerError, "Failed to record payment failure", err)
			return
		}
		h.Log.Info().Str("textbook_id", textbookID).Msg("sale marked failed")

	default:
		h.Log.Debug().Str("type", event.Type).Msg("unhandled webhook event type")
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// verifySignature checks the hex HMAC-SHA256 of the raw body.
func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
