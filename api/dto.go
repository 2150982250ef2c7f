/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - recon/types.go: Domain types these wrap
*/
package api

import (
	"time"

	"github.com/textmatch/recon-engine/recon"
	"github.com/textmatch/recon-engine/store/sqlite"
)

// =============================================================================
// RECONCILIATION
// =============================================================================

// TransactionDTO is the ledger's view of a sale in reconciliation output.
type TransactionDTO struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id,omitempty"`
	Status      string `json:"status"`
	RecordedAt  string `json:"recorded_at,omitempty"`
}

// PaymentDTO is the gateway's view of a charge in reconciliation output.
type PaymentDTO struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Status   string            `json:"status"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DiscrepancyDTO is one detected inconsistency.
type DiscrepancyDTO struct {
	Kind      string `json:"kind"`
	LedgerID  string `json:"ledger_id,omitempty"`
	GatewayID string `json:"gateway_id,omitempty"`
	Details   string `json:"details"`
}

// SummaryDTO aggregates one reconciliation run.
type SummaryDTO struct {
	LedgerTotal      int64 `json:"ledger_total"`
	GatewayTotal     int64 `json:"gateway_total"`
	LedgerCount      int   `json:"ledger_count"`
	GatewayCount     int   `json:"gateway_count"`
	DiscrepancyCount int   `json:"discrepancy_count"`
}

// ReconciliationResponse is the full reconciliation report.
type ReconciliationResponse struct {
	RunID              string           `json:"run_id"`
	LedgerTransactions []TransactionDTO `json:"ledger_transactions"`
	GatewayPayments    []PaymentDTO     `json:"gateway_payments"`
	Discrepancies      []DiscrepancyDTO `json:"discrepancies"`
	Summary            SummaryDTO       `json:"summary"`
}

// RunDTO is one entry of the persisted run history.
type RunDTO struct {
	ID          string     `json:"id"`
	Trigger     string     `json:"trigger"`
	Status      string     `json:"status"`
	Summary     SummaryDTO `json:"summary"`
	Error       string     `json:"error,omitempty"`
	StartedAt   string     `json:"started_at"`
	CompletedAt string     `json:"completed_at,omitempty"`
}

// =============================================================================
// SALES
// =============================================================================

// SaleDTO represents a sale in API responses.
type SaleDTO struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	SellerID    string `json:"seller_id,omitempty"`
	BuyerID     string `json:"buyer_id,omitempty"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id,omitempty"`
	PaidAt      string `json:"paid_at,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateSaleRequest is the request to record a new sale.
type CreateSaleRequest struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	SellerID string `json:"seller_id"`
	BuyerID  string `json:"buyer_id"`
	Amount   int64  `json:"amount"`
}

// DashboardDTO holds back-office stats.
type DashboardDTO struct {
	TotalSales    int64            `json:"total_sales"`
	CountByStatus map[string]int64 `json:"count_by_status"`
	Revenue       int64            `json:"revenue"`
	TodaySales    int64            `json:"today_sales"`
}

// =============================================================================
// WEBHOOK
// =============================================================================

// WebhookEvent is the gateway's event envelope.
type WebhookEvent struct {
	Type string           `json:"type"`
	Data WebhookEventData `json:"data"`
}

// WebhookEventData is the charge the event describes.
type WebhookEventData struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toReconciliationResponse(runID string, report *recon.Report) ReconciliationResponse {
	ledger := make([]TransactionDTO, len(report.Ledger))
	for i, tx := range report.Ledger {
		ledger[i] = TransactionDTO{
			ID:          tx.ID,
			Amount:      tx.Amount,
			ReferenceID: tx.ReferenceID,
			Status:      string(tx.Status),
		}
		if tx.RecordedAt != nil {
			ledger[i].RecordedAt = tx.RecordedAt.Format(time.RFC3339)
		}
	}

	payments := make([]PaymentDTO, len(report.Gateway))
	for i, p := range report.Gateway {
		payments[i] = PaymentDTO{
			ID:       p.ID,
			Amount:   p.Amount,
			Status:   p.Status,
			Created:  p.CreatedAt,
			Metadata: p.Metadata,
		}
	}

	discrepancies := make([]DiscrepancyDTO, len(report.Discrepancies))
	for i, d := range report.Discrepancies {
		discrepancies[i] = DiscrepancyDTO{
			Kind:      string(d.Kind),
			LedgerID:  d.LedgerID,
			GatewayID: d.GatewayID,
			Details:   d.Details,
		}
	}

	return ReconciliationResponse{
		RunID:              runID,
		LedgerTransactions: ledger,
		GatewayPayments:    payments,
		Discrepancies:      discrepancies,
		Summary:            toSummaryDTO(report.Summary),
	}
}

func toSummaryDTO(s recon.Summary) SummaryDTO {
	return SummaryDTO{
		LedgerTotal:      s.LedgerTotal,
		GatewayTotal:     s.GatewayTotal,
		LedgerCount:      s.LedgerCount,
		GatewayCount:     s.GatewayCount,
		DiscrepancyCount: s.DiscrepancyCount,
	}
}

func toSaleDTO(sale sqlite.Sale) SaleDTO {
	dto := SaleDTO{
		ID:          sale.ID,
		Title:       sale.Title,
		SellerID:    sale.SellerID,
		BuyerID:     sale.BuyerID,
		Amount:      sale.Amount,
		Status:      string(sale.Status),
		ReferenceID: sale.ReferenceID,
		CreatedAt:   sale.CreatedAt.Format(time.RFC3339),
	}
	if sale.PaidAt != nil {
		dto.PaidAt = sale.PaidAt.Format(time.RFC3339)
	}
	return dto
}

func toRunDTO(run sqlite.ReconciliationRun) RunDTO {
	dto := RunDTO{
		ID:        run.ID,
		Trigger:   run.Trigger,
		Status:    run.Status,
		Summary:   toSummaryDTO(run.Summary),
		Error:     run.Error,
		StartedAt: run.StartedAt.Format(time.RFC3339),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}
