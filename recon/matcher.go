/*
matcher.go - Two-pass ledger/gateway diff

ALGORITHM:
  Pass 1 (ledger): for every ledger transaction, accumulate the ledger total,
  then resolve its gateway reference. A missing charge, a missing reference on
  a settled record, or an amount disagreement each emit one discrepancy.

  Pass 2 (gateway): for every succeeded gateway payment, accumulate the
  converted gateway total, then check its back-reference. A reference to a
  ledger id absent from the input set emits missing_in_ledger.

  Discrepancies are reported in encounter order: ledger pass first, then
  gateway pass. No other ordering is guaranteed.

AMOUNT SEMANTICS:
  Ledger amounts are whole currency units. Gateway amounts are minor units,
  converted with round(amount / minorUnitsPerUnit) before any comparison.
  The conversion assumes the ledger currency and the gateway settlement
  currency agree; when they diverge, sub-unit rounding shows up as
  false-positive amount_mismatch discrepancies. Known limitation.
*/
package recon

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy configures the judgment calls the matcher has to make.
type Policy struct {
	// MinorUnitsPerUnit is the conversion factor from gateway minor units to
	// ledger whole units (100 for cents-per-yen settlement).
	MinorUnitsPerUnit int64

	// RequireReferenceStatuses lists the ledger statuses for which a missing
	// gateway reference is itself a discrepancy. An authoritative "paid"
	// record must be substantiated by a real gateway id.
	RequireReferenceStatuses []Status
}

// DefaultPolicy matches the marketplace's production behavior: cents-based
// settlement, and only "paid" records are required to carry a reference.
func DefaultPolicy() Policy {
	return Policy{
		MinorUnitsPerUnit:        100,
		RequireReferenceStatuses: []Status{StatusPaid},
	}
}

func (p Policy) requiresReference(s Status) bool {
	for _, rs := range p.RequireReferenceStatuses {
		if s == rs {
			return true
		}
	}
	return false
}

// ConvertMinor converts a gateway minor-unit amount to ledger whole units,
// rounding to the nearest integer.
func (p Policy) ConvertMinor(amount int64) int64 {
	factor := p.MinorUnitsPerUnit
	if factor <= 0 {
		factor = 100
	}
	return decimal.NewFromInt(amount).
		Div(decimal.NewFromInt(factor)).
		Round(0).
		IntPart()
}

// Match diffs the ledger set against the gateway set and returns the full
// report. It performs no I/O and is deterministic over its inputs; the only
// error it can return is a ValidationError for a malformed record, which
// aborts the run.
func Match(ledger []Transaction, gateway []Payment, policy Policy) (*Report, error) {
	if err := validate(ledger, gateway); err != nil {
		return nil, err
	}

	// O(1) lookups for both passes.
	gatewayByID := make(map[string]Payment, len(gateway))
	for _, p := range gateway {
		gatewayByID[p.ID] = p
	}
	ledgerIDs := make(map[string]bool, len(ledger))
	for _, tx := range ledger {
		ledgerIDs[tx.ID] = true
	}

	report := &Report{
		Ledger:        ledger,
		Gateway:       gateway,
		Discrepancies: make([]Discrepancy, 0),
	}

	// Pass 1: ledger against gateway.
	for _, tx := range ledger {
		report.Summary.LedgerTotal += tx.Amount

		if tx.ReferenceID == "" {
			if policy.requiresReference(tx.Status) {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					Kind:     MissingInGateway,
					LedgerID: tx.ID,
					Details:  fmt.Sprintf("transaction %s is marked %s but carries no gateway reference", tx.ID, tx.Status),
				})
			}
			continue
		}

		payment, ok := gatewayByID[tx.ReferenceID]
		if !ok {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:      MissingInGateway,
				LedgerID:  tx.ID,
				GatewayID: tx.ReferenceID,
				Details:   fmt.Sprintf("no gateway payment %s found for transaction %s", tx.ReferenceID, tx.ID),
			})
			continue
		}

		if converted := policy.ConvertMinor(payment.Amount); converted != tx.Amount {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:      AmountMismatch,
				LedgerID:  tx.ID,
				GatewayID: payment.ID,
				Details:   fmt.Sprintf("amount mismatch: ledger %d vs gateway %d", tx.Amount, converted),
			})
		}
	}

	// Pass 2: gateway against ledger.
	for _, payment := range gateway {
		report.Summary.GatewayTotal += policy.ConvertMinor(payment.Amount)

		textbookID := payment.TextbookID()
		if textbookID == "" {
			continue
		}
		if !ledgerIDs[textbookID] {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:      MissingInLedger,
				GatewayID: payment.ID,
				Details:   fmt.Sprintf("gateway payment %s references unknown transaction (textbook_id: %s)", payment.ID, textbookID),
			})
		}
	}

	report.Summary.LedgerCount = len(ledger)
	report.Summary.GatewayCount = len(gateway)
	report.Summary.DiscrepancyCount = len(report.Discrepancies)

	return report, nil
}

// validate enforces boundary invariants before matching. Typed decoding rules
// out non-numeric amounts, so the checks left are identity and sign.
func validate(ledger []Transaction, gateway []Payment) error {
	for _, tx := range ledger {
		if tx.ID == "" {
			return &ValidationError{Reason: "ledger transaction with empty id"}
		}
		if tx.Amount < 0 {
			return &ValidationError{RecordID: tx.ID, Reason: fmt.Sprintf("negative ledger amount %d", tx.Amount)}
		}
		if !tx.Status.Valid() {
			return &ValidationError{RecordID: tx.ID, Reason: fmt.Sprintf("unknown status %q", tx.Status)}
		}
	}
	for _, p := range gateway {
		if p.ID == "" {
			return &ValidationError{Reason: "gateway payment with empty id"}
		}
		if p.Amount < 0 {
			return &ValidationError{RecordID: p.ID, Reason: fmt.Sprintf("negative gateway amount %d", p.Amount)}
		}
	}
	return nil
}
