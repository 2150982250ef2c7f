/*
Package recon implements the payment reconciliation engine for the
TextMatch marketplace.

PURPOSE:
  The marketplace keeps its own record of every textbook sale (the ledger).
  The payment gateway keeps the authoritative record of money movement.
  This package diffs the two views and reports every inconsistency, plus
  aggregate totals for both sides.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: the ledger's view of a sale (whole-unit amount, lifecycle status)
  - Payment: the gateway's view of a charge (minor-unit amount, gateway status)
  - Discrepancy: a single detected inconsistency between the two views
  - Summary/Report: the aggregate output of one reconciliation run

DESIGN PRINCIPLES:
  1. Purity: matching is a pure function over its two input sets
  2. No persistence: discrepancy lists are rebuilt on every run, never stored
  3. Typed boundaries: both sources decode into these structs before matching;
     absent fields are nil/empty, never sentinel strings

SEE ALSO:
  - matcher.go: The two-pass diff algorithm
  - runner.go: Source fetching and orchestration
*/
package recon

import "time"

// =============================================================================
// LEDGER SIDE
// =============================================================================

// Status is the lifecycle state of a sale in the marketplace ledger.
type Status string

const (
	StatusUnpaid    Status = "unpaid"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Settled reports whether money is expected to have moved for this status.
func (s Status) Settled() bool {
	return s == StatusPaid || s == StatusCompleted
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusUnpaid, StatusPaid, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// SettledStatuses is the default status filter for reconciliation: every
// ledger record in one of these states should be backed by a gateway charge.
func SettledStatuses() []Status {
	return []Status{StatusPaid, StatusCompleted}
}

// Transaction is the ledger's record of a sale. Amounts are whole currency
// units (yen); the ledger never deals in minor units.
type Transaction struct {
	ID string

	// Amount in whole currency units.
	Amount int64

	// ReferenceID is the gateway payment id recorded when the sale was paid.
	// Empty means no gateway charge is known for this sale.
	ReferenceID string

	Status Status

	// RecordedAt is when payment was recorded against the sale, if ever.
	RecordedAt *time.Time
}

// =============================================================================
// GATEWAY SIDE
// =============================================================================

// PaymentSucceeded is the gateway's terminal success status. The gateway owns
// its status vocabulary; this is the only value reconciliation cares about.
const PaymentSucceeded = "succeeded"

// MetadataTextbookKey is the metadata key under which the gateway charge
// carries the ledger transaction id it was created for.
const MetadataTextbookKey = "textbook_id"

// Payment is the gateway's record of a charge. Amounts are minor units
// (e.g. cents); CreatedAt is a unix timestamp, as delivered by the gateway.
type Payment struct {
	ID        string
	Amount    int64
	Status    string
	CreatedAt int64
	Metadata  map[string]string
}

// TextbookID returns the ledger transaction id this payment references,
// or "" when the charge carries no back-reference.
func (p Payment) TextbookID() string {
	return p.Metadata[MetadataTextbookKey]
}

// =============================================================================
// RECONCILIATION OUTPUT
// =============================================================================

// DiscrepancyKind classifies a detected inconsistency.
type DiscrepancyKind string

const (
	// MissingInGateway: a settled ledger record with no matching gateway charge,
	// or no gateway reference at all.
	MissingInGateway DiscrepancyKind = "missing_in_gateway"

	// MissingInLedger: a gateway charge referencing a ledger record that does
	// not exist in the reconciled set.
	MissingInLedger DiscrepancyKind = "missing_in_ledger"

	// AmountMismatch: both sides matched by id but disagree on the amount
	// after minor-unit conversion.
	AmountMismatch DiscrepancyKind = "amount_mismatch"

	// StatusMismatch is reserved for status-level disagreements. The current
	// matcher never emits it; succeeded-only gateway fetching makes it moot.
	StatusMismatch DiscrepancyKind = "status_mismatch"
)

// Discrepancy is one detected inconsistency. LedgerID/GatewayID are set when
// the corresponding side is known; Details is for operators, not machines.
type Discrepancy struct {
	Kind      DiscrepancyKind
	LedgerID  string
	GatewayID string
	Details   string
}

// Summary aggregates one run. Totals are whole currency units on both sides;
// gateway amounts are converted before summing.
type Summary struct {
	LedgerTotal      int64
	GatewayTotal     int64
	LedgerCount      int
	GatewayCount     int
	DiscrepancyCount int
}

// Report is the full output of a reconciliation run: the records considered,
// every discrepancy in encounter order, and the summary.
type Report struct {
	Ledger        []Transaction
	Gateway       []Payment
	Discrepancies []Discrepancy
	Summary       Summary
}
