/*
matcher_test.go - Unit tests for the two-pass differ

Tests for:
- Clean matches, amount mismatches, missing references
- Orphaned gateway charges
- Totals, counts, and ordering guarantees
- Determinism over identical inputs
*/
package recon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_CleanMatch(t *testing.T) {
	// GIVEN: A paid sale of 1000 yen and its 100000-cent gateway charge
	ledger := []Transaction{
		{ID: "t1", Amount: 1000, Status: StatusPaid, ReferenceID: "pi_1"},
	}
	gateway := []Payment{
		{ID: "pi_1", Amount: 100000, Status: PaymentSucceeded},
	}

	// WHEN: Matching
	report, err := Match(ledger, gateway, DefaultPolicy())
	require.NoError(t, err)

	// THEN: No discrepancies, totals agree
	assert.Empty(t, report.Discrepancies)
	assert.Equal(t, int64(1000), report.Summary.LedgerTotal)
	assert.Equal(t, int64(1000), report.Summary.GatewayTotal)
	assert.Equal(t, 1, report.Summary.LedgerCount)
	assert.Equal(t, 1, report.Summary.GatewayCount)
	assert.Equal(t, 0, report.Summary.DiscrepancyCount)
}

func TestMatch_AmountMismatch(t *testing.T) {
	// GIVEN: Ledger says 1000, gateway settled 90000 cents (900)
	ledger := []Transaction{
		{ID: "t2", Amount: 1000, Status: StatusPaid, ReferenceID: "pi_2"},
	}
	gateway := []Payment{
		{ID: "pi_2", Amount: 90000, Status: PaymentSucceeded},
	}

	report, err := Match(ledger, gateway, DefaultPolicy())
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, AmountMismatch, d.Kind)
	assert.Equal(t, "t2", d.LedgerID)
	assert.Equal(t, "pi_2", d.GatewayID)
	assert.Contains(t, d.Details, "1000")
	assert.Contains(t, d.Details, "900")
}

func TestMatch_PaidWithoutReference(t *testing.T) {
	// GIVEN: A paid sale with no gateway reference at all
	ledger := []Transaction{
		{ID: "t3", Amount: 500, Status: StatusPaid},
	}

	report, err := Match(ledger, nil, DefaultPolicy())
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, MissingInGateway, report.Discrepancies[0].Kind)
	assert.Equal(t, "t3", report.Discrepancies[0].LedgerID)
	assert.Equal(t, int64(500), report.Summary.LedgerTotal)
	assert.Equal(t, int64(0), report.Summary.GatewayTotal)
}

func TestMatch_CompletedWithoutReference_DefaultPolicy(t *testing.T) {
	// Default policy only flags "paid"; completed without a reference passes.
	ledger := []Transaction{
		{ID: "t4", Amount: 800, Status: StatusCompleted},
	}

	report, err := Match(ledger, nil, DefaultPolicy())
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
}

func TestMatch_CompletedWithoutReference_StrictPolicy(t *testing.T) {
	ledger := []Transaction{
		{ID: "t4", Amount: 800, Status: StatusCompleted},
	}
	policy := Policy{
		MinorUnitsPerUnit:        100,
		RequireReferenceStatuses: []Status{StatusPaid, StatusCompleted},
	}

	report, err := Match(ledger, nil, policy)
	require.NoError(t, err)
	require.Len(t, report.Discrepancies, 1)
	assert.Equal(t, MissingInGateway, report.Discrepancies[0].Kind)
}

func TestMatch_MissingInLedger(t *testing.T) {
	// GIVEN: A gateway charge referencing a sale we have no record of
	gateway := []Payment{
		{ID: "pi_9", Amount: 50000, Status: PaymentSucceeded,
			Metadata: map[string]string{MetadataTextbookKey: "t9"}},
	}

	report, err := Match(nil, gateway, DefaultPolicy())
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, MissingInLedger, d.Kind)
	assert.Equal(t, "pi_9", d.GatewayID)
	assert.Contains(t, d.Details, "t9")
	assert.Equal(t, int64(500), report.Summary.GatewayTotal)
}

func TestMatch_GatewayChargeWithoutMetadata(t *testing.T) {
	// A charge with no back-reference counts toward the total but is not
	// a discrepancy; it may belong to another product line.
	gateway := []Payment{
		{ID: "pi_x", Amount: 30000, Status: PaymentSucceeded},
	}

	report, err := Match(nil, gateway, DefaultPolicy())
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
	assert.Equal(t, int64(300), report.Summary.GatewayTotal)
}

func TestMatch_MissingReferenceInGatewaySet(t *testing.T) {
	// Ledger carries a reference the gateway never saw.
	ledger := []Transaction{
		{ID: "t5", Amount: 1200, Status: StatusCompleted, ReferenceID: "pi_gone"},
	}

	report, err := Match(ledger, nil, DefaultPolicy())
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, MissingInGateway, d.Kind)
	assert.Equal(t, "t5", d.LedgerID)
	assert.Equal(t, "pi_gone", d.GatewayID)
}

func TestMatch_DisjointSets_EveryRecordFlagged(t *testing.T) {
	// GIVEN: No id on either side matches anything on the other
	ledger := []Transaction{
		{ID: "a1", Amount: 100, Status: StatusPaid, ReferenceID: "pi_a1"},
		{ID: "a2", Amount: 200, Status: StatusPaid, ReferenceID: "pi_a2"},
	}
	gateway := []Payment{
		{ID: "pi_b1", Amount: 10000, Status: PaymentSucceeded,
			Metadata: map[string]string{MetadataTextbookKey: "b1"}},
		{ID: "pi_b2", Amount: 20000, Status: PaymentSucceeded,
			Metadata: map[string]string{MetadataTextbookKey: "b2"}},
		{ID: "pi_b3", Amount: 30000, Status: PaymentSucceeded,
			Metadata: map[string]string{MetadataTextbookKey: "b3"}},
	}

	report, err := Match(ledger, gateway, DefaultPolicy())
	require.NoError(t, err)

	// THEN: every record on both sides is missing on the other
	assert.Equal(t, len(ledger)+len(gateway), report.Summary.DiscrepancyCount)
}

func TestMatch_Totals(t *testing.T) {
	ledger := []Transaction{
		{ID: "t1", Amount: 1000, Status: StatusPaid, ReferenceID: "pi_1"},
		{ID: "t2", Amount: 2500, Status: StatusCompleted, ReferenceID: "pi_2"},
		{ID: "t3", Amount: 400, Status: StatusCompleted},
	}
	gateway := []Payment{
		{ID: "pi_1", Amount: 100000, Status: PaymentSucceeded},
		{ID: "pi_2", Amount: 250000, Status: PaymentSucceeded},
		{ID: "pi_3", Amount: 12345, Status: PaymentSucceeded}, // rounds to 123
	}

	report, err := Match(ledger, gateway, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, int64(3900), report.Summary.LedgerTotal)
	assert.Equal(t, int64(1000+2500+123), report.Summary.GatewayTotal)
	assert.Equal(t, 3, report.Summary.LedgerCount)
	assert.Equal(t, 3, report.Summary.GatewayCount)
}

func TestMatch_OrderingLedgerPassFirst(t *testing.T) {
	// Discrepancies come out in encounter order: ledger pass, then gateway.
	ledger := []Transaction{
		{ID: "t1", Amount: 100, Status: StatusPaid}, // missing reference
	}
	gateway := []Payment{
		{ID: "pi_z", Amount: 5000, Status: PaymentSucceeded,
			Metadata: map[string]string{MetadataTextbookKey: "unknown"}},
	}

	report, err := Match(ledger, gateway, DefaultPolicy())
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 2)
	assert.Equal(t, MissingInGateway, report.Discrepancies[0].Kind)
	assert.Equal(t, MissingInLedger, report.Discrepancies[1].Kind)
}

func TestMatch_Deterministic(t *testing.T) {
	ledger := []Transaction{
		{ID: "t1", Amount: 1000, Status: StatusPaid, ReferenceID: "pi_1"},
		{ID: "t2", Amount: 999, Status: StatusPaid, ReferenceID: "pi_2"},
		{ID: "t3", Amount: 50, Status: StatusPaid},
	}
	gateway := []Payment{
		{ID: "pi_1", Amount: 100000, Status: PaymentSucceeded},
		{ID: "pi_2", Amount: 90000, Status: PaymentSucceeded},
	}

	first, err := Match(ledger, gateway, DefaultPolicy())
	require.NoError(t, err)
	second, err := Match(ledger, gateway, DefaultPolicy())
	require.NoError(t, err)

	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, first.Discrepancies, second.Discrepancies)
}

func TestMatch_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		ledger  []Transaction
		gateway []Payment
	}{
		{
			name:   "empty ledger id",
			ledger: []Transaction{{Amount: 100, Status: StatusPaid}},
		},
		{
			name:   "negative ledger amount",
			ledger: []Transaction{{ID: "t1", Amount: -5, Status: StatusPaid}},
		},
		{
			name:   "unknown ledger status",
			ledger: []Transaction{{ID: "t1", Amount: 100, Status: "shipped"}},
		},
		{
			name:    "empty gateway id",
			gateway: []Payment{{Amount: 100, Status: PaymentSucceeded}},
		},
		{
			name:    "negative gateway amount",
			gateway: []Payment{{ID: "pi_1", Amount: -100, Status: PaymentSucceeded}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Match(tt.ledger, tt.gateway, DefaultPolicy())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestConvertMinor_Rounding(t *testing.T) {
	policy := DefaultPolicy()

	assert.Equal(t, int64(1000), policy.ConvertMinor(100000))
	assert.Equal(t, int64(123), policy.ConvertMinor(12345))
	assert.Equal(t, int64(124), policy.ConvertMinor(12350)) // half rounds away
	assert.Equal(t, int64(0), policy.ConvertMinor(49))
	assert.Equal(t, int64(1), policy.ConvertMinor(50))
}
