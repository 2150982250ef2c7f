/*
runner_test.go - Tests for run orchestration

Covers the concurrent fetch join, window computation, and abort-on-failure
semantics for each side.
*/
package recon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLedger struct {
	txs       []Transaction
	err       error
	delay     time.Duration
	gotStatus []Status
}

func (s *stubLedger) ListByStatus(ctx context.Context, statuses []Status) ([]Transaction, error) {
	s.gotStatus = statuses
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.txs, s.err
}

type stubGateway struct {
	payments []Payment
	err      error
	delay    time.Duration
	gotSince time.Time
}

func (s *stubGateway) ListSucceededSince(ctx context.Context, since time.Time) ([]Payment, error) {
	s.gotSince = since
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.payments, s.err
}

func TestRunner_Run(t *testing.T) {
	ledger := &stubLedger{txs: []Transaction{
		{ID: "t1", Amount: 1000, Status: StatusPaid, ReferenceID: "pi_1"},
	}}
	gw := &stubGateway{payments: []Payment{
		{ID: "pi_1", Amount: 100000, Status: PaymentSucceeded},
	}}

	runner := NewRunner(ledger, gw, Options{})

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Discrepancies)
	assert.Equal(t, SettledStatuses(), ledger.gotStatus)
}

func TestRunner_WindowIsThirtyDays(t *testing.T) {
	ledger := &stubLedger{}
	gw := &stubGateway{}

	runner := NewRunner(ledger, gw, Options{})
	fixed := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	runner.now = func() time.Time { return fixed }

	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fixed.Add(-30*24*time.Hour), gw.gotSince)
}

func TestRunner_LedgerFailureAbortsRun(t *testing.T) {
	ledger := &stubLedger{err: errors.New("disk on fire")}
	gw := &stubGateway{payments: []Payment{
		{ID: "pi_1", Amount: 100000, Status: PaymentSucceeded},
	}}

	runner := NewRunner(ledger, gw, Options{})

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report, "no partial report on failure")
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "ledger", srcErr.Source)
}

func TestRunner_GatewayFailureAbortsRun(t *testing.T) {
	ledger := &stubLedger{txs: []Transaction{
		{ID: "t1", Amount: 1000, Status: StatusPaid, ReferenceID: "pi_1"},
	}}
	gw := &stubGateway{err: errors.New("401 from gateway")}

	runner := NewRunner(ledger, gw, Options{})

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "gateway", srcErr.Source)
}

func TestRunner_FetchTimeout(t *testing.T) {
	ledger := &stubLedger{delay: 200 * time.Millisecond}
	gw := &stubGateway{}

	runner := NewRunner(ledger, gw, Options{FetchTimeout: 20 * time.Millisecond})

	_, err := runner.Run(context.Background())
	require.Error(t, err)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "ledger", srcErr.Source)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunner_FetchesRunConcurrently(t *testing.T) {
	// Each source blocks until the other has started. The run can only
	// complete within the timeout if the fetches overlap.
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func() {
		wg.Done()
		wg.Wait()
	}

	ledger := &concurrentLedger{barrier: barrier}
	gw := &concurrentGateway{barrier: barrier}

	runner := NewRunner(ledger, gw, Options{FetchTimeout: 2 * time.Second})

	_, err := runner.Run(context.Background())
	require.NoError(t, err)
}

type concurrentLedger struct{ barrier func() }

func (c *concurrentLedger) ListByStatus(ctx context.Context, statuses []Status) ([]Transaction, error) {
	c.barrier()
	return nil, nil
}

type concurrentGateway struct{ barrier func() }

func (c *concurrentGateway) ListSucceededSince(ctx context.Context, since time.Time) ([]Payment, error) {
	c.barrier()
	return nil, nil
}

func TestRunner_DefaultsApplied(t *testing.T) {
	runner := NewRunner(&stubLedger{}, &stubGateway{}, Options{})

	assert.Equal(t, 30*24*time.Hour, runner.opts.Window)
	assert.Equal(t, 30*time.Second, runner.opts.FetchTimeout)
	assert.Equal(t, SettledStatuses(), runner.opts.Statuses)
	assert.Equal(t, DefaultPolicy(), runner.opts.Policy)
}

func TestRunner_MalformedRecordAbortsRun(t *testing.T) {
	ledger := &stubLedger{txs: []Transaction{
		{ID: "", Amount: 100, Status: StatusPaid},
	}}

	runner := NewRunner(ledger, &stubGateway{}, Options{})

	report, err := runner.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
