/*
runner.go - Reconciliation orchestration

PURPOSE:
  Fetches both source sets and hands them to the matcher. The two fetches are
  independent reads with no shared state, so they run concurrently; the
  matcher waits on the join. Either fetch failing aborts the whole run.

FAILURE SEMANTICS:
  Each fetch gets its own deadline. A timeout or any source failure surfaces
  as a SourceError naming the side that failed. There is no retry here; the
  caller (or operator) re-triggers the run.
*/
package recon

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// LedgerSource reads the marketplace's own sale records.
type LedgerSource interface {
	// ListByStatus returns every ledger transaction whose status is in
	// statuses. The implementation pages internally; the result is the
	// complete set.
	ListByStatus(ctx context.Context, statuses []Status) ([]Transaction, error)
}

// GatewaySource reads the payment gateway's charge records.
type GatewaySource interface {
	// ListSucceededSince returns every succeeded gateway payment created at
	// or after since, paging through the gateway's list API until exhausted.
	ListSucceededSince(ctx context.Context, since time.Time) ([]Payment, error)
}

// Options bound a reconciliation run.
type Options struct {
	// Window is how far back gateway charges are fetched. Default 30 days.
	Window time.Duration

	// FetchTimeout is the per-source deadline. Default 30s.
	FetchTimeout time.Duration

	// Statuses filters the ledger side. Default SettledStatuses().
	Statuses []Status

	Policy Policy
}

// Runner executes reconciliation runs against a fixed pair of sources.
// Runners are stateless between runs; concurrent Run calls are independent.
type Runner struct {
	ledger  LedgerSource
	gateway GatewaySource
	opts    Options

	now func() time.Time // overridden in tests
}

// NewRunner wires a runner. Zero-valued options fall back to defaults.
func NewRunner(ledger LedgerSource, gateway GatewaySource, opts Options) *Runner {
	if opts.Window <= 0 {
		opts.Window = 30 * 24 * time.Hour
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if len(opts.Statuses) == 0 {
		opts.Statuses = SettledStatuses()
	}
	if opts.Policy.MinorUnitsPerUnit == 0 {
		opts.Policy = DefaultPolicy()
	}
	return &Runner{
		ledger:  ledger,
		gateway: gateway,
		opts:    opts,
		now:     time.Now,
	}
}

// Run performs one reconciliation: fetch both sides, join, match, report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	since := r.now().Add(-r.opts.Window)

	var (
		ledger  []Transaction
		gateway []Payment
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, r.opts.FetchTimeout)
		defer cancel()

		txs, err := r.ledger.ListByStatus(fctx, r.opts.Statuses)
		if err != nil {
			return &SourceError{Source: "ledger", Err: err}
		}
		ledger = txs
		return nil
	})

	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, r.opts.FetchTimeout)
		defer cancel()

		payments, err := r.gateway.ListSucceededSince(fctx, since)
		if err != nil {
			return &SourceError{Source: "gateway", Err: err}
		}
		gateway = payments
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Match(ledger, gateway, r.opts.Policy)
}
