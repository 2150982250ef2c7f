/*
scheduler.go - Automated reconciliation scheduler

PURPOSE:
  Periodically runs the reconciliation routine without an admin having to
  hit the endpoint, and records each run for audit and UI display.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Each tick is one full reconciliation run, recorded like a manual one
  - A failed run is logged and recorded; the next tick tries again fresh
    (runs are independent, there is no carry-over state)

USAGE:
  scheduler := NewScheduler(store, runner, 6*time.Hour, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunReconciliation endpoint (manual runs)
  - recon/runner.go: The routine itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/textmatch/recon-engine/recon"
	"github.com/textmatch/recon-engine/store/sqlite"
)

// Scheduler triggers reconciliation runs on a fixed interval.
type Scheduler struct {
	Store    *sqlite.Store
	Runner   *recon.Runner
	Interval time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler. An interval of zero disables it.
func NewScheduler(store *sqlite.Store, runner *recon.Runner, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Store:    store,
		Runner:   runner,
		Interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
		stop:     make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.log.Info().Msg("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.wg.Add(1)
	go s.run()

	s.log.Info().Dur("interval", s.Interval).Msg("scheduler started")
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info().Msg("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunOnce performs one scheduled reconciliation run, recording the result.
func (s *Scheduler) RunOnce(ctx context.Context) {
	runID := uuid.NewString()

	if err := s.Store.RecordRun(ctx, runID, "scheduled"); err != nil {
		s.log.Error().Err(err).Msg("failed to record scheduled run")
		return
	}

	report, err := s.Runner.Run(ctx)
	if err != nil {
		s.Store.FailRun(ctx, runID, err)
		s.log.Error().Err(err).Str("run_id", runID).Msg("scheduled reconciliation failed")
		return
	}

	if err := s.Store.CompleteRun(ctx, runID, report.Summary); err != nil {
		s.log.Error().Err(err).Str("run_id", runID).Msg("failed to record run result")
		return
	}

	s.log.Info().
		Str("run_id", runID).
		Int("discrepancies", report.Summary.DiscrepancyCount).
		Int64("ledger_total", report.Summary.LedgerTotal).
		Int64("gateway_total", report.Summary.GatewayTotal).
		Msg("scheduled reconciliation complete")
}
