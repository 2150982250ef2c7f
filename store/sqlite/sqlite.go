/*
Package sqlite provides the SQLite-backed marketplace ledger store.

PURPOSE:
  Persists the marketplace's own record of textbook sales and the history of
  reconciliation runs. This store is the system of record for sale lifecycle
  status; the payment gateway is the system of record for settlement.

INTERFACES IMPLEMENTED:
  recon.LedgerSource: status-filtered reads for reconciliation

KEY TABLES:
  sales:                One row per textbook sale; status advances
                        unpaid -> paid -> completed (or failed)
  reconciliation_runs:  Summaries of past runs (totals and counts only;
                        discrepancy lists are never persisted)

STATUS TRANSITIONS:
  Status columns are updated in place, but only forward: a webhook can move
  unpaid -> paid/failed, and completion confirms a paid sale. Amounts and
  ids never change after insert.

PAGINATION:
  ListByStatus pages with a keyset cursor (id > last) at 500 rows per page
  and returns the full set. 500 keeps each scan comfortably inside SQLite's
  sweet spot while bounding per-query memory.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so reconciliation reads
  don't block webhook writes.

USAGE:
  store, err := sqlite.New("./data/textmatch.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - recon/runner.go: LedgerSource interface definition
  - api/handlers.go: Sale lifecycle and dashboard queries
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/textmatch/recon-engine/recon"
)

// pageSize bounds each ListByStatus query. Documented choice; see header.
const pageSize = 500

// ErrSaleNotFound is returned by status updates targeting unknown sales
// (or disallowed transitions).
var ErrSaleNotFound = errors.New("sale not found")

// Store implements ledger persistence using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A ":memory:" database exists per connection; a second pooled
	// connection would see an empty schema.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sales: one row per textbook sale
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		seller_id TEXT NOT NULL DEFAULT '',
		buyer_id TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'unpaid',
		reference_id TEXT,
		paid_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: reconciliation reads by status
	CREATE INDEX IF NOT EXISTS idx_sales_status
		ON sales(status);
	CREATE INDEX IF NOT EXISTS idx_sales_reference
		ON sales(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_sales_created_at
		ON sales(created_at);

	-- Reconciliation run history (summaries only)
	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		ledger_total INTEGER NOT NULL DEFAULT 0,
		gateway_total INTEGER NOT NULL DEFAULT 0,
		ledger_count INTEGER NOT NULL DEFAULT 0,
		gateway_count INTEGER NOT NULL DEFAULT 0,
		discrepancy_count INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_status
		ON reconciliation_runs(status);
	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SALE RECORDS
// =============================================================================

// Sale is a marketplace sale record.
type Sale struct {
	ID       string
	Title    string
	SellerID string
	BuyerID  string

	// Amount in whole currency units.
	Amount int64

	Status recon.Status

	// ReferenceID is the gateway payment id; empty until the sale is paid.
	ReferenceID string

	PaidAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveSale inserts a new sale. Sales always start unpaid unless a status is
// provided (scenario seeding, tests).
func (s *Store) SaveSale(ctx context.Context, sale Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.Status == "" {
		sale.Status = recon.StatusUnpaid
	}
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (id, title, seller_id, buyer_id, amount, status, reference_id, paid_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sale.ID,
		sale.Title,
		sale.SellerID,
		sale.BuyerID,
		sale.Amount,
		string(sale.Status),
		nullString(sale.ReferenceID),
		nullTime(sale.PaidAt),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save sale: %w", err)
	}
	return nil
}

// GetSale returns a single sale, or nil when it does not exist.
func (s *Store) GetSale(ctx context.Context, id string) (*Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, seller_id, buyer_id, amount, status, reference_id, paid_at, created_at, updated_at
		FROM sales WHERE id = ?
	`, id)

	sale, err := scanSale(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sale: %w", err)
	}
	return sale, nil
}

// ListSales returns sales, optionally filtered by a single status,
// newest first.
func (s *Store) ListSales(ctx context.Context, status recon.Status, limit int) ([]Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = pageSize
	}

	query := `
		SELECT id, title, seller_id, buyer_id, amount, status, reference_id, paid_at, created_at, updated_at
		FROM sales
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	var sales []Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	return sales, rows.Err()
}

// MarkPaid records a successful gateway charge against a sale.
func (s *Store) MarkPaid(ctx context.Context, id, referenceID string, paidAt time.Time) error {
	return s.exec(ctx, `
		UPDATE sales
		SET status = ?, reference_id = ?, paid_at = ?, updated_at = ?
		WHERE id = ?
	`, string(recon.StatusPaid), referenceID, paidAt.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339), id)
}

// MarkFailed records a failed gateway charge.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	return s.exec(ctx, `
		UPDATE sales SET status = ?, updated_at = ? WHERE id = ?
	`, string(recon.StatusFailed), time.Now().UTC().Format(time.RFC3339), id)
}

// MarkCompleted confirms receipt of a paid sale. Only paid sales complete.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.exec(ctx, `
		UPDATE sales SET status = ?, updated_at = ? WHERE id = ? AND status = 'paid'
	`, string(recon.StatusCompleted), time.Now().UTC().Format(time.RFC3339), id)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update sale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSaleNotFound
	}
	return nil
}

// =============================================================================
// LEDGER SOURCE (recon.LedgerSource interface)
// =============================================================================

// ListByStatus returns every sale in one of the given statuses as ledger
// transactions, paging internally until exhausted.
func (s *Store) ListByStatus(ctx context.Context, statuses []recon.Status) ([]recon.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(statuses) == 0 {
		return []recon.Transaction{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := fmt.Sprintf(`
		SELECT id, amount, status, reference_id, paid_at
		FROM sales
		WHERE status IN (%s) AND id > ?
		ORDER BY id ASC
		LIMIT ?
	`, placeholders)

	result := make([]recon.Transaction, 0)
	cursor := ""
	for {
		args := make([]any, 0, len(statuses)+2)
		for _, st := range statuses {
			args = append(args, string(st))
		}
		args = append(args, cursor, pageSize)

		page, err := s.queryTransactions(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		result = append(result, page...)
		if len(page) < pageSize {
			break
		}
		cursor = page[len(page)-1].ID
	}

	return result, nil
}

func (s *Store) queryTransactions(ctx context.Context, query string, args ...any) ([]recon.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales: %w", err)
	}
	defer rows.Close()

	var txs []recon.Transaction
	for rows.Next() {
		var (
			tx        recon.Transaction
			status    string
			reference sql.NullString
			paidAt    sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.Amount, &status, &reference, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		tx.Status = recon.Status(status)
		if reference.Valid {
			tx.ReferenceID = reference.String
		}
		if paidAt.Valid {
			if t, perr := time.Parse(time.RFC3339, paidAt.String); perr == nil {
				tx.RecordedAt = &t
			}
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// DASHBOARD AGGREGATES
// =============================================================================

// DashboardStats holds back-office counters computed from the sales table.
type DashboardStats struct {
	TotalSales    int64
	CountByStatus map[recon.Status]int64

	// Revenue is the sum of settled (paid/completed) sale amounts.
	Revenue int64

	// TodaySales counts sales created in the last 24 hours.
	TodaySales int64
}

// Dashboard computes back-office stats.
func (s *Store) Dashboard(ctx context.Context) (*DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DashboardStats{CountByStatus: make(map[recon.Status]int64)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0) FROM sales GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to compute dashboard stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int64
			total  int64
		)
		if err := rows.Scan(&status, &count, &total); err != nil {
			return nil, err
		}
		st := recon.Status(status)
		stats.CountByStatus[st] = count
		stats.TotalSales += count
		if st.Settled() {
			stats.Revenue += total
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	since := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sales WHERE created_at >= ?", since,
	).Scan(&stats.TodaySales)
	if err != nil {
		return nil, fmt.Errorf("failed to count today's sales: %w", err)
	}

	return stats, nil
}

// =============================================================================
// RECONCILIATION RUN HISTORY
// =============================================================================

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// ReconciliationRun is the persisted summary of one run.
type ReconciliationRun struct {
	ID          string
	Trigger     string // "manual" or "scheduled"
	Status      string
	Summary     recon.Summary
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RecordRun inserts a run in the running state.
func (s *Store) RecordRun(ctx context.Context, id, trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, trigger_kind, status, started_at)
		VALUES (?, ?, ?, ?)
	`, id, trigger, RunRunning, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// CompleteRun marks a run completed with its summary.
func (s *Store) CompleteRun(ctx context.Context, id string, summary recon.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_runs
		SET status = ?, ledger_total = ?, gateway_total = ?, ledger_count = ?,
		    gateway_count = ?, discrepancy_count = ?, completed_at = ?
		WHERE id = ?
	`,
		RunCompleted,
		summary.LedgerTotal,
		summary.GatewayTotal,
		summary.LedgerCount,
		summary.GatewayCount,
		summary.DiscrepancyCount,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// FailRun marks a run failed with the error that aborted it.
func (s *Store) FailRun(ctx context.Context, id string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE reconciliation_runs SET status = ?, error = ?, completed_at = ? WHERE id = ?
	`, RunFailed, msg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// ListRuns returns run history newest first, optionally filtered by status.
func (s *Store) ListRuns(ctx context.Context, status string) ([]ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, trigger_kind, status, ledger_total, gateway_total, ledger_count,
		       gateway_count, discrepancy_count, error, started_at, completed_at
		FROM reconciliation_runs
	`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY started_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []ReconciliationRun
	for rows.Next() {
		var (
			run         ReconciliationRun
			runErr      sql.NullString
			startedAt   string
			completedAt sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &run.Trigger, &run.Status,
			&run.Summary.LedgerTotal, &run.Summary.GatewayTotal,
			&run.Summary.LedgerCount, &run.Summary.GatewayCount,
			&run.Summary.DiscrepancyCount,
			&runErr, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if runErr.Valid {
			run.Error = runErr.String
		}
		if t, perr := time.Parse(time.RFC3339, startedAt); perr == nil {
			run.StartedAt = t
		}
		if completedAt.Valid {
			if t, perr := time.Parse(time.RFC3339, completedAt.String); perr == nil {
				run.CompletedAt = &t
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*Sale, error) {
	var (
		sale      Sale
		status    string
		reference sql.NullString
		paidAt    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&sale.ID, &sale.Title, &sale.SellerID, &sale.BuyerID,
		&sale.Amount, &status, &reference, &paidAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	sale.Status = recon.Status(status)
	if reference.Valid {
		sale.ReferenceID = reference.String
	}
	if paidAt.Valid {
		if t, perr := time.Parse(time.RFC3339, paidAt.String); perr == nil {
			sale.PaidAt = &t
		}
	}
	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		sale.CreatedAt = t
	}
	if t, perr := time.Parse(time.RFC3339, updatedAt); perr == nil {
		sale.UpdatedAt = t
	}
	return &sale, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
