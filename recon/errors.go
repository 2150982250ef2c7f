/*
errors.go - Error taxonomy for reconciliation

PURPOSE:
  Reconciliation has exactly three failure classes, and every failure aborts
  the whole run. No partial reports.

ERROR CATEGORIES:
  1. Source errors - a data source (ledger store or gateway) was unreachable
     or returned an error; surfaced to callers as 5xx
  2. Validation errors - a malformed record reached the matcher; 5xx
  3. Auth errors live in the api package; the engine never sees credentials

USAGE:
  if errors.Is(err, recon.ErrSourceUnavailable) { ... }

  var verr *recon.ValidationError
  if errors.As(err, &verr) { ... }
*/
package recon

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSourceUnavailable is returned when either data source cannot be read.
	// The run is aborted; operators may re-trigger manually.
	ErrSourceUnavailable = errors.New("data source unavailable")

	// ErrMalformedRecord is returned when a record fails boundary validation
	// (empty id, negative amount).
	ErrMalformedRecord = errors.New("malformed record")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// SourceError wraps a failure from one of the two data sources.
// Source is "ledger" or "gateway".
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSourceUnavailable }

// ValidationError reports a malformed record encountered during matching.
type ValidationError struct {
	RecordID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.RecordID == "" {
		return fmt.Sprintf("invalid record: %s", e.Reason)
	}
	return fmt.Sprintf("invalid record %s: %s", e.RecordID, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrMalformedRecord }
