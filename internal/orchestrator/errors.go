package orchestrator

import (
	"errors"
	"fmt"
)

// ConfigurationError means the pipeline cannot start: missing schema
// source, unreachable reasoning endpoint, bad settings. Never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// SchemaError means the schema source exists but its content is
// unusable. Never retried.
type SchemaError struct {
	Source string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error for %s: %v", e.Source, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ValidationError rejects bad input without touching the session:
// empty queries, malformed corrections, resuming a session that is not
// waiting for anything.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s", e.Reason)
}

// ErrSQLCyclesExceeded is wrapped into the failure summary when the
// generation/execution loop runs out of iterations.
var ErrSQLCyclesExceeded = errors.New("maximum SQL generation cycles exceeded")

// ErrCorrectionLimit is returned when a session has consumed its
// correction budget.
var ErrCorrectionLimit = errors.New("maximum correction attempts exceeded")
