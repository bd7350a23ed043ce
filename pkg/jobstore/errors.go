package jobstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no record exists for the requested job id.
	ErrNotFound = errors.New("job record not found")

	// ErrAlreadyExists indicates a create-only put hit an existing record.
	ErrAlreadyExists = errors.New("job record already exists")

	// ErrConditionFailed indicates a conditional update's expected-state
	// predicate did not hold. Callers treat this as "someone got there
	// first", not as a fault.
	ErrConditionFailed = errors.New("update condition failed")
)

// StoreError wraps table errors with operation context.
type StoreError struct {
	// Op is the operation that failed (e.g., "Get", "MarkArchived").
	Op string

	// Table is the table name.
	Table string

	// JobID is the job key, if applicable.
	JobID string

	// Err is the underlying error.
	Err error
}

func (e *StoreError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("jobstore %s: %s/%s: %v", e.Op, e.Table, e.JobID, e.Err)
	}
	return fmt.Sprintf("jobstore %s: %s: %v", e.Op, e.Table, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConditionFailed returns true if the error is a failed conditional update.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}
