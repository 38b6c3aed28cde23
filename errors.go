package fitsync

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("fitsync: no store configured")
	ErrStoreClosed     = errors.New("fitsync: store closed")
	ErrMigrationFailed = errors.New("fitsync: migration failed")

	// Not found errors.
	ErrMutationNotFound = errors.New("fitsync: mutation not found")
	ErrExportNotFound   = errors.New("fitsync: export not found")

	// Conflict errors.
	ErrMutationExists = errors.New("fitsync: mutation already exists")

	// State errors.
	ErrInvalidState       = errors.New("fitsync: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("fitsync: max retries exceeded")
	ErrUnknownEntityType  = errors.New("fitsync: unknown entity type")

	// Command errors.
	ErrRecoveryInFlight = errors.New("fitsync: recovery already in flight")
	ErrExportInFlight   = errors.New("fitsync: export already in flight")
)

// Permanent marks err as non-retryable. The sync engine dead-letters a
// mutation that fails permanently instead of consuming the rest of its
// retry budget.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err, or any error it wraps, was marked
// with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
