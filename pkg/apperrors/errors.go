package apperrors

import "errors"

var (
	// ErrQuotaExhausted means the metered API quota dropped to (or below) the
	// configured safety floor. Callers must stop issuing calls for the rest
	// of the run; this is a stop signal, not a retryable error.
	ErrQuotaExhausted = errors.New("api quota exhausted")

	// ErrThrottled means the upstream throttled us and retries with backoff
	// were exhausted.
	ErrThrottled = errors.New("api throttled")

	// ErrNotReady means the upstream accepted the request but is still
	// computing the result (GitHub statistics endpoints return 202 while
	// aggregates are built). The data will exist on a later run.
	ErrNotReady = errors.New("result not yet computed")

	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrRunInProgress = errors.New("a run of this job type is already in progress")
)
