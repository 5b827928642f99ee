package steerable

import (
	"errors"
	"fmt"
)

// TransientBackendError marks a failure worth retrying: rate limits, network
// timeouts, malformed-but-retryable model output. The retry policy backs off
// and re-attempts these; everything else is surfaced immediately.
type TransientBackendError struct {
	Op  string
	Err error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("transient backend error in %s: %v", e.Op, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientBackendError.
func Transient(op string, err error) error {
	return &TransientBackendError{Op: op, Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientBackendError
	return errors.As(err, &t)
}

// InferenceError is a non-retryable malformed response for one observation.
// It aborts the enclosing evaluation pair, not the run; the pair's score is
// left unset so a later resume retries it.
type InferenceError struct {
	PersonaID     string
	ObservationID string
	Msg           string
	Err           error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for persona %s observation %s: %s",
		e.PersonaID, e.ObservationID, e.Msg)
}

func (e *InferenceError) Unwrap() error { return e.Err }
