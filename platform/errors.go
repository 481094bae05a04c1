package platform

import (
	"errors"
	"fmt"
)

// ErrNotFound signals the target message no longer exists on the platform.
// For deletions this is treated as already-satisfied by callers.
var ErrNotFound = errors.New("message not found")

// TransientError wraps failures worth retrying: network trouble, rate
// limits, 5xx responses.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient platform error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps failures that retrying cannot fix: revoked
// permissions, bad requests, missing targets.
type PermanentError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent platform error during %s (status %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is not worth retrying
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsNotFound reports whether err means the target message is gone
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
