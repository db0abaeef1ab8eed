package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a failure worth retrying: timeouts, connection
// resets, 5xx and 429 responses. Anything else aborts the stage.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// RetryableStatus reports whether an HTTP status code maps to a
// transient failure.
func RetryableStatus(code int) bool {
	return code == 429 || code >= 500
}
