package backends

import (
	"errors"
	"fmt"
)

// ErrAllBackendsExhausted reports that the primary and every fallback in
// its chain failed with transient errors.
var ErrAllBackendsExhausted = errors.New("all backends exhausted")

// TransientError marks a backend failure worth retrying elsewhere:
// rate limits, timeouts, 5xx responses, connection resets.
type TransientError struct {
	Backend string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("backend %s transiently unavailable: %v", e.Backend, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError marks a failure no fallback can fix: malformed requests,
// authentication failures, context-length violations. The run aborts.
type FatalError struct {
	Backend string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("backend %s fatal: %v", e.Backend, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
