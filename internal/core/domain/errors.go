package domain

import "errors"

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient tags err as worth retrying (timeouts, 429, 5xx).
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, was marked transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
