package handlers

import "errors"

// envelopeError marks a request whose payload decoded but is semantically
// unusable; it maps to 400 rather than 500.
type envelopeError struct {
	err error
}

func (e *envelopeError) Error() string { return e.err.Error() }
func (e *envelopeError) Unwrap() error { return e.err }

var errMissingUserID = errors.New("upgrade event missing user_id")

func badEnvelope(err error) error {
	return &envelopeError{err: err}
}

func isBadEnvelope(err error) bool {
	var ee *envelopeError
	return errors.As(err, &ee)
}
