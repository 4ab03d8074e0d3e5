package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrAlreadyClosed    = errors.New("position already closed")
	ErrLockHeld         = errors.New("lock already held")
	ErrPriceUnavailable = errors.New("mark price unavailable")
	ErrSignalConsumed   = errors.New("signal already executed")
	ErrRateLimited      = errors.New("rate limited")
)

// ValidationError is a business-rule rejection from the pre-trade validator.
// It is reported to the caller verbatim and never retried automatically.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// VenueError is a venue-side execution failure: a reverted transaction or a
// rejected order. The venue's raw reason is preserved where available. No
// position record exists for a trade that failed with a VenueError.
type VenueError struct {
	Venue  Venue
	Reason string
	Err    error
}

func (e *VenueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue %s: %s: %v", e.Venue, e.Reason, e.Err)
	}
	return fmt.Sprintf("venue %s: %s", e.Venue, e.Reason)
}

func (e *VenueError) Unwrap() error { return e.Err }

// IsVenueFailure reports whether err is (or wraps) a VenueError.
func IsVenueFailure(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve)
}
