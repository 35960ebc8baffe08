package remote

import (
	"errors"
	"fmt"
)

// NotFoundError: a selector or path resolved to nothing on the live page.
// Returned inside operation results, never raised across the executor
// boundary, so one missing child cannot abort a scroll session.
type NotFoundError struct {
	What string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote: not found: %s", e.What)
}

// DetachedError: a previously matched node was no longer attached when the
// operation ran.
type DetachedError struct {
	Path string
}

func (e *DetachedError) Error() string {
	return fmt.Sprintf("remote: node detached: %s", e.Path)
}

// TimeoutError: a wait for content or navigation exceeded its bound.
type TimeoutError struct {
	Op    string
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote: timeout during %s: %v", e.Op, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

// IsDetached reports whether err is a DetachedError.
func IsDetached(err error) bool {
	var t *DetachedError
	return errors.As(err, &t)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}
