package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an expected failure reported to a caller.
//
// Runtime errors include:
//   - Stopped: the executor no longer accepts work
//   - Trackable not found: an operation named an unknown trackable
//   - Retry exhausted: a delivery batch was dropped after the retry budget
//   - Connection failed: the trackable's channel entered the failed state
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Trackable identifies the affected trackable, if any.
	Trackable string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeStopped indicates the executor has processed a stop.
	ErrCodeStopped RuntimeErrorCode = "STOPPED"

	// ErrCodeTrackableNotFound indicates the trackable is not being tracked.
	ErrCodeTrackableNotFound RuntimeErrorCode = "TRACKABLE_NOT_FOUND"

	// ErrCodeRetryExhausted indicates a delivery batch was dropped.
	ErrCodeRetryExhausted RuntimeErrorCode = "RETRY_EXHAUSTED"

	// ErrCodeConnectionFailed indicates the trackable's channel failed.
	ErrCodeConnectionFailed RuntimeErrorCode = "CONNECTION_FAILED"

	// ErrCodeUnexpected indicates a work item failed outside its own
	// completion path.
	ErrCodeUnexpected RuntimeErrorCode = "UNEXPECTED"
)

// ErrStopped is answered to every item submitted after a stop.
var ErrStopped = &RuntimeError{Code: ErrCodeStopped, Message: "executor is stopped"}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Trackable != "" {
		msg = fmt.Sprintf("%s (trackable=%s)", msg, e.Trackable)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is matches any RuntimeError with the same code, so
// errors.Is(err, ErrStopped) works for wrapped and rebuilt values.
func (e *RuntimeError) Is(target error) bool {
	var t *RuntimeError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// IsStoppedError returns true if err reports a stopped executor.
func IsStoppedError(err error) bool {
	return hasCode(err, ErrCodeStopped)
}

// IsRetryExhaustedError returns true if err reports a dropped delivery batch.
func IsRetryExhaustedError(err error) bool {
	return hasCode(err, ErrCodeRetryExhausted)
}

// IsTrackableNotFoundError returns true if err reports an unknown trackable.
func IsTrackableNotFoundError(err error) bool {
	return hasCode(err, ErrCodeTrackableNotFound)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewTrackableNotFoundError creates a RuntimeError for an unknown trackable.
func NewTrackableNotFoundError(trackableID string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeTrackableNotFound,
		Message:   "trackable is not being tracked",
		Trackable: trackableID,
	}
}

// NewRetryExhaustedError creates a RuntimeError for a dropped batch.
func NewRetryExhaustedError(trackableID string, attempts, locations int, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeRetryExhausted,
		Message:   fmt.Sprintf("delivery dropped after %d attempts", attempts),
		Trackable: trackableID,
		Details: map[string]string{
			"attempts":  fmt.Sprintf("%d", attempts),
			"locations": fmt.Sprintf("%d", locations),
		},
		Err: cause,
	}
}

// NewConnectionFailedError creates a RuntimeError for a failed channel.
func NewConnectionFailedError(trackableID string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeConnectionFailed,
		Message:   "trackable connection failed",
		Trackable: trackableID,
		Err:       cause,
	}
}

// NewUnexpectedError wraps a failure escalated through an unexpected-error
// hook.
func NewUnexpectedError(item string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnexpected,
		Message: fmt.Sprintf("work item %s failed", item),
		Err:     cause,
	}
}
