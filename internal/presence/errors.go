package presence

import "errors"

// Domain-specific errors for presence tracking.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrMissingIdentity is logged when a heartbeat carries no app id.
	ErrMissingIdentity = errors.New("presence: heartbeat has no device identity")

	// ErrMissingReplyTo is logged when a request carries no reply destination.
	ErrMissingReplyTo = errors.New("presence: request has no reply destination")

	// ErrMalformedQuery is logged when a status query body is not valid JSON.
	ErrMalformedQuery = errors.New("presence: malformed status query")

	// ErrPersistence wraps device store failures. It ends the tracker run.
	ErrPersistence = errors.New("presence: device store failure")

	// ErrTrackerStopped is returned when a stopped tracker is used again.
	ErrTrackerStopped = errors.New("presence: tracker stopped")

	// ErrLoopClosed is returned when work is submitted after the event loop
	// has exited.
	ErrLoopClosed = errors.New("presence: event loop closed")
)
