package nats

import "errors"

// Domain-specific errors for the NATS transport.
// Connection failures and losses use the broker package sentinels.
var (
	// ErrInvalidSubject is returned when a binding cannot be mapped onto a subject.
	ErrInvalidSubject = errors.New("nats: invalid subject")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("nats: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("nats: subscribe failed")
)
