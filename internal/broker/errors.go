package broker

import "errors"

// Domain-specific errors for broker operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectFailed is returned when a dial attempt fails.
	ErrConnectFailed = errors.New("broker: connection failed")

	// ErrNotConnected is returned when using a Conn that has already closed.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrConnectionLost is the closure reason reported when the broker side
	// drops a Conn that was not closed locally.
	ErrConnectionLost = errors.New("broker: connection lost")

	// ErrInvalidBinding is returned when a binding is missing its exchange or
	// routing key, or names an unknown exchange kind.
	ErrInvalidBinding = errors.New("broker: invalid binding")

	// ErrInvalidDestination is returned when a reply destination is empty.
	ErrInvalidDestination = errors.New("broker: reply destination cannot be empty")

	// ErrAlreadyAcked is returned by Delivery.Ack on the second call.
	ErrAlreadyAcked = errors.New("broker: delivery already acknowledged")

	// ErrStopped is returned by Run when the Connection was stopped before it
	// ever connected.
	ErrStopped = errors.New("broker: connection stopped")
)
