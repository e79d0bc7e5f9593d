package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Connection failures and losses are reported with the broker package
// sentinels (broker.ErrConnectFailed, broker.ErrConnectionLost,
// broker.ErrNotConnected) so callers need not know the transport.
var (
	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is configured.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a binding or reply destination cannot
	// be mapped onto an MQTT topic.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrMalformedEnvelope is returned when a payload is not a message envelope.
	ErrMalformedEnvelope = errors.New("mqtt: malformed message envelope")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")
)
