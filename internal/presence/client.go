package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// StatusClient asks a running tracker for a device's presence.
type StatusClient struct {
	conn    broker.Conn
	binding broker.Binding
	timeout time.Duration
	logger  Logger
}

// NewStatusClient creates a client that publishes queries on binding.
// A non-positive timeout means DefaultStatusTimeout; a nil logger discards
// output.
func NewStatusClient(conn broker.Conn, binding broker.Binding, timeout time.Duration, logger Logger) *StatusClient {
	if timeout <= 0 {
		timeout = DefaultStatusTimeout
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &StatusClient{
		conn:    conn,
		binding: binding,
		timeout: timeout,
		logger:  logger,
	}
}

// DeviceStatus returns "new", "connected", "disconnected" or "unknown
// command" as answered by the tracker.
//
// No reply within the timeout is reported as "disconnected": a tracker that
// does not answer cannot vouch for the device.
func (c *StatusClient) DeviceStatus(ctx context.Context, deviceID string) (string, error) {
	body, err := json.Marshal(statusQuery{Command: CommandDeviceStatus, ID: deviceID})
	if err != nil {
		return "", fmt.Errorf("encoding status query: %w", err)
	}

	correlationID := uuid.NewString()
	replyTo := c.conn.NewReplyDestination()
	replies := make(chan broker.Message, 1)

	sub, err := c.conn.SubscribeReply(replyTo, func(d *broker.Delivery) {
		_ = d.Ack() //nolint:errcheck // reply queues are exclusive and auto-delete
		if d.CorrelationID != "" && d.CorrelationID != correlationID {
			return
		}
		select {
		case replies <- d.Message:
		default:
		}
	})
	if err != nil {
		return "", fmt.Errorf("subscribing to reply destination: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Debug("error removing reply subscription", "error", err)
		}
	}()

	err = c.conn.Publish(ctx, c.binding, broker.Message{
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
		ContentType:   "application/json",
		Body:          body,
	})
	if err != nil {
		return "", fmt.Errorf("publishing status query: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case msg := <-replies:
		return string(msg.Body), nil
	case <-timer.C:
		c.logger.Warn("no reply to status query, reporting disconnected",
			"device_id", deviceID,
			"timeout", c.timeout,
		)
		return string(ClassDisconnected), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
