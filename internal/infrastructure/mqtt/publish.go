package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// Maximum encoded envelope size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends msg to the binding's topic.
//
// The message properties and body travel in a JSON envelope. Publish returns
// once paho has queued the message; the broker's acknowledgement (QoS 1/2)
// is awaited in the background and failures are logged.
//
// Returns:
//   - error: nil once queued, or wrapped error describing the failure
func (c *Conn) Publish(ctx context.Context, b broker.Binding, msg broker.Message) error {
	topic, err := c.topics.Binding(b)
	if err != nil {
		return err
	}
	if b.Kind == broker.KindTopic && containsWildcard(topic) {
		return fmt.Errorf("%w: cannot publish to wildcard topic %q", ErrInvalidTopic, topic)
	}
	return c.publish(ctx, topic, msg)
}

// Reply sends msg to the reply topic named by a request.
// Like Publish it does not wait for the broker.
func (c *Conn) Reply(ctx context.Context, replyTo string, msg broker.Message) error {
	if !validReplyTopic(replyTo) {
		return fmt.Errorf("%w: %q", broker.ErrInvalidDestination, replyTo)
	}
	return c.publish(ctx, replyTo, msg)
}

func (c *Conn) publish(ctx context.Context, topic string, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	payload, err := encodeEnvelope(msg)
	if err != nil {
		return err
	}

	if c.closed() {
		return broker.ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, false, payload)
	go c.awaitPublish(topic, token)
	return nil
}

// awaitPublish logs a publish the broker failed or never acknowledged.
func (c *Conn) awaitPublish(topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(c.publishTimeout()) {
		c.logger.Warn("MQTT publish not acknowledged",
			"topic", topic,
			"timeout", c.publishTimeout(),
		)
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Warn("MQTT publish failed",
			"topic", topic,
			"error", err,
		)
	}
}

func (c *Conn) publishTimeout() time.Duration {
	if c.ackTimeout > 0 {
		return c.ackTimeout
	}
	return defaultPublishTimeout
}

func containsWildcard(topic string) bool {
	for _, r := range topic {
		if r == '+' || r == '#' {
			return true
		}
	}
	return false
}
