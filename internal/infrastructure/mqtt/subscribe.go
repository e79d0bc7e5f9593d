package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// subscription is an active MQTT subscription on a Conn.
type subscription struct {
	conn  *Conn
	topic string
}

// Unsubscribe removes the subscription from the broker.
// It is a no-op once the Conn has closed.
func (s *subscription) Unsubscribe() error {
	if s.conn.closed() {
		return nil
	}
	token := s.conn.client.Unsubscribe(s.topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrUnsubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Subscribe registers a handler for messages published to the binding.
//
// The binding maps onto {vhost}/{exchange}/{key}; topic-kind wildcards
// become MQTT wildcards (see Topics). It returns once the broker has
// acknowledged the subscription.
//
// Example:
//
//	sub, err := conn.Subscribe(broker.Binding{
//	    Exchange: "heartbeat_messages", Kind: broker.KindDirect, RoutingKey: "heartbeat",
//	}, handler)
func (c *Conn) Subscribe(b broker.Binding, h broker.Handler) (broker.Subscription, error) {
	topic, err := c.topics.Binding(b)
	if err != nil {
		return nil, err
	}
	return c.subscribe(topic, b, h)
}

// SubscribeReply registers a handler for a reply topic from NewReplyDestination.
func (c *Conn) SubscribeReply(dest string, h broker.Handler) (broker.Subscription, error) {
	if !validReplyTopic(dest) {
		return nil, fmt.Errorf("%w: %q", broker.ErrInvalidDestination, dest)
	}
	return c.subscribe(dest, broker.Binding{}, h)
}

func (c *Conn) subscribe(topic string, b broker.Binding, h broker.Handler) (broker.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if c.closed() {
		return nil, broker.ErrNotConnected
	}

	token := c.client.Subscribe(topic, c.qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.handleMessage(b, h, msg)
	})
	if !token.WaitTimeout(defaultPublishTimeout) {
		return nil, fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return &subscription{conn: c, topic: topic}, nil
}
