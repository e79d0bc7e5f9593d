package broker

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ExchangeKind is the routing behaviour of an exchange.
type ExchangeKind string

const (
	// KindDirect routes on an exact routing key match.
	KindDirect ExchangeKind = "direct"

	// KindTopic routes on dotted routing keys and allows "*" (one word) and
	// "#" (zero or more words) wildcards in subscriptions.
	KindTopic ExchangeKind = "topic"
)

// Binding names where messages are published and consumed.
//
// Transports map a binding onto their own addressing: NATS subjects
// ("vhost.exchange.key") and MQTT topics ("vhost/exchange/key").
type Binding struct {
	Exchange   string
	Kind       ExchangeKind
	RoutingKey string
}

// Validate checks that the binding can be declared on a transport.
func (b Binding) Validate() error {
	if b.Exchange == "" {
		return fmt.Errorf("%w: exchange cannot be empty", ErrInvalidBinding)
	}
	if b.RoutingKey == "" {
		return fmt.Errorf("%w: routing key cannot be empty", ErrInvalidBinding)
	}
	switch b.Kind {
	case KindDirect, KindTopic:
	default:
		return fmt.Errorf("%w: unknown exchange kind %q", ErrInvalidBinding, b.Kind)
	}
	return nil
}

func (b Binding) String() string {
	return fmt.Sprintf("%s(%s)/%s", b.Exchange, b.Kind, b.RoutingKey)
}

// Message is a broker message with the AMQP-style properties the presence
// protocol relies on.
type Message struct {
	// AppID identifies the sending application. Field devices put their
	// device id here.
	AppID string

	// CorrelationID ties a reply to its request.
	CorrelationID string

	// ReplyTo is the private destination the sender listens on for a reply.
	ReplyTo string

	// ContentType describes Body (e.g. "application/json").
	ContentType string

	Body []byte
}

// Delivery is an inbound message plus its acknowledgement.
//
// Ack must be called exactly once. Transports without broker-side
// acknowledgements pass a nil ack function and Ack only records the call.
type Delivery struct {
	Message

	// Binding is the subscription binding the message arrived on. It is the
	// zero value for reply-destination subscriptions.
	Binding Binding

	ack   func() error
	acked atomic.Bool
}

// NewDelivery wraps a received message. ack may be nil.
func NewDelivery(b Binding, msg Message, ack func() error) *Delivery {
	return &Delivery{Message: msg, Binding: b, ack: ack}
}

// Ack acknowledges the delivery to the broker.
// Returns ErrAlreadyAcked on every call after the first.
func (d *Delivery) Ack() error {
	if !d.acked.CompareAndSwap(false, true) {
		return ErrAlreadyAcked
	}
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Acked reports whether Ack has been called.
func (d *Delivery) Acked() bool {
	return d.acked.Load()
}

// Handler receives deliveries for a subscription.
//
// Transports call a handler sequentially per subscription, in broker order.
// Handlers must not block for long; the presence tracker only enqueues the
// delivery onto its event loop.
type Handler func(d *Delivery)

// Subscription is an active consumer on a Conn.
type Subscription interface {
	Unsubscribe() error
}

// Conn is one logical connection+channel pair to the broker.
//
// Subscribe performs the declare steps in order (exchange, private queue,
// bind, consume) on transports that have them and returns only after the
// consumer is registered with the broker.
//
// Publishes are fire-and-forget: a nil error means the message was handed to
// the transport, not that the broker confirmed it.
type Conn interface {
	// Subscribe consumes messages published to the binding on an exclusive,
	// auto-deleting queue.
	Subscribe(b Binding, h Handler) (Subscription, error)

	// SubscribeReply consumes messages sent to a reply destination created
	// with NewReplyDestination.
	SubscribeReply(dest string, h Handler) (Subscription, error)

	// Publish sends msg to the binding's exchange with its routing key.
	Publish(ctx context.Context, b Binding, msg Message) error

	// Reply sends msg directly to the reply destination named by a request.
	Reply(ctx context.Context, replyTo string, msg Message) error

	// NewReplyDestination returns a fresh private destination for replies.
	NewReplyDestination() string

	// Done is closed once the Conn is closed, locally or by the broker.
	Done() <-chan struct{}

	// Err returns the closure reason after Done is closed. It is nil when the
	// Conn was closed with Close.
	Err() error

	// Close closes the channel and the connection. It is safe to call more
	// than once.
	Close() error
}

// Dialer opens new Conns. Each call returns a brand-new connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
