// Package brokertest provides an in-memory broker for tests.
//
// Deliveries are synchronous: Publish and Reply invoke matching handlers on
// the caller's goroutine after releasing internal locks. Routing follows the
// exchange kind: direct bindings match the routing key exactly, topic
// bindings support "*" and "#" wildcards.
package brokertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// inboxSize bounds replies buffered for destinations nobody subscribed to.
const inboxSize = 64

// Broker is an in-memory broker.Dialer.
type Broker struct {
	mu        sync.Mutex
	conns     map[*Conn]struct{}
	dialErr   error
	subErr    error
	dials     int
	acks      int
	nextReply int
	published []Published
	inboxes   map[string]chan broker.Message
}

// Published is a message sent with Conn.Publish or Broker.Publish.
type Published struct {
	Binding broker.Binding
	Message broker.Message
}

// New creates an empty Broker.
func New() *Broker {
	return &Broker{
		conns:   make(map[*Conn]struct{}),
		inboxes: make(map[string]chan broker.Message),
	}
}

// Dial opens a new Conn, or returns the error set with SetDialError.
func (b *Broker) Dial(ctx context.Context) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	c := &Conn{
		b:       b,
		replies: make(map[string]*subscription),
		done:    make(chan struct{}),
	}
	b.conns[c] = struct{}{}
	return c, nil
}

// SetDialError makes every following Dial fail with err. Nil restores
// normal dialling.
func (b *Broker) SetDialError(err error) {
	b.mu.Lock()
	b.dialErr = err
	b.mu.Unlock()
}

// SetSubscribeError makes every following Subscribe fail with err.
func (b *Broker) SetSubscribeError(err error) {
	b.mu.Lock()
	b.subErr = err
	b.mu.Unlock()
}

// Dials returns the number of Dial calls so far.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Acks returns the number of acknowledged deliveries.
func (b *Broker) Acks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks
}

// OpenConns returns the number of Conns that have not closed.
func (b *Broker) OpenConns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Published returns a copy of every message published so far.
func (b *Broker) Published() []Published {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Published, len(b.published))
	copy(out, b.published)
	return out
}

// Drop closes every open Conn as if the broker went away.
func (b *Broker) Drop() {
	b.mu.Lock()
	conns := make([]*Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(broker.ErrConnectionLost)
	}
}

// Publish injects a message from outside any Conn, the way a field device
// would. Returns the number of subscriptions it was delivered to.
func (b *Broker) Publish(binding broker.Binding, msg broker.Message) int {
	return b.route(binding, msg)
}

// NextReply waits for a reply sent to dest that no subscription consumed.
func (b *Broker) NextReply(ctx context.Context, dest string) (broker.Message, error) {
	ch := b.inbox(dest)
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return broker.Message{}, fmt.Errorf("waiting for reply on %s: %w", dest, ctx.Err())
	}
}

func (b *Broker) inbox(dest string) chan broker.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.inboxes[dest]
	if !ok {
		ch = make(chan broker.Message, inboxSize)
		b.inboxes[dest] = ch
	}
	return ch
}

func (b *Broker) ackFunc() func() error {
	return func() error {
		b.mu.Lock()
		b.acks++
		b.mu.Unlock()
		return nil
	}
}

type target struct {
	binding broker.Binding
	handler broker.Handler
}

func (b *Broker) route(binding broker.Binding, msg broker.Message) int {
	b.mu.Lock()
	b.published = append(b.published, Published{Binding: binding, Message: msg})
	var targets []target
	for c := range b.conns {
		c.mu.Lock()
		for _, s := range c.subs {
			if s.binding.Exchange == binding.Exchange && matches(s.binding, binding.RoutingKey) {
				targets = append(targets, target{binding: s.binding, handler: s.handler})
			}
		}
		c.mu.Unlock()
	}
	b.mu.Unlock()

	for _, t := range targets {
		t.handler(broker.NewDelivery(t.binding, msg, b.ackFunc()))
	}
	return len(targets)
}

func (b *Broker) reply(dest string, msg broker.Message) {
	b.mu.Lock()
	var handler broker.Handler
	for c := range b.conns {
		c.mu.Lock()
		if s, ok := c.replies[dest]; ok {
			handler = s.handler
		}
		c.mu.Unlock()
		if handler != nil {
			break
		}
	}
	b.mu.Unlock()

	if handler != nil {
		handler(broker.NewDelivery(broker.Binding{}, msg, b.ackFunc()))
		return
	}

	select {
	case b.inbox(dest) <- msg:
	default:
	}
}

// matches reports whether a message routing key satisfies a subscription.
func matches(sub broker.Binding, key string) bool {
	if sub.Kind != broker.KindTopic {
		return sub.RoutingKey == key
	}
	return matchTopic(strings.Split(sub.RoutingKey, "."), strings.Split(key, "."))
}

func matchTopic(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if matchTopic(pattern[1:], words[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(words) > 0 && matchTopic(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && matchTopic(pattern[1:], words[1:])
	}
}

// Conn is an in-memory broker.Conn.
type Conn struct {
	b *Broker

	mu      sync.Mutex
	subs    []*subscription
	replies map[string]*subscription
	closed  bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

type subscription struct {
	c       *Conn
	binding broker.Binding
	dest    string
	handler broker.Handler
}

func (s *subscription) Unsubscribe() error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if s.dest != "" {
		delete(s.c.replies, s.dest)
		return nil
	}
	for i, other := range s.c.subs {
		if other == s {
			s.c.subs = append(s.c.subs[:i], s.c.subs[i+1:]...)
			break
		}
	}
	return nil
}

// Subscribe registers h for messages matching binding.
func (c *Conn) Subscribe(binding broker.Binding, h broker.Handler) (broker.Subscription, error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}

	c.b.mu.Lock()
	subErr := c.b.subErr
	c.b.mu.Unlock()
	if subErr != nil {
		return nil, subErr
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broker.ErrNotConnected
	}
	s := &subscription{c: c, binding: binding, handler: h}
	c.subs = append(c.subs, s)
	return s, nil
}

// SubscribeReply registers h for replies sent to dest.
func (c *Conn) SubscribeReply(dest string, h broker.Handler) (broker.Subscription, error) {
	if dest == "" {
		return nil, broker.ErrInvalidDestination
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broker.ErrNotConnected
	}
	s := &subscription{c: c, dest: dest, handler: h}
	c.replies[dest] = s
	return s, nil
}

// Publish routes msg to every matching subscription on the broker.
func (c *Conn) Publish(_ context.Context, binding broker.Binding, msg broker.Message) error {
	if err := binding.Validate(); err != nil {
		return err
	}
	if c.isClosed() {
		return broker.ErrNotConnected
	}
	c.b.route(binding, msg)
	return nil
}

// Reply delivers msg to the reply destination.
func (c *Conn) Reply(_ context.Context, replyTo string, msg broker.Message) error {
	if replyTo == "" {
		return broker.ErrInvalidDestination
	}
	if c.isClosed() {
		return broker.ErrNotConnected
	}
	c.b.reply(replyTo, msg)
	return nil
}

// NewReplyDestination returns a unique reply destination.
func (c *Conn) NewReplyDestination() string {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.nextReply++
	return fmt.Sprintf("reply.%d", c.b.nextReply)
}

// Done is closed when the Conn closes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the closure reason.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the Conn with no error.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = reason
		c.subs = nil
		c.replies = make(map[string]*subscription)
		c.mu.Unlock()

		c.b.mu.Lock()
		delete(c.b.conns, c)
		c.b.mu.Unlock()

		close(c.done)
	})
}
