package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
)

// Header names carrying broker.Message properties.
const (
	HeaderAppID         = "App-Id"
	HeaderCorrelationID = "Correlation-Id"
	HeaderContentType   = "Content-Type"
)

// The server answers a request nobody is subscribed to with an empty
// message carrying this status header.
const (
	headerStatus       = "Status"
	statusNoResponders = "503"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// flushTimeout bounds the round trip that confirms a subscription.
	flushTimeout = 5 * time.Second
)

// Logger interface for optional logging support.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dialer opens NATS connections for broker.Connection.
//
// The client's own reconnect logic is disabled: when the server goes away
// the Conn closes with broker.ErrConnectionLost and broker.Connection dials
// a fresh one.
type Dialer struct {
	url            string
	opts           []natsgo.Option
	subjects       Subjects
	connectTimeout time.Duration
	logger         Logger
}

// NewDialer returns a Dialer for the broker section of the config.
func NewDialer(cfg config.BrokerConfig, logger Logger) *Dialer {
	if logger == nil {
		logger = noopLogger{}
	}

	scheme := "nats"
	if cfg.TLS {
		scheme = "tls"
	}

	opts := []natsgo.Option{
		natsgo.Name(cfg.ClientID),
		natsgo.NoReconnect(),
	}
	if cfg.User != "" {
		opts = append(opts, natsgo.UserInfo(cfg.User, cfg.Password))
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	return &Dialer{
		url:            fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		opts:           opts,
		subjects:       Subjects{VirtualHost: cfg.VirtualHost},
		connectTimeout: timeout,
		logger:         logger,
	}
}

// URL returns the server URL the Dialer connects to.
func (d *Dialer) URL() string {
	return d.url
}

// Dial connects to the NATS server.
//
// Returns:
//   - broker.Conn: Connected Conn
//   - error: wraps broker.ErrConnectFailed if the server is unreachable
func (d *Dialer) Dial(ctx context.Context) (broker.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", broker.ErrConnectFailed, err)
	}

	timeout := d.connectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	c := &Conn{
		subjects: d.subjects,
		logger:   d.logger,
		done:     make(chan struct{}),
	}

	opts := append([]natsgo.Option{}, d.opts...)
	opts = append(opts,
		natsgo.Timeout(timeout),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			c.setLost(err)
		}),
		natsgo.ClosedHandler(func(_ *natsgo.Conn) {
			c.shutdown(c.lostReason())
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, sub *natsgo.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			d.logger.Warn("NATS async error", "subject", subject, "error", err)
		}),
	)

	nc, err := natsgo.Connect(d.url, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", broker.ErrConnectFailed, err)
	}
	c.nc = nc
	return c, nil
}

// Conn is one NATS connection. It implements broker.Conn.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Conn struct {
	nc       *natsgo.Conn
	subjects Subjects
	logger   Logger

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	lost      error
	err       error
}

var _ broker.Conn = (*Conn)(nil)

func (c *Conn) setLost(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost == nil && err != nil {
		c.lost = err
	}
}

func (c *Conn) lostReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost != nil {
		return fmt.Errorf("%w: %w", broker.ErrConnectionLost, c.lost)
	}
	return broker.ErrConnectionLost
}

func (c *Conn) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = reason
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when the connection ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil after Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.shutdown(nil)
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

// HealthCheck verifies the connection is alive with a server round trip.
func (c *Conn) HealthCheck(ctx context.Context) error {
	if c.closed() || !c.nc.IsConnected() {
		return broker.ErrNotConnected
	}
	var err error
	if _, ok := ctx.Deadline(); ok {
		err = c.nc.FlushWithContext(ctx)
	} else {
		err = c.nc.FlushTimeout(flushTimeout)
	}
	if err != nil {
		return fmt.Errorf("nats health check: %w", err)
	}
	return nil
}

// NewReplyDestination returns a fresh inbox subject.
func (c *Conn) NewReplyDestination() string {
	return c.nc.NewInbox()
}

// Subscribe consumes messages published to the binding's subject.
// It returns once the server has processed the subscription.
func (c *Conn) Subscribe(b broker.Binding, h broker.Handler) (broker.Subscription, error) {
	subject, err := c.subjects.Binding(b)
	if err != nil {
		return nil, err
	}
	return c.subscribe(subject, b, h)
}

// SubscribeReply consumes messages sent to an inbox from NewReplyDestination.
func (c *Conn) SubscribeReply(dest string, h broker.Handler) (broker.Subscription, error) {
	if !validReplySubject(dest) {
		return nil, fmt.Errorf("%w: %q", broker.ErrInvalidDestination, dest)
	}
	return c.subscribe(dest, broker.Binding{}, h)
}

func (c *Conn) subscribe(subject string, b broker.Binding, h broker.Handler) (broker.Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if c.closed() {
		return nil, broker.ErrNotConnected
	}

	sub, err := c.nc.Subscribe(subject, func(msg *natsgo.Msg) {
		c.handleMessage(b, h, msg)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if err := c.nc.FlushTimeout(flushTimeout); err != nil {
		sub.Unsubscribe() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return &subscription{conn: c, sub: sub}, nil
}

// subscription wraps a NATS subscription.
type subscription struct {
	conn *Conn
	sub  *natsgo.Subscription
}

// Unsubscribe stops delivery. It is a no-op once the Conn has closed.
func (s *subscription) Unsubscribe() error {
	if s.conn.closed() {
		return nil
	}
	if err := s.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats: unsubscribe: %w", err)
	}
	return nil
}

// handleMessage converts a NATS message into a broker delivery.
// Core NATS has no acknowledgements, so Ack only records the call.
// No-responders notices are dropped: the caller sees no reply at all, as it
// would on a broker that does not report them.
func (c *Conn) handleMessage(b broker.Binding, h broker.Handler, msg *natsgo.Msg) {
	if isNoResponders(msg) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("NATS handler panic recovered",
				"subject", msg.Subject,
				"panic", r,
			)
		}
	}()
	h(broker.NewDelivery(b, fromMsg(msg), nil))
}

// Publish sends msg to the binding's subject.
func (c *Conn) Publish(ctx context.Context, b broker.Binding, msg broker.Message) error {
	subject, err := c.subjects.Binding(b)
	if err != nil {
		return err
	}
	if hasWildcard(subject) {
		return fmt.Errorf("%w: cannot publish to wildcard subject %q", ErrInvalidSubject, subject)
	}
	return c.publish(ctx, subject, msg)
}

// Reply sends msg to the reply subject named by a request.
func (c *Conn) Reply(ctx context.Context, replyTo string, msg broker.Message) error {
	if !validReplySubject(replyTo) {
		return fmt.Errorf("%w: %q", broker.ErrInvalidDestination, replyTo)
	}
	return c.publish(ctx, replyTo, msg)
}

func (c *Conn) publish(ctx context.Context, subject string, msg broker.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	if c.closed() {
		return broker.ErrNotConnected
	}
	if err := c.nc.PublishMsg(toMsg(subject, msg)); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func isNoResponders(m *natsgo.Msg) bool {
	return len(m.Data) == 0 && m.Header != nil && m.Header.Get(headerStatus) == statusNoResponders
}

func toMsg(subject string, msg broker.Message) *natsgo.Msg {
	m := natsgo.NewMsg(subject)
	m.Reply = msg.ReplyTo
	m.Data = msg.Body
	if msg.AppID != "" {
		m.Header.Set(HeaderAppID, msg.AppID)
	}
	if msg.CorrelationID != "" {
		m.Header.Set(HeaderCorrelationID, msg.CorrelationID)
	}
	if msg.ContentType != "" {
		m.Header.Set(HeaderContentType, msg.ContentType)
	}
	return m
}

func fromMsg(m *natsgo.Msg) broker.Message {
	msg := broker.Message{
		ReplyTo: m.Reply,
		Body:    m.Data,
	}
	if m.Header != nil {
		msg.AppID = m.Header.Get(HeaderAppID)
		msg.CorrelationID = m.Header.Get(HeaderCorrelationID)
		msg.ContentType = m.Header.Get(HeaderContentType)
	}
	return msg
}
