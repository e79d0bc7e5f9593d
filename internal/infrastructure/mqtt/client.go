package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Dialer opens MQTT connections for broker.Connection.
//
// Each Dial creates a new paho client. Subscriptions are never restored by
// the client itself; the presence tracker rebinds on every new Conn.
type Dialer struct {
	cfg    config.BrokerConfig
	topics Topics
	qos    byte
	logger Logger
}

// NewDialer returns a Dialer for the broker section of the config.
//
// Returns:
//   - *Dialer: Ready to Dial
//   - error: ErrInvalidQoS if mqtt.qos is out of range
func NewDialer(cfg config.BrokerConfig, logger Logger) (*Dialer, error) {
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dialer{
		cfg:    cfg,
		topics: Topics{VirtualHost: cfg.VirtualHost},
		qos:    byte(cfg.MQTT.QoS),
		logger: logger,
	}, nil
}

// Topics returns the topic mapping used by this Dialer's connections.
func (d *Dialer) Topics() Topics {
	return d.topics
}

// Dial connects to the broker and publishes the tracker's online status.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures Last Will and Testament (LWT) for offline detection
//  3. Connects, bounded by ctx and the configured connect timeout
//  4. Publishes retained online status to {vhost}/system/status/{client_id}
//
// Returns:
//   - broker.Conn: Connected Conn
//   - error: wraps broker.ErrConnectFailed if the broker is unreachable
func (d *Dialer) Dial(ctx context.Context) (broker.Conn, error) {
	opts := buildClientOptions(d.cfg)
	configureLWT(opts, d.topics, d.cfg.ClientID)

	c := &Conn{
		topics:   d.topics,
		qos:      d.qos,
		clientID: d.cfg.ClientID,
		logger:   d.logger,
		done:     make(chan struct{}),
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.shutdown(fmt.Errorf("%w: %w", broker.ErrConnectionLost, err))
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", broker.ErrConnectFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", broker.ErrConnectFailed, err)
	}

	c.client.Publish(c.topics.Status(c.clientID), 1, true, buildStatusPayload("online", c.clientID, ""))

	return c, nil
}

// Conn is one MQTT client session. It implements broker.Conn.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Conn struct {
	client   pahomqtt.Client
	topics   Topics
	qos      byte
	clientID string
	logger   Logger

	// ackTimeout bounds the background wait for a publish acknowledgement.
	// Zero means defaultPublishTimeout.
	ackTimeout time.Duration

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

var _ broker.Conn = (*Conn)(nil)

// NewReplyDestination returns a fresh reply topic under {vhost}/reply/.
func (c *Conn) NewReplyDestination() string {
	return c.topics.Reply(uuid.NewString())
}

// Done is closed when the session ends.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session ended, or nil after Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close publishes a graceful offline status and disconnects.
//
// It performs:
//  1. Publishes graceful offline status (different from LWT crash status)
//  2. Waits briefly for pending publish operations
//  3. Disconnects from broker
func (c *Conn) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	if c.client.IsConnectionOpen() {
		token := c.client.Publish(c.topics.Status(c.clientID), 1, true,
			buildStatusPayload("offline", c.clientID, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.shutdown(nil)
	return nil
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

// HealthCheck verifies the MQTT session is alive.
func (c *Conn) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if c.closed() || !c.client.IsConnectionOpen() {
		return broker.ErrNotConnected
	}
	return nil
}

// handleMessage converts a paho message into a broker delivery.
// Payloads that are not envelopes are acked and dropped.
func (c *Conn) handleMessage(b broker.Binding, h broker.Handler, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("MQTT handler panic recovered",
				"topic", msg.Topic(),
				"panic", r,
			)
		}
	}()

	m, err := decodeEnvelope(msg.Payload())
	if err != nil {
		c.logger.Warn("dropping MQTT message",
			"topic", msg.Topic(),
			"error", err,
		)
		msg.Ack()
		return
	}

	h(broker.NewDelivery(b, m, func() error {
		msg.Ack()
		return nil
	}))
}
