package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
)

// testConfig returns a broker configuration for the MQTT transport.
// Only the integration tests expect a broker to be listening.
func testConfig() config.BrokerConfig {
	cfg := config.Default().Broker
	cfg.Transport = config.TransportMQTT
	cfg.Host = "127.0.0.1"
	cfg.Port = 1883
	cfg.ClientID = "fm-presence-test"
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte

	mu    sync.Mutex
	acked int
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }

func (m *fakeMessage) Ack() {
	m.mu.Lock()
	m.acked++
	m.mu.Unlock()
}

func (m *fakeMessage) ackCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

// recordingLogger implements Logger for testing.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

// fakeToken implements pahomqtt.Token. It completes when done is closed.
type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeClient records publishes and hands back the configured token.
// Methods other than Publish are not implemented.
type fakeClient struct {
	pahomqtt.Client
	token *fakeToken

	mu     sync.Mutex
	topics []string
}

func (c *fakeClient) Publish(topic string, _ byte, _ bool, _ interface{}) pahomqtt.Token {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
	return c.token
}

func (c *fakeClient) published() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

func (l *recordingLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func newTestConn(logger Logger) *Conn {
	return &Conn{
		topics: Topics{VirtualHost: "farm_monitor"},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// =============================================================================
// Dialer Tests
// =============================================================================

func TestNewDialer_InvalidQoS(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.QoS = 3

	_, err := NewDialer(cfg, nil)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("NewDialer() error = %v, want ErrInvalidQoS", err)
	}
}

func TestDial_BrokerRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Port = 1 // Nothing listens here

	d, err := NewDialer(cfg, nil)
	if err != nil {
		t.Fatalf("NewDialer() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = d.Dial(ctx)
	if !errors.Is(err, broker.ErrConnectFailed) {
		t.Errorf("Dial() error = %v, want ErrConnectFailed", err)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.User = "tracker"
	cfg.Password = "hunter2"
	cfg.MQTT.KeepAlive = 0

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [tcp://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "fm-presence-test" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "fm-presence-test")
	}
	if opts.Username != "tracker" {
		t.Errorf("Username = %q, want %q", opts.Username, "tracker")
	}
	if opts.AutoReconnect {
		t.Error("AutoReconnect = true, want false")
	}
	if !opts.AutoAckDisabled {
		t.Error("AutoAckDisabled = false, want true")
	}
	if !opts.CleanSession {
		t.Error("CleanSession = false, want true")
	}
	if opts.KeepAlive != int64(defaultKeepAlive/time.Second) {
		t.Errorf("KeepAlive = %d, want default %v", opts.KeepAlive, defaultKeepAlive)
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := testConfig()
	cfg.TLS = true
	cfg.Port = 8883

	opts := buildClientOptions(cfg)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not set with minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{VirtualHost: "farm_monitor"}, "fm-presence-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Error("will should be enabled and retained")
	}
	if opts.WillTopic != "farm_monitor/system/status/fm-presence-test" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
}

// =============================================================================
// Delivery Tests
// =============================================================================

func TestHandleMessage_Delivery(t *testing.T) {
	c := newTestConn(&recordingLogger{})
	b := broker.Binding{Exchange: "heartbeat_messages", Kind: broker.KindDirect, RoutingKey: "heartbeat"}
	msg := &fakeMessage{
		topic:   "farm_monitor/heartbeat_messages/heartbeat",
		payload: []byte(`{"app_id":"bin-7","correlation_id":"42","reply_to":"farm_monitor/reply/bin-7"}`),
	}

	var got *broker.Delivery
	c.handleMessage(b, func(d *broker.Delivery) { got = d }, msg)

	if got == nil {
		t.Fatal("handler not called")
	}
	if got.AppID != "bin-7" || got.CorrelationID != "42" || got.ReplyTo != "farm_monitor/reply/bin-7" {
		t.Errorf("delivery = %+v", got.Message)
	}
	if got.Binding != b {
		t.Errorf("Binding = %v, want %v", got.Binding, b)
	}
	if msg.ackCount() != 0 {
		t.Error("message acked before the handler acked the delivery")
	}

	if err := got.Ack(); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if err := got.Ack(); !errors.Is(err, broker.ErrAlreadyAcked) {
		t.Errorf("second Ack() error = %v, want ErrAlreadyAcked", err)
	}
	if msg.ackCount() != 1 {
		t.Errorf("broker acks = %d, want 1", msg.ackCount())
	}
}

func TestHandleMessage_MalformedIsAckedAndDropped(t *testing.T) {
	logger := &recordingLogger{}
	c := newTestConn(logger)
	msg := &fakeMessage{topic: "farm_monitor/heartbeat_messages/heartbeat", payload: []byte("!")}

	called := false
	c.handleMessage(broker.Binding{}, func(*broker.Delivery) { called = true }, msg)

	if called {
		t.Error("handler called for malformed payload")
	}
	if msg.ackCount() != 1 {
		t.Errorf("broker acks = %d, want 1", msg.ackCount())
	}
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want one", logger.warns)
	}
}

func TestHandleMessage_PanicRecovered(t *testing.T) {
	logger := &recordingLogger{}
	c := newTestConn(logger)
	msg := &fakeMessage{topic: "t", payload: []byte(`{}`)}

	c.handleMessage(broker.Binding{}, func(*broker.Delivery) { panic("boom") }, msg)

	if len(logger.errors) != 1 {
		t.Errorf("errors = %v, want one panic log", logger.errors)
	}
}

// =============================================================================
// Closed Conn Tests
// =============================================================================

func TestConn_ClosedRejectsOperations(t *testing.T) {
	c := newTestConn(noopLogger{})
	c.shutdown(broker.ErrConnectionLost)
	c.shutdown(nil) // first reason wins

	if !errors.Is(c.Err(), broker.ErrConnectionLost) {
		t.Errorf("Err() = %v, want ErrConnectionLost", c.Err())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed")
	}

	b := broker.Binding{Exchange: "device_messages", Kind: broker.KindTopic, RoutingKey: "_internal"}
	if _, err := c.Subscribe(b, func(*broker.Delivery) {}); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.Publish(context.Background(), b, broker.Message{}); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Reply(context.Background(), "farm_monitor/reply/x", broker.Message{}); !errors.Is(err, broker.ErrNotConnected) {
		t.Errorf("Reply() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() after shutdown error = %v", err)
	}
}

func TestConn_RejectsBadDestinations(t *testing.T) {
	c := newTestConn(noopLogger{})

	if _, err := c.SubscribeReply("farm_monitor/reply/#", func(*broker.Delivery) {}); !errors.Is(err, broker.ErrInvalidDestination) {
		t.Errorf("SubscribeReply() error = %v, want ErrInvalidDestination", err)
	}
	if err := c.Reply(context.Background(), "", broker.Message{}); !errors.Is(err, broker.ErrInvalidDestination) {
		t.Errorf("Reply() error = %v, want ErrInvalidDestination", err)
	}

	wild := broker.Binding{Exchange: "device_messages", Kind: broker.KindTopic, RoutingKey: "sensors.*"}
	if err := c.Publish(context.Background(), wild, broker.Message{}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() to wildcard error = %v, want ErrInvalidTopic", err)
	}
}

func TestConn_ReplyDoesNotWaitForBroker(t *testing.T) {
	logger := &recordingLogger{}
	client := &fakeClient{token: &fakeToken{done: make(chan struct{})}}
	c := newTestConn(logger)
	c.client = client
	c.qos = 1
	c.ackTimeout = 50 * time.Millisecond

	start := time.Now()
	err := c.Reply(context.Background(), "farm_monitor/reply/abc", broker.Message{CorrelationID: "1", Body: []byte("connected")})
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 40*time.Millisecond {
		t.Errorf("Reply() took %v waiting for an acknowledgement", elapsed)
	}
	if got := client.published(); len(got) != 1 || got[0] != "farm_monitor/reply/abc" {
		t.Errorf("published = %v", got)
	}

	// The missing acknowledgement is logged once the wait expires.
	deadline := time.Now().Add(2 * time.Second)
	for logger.warnCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("unacknowledged publish was not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConn_PublishFailureIsLogged(t *testing.T) {
	logger := &recordingLogger{}
	token := &fakeToken{done: make(chan struct{}), err: errors.New("not authorized")}
	close(token.done)
	c := newTestConn(logger)
	c.client = &fakeClient{token: token}

	b := broker.Binding{Exchange: "device_messages", Kind: broker.KindTopic, RoutingKey: "_internal"}
	if err := c.Publish(context.Background(), b, broker.Message{}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for logger.warnCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("failed publish was not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConn_PublishCancelledContext(t *testing.T) {
	c := newTestConn(noopLogger{})
	c.client = &fakeClient{token: &fakeToken{done: make(chan struct{})}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Reply(ctx, "farm_monitor/reply/abc", broker.Message{}); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Reply() error = %v, want ErrPublishFailed", err)
	}
}

func TestConn_NewReplyDestination(t *testing.T) {
	c := newTestConn(noopLogger{})

	a, b := c.NewReplyDestination(), c.NewReplyDestination()
	if a == b {
		t.Error("reply destinations should be unique")
	}
	if !validReplyTopic(a) {
		t.Errorf("reply destination %q is not publishable", a)
	}
}
