package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
	"github.com/nerrad567/fm-presence/internal/infrastructure/logging"
	"github.com/nerrad567/fm-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/fm-presence/internal/infrastructure/nats"
	"github.com/nerrad567/fm-presence/internal/presence"
)

// writeConfig writes a config file for a tracker on the given NATS port and
// points FMPRESENCE_CONFIG at it.
func writeConfig(t *testing.T, natsPort int, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := fmt.Sprintf(`
site:
  id: test-farm

database:
  path: %q

broker:
  transport: nats
  host: 127.0.0.1
  port: %d
  reconnect_delay: 100ms
  connect_timeout: 2s

presence:
  sweep_interval: 1h

metrics:
  enabled: false

logging:
  level: error
  format: text
  output: stderr
%s`, filepath.Join(dir, "fm.db"), natsPort, extra)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv(config.EnvConfigPath, path)
	return path
}

func startNATS(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoSigs: true})
	if err != nil {
		t.Fatalf("server.NewServer() error = %v", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatal("embedded NATS server not ready")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

func natsPort(srv *server.Server) int {
	return srv.Addr().(*net.TCPAddr).Port
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(config.EnvConfigPath, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_InvalidTransport verifies validation runs before anything is opened.
func TestRun_InvalidTransport(t *testing.T) {
	path := writeConfig(t, 4222, "")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data = []byte(strings.Replace(string(data), "transport: nats", "transport: amqp", 1))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	err = run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "broker.transport") {
		t.Errorf("run() error = %v, want broker.transport validation error", err)
	}
}

// TestRun_BrokerUnreachable verifies the startup health check fails fast.
func TestRun_BrokerUnreachable(t *testing.T) {
	srv := startNATS(t)
	port := natsPort(srv)
	srv.Shutdown()
	srv.WaitForShutdown()

	writeConfig(t, port, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "health check failed") {
		t.Errorf("run() error = %v, want health check failure", err)
	}
}

// TestRun_TracksHeartbeats runs the whole service against an embedded NATS
// server and heartbeats as an unprovisioned device.
func TestRun_TracksHeartbeats(t *testing.T) {
	srv := startNATS(t)
	writeConfig(t, natsPort(srv), "")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	cfg := config.Default().Broker
	cfg.Host = "127.0.0.1"
	cfg.Port = natsPort(srv)
	conn, err := nats.NewDialer(cfg, nil).Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup

	hb := presence.DefaultConfig().HeartbeatBinding
	deadline := time.Now().Add(10 * time.Second)
	var reply string
	for reply == "" {
		if time.Now().After(deadline) {
			t.Fatal("tracker never answered a heartbeat")
		}
		reply = heartbeat(t, conn, hb, "bin-42", 200*time.Millisecond)
	}
	if reply != "new" {
		t.Errorf("heartbeat reply = %q, want new", reply)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}

// heartbeat sends one heartbeat and returns the reply, or "" on timeout.
func heartbeat(t *testing.T, conn broker.Conn, b broker.Binding, deviceID string, wait time.Duration) string {
	t.Helper()
	dest := conn.NewReplyDestination()
	replies := make(chan string, 1)
	sub, err := conn.SubscribeReply(dest, func(d *broker.Delivery) {
		select {
		case replies <- string(d.Body):
		default:
		}
	})
	if err != nil {
		t.Fatalf("SubscribeReply() error = %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck // Test cleanup

	if err := conn.Publish(context.Background(), b, broker.Message{AppID: deviceID, ReplyTo: dest}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case r := <-replies:
		return r
	case <-time.After(wait):
		return ""
	}
}

func TestNewDialer(t *testing.T) {
	log := logging.Default()
	cfg := config.Default()

	d, err := newDialer(cfg.Broker, log)
	if err != nil {
		t.Fatalf("newDialer(nats) error = %v", err)
	}
	if _, ok := d.(*nats.Dialer); !ok {
		t.Errorf("newDialer(nats) = %T, want *nats.Dialer", d)
	}

	cfg.Broker.Transport = config.TransportMQTT
	d, err = newDialer(cfg.Broker, log)
	if err != nil {
		t.Fatalf("newDialer(mqtt) error = %v", err)
	}
	if _, ok := d.(*mqtt.Dialer); !ok {
		t.Errorf("newDialer(mqtt) = %T, want *mqtt.Dialer", d)
	}

	cfg.Broker.Transport = "amqp"
	if _, err := newDialer(cfg.Broker, log); err == nil {
		t.Error("newDialer(amqp) should fail")
	}
}

func TestPresenceConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Presence.HeartbeatLives = 5
	cfg.Presence.SweepInterval = 20 * time.Second

	got := presenceConfig(cfg)
	want := presence.DefaultConfig()
	want.Lives = 5
	want.SweepInterval = 20 * time.Second

	if got != want {
		t.Errorf("presenceConfig() = %+v, want %+v", got, want)
	}
}

func TestTrackerCheck_NotStarted(t *testing.T) {
	svc := presence.NewService(broker.DialerFunc(func(context.Context) (broker.Conn, error) {
		return nil, broker.ErrConnectFailed
	}), nil, presence.DefaultConfig())

	if err := trackerCheck(svc)(context.Background()); err == nil {
		t.Error("trackerCheck() should fail before the tracker runs")
	}
}
