package main

import (
	"bytes"
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
	"github.com/nerrad567/fm-presence/internal/device"
	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
	"github.com/nerrad567/fm-presence/internal/infrastructure/database"
	"github.com/nerrad567/fm-presence/internal/infrastructure/nats"
	"github.com/nerrad567/fm-presence/internal/presence"
)

func writeConfig(t *testing.T, natsPort int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "fm.db")

	content := fmt.Sprintf(`
site:
  id: test-farm
database:
  path: %q
broker:
  transport: nats
  host: 127.0.0.1
  port: %d
  connect_timeout: 2s
presence:
  status_timeout: 300ms
metrics:
  enabled: false
`, dbPath, natsPort)

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv(config.EnvConfigPath, path)
	return dbPath
}

func startNATS(t *testing.T) int {
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
	return srv.Addr().(*net.TCPAddr).Port
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{name: "query", args: []string{"bin-7"}, want: options{deviceID: "bin-7"}},
		{name: "query with timeout", args: []string{"-timeout", "2s", "bin-7"}, want: options{deviceID: "bin-7", timeout: 2 * time.Second}},
		{name: "provision defaults name", args: []string{"-provision", "bin-7"}, want: options{deviceID: "bin-7", provision: true, name: "bin-7"}},
		{name: "provision with name", args: []string{"-provision", "-name", "Bin 7", "-location", "North yard", "bin-7"},
			want: options{deviceID: "bin-7", provision: true, name: "Bin 7", location: "North yard"}},
		{name: "list", args: []string{"-list"}, want: options{list: true}},
		{name: "missing device", args: nil, wantErr: true},
		{name: "two devices", args: []string{"bin-7", "bin-8"}, wantErr: true},
		{name: "list with device", args: []string{"-list", "bin-7"}, wantErr: true},
		{name: "unknown flag", args: []string{"-verbose", "bin-7"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.args, &bytes.Buffer{})
			if tt.wantErr {
				if err != errUsage {
					t.Errorf("parseArgs() error = %v, want errUsage", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseArgs() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseArgs() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRun_ProvisionAndList(t *testing.T) {
	writeConfig(t, 4222)
	ctx := context.Background()

	var out bytes.Buffer
	if err := run(ctx, []string{"-provision", "-name", "Bin 7", "bin-7"}, &out, &out); err != nil {
		t.Fatalf("run(-provision) error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "provisioned bin-7") {
		t.Errorf("provision output = %q", out.String())
	}

	if err := run(ctx, []string{"-provision", "bin-7"}, &out, &out); err == nil {
		t.Error("provisioning a duplicate should fail")
	}

	out.Reset()
	if err := run(ctx, []string{"-list"}, &out, &out); err != nil {
		t.Fatalf("run(-list) error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("list output = %q, want header and one device", out.String())
	}
	if !strings.HasPrefix(lines[1], "bin-7") || !strings.Contains(lines[1], "Bin 7") || !strings.HasSuffix(lines[1], "false") {
		t.Errorf("list row = %q", lines[1])
	}
}

func TestRun_StatusWithoutTracker(t *testing.T) {
	writeConfig(t, startNATS(t))

	var out bytes.Buffer
	if err := run(context.Background(), []string{"-timeout", "300ms", "bin-7"}, &out, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "disconnected" {
		t.Errorf("status = %q, want disconnected", got)
	}
}

func TestRun_StatusFromTracker(t *testing.T) {
	port := startNATS(t)
	dbPath := writeConfig(t, port)
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := device.NewSQLiteRepository(db.DB)
	if err := repo.Create(ctx, &device.Device{DeviceID: "bin-7", Name: "Bin 7"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cfg := config.Default().Broker
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	dialer := nats.NewDialer(cfg, nil)

	pcfg := presence.DefaultConfig()
	pcfg.SweepInterval = time.Hour
	tracker := presence.NewTracker(dialer, repo, pcfg)
	errCh := make(chan error, 1)
	go func() { errCh <- tracker.Run(ctx) }()
	defer func() {
		tracker.Stop()
		<-errCh
	}()

	deadline := time.Now().Add(5 * time.Second)
	for tracker.BrokerState() != broker.StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("tracker never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Heartbeat as bin-7 so the tracker knows it.
	conn, err := dialer.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup
	dest := conn.NewReplyDestination()
	replies := make(chan string, 1)
	if _, err := conn.SubscribeReply(dest, func(d *broker.Delivery) { replies <- string(d.Body) }); err != nil {
		t.Fatalf("SubscribeReply() error = %v", err)
	}
	if err := conn.Publish(ctx, pcfg.HeartbeatBinding, broker.Message{AppID: "bin-7", ReplyTo: dest}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case r := <-replies:
		if r != "connected" {
			t.Fatalf("heartbeat reply = %q, want connected", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no heartbeat reply")
	}

	var out bytes.Buffer
	if err := run(ctx, []string{"-timeout", "2s", "bin-7"}, &out, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "connected" {
		t.Errorf("status = %q, want connected", got)
	}
}
