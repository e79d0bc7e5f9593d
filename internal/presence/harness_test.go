package presence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/broker/brokertest"
	"github.com/nerrad567/fm-presence/internal/device"
)

const replyWait = 2 * time.Second

// fakeStore is an in-memory DeviceStore that records every flag write.
type fakeStore struct {
	mu       sync.Mutex
	devices  map[string]*device.Device
	writes   map[string][]bool
	lookups  int
	getErr   error
	setErr   error
	resetErr error
	resets   int
}

func newFakeStore(provisioned ...string) *fakeStore {
	s := &fakeStore{
		devices: make(map[string]*device.Device),
		writes:  make(map[string][]bool),
	}
	for _, id := range provisioned {
		s.provision(id)
	}
	return s
}

func (s *fakeStore) GetByDeviceID(_ context.Context, id string) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.getErr != nil {
		return nil, s.getErr
	}
	d, ok := s.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.Clone(), nil
}

func (s *fakeStore) SetConnected(_ context.Context, id string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	d, ok := s.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	s.writes[id] = append(s.writes[id], connected)
	d.Connected = connected
	return nil
}

func (s *fakeStore) ResetConnected(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	if s.resetErr != nil {
		return 0, s.resetErr
	}
	var n int64
	for _, d := range s.devices {
		if d.Connected {
			d.Connected = false
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) provision(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[id] = &device.Device{DeviceID: id, Name: id}
}

func (s *fakeStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
}

func (s *fakeStore) connected(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return ok && d.Connected
}

func (s *fakeStore) writesFor(id string) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.writes[id]...)
}

func (s *fakeStore) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func (s *fakeStore) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

func (s *fakeStore) setFailures(get, set error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = get
	s.setErr = set
}

type transition struct {
	deviceID string
	from, to Classification
}

type fakeHistory struct {
	mu          sync.Mutex
	transitions []transition
}

func (h *fakeHistory) RecordTransition(id string, from, to Classification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitions = append(h.transitions, transition{id, from, to})
}

func (h *fakeHistory) list() []transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transition(nil), h.transitions...)
}

// harness runs a Tracker against an in-memory broker.
type harness struct {
	t       *testing.T
	b       *brokertest.Broker
	store   *fakeStore
	history *fakeHistory
	cfg     Config
	tracker *Tracker

	errCh    chan error
	waitOnce sync.Once
	err      error
	seq      atomic.Int64
}

// testConfig disables automatic sweeps so tests drive them explicitly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour
	cfg.ReconnectDelay = 10 * time.Millisecond
	return cfg
}

func startTracker(t *testing.T, store *fakeStore, cfg Config) *harness {
	t.Helper()

	h := &harness{
		t:       t,
		b:       brokertest.New(),
		store:   store,
		history: &fakeHistory{},
		cfg:     cfg,
		errCh:   make(chan error, 1),
	}
	h.tracker = NewTracker(h.b, store, cfg, WithHistory(h.history))

	go func() { h.errCh <- h.tracker.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		return h.tracker.BrokerState() == broker.StateConnected
	}, replyWait, time.Millisecond, "tracker never connected")

	t.Cleanup(func() {
		h.tracker.Stop()
		h.wait()
	})
	return h
}

// wait returns the result of Run.
func (h *harness) wait() error {
	h.waitOnce.Do(func() {
		select {
		case h.err = <-h.errCh:
		case <-time.After(3 * time.Second):
			h.t.Fatal("tracker did not stop")
		}
	})
	return h.err
}

// heartbeat sends a heartbeat as id and returns the reply body.
func (h *harness) heartbeat(id string) string {
	h.t.Helper()
	corr := fmt.Sprintf("hb-%d", h.seq.Add(1))
	replyTo := id + ".reply"

	n := h.b.Publish(h.cfg.HeartbeatBinding, broker.Message{
		AppID:         id,
		CorrelationID: corr,
		ReplyTo:       replyTo,
	})
	require.Equal(h.t, 1, n, "heartbeat not routed")

	ctx, cancel := context.WithTimeout(context.Background(), replyWait)
	defer cancel()
	msg, err := h.b.NextReply(ctx, replyTo)
	require.NoError(h.t, err)
	require.Equal(h.t, corr, msg.CorrelationID)
	return string(msg.Body)
}

// query sends a raw status query body and returns the reply body.
func (h *harness) query(body []byte) string {
	h.t.Helper()
	corr := fmt.Sprintf("q-%d", h.seq.Add(1))
	replyTo := "caller." + corr

	n := h.b.Publish(h.cfg.StatusBinding, broker.Message{
		CorrelationID: corr,
		ReplyTo:       replyTo,
		ContentType:   "application/json",
		Body:          body,
	})
	require.Equal(h.t, 1, n, "status query not routed")

	ctx, cancel := context.WithTimeout(context.Background(), replyWait)
	defer cancel()
	msg, err := h.b.NextReply(ctx, replyTo)
	require.NoError(h.t, err)
	require.Equal(h.t, corr, msg.CorrelationID)
	return string(msg.Body)
}

// status asks for a device's classification over the broker.
func (h *harness) status(id string) string {
	h.t.Helper()
	body, err := json.Marshal(map[string]string{"command": CommandDeviceStatus, "id": id})
	require.NoError(h.t, err)
	return h.query(body)
}

func (h *harness) sweep() []Record {
	h.t.Helper()
	evicted, err := h.tracker.Sweep(context.Background())
	require.NoError(h.t, err)
	return evicted
}

func (h *harness) snapshot() []Record {
	h.t.Helper()
	recs, err := h.tracker.Snapshot(context.Background())
	require.NoError(h.t, err)
	return recs
}

func (h *harness) lives(id string) int {
	h.t.Helper()
	for _, rec := range h.snapshot() {
		if rec.DeviceID == id {
			return rec.Lives
		}
	}
	h.t.Fatalf("%s not tracked", id)
	return 0
}
