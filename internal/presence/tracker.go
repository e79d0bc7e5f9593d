package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/fm-presence/internal/broker"
)

const (
	trackerIdle int32 = iota
	trackerRunning
	trackerStopped
)

// Tracker is one run of the presence tracker: a registry, its event loop,
// the two listeners and the broker connection feeding them.
//
// A Tracker is single-use. Run may be called once; after Stop or after Run
// returns, use a new Tracker (or Service, which does this for you).
type Tracker struct {
	cfg    Config
	store  DeviceStore
	logger Logger

	registry  *Registry
	loop      *eventLoop
	heartbeat *HeartbeatListener
	status    *StatusResponder
	conn      *broker.Connection

	state atomic.Int32
}

// NewTracker wires a tracker that dials with dialer and persists presence
// through store.
func NewTracker(dialer broker.Dialer, store DeviceStore, cfg Config, opts ...Option) *Tracker {
	cfg = cfg.withDefaults()
	o := buildOptions(opts)

	t := &Tracker{
		cfg:      cfg,
		store:    store,
		logger:   o.logger,
		registry: NewRegistry(cfg.Lives),
		loop:     newEventLoop(),
	}
	t.heartbeat = newHeartbeatListener(cfg, t.registry, store, t.loop, o)
	t.status = newStatusResponder(cfg, t.registry, t.loop, o)

	t.conn = broker.NewConnection(dialer, broker.Config{
		Name:           "presence",
		ReconnectDelay: cfg.ReconnectDelay,
	}, broker.Hooks{
		OnOpen:     t.onOpen,
		OnClosed:   t.onClosed,
		OnStopping: t.onStopping,
	})
	t.conn.SetLogger(o.logger)

	return t
}

// Run connects to the broker and tracks presence until Stop is called, ctx
// is cancelled or the device store fails.
//
// Returns:
//   - error: broker.ErrConnectFailed if the first connection fails,
//     ErrPersistence on a store failure, ErrTrackerStopped on reuse,
//     nil after an orderly stop
func (t *Tracker) Run(ctx context.Context) error {
	if !t.state.CompareAndSwap(trackerIdle, trackerRunning) {
		return ErrTrackerStopped
	}
	defer t.state.Store(trackerStopped)

	if r, ok := t.store.(connectedResetter); ok {
		n, err := r.ResetConnected(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if n > 0 {
			t.logger.Info("cleared stale connected flags", "count", n)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- t.loop.Run(runCtx)
	}()

	connErr := make(chan error, 1)
	go func() {
		connErr <- t.conn.Run(runCtx)
	}()

	t.logger.Info("presence tracker started",
		"heartbeat", t.cfg.HeartbeatBinding.String(),
		"status", t.cfg.StatusBinding.String(),
		"lives", t.cfg.Lives,
		"sweep_interval", t.cfg.SweepInterval,
	)

	var err error
	select {
	case err = <-connErr:
		t.loop.Close()
		<-loopErr
	case err = <-loopErr:
		t.conn.Stop()
		<-connErr
	}

	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		t.logger.Error("presence tracker stopped with error", "error", err)
		return err
	}
	t.logger.Info("presence tracker stopped")
	return nil
}

// Stop requests an orderly shutdown: listeners stop consuming, the broker
// connection closes and Run returns. A stopped Tracker cannot be run again.
func (t *Tracker) Stop() {
	t.state.Store(trackerStopped)
	t.conn.Stop()
}

// BrokerState returns the broker connection state.
func (t *Tracker) BrokerState() broker.State {
	return t.conn.State()
}

// Classify returns a device's presence as seen by the event loop.
func (t *Tracker) Classify(ctx context.Context, deviceID string) (Classification, error) {
	var c Classification
	err := t.loop.Do(ctx, func(context.Context) error {
		c = t.registry.Classify(deviceID)
		return nil
	})
	return c, err
}

// Snapshot returns the tracked records as seen by the event loop.
func (t *Tracker) Snapshot(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := t.loop.Do(ctx, func(context.Context) error {
		recs = t.registry.Snapshot()
		return nil
	})
	return recs, err
}

// Sweep runs a liveness sweep now. See HeartbeatListener.Sweep.
func (t *Tracker) Sweep(ctx context.Context) ([]Record, error) {
	return t.heartbeat.Sweep(ctx)
}

func (t *Tracker) onOpen(ctx context.Context, conn broker.Conn) error {
	if err := t.heartbeat.Bind(ctx, conn); err != nil {
		return err
	}
	if err := t.status.Bind(ctx, conn); err != nil {
		return err
	}
	return nil
}

func (t *Tracker) onClosed(reason error) {
	connectionLossesTotal.Inc()
	t.heartbeat.Unbind()
	t.logger.Warn("presence paused until broker returns", "reason", reason)
}

func (t *Tracker) onStopping() {
	t.heartbeat.Stop()
	t.status.Stop()
}

// Service runs trackers. Every Run starts from a fresh Tracker so nothing
// carries over from a previous run.
type Service struct {
	dialer broker.Dialer
	store  DeviceStore
	cfg    Config
	opts   []Option

	mu      sync.Mutex
	current *Tracker
}

// NewService creates a Service; see NewTracker for the parameters.
func NewService(dialer broker.Dialer, store DeviceStore, cfg Config, opts ...Option) *Service {
	return &Service{
		dialer: dialer,
		store:  store,
		cfg:    cfg,
		opts:   opts,
	}
}

// Run builds a new Tracker and blocks in its Run.
func (s *Service) Run(ctx context.Context) error {
	t := NewTracker(s.dialer, s.store, s.cfg, s.opts...)

	s.mu.Lock()
	s.current = t
	s.mu.Unlock()

	return t.Run(ctx)
}

// Stop stops the current Tracker, if any.
func (s *Service) Stop() {
	s.mu.Lock()
	t := s.current
	s.mu.Unlock()

	if t != nil {
		t.Stop()
	}
}

// Current returns the Tracker of the latest Run, or nil.
func (s *Service) Current() *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
