package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultReconnectDelay is the fixed wait between a lost connection and the
// next dial attempt.
const DefaultReconnectDelay = 5 * time.Second

// State is the lifecycle state of a Connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Logger defines the logging interface used by the Connection.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config contains Connection settings.
type Config struct {
	// Name identifies the connection in log output.
	Name string

	// ReconnectDelay is the fixed delay before every reconnect attempt.
	// Zero means DefaultReconnectDelay.
	ReconnectDelay time.Duration
}

// Hooks are callbacks into the Connection's dependents.
// All hooks are optional and are called from the goroutine running Run.
type Hooks struct {
	// OnOpen is called with every freshly dialled Conn. Dependents bind their
	// subscriptions here. An error closes the Conn and counts as a failed
	// connection attempt.
	OnOpen func(ctx context.Context, conn Conn) error

	// OnClosed is called after an unexpected closure, before the reconnect
	// delay starts.
	OnClosed func(reason error)

	// OnStopping is called once when Stop is requested, before the Conn is
	// closed, so dependents can stop consuming.
	OnStopping func()
}

// Connection maintains exactly one Conn to the broker and recreates it after
// any unexpected closure.
//
// Startup is strict: if the first dial fails, Run returns the error. Once
// connected, losses are retried forever at a fixed interval.
//
// Thread Safety:
//   - State, Stop and Current are safe for concurrent use.
//   - Run must be called at most once.
type Connection struct {
	dialer Dialer
	cfg    Config
	hooks  Hooks
	logger Logger

	state atomic.Int32

	mu   sync.Mutex
	conn Conn

	closing  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	reconnects atomic.Int64
}

// NewConnection creates a Connection that dials with dialer.
func NewConnection(dialer Dialer, cfg Config, hooks Hooks) *Connection {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Name == "" {
		cfg.Name = "broker"
	}
	return &Connection{
		dialer: dialer,
		cfg:    cfg,
		hooks:  hooks,
		logger: noopLogger{},
		stopCh: make(chan struct{}),
	}
}

// SetLogger sets the logger for connection events.
func (c *Connection) SetLogger(logger Logger) {
	c.logger = logger
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Reconnects returns how many times the connection was re-established after
// an unexpected loss.
func (c *Connection) Reconnects() int64 {
	return c.reconnects.Load()
}

// Current returns the open Conn, or nil while disconnected.
func (c *Connection) Current() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// Run connects and then supervises the Conn until Stop is called or ctx is
// cancelled.
//
// Returns:
//   - error: wrapped ErrConnectFailed if the first connection attempt fails,
//     ErrStopped if Stop was called before Run, nil after an orderly stop
func (c *Connection) Run(ctx context.Context) error {
	if c.closing.Load() {
		return ErrStopped
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := c.connect(runCtx); err != nil {
		if c.closing.Load() {
			c.setState(StateDisconnected)
			return nil
		}
		return err
	}
	c.logger.Info("broker connection open", "name", c.cfg.Name)

	for {
		conn := c.Current()
		if conn == nil {
			c.setState(StateDisconnected)
			return nil
		}

		select {
		case <-conn.Done():
		case <-runCtx.Done():
			c.Stop()
			c.finish(conn)
			return nil
		}

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.closing.Load() {
			c.setState(StateDisconnected)
			c.logger.Info("broker connection closed", "name", c.cfg.Name)
			return nil
		}

		c.setState(StateDisconnected)
		reason := conn.Err()
		c.logger.Warn("broker connection closed unexpectedly, reconnecting",
			"name", c.cfg.Name,
			"error", reason,
			"delay", c.cfg.ReconnectDelay,
		)
		if c.hooks.OnClosed != nil {
			c.hooks.OnClosed(reason)
		}

		if err := c.reconnect(runCtx); err != nil {
			c.setState(StateDisconnected)
			return nil
		}
		c.reconnects.Add(1)
		c.logger.Info("broker connection re-established", "name", c.cfg.Name)
	}
}

// Stop requests an orderly shutdown: dependents stop consuming, the Conn is
// closed and Run returns. Safe to call more than once and before Run.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		c.closing.Store(true)
		c.setState(StateClosing)
		if c.hooks.OnStopping != nil {
			c.hooks.OnStopping()
		}
		if conn := c.Current(); conn != nil {
			if err := conn.Close(); err != nil {
				c.logger.Warn("error closing broker connection", "name", c.cfg.Name, "error", err)
			}
		}
		close(c.stopCh)
	})
}

// finish waits for a locally closed Conn to report closure.
func (c *Connection) finish(conn Conn) {
	<-conn.Done()
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)
	c.logger.Info("broker connection closed", "name", c.cfg.Name)
}

// connect dials once and runs the OnOpen hook against the new Conn.
func (c *Connection) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if c.hooks.OnOpen != nil {
		if err := c.hooks.OnOpen(ctx, conn); err != nil {
			_ = conn.Close() //nolint:errcheck // Conn is discarded either way
			c.setState(StateDisconnected)
			return fmt.Errorf("opening channel: %w", err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Stop may have run between Dial and storing the Conn.
	if c.closing.Load() {
		_ = conn.Close() //nolint:errcheck // shutting down
		return nil
	}

	c.setState(StateConnected)
	return nil
}

// reconnect waits the fixed delay and then dials until it succeeds or the
// connection is stopped.
func (c *Connection) reconnect(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}

	operation := func() (struct{}, error) {
		if c.closing.Load() {
			return struct{}{}, backoff.Permanent(ErrStopped)
		}
		return struct{}{}, c.connect(ctx)
	}

	notify := func(err error, next time.Duration) {
		c.logger.Warn("broker reconnect attempt failed",
			"name", c.cfg.Name,
			"error", err,
			"retry_in", next,
		)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.ReconnectDelay)),
		backoff.WithNotify(notify),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return err
	}
	if c.closing.Load() {
		return ErrStopped
	}
	return nil
}

// IsStopped reports whether Stop has been called.
func (c *Connection) IsStopped() bool {
	return c.closing.Load()
}
