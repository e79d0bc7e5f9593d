package presence

import (
	"context"
	"time"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/device"
)

// Defaults for tracker timing.
const (
	DefaultSweepInterval = 10 * time.Second
	DefaultStatusTimeout = 5 * time.Second
)

// Exchange defaults of the farm monitor broker layout.
const (
	DefaultHeartbeatExchange   = "heartbeat_messages"
	DefaultHeartbeatRoutingKey = "heartbeat"
	DefaultMessagesExchange    = "device_messages"
	DefaultStatusRoutingKey    = "_internal"
)

// Logger defines the logging interface used by presence components.
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

// DeviceStore is the slice of the device repository the tracker needs.
type DeviceStore interface {
	// GetByDeviceID returns device.ErrDeviceNotFound for unprovisioned ids.
	GetByDeviceID(ctx context.Context, deviceID string) (*device.Device, error)

	// SetConnected commits the connected flag. Returns
	// device.ErrDeviceNotFound if the row is gone.
	SetConnected(ctx context.Context, deviceID string, connected bool) error
}

// connectedResetter is implemented by stores that can clear stale connected
// flags when a tracker starts with an empty registry.
type connectedResetter interface {
	ResetConnected(ctx context.Context) (int64, error)
}

// HistoryRecorder receives presence transitions, e.g. for a time-series
// database. Implementations must not block.
type HistoryRecorder interface {
	RecordTransition(deviceID string, from, to Classification)
}

type noopHistory struct{}

func (noopHistory) RecordTransition(string, Classification, Classification) {}

// Config contains tracker settings.
type Config struct {
	// HeartbeatBinding is where devices publish heartbeats.
	HeartbeatBinding broker.Binding

	// StatusBinding is where internal callers publish status queries.
	StatusBinding broker.Binding

	// Lives is how many sweeps a device survives without a heartbeat.
	Lives int

	// SweepInterval is the time between liveness sweeps.
	SweepInterval time.Duration

	// ReconnectDelay is the fixed delay between broker reconnect attempts.
	ReconnectDelay time.Duration
}

// DefaultConfig returns the standard farm monitor layout and timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatBinding: broker.Binding{
			Exchange:   DefaultHeartbeatExchange,
			Kind:       broker.KindDirect,
			RoutingKey: DefaultHeartbeatRoutingKey,
		},
		StatusBinding: broker.Binding{
			Exchange:   DefaultMessagesExchange,
			Kind:       broker.KindTopic,
			RoutingKey: DefaultStatusRoutingKey,
		},
		Lives:          DefaultLives,
		SweepInterval:  DefaultSweepInterval,
		ReconnectDelay: broker.DefaultReconnectDelay,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatBinding == (broker.Binding{}) {
		c.HeartbeatBinding = d.HeartbeatBinding
	}
	if c.StatusBinding == (broker.Binding{}) {
		c.StatusBinding = d.StatusBinding
	}
	if c.Lives <= 0 {
		c.Lives = d.Lives
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	return c
}

type options struct {
	logger  Logger
	history HistoryRecorder
}

// Option configures a Tracker or Service.
type Option func(*options)

// WithLogger sets the logger. The default discards output.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithHistory records presence transitions to h.
func WithHistory(h HistoryRecorder) Option {
	return func(o *options) {
		if h != nil {
			o.history = h
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: noopLogger{}, history: noopHistory{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
