package beacon

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
)

// Payload is the datagram devices listen for.
var Payload = []byte("!")

const (
	defaultPort         = 5554
	defaultFastInterval = 5 * time.Second
	defaultFastCount    = 1440
	defaultSlowInterval = 60 * time.Second
	writeTimeout        = time.Second
)

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Beacon broadcasts Payload so field devices can find the broker host.
//
// It sends FastCount pings FastInterval apart, then one every SlowInterval
// until stopped. Send failures are logged and the schedule carries on.
type Beacon struct {
	target    string
	fast      time.Duration
	fastCount int
	slow      time.Duration
	logger    Logger

	sent atomic.Int64
}

// New creates a Beacon for the beacon section of the config.
// Returns ErrDisabled if the beacon is disabled.
func New(cfg config.BeaconConfig, logger Logger) (*Beacon, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = noopLogger{}
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	fast := cfg.FastInterval
	if fast <= 0 {
		fast = defaultFastInterval
	}
	fastCount := cfg.FastCount
	if fastCount <= 0 {
		fastCount = defaultFastCount
	}
	slow := cfg.SlowInterval
	if slow <= 0 {
		slow = defaultSlowInterval
	}

	return &Beacon{
		target:    net.JoinHostPort(cfg.Address, strconv.Itoa(port)),
		fast:      fast,
		fastCount: fastCount,
		slow:      slow,
		logger:    logger,
	}, nil
}

// Target returns the address pings are sent to.
func (b *Beacon) Target() string {
	return b.target
}

// Sent returns how many pings have been sent since the Beacon was created.
func (b *Beacon) Sent() int64 {
	return b.sent.Load()
}

// Run broadcasts until ctx is cancelled. The first ping goes out at once.
//
// Returns:
//   - error: ErrSocket if the socket cannot be opened, otherwise ctx.Err()
func (b *Beacon) Run(ctx context.Context) error {
	dst, err := net.ResolveUDPAddr("udp4", b.target)
	if err != nil {
		return fmt.Errorf("%w: resolving %s: %w", ErrSocket, b.target, err)
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSocket, err)
	}
	defer pc.Close() //nolint:errcheck // Nothing to report on shutdown

	b.logger.Info("presence beacon active", "target", b.target)

	timer := time.NewTimer(0)
	defer timer.Stop()

	var pings int
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("presence beacon stopped", "pings", pings)
			return ctx.Err()
		case <-timer.C:
		}

		b.ping(pc, dst)
		pings++
		timer.Reset(b.interval(pings))
	}
}

// interval returns the wait after the given number of pings.
func (b *Beacon) interval(pings int) time.Duration {
	if pings < b.fastCount {
		return b.fast
	}
	return b.slow
}

func (b *Beacon) ping(pc net.PacketConn, dst net.Addr) {
	if err := pc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		b.logger.Warn("beacon write deadline", "error", err)
	}
	if _, err := pc.WriteTo(Payload, dst); err != nil {
		b.logger.Warn("beacon send failed", "target", b.target, "error", err)
		return
	}
	b.sent.Add(1)
	b.logger.Debug("beacon sent", "target", b.target)
}
