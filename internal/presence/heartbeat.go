package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fm-presence/internal/broker"
	"github.com/nerrad567/fm-presence/internal/device"
)

// replyContentType is the content type of presence replies.
const replyContentType = "text/plain"

// HeartbeatListener handles device heartbeats and runs the liveness sweep.
//
// Deliveries and sweeps run on the tracker's event loop. Bind, Unbind and
// Stop may be called from any goroutine.
type HeartbeatListener struct {
	binding  broker.Binding
	registry *Registry
	store    DeviceStore
	loop     *eventLoop
	logger   Logger
	history  HistoryRecorder
	interval time.Duration

	stopping atomic.Bool

	mu  sync.Mutex
	sub broker.Subscription

	// Owned by the event loop.
	paused     bool
	sweepTimer *time.Timer
	sweepGen   uint64
}

func newHeartbeatListener(cfg Config, registry *Registry, store DeviceStore, loop *eventLoop, o options) *HeartbeatListener {
	return &HeartbeatListener{
		binding:  cfg.HeartbeatBinding,
		registry: registry,
		store:    store,
		loop:     loop,
		logger:   o.logger,
		history:  o.history,
		interval: cfg.SweepInterval,
		paused:   true,
	}
}

// Bind starts consuming heartbeats on conn and resumes sweeping.
// Returns ErrTrackerStopped once Stop has been called.
func (l *HeartbeatListener) Bind(ctx context.Context, conn broker.Conn) error {
	if l.stopping.Load() {
		return ErrTrackerStopped
	}

	sub, err := conn.Subscribe(l.binding, func(d *broker.Delivery) {
		err := l.loop.Submit(func(ctx context.Context) error {
			return l.handle(ctx, conn, d)
		})
		if err != nil {
			l.logger.Debug("heartbeat not handled, tracker stopping", "app_id", d.AppID)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to heartbeats on %s: %w", l.binding, err)
	}

	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()

	l.logger.Debug("heartbeat listener bound", "binding", l.binding.String())
	return l.loop.Do(ctx, func(context.Context) error {
		l.resumeSweeps()
		return nil
	})
}

// Unbind forgets the current subscription after its connection was lost
// and pauses sweeping until the next Bind.
func (l *HeartbeatListener) Unbind() {
	l.mu.Lock()
	l.sub = nil
	l.mu.Unlock()

	_ = l.loop.Submit(func(context.Context) error { //nolint:errcheck // a closed loop has no timer left to pause
		l.pauseSweeps()
		return nil
	})
}

// Stop stops consuming and permanently disables sweeping. Safe to call more
// than once.
func (l *HeartbeatListener) Stop() {
	if !l.stopping.CompareAndSwap(false, true) {
		return
	}

	l.mu.Lock()
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			l.logger.Warn("error cancelling heartbeat consumer", "error", err)
		}
	}

	_ = l.loop.Submit(func(context.Context) error { //nolint:errcheck // a closed loop has no timer left to pause
		l.pauseSweeps()
		return nil
	})
}

// Sweep runs one liveness sweep immediately and returns the evicted records.
//
// A store failure is fatal for the tracker run and is also returned here.
// Calling Sweep after Stop is a defect: it panics in debug builds and
// returns ErrTrackerStopped otherwise.
func (l *HeartbeatListener) Sweep(ctx context.Context) ([]Record, error) {
	if l.stopping.Load() {
		return nil, l.invariant("sweep requested after stop")
	}

	var evicted []Record
	err := l.loop.Do(ctx, func(ctx context.Context) error {
		// Stop may have landed while the sweep was queued.
		if l.stopping.Load() {
			return ErrTrackerStopped
		}
		var err error
		evicted, err = l.sweep(ctx)
		if err != nil {
			l.loop.Fail(err)
		}
		return err
	})
	return evicted, err
}

// handle processes one heartbeat on the event loop. Only store failures are
// returned; they end the loop and leave the delivery unacknowledged.
func (l *HeartbeatListener) handle(ctx context.Context, conn broker.Conn, d *broker.Delivery) error {
	if d.AppID == "" {
		l.logger.Warn("dropping heartbeat",
			"error", ErrMissingIdentity,
			"correlation_id", d.CorrelationID,
		)
		heartbeatsTotal.WithLabelValues(resultDropped).Inc()
		l.ack(d)
		return nil
	}

	class, err := l.classifyHeartbeat(ctx, d.AppID)
	if err != nil {
		l.logger.Error("heartbeat failed", "device_id", d.AppID, "error", err)
		return err
	}
	heartbeatsTotal.WithLabelValues(string(class)).Inc()

	l.ack(d)
	l.reply(ctx, conn, d, class)
	return nil
}

// classifyHeartbeat updates the registry for a heartbeat from id.
//
// Connected devices are refreshed without touching the store. Anything else
// is looked up, so a device provisioned while it was new is promoted on its
// next heartbeat.
func (l *HeartbeatListener) classifyHeartbeat(ctx context.Context, id string) (Classification, error) {
	prev := l.registry.Classify(id)
	if prev == ClassConnected {
		l.registry.TouchConnected(id)
		return ClassConnected, nil
	}

	_, err := l.store.GetByDeviceID(ctx, id)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return l.markNew(id, prev), nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: looking up %s: %w", ErrPersistence, id, err)
	}

	// Flag first so the registry never claims a device the store disagrees with.
	if err := l.store.SetConnected(ctx, id, true); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			l.logger.Warn("device removed while connecting", "device_id", id)
			return l.markNew(id, prev), nil
		}
		return "", fmt.Errorf("%w: marking %s connected: %w", ErrPersistence, id, err)
	}

	wasNew := l.registry.Promote(id)
	l.logger.Info("device connected", "device_id", id, "was_new", wasNew)
	l.history.RecordTransition(id, prev, ClassConnected)
	recordTrackedDevices(l.registry)
	return ClassConnected, nil
}

func (l *HeartbeatListener) markNew(id string, prev Classification) Classification {
	if l.registry.TouchNew(id) {
		l.logger.Info("heartbeat from unprovisioned device", "device_id", id)
		l.history.RecordTransition(id, prev, ClassNew)
		recordTrackedDevices(l.registry)
	}
	return ClassNew
}

func (l *HeartbeatListener) ack(d *broker.Delivery) {
	if err := d.Ack(); err != nil {
		l.logger.Warn("error acknowledging heartbeat", "app_id", d.AppID, "error", err)
	}
}

func (l *HeartbeatListener) reply(ctx context.Context, conn broker.Conn, d *broker.Delivery, class Classification) {
	if d.ReplyTo == "" {
		l.logger.Warn("heartbeat not answered", "device_id", d.AppID, "error", ErrMissingReplyTo)
		return
	}
	err := conn.Reply(ctx, d.ReplyTo, broker.Message{
		CorrelationID: d.CorrelationID,
		ContentType:   replyContentType,
		Body:          []byte(class),
	})
	if err != nil {
		l.logger.Warn("error replying to heartbeat", "device_id", d.AppID, "error", err)
	}
}

// sweep ages every record by one life and settles the evicted ones.
func (l *HeartbeatListener) sweep(ctx context.Context) ([]Record, error) {
	evicted := l.registry.Sweep()
	sweepsTotal.Inc()
	defer recordTrackedDevices(l.registry)

	for _, rec := range evicted {
		evictionsTotal.WithLabelValues(rec.Status.String()).Inc()

		if rec.Status != StatusConnected {
			l.logger.Debug("unprovisioned device aged out", "device_id", rec.DeviceID)
			l.history.RecordTransition(rec.DeviceID, ClassNew, ClassDisconnected)
			continue
		}

		if err := l.store.SetConnected(ctx, rec.DeviceID, false); err != nil {
			if !errors.Is(err, device.ErrDeviceNotFound) {
				return evicted, fmt.Errorf("%w: clearing connected flag for %s: %w", ErrPersistence, rec.DeviceID, err)
			}
			l.logger.Warn("evicted device no longer provisioned", "device_id", rec.DeviceID)
		}
		l.logger.Info("device disconnected", "device_id", rec.DeviceID)
		l.history.RecordTransition(rec.DeviceID, ClassConnected, ClassDisconnected)
	}

	if len(evicted) > 0 {
		l.logger.Debug("sweep complete", "evicted", len(evicted), "tracked", l.registry.Len())
	}
	return evicted, nil
}

// resumeSweeps runs on the loop.
func (l *HeartbeatListener) resumeSweeps() {
	if l.stopping.Load() {
		return
	}
	l.paused = false
	if l.sweepTimer == nil {
		l.scheduleSweep()
	}
}

// pauseSweeps runs on the loop. A timer that already fired is ignored via
// the generation counter.
func (l *HeartbeatListener) pauseSweeps() {
	l.paused = true
	l.sweepGen++
	if l.sweepTimer != nil {
		l.sweepTimer.Stop()
		l.sweepTimer = nil
	}
}

func (l *HeartbeatListener) scheduleSweep() {
	gen := l.sweepGen
	l.sweepTimer = l.loop.CallLater(l.interval, func(ctx context.Context) error {
		return l.onSweepTimer(ctx, gen)
	})
}

// onSweepTimer runs a scheduled sweep and schedules the next one.
func (l *HeartbeatListener) onSweepTimer(ctx context.Context, gen uint64) error {
	if gen != l.sweepGen || l.paused {
		return nil
	}
	l.sweepTimer = nil
	if l.stopping.Load() {
		return nil
	}

	if _, err := l.sweep(ctx); err != nil {
		l.logger.Error("sweep failed", "error", err)
		return err
	}

	if !l.stopping.Load() && !l.paused {
		l.scheduleSweep()
	}
	return nil
}

func (l *HeartbeatListener) invariant(detail string) error {
	if panicOnInvariant {
		panic("presence: invariant violated: " + detail)
	}
	l.logger.Error("invariant violated", "detail", detail)
	return fmt.Errorf("%w: %s", ErrTrackerStopped, detail)
}
