// Package presence tracks which farm monitor devices are alive.
//
// Field devices publish a heartbeat every few seconds. The tracker answers
// each heartbeat with the device's classification and keeps an in-memory
// registry of devices it heard from recently:
//
//   - new: heartbeating but not provisioned in the device store
//   - connected: provisioned and heartbeating; the store's connected flag is set
//   - disconnected: not in the registry
//
// Every SweepInterval each record loses one life. Heartbeats restore full
// lives. A record reaching zero lives is evicted in the same sweep, and the
// store flag of an evicted connected device is cleared.
//
// # Architecture
//
//	                heartbeat binding             status binding
//	field device ───────────────────┐     ┌──────────────────── internal caller
//	                                ▼     ▼
//	                ┌───────────────────────────────────┐
//	                │            event loop              │
//	                │  HeartbeatListener  StatusResponder│
//	                │           │    sweep timer  │      │
//	                │           ▼         ▼       ▼      │
//	                │             Registry               │
//	                └───────────────────────────────────┘
//	                                │
//	                                ▼
//	                    DeviceStore (connected flag)
//
// All registry access happens on one goroutine. Transports only enqueue
// deliveries onto the loop, so the Registry has no locks.
//
// # Lifecycle
//
// Tracker is one run: it owns a broker.Connection whose OnOpen hook binds
// both listeners to every fresh Conn. While the broker is away sweeps are
// paused, so the registry comes back unchanged after a reconnect. A store
// failure ends the run with ErrPersistence; the process supervisor is
// expected to restart the process.
//
// Service wraps Tracker so that each Run starts from a fresh registry.
//
// # Usage
//
//	svc := presence.NewService(dialer, repo, presence.DefaultConfig(),
//	    presence.WithLogger(log),
//	    presence.WithHistory(influxClient),
//	)
//	go func() {
//	    <-ctx.Done()
//	    svc.Stop()
//	}()
//	if err := svc.Run(ctx); err != nil {
//	    return err
//	}
//
// # Build tags
//
// Building with -tags debug turns invariant violations (such as sweeping a
// stopped tracker) into panics.
package presence
