// Package broker owns the tracker's single logical connection to the message
// broker and hides which wire transport (NATS or MQTT) carries it.
//
// The package manages:
//   - The Conn abstraction: one connection+channel pair with subscribe,
//     publish, reply-to and closure notification
//   - Bindings: an exchange name, its routing kind and a routing key
//   - The Connection state machine with fixed-delay reconnects
//
// # Architecture
//
//	           Dial            OnOpen(conn)
//	Connection ─────▶ Conn ─────────────────▶ listeners subscribe
//	    ▲              │
//	    │   Done()     │ unexpected loss
//	    └──── wait ReconnectDelay, redial (unbounded, no jitter)
//
// A Conn is never reused after it closes. Every successful dial produces a
// fresh Conn and the OnOpen hook rebinds dependents to it, so a failed
// subscription is handled the same way as a dropped TCP connection.
//
// # State machine
//
//	Disconnected → Connecting → Connected → Closing → Disconnected
//	Connected → Disconnected → Connecting   (unexpected loss)
//
// # Usage
//
//	conn := broker.NewConnection(dialer, broker.Config{ReconnectDelay: 5 * time.Second}, broker.Hooks{
//	    OnOpen: func(ctx context.Context, c broker.Conn) error {
//	        return listener.Bind(ctx, c)
//	    },
//	})
//	go conn.Run(ctx)
//	defer conn.Stop()
package broker
