// Package nats is the NATS transport for the presence tracker.
//
// It adapts nats.go to the broker.Dialer and broker.Conn interfaces. NATS is
// the default transport: a single nats-server binary on the farm gateway is
// enough to run the tracker and its devices.
//
// # Mapping
//
//   - A binding becomes the subject {vhost}.{exchange}.{key}; on topic
//     exchanges "*" is kept and a trailing "#" becomes ">" (see Subjects).
//   - Message properties travel as headers (App-Id, Correlation-Id,
//     Content-Type). ReplyTo is the native NATS reply subject.
//   - Reply destinations are inboxes from nats.Conn.NewInbox.
//   - Core NATS has no acknowledgements; Delivery.Ack only records the call.
//
// # Reconnection
//
// The client's reconnect buffer is disabled so a lost server closes the Conn
// with broker.ErrConnectionLost. broker.Connection then dials a fresh Conn
// after its fixed delay and the tracker re-binds its subscriptions.
//
// # Usage
//
//	dialer := nats.NewDialer(cfg.Broker, logger)
//	tracker := presence.NewTracker(dialer, repo, presenceCfg)
package nats
