// Package mqtt is the MQTT transport for the presence tracker.
//
// It adapts paho.mqtt.golang to the broker.Dialer and broker.Conn
// interfaces so field sites with only an MQTT broker can run the tracker.
//
// # Mapping
//
// MQTT 3.1.1 has no exchanges, message properties or reply queues, so:
//
//   - A binding becomes the topic {vhost}/{exchange}/{key}, with dots in the
//     routing key as levels and "*"/"#" mapped to "+"/"#" (see Topics).
//   - Message properties travel in a JSON envelope
//     {"app_id","correlation_id","reply_to","content_type","body"}.
//   - Reply destinations are private topics {vhost}/reply/{uuid}.
//   - Acks are manual: a delivery's Ack sends the PUBACK for QoS 1.
//   - Publish and Reply return once paho has queued the message; a missing
//     or failed broker acknowledgement is logged, not returned.
//
// A heartbeat and its reply:
//
//	Field device ──publish──▶ farm_monitor/heartbeat_messages/heartbeat
//	                                        │
//	                                   [ tracker ]
//	                                        │
//	Field device ◀──reply──── farm_monitor/reply/bin-7
//
// # Reconnection
//
// Paho's auto-reconnect is disabled. A lost session closes the Conn with
// broker.ErrConnectionLost and broker.Connection dials a fresh one after
// its fixed delay. A retained status message on
// {vhost}/system/status/{client_id} (with a Last Will for crashes) shows
// whether the tracker is online.
//
// # Security Considerations
//
//   - Use TLS (broker.tls=true) on anything but a local broker
//   - Credentials are validated against broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	dialer, err := mqtt.NewDialer(cfg.Broker, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tracker := presence.NewTracker(dialer, repo, presenceCfg)
package mqtt
