package mqtt

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// envelope carries the message properties MQTT 3.1.1 has no header for.
//
// Field devices publish heartbeats as:
//
//	{"app_id":"bin-7","correlation_id":"42","reply_to":"farm_monitor/reply/bin-7"}
//
// Body is base64 encoded on the wire.
type envelope struct {
	AppID         string `json:"app_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`
	ContentType   string `json:"content_type,omitempty"`
	Body          []byte `json:"body,omitempty"`
}

func encodeEnvelope(msg broker.Message) ([]byte, error) {
	data, err := json.Marshal(envelope{
		AppID:         msg.AppID,
		CorrelationID: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		ContentType:   msg.ContentType,
		Body:          msg.Body,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	if len(data) > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(data), maxPayloadSize)
	}
	return data, nil
}

func decodeEnvelope(payload []byte) (broker.Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return broker.Message{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	return broker.Message{
		AppID:         env.AppID,
		CorrelationID: env.CorrelationID,
		ReplyTo:       env.ReplyTo,
		ContentType:   env.ContentType,
		Body:          env.Body,
	}, nil
}
