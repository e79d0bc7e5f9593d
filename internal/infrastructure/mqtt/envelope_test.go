package mqtt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/fm-presence/internal/broker"
)

func TestEnvelope_Roundtrip(t *testing.T) {
	msg := broker.Message{
		AppID:         "bin-7",
		CorrelationID: "42",
		ReplyTo:       "farm_monitor/reply/bin-7",
		ContentType:   "text/plain",
		Body:          []byte("connected"),
	}

	data, err := encodeEnvelope(msg)
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}
	got, err := decodeEnvelope(data)
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}

	if got.AppID != msg.AppID || got.CorrelationID != msg.CorrelationID ||
		got.ReplyTo != msg.ReplyTo || got.ContentType != msg.ContentType {
		t.Errorf("decoded properties = %+v, want %+v", got, msg)
	}
	if !bytes.Equal(got.Body, msg.Body) {
		t.Errorf("decoded body = %q, want %q", got.Body, msg.Body)
	}
}

func TestEnvelope_OmitsEmptyFields(t *testing.T) {
	data, err := encodeEnvelope(broker.Message{AppID: "bin-7"})
	if err != nil {
		t.Fatalf("encodeEnvelope() error = %v", err)
	}
	if string(data) != `{"app_id":"bin-7"}` {
		t.Errorf("encodeEnvelope() = %s", data)
	}
}

func TestEnvelope_DecodeDeviceHeartbeat(t *testing.T) {
	// Field firmware sends properties only.
	got, err := decodeEnvelope([]byte(`{"app_id":"bin-7","correlation_id":"9","reply_to":"farm_monitor/reply/bin-7"}`))
	if err != nil {
		t.Fatalf("decodeEnvelope() error = %v", err)
	}
	if got.AppID != "bin-7" || got.Body != nil {
		t.Errorf("decodeEnvelope() = %+v", got)
	}
}

func TestEnvelope_Malformed(t *testing.T) {
	for _, payload := range []string{"", "!", "[1,2]", `{"app_id":7}`} {
		if _, err := decodeEnvelope([]byte(payload)); !errors.Is(err, ErrMalformedEnvelope) {
			t.Errorf("decodeEnvelope(%q) error = %v, want ErrMalformedEnvelope", payload, err)
		}
	}
}

func TestEnvelope_TooLarge(t *testing.T) {
	_, err := encodeEnvelope(broker.Message{Body: []byte(strings.Repeat("x", maxPayloadSize))})
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("encodeEnvelope() error = %v, want ErrPublishFailed", err)
	}
}
