package mqtt

import (
	"fmt"
	"strings"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// Topic path segments below the virtual host.
const (
	// replySegment holds private reply destinations: {vhost}/reply/{id}
	replySegment = "reply"

	// systemSegment holds tracker liveness: {vhost}/system/status/{client_id}
	systemSegment = "system"
)

// Topics maps broker bindings onto MQTT topics.
//
// MQTT has no exchanges, so a binding becomes a topic path:
//
//	{virtual_host}/{exchange}/{routing key, dots as slashes}
//
// For topic exchanges the AMQP wildcards translate to MQTT ones: "*" becomes
// "+" and a trailing "#" stays "#".
//
//	topics := mqtt.Topics{VirtualHost: "farm_monitor"}
//	topic, _ := topics.Binding(heartbeatBinding)
//	// Returns: "farm_monitor/heartbeat_messages/heartbeat"
type Topics struct {
	VirtualHost string
}

// prefix returns the virtual host path, or "" for the default vhost.
func (t Topics) prefix() string {
	vhost := strings.Trim(t.VirtualHost, "/")
	if vhost == "" {
		return ""
	}
	return vhost + "/"
}

// Binding returns the topic a binding publishes to and subscribes on.
func (t Topics) Binding(b broker.Binding) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	if strings.ContainsAny(b.Exchange, "/+#") {
		return "", fmt.Errorf("%w: exchange %q contains MQTT separators", ErrInvalidTopic, b.Exchange)
	}

	words := strings.Split(b.RoutingKey, ".")
	levels := make([]string, len(words))
	for i, w := range words {
		switch {
		case w == "":
			return "", fmt.Errorf("%w: empty word in routing key %q", ErrInvalidTopic, b.RoutingKey)
		case b.Kind == broker.KindTopic && w == "*":
			levels[i] = "+"
		case b.Kind == broker.KindTopic && w == "#":
			if i != len(words)-1 {
				return "", fmt.Errorf("%w: %q must be the last word in %q", ErrInvalidTopic, "#", b.RoutingKey)
			}
			levels[i] = "#"
		case strings.ContainsAny(w, "/+#*"):
			return "", fmt.Errorf("%w: routing key %q contains MQTT separators", ErrInvalidTopic, b.RoutingKey)
		default:
			levels[i] = w
		}
	}

	return t.prefix() + b.Exchange + "/" + strings.Join(levels, "/"), nil
}

// Reply returns the private reply topic for id.
//
// Example: farm_monitor/reply/2f1c...
func (t Topics) Reply(id string) string {
	return t.prefix() + replySegment + "/" + id
}

// Status returns the retained liveness topic for a client.
//
// Example: farm_monitor/system/status/fm-presence
func (t Topics) Status(clientID string) string {
	return t.prefix() + systemSegment + "/status/" + clientID
}

// validReplyTopic reports whether dest can be published to.
func validReplyTopic(dest string) bool {
	return dest != "" && !strings.ContainsAny(dest, "+#")
}
