package nats

import (
	"fmt"
	"strings"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// Subjects maps broker bindings onto NATS subjects.
//
//	{virtual_host}.{exchange}.{routing key}
//
// Routing keys are already dot separated. On topic exchanges "*" is kept
// and a trailing "#" becomes ">".
type Subjects struct {
	VirtualHost string
}

// Binding returns the subject for b.
func (s Subjects) Binding(b broker.Binding) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}

	tokens := []string{}
	if vhost := strings.Trim(s.VirtualHost, "/"); vhost != "" {
		tokens = append(tokens, vhost)
	}
	tokens = append(tokens, b.Exchange)

	words := strings.Split(b.RoutingKey, ".")
	for i, w := range words {
		switch {
		case w == "":
			return "", fmt.Errorf("%w: empty word in routing key %q", ErrInvalidSubject, b.RoutingKey)
		case b.Kind == broker.KindTopic && w == "*":
			tokens = append(tokens, "*")
		case b.Kind == broker.KindTopic && w == "#":
			if i != len(words)-1 {
				return "", fmt.Errorf("%w: %q must be the last word in %q", ErrInvalidSubject, "#", b.RoutingKey)
			}
			tokens = append(tokens, ">")
		case strings.ContainsAny(w, "*># \t\r\n"):
			return "", fmt.Errorf("%w: routing key %q", ErrInvalidSubject, b.RoutingKey)
		default:
			tokens = append(tokens, w)
		}
	}

	for _, tok := range tokens[:len(tokens)-len(words)] {
		if strings.ContainsAny(tok, ".*># \t\r\n") {
			return "", fmt.Errorf("%w: %q is not a single subject token", ErrInvalidSubject, tok)
		}
	}

	return strings.Join(tokens, "."), nil
}

func hasWildcard(subject string) bool {
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return true
		}
	}
	return false
}

// validReplySubject reports whether dest can be published to.
func validReplySubject(dest string) bool {
	return dest != "" && !hasWildcard(dest) && !strings.ContainsAny(dest, " \t\r\n")
}
