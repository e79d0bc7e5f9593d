package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/nerrad567/fm-presence/internal/broker"
)

// CommandDeviceStatus is the only command StatusResponder answers.
const CommandDeviceStatus = "device_status"

// ReplyUnknownCommand is the reply to anything but a device status query.
const ReplyUnknownCommand = "unknown command"

// statusQuery is the JSON body of a status request.
type statusQuery struct {
	Command string `json:"command"`
	ID      string `json:"id"`

	// DeviceID is accepted as an alias of ID.
	DeviceID string `json:"device_id,omitempty"`
}

func (q statusQuery) deviceID() string {
	if q.ID != "" {
		return q.ID
	}
	return q.DeviceID
}

// StatusResponder answers point-in-time presence queries from the registry.
// It never writes to the registry or the store.
type StatusResponder struct {
	binding  broker.Binding
	registry *Registry
	loop     *eventLoop
	logger   Logger

	mu       sync.Mutex
	sub      broker.Subscription
	stopping bool
}

func newStatusResponder(cfg Config, registry *Registry, loop *eventLoop, o options) *StatusResponder {
	return &StatusResponder{
		binding:  cfg.StatusBinding,
		registry: registry,
		loop:     loop,
		logger:   o.logger,
	}
}

// Bind starts consuming status queries on conn.
func (r *StatusResponder) Bind(_ context.Context, conn broker.Conn) error {
	r.mu.Lock()
	stopping := r.stopping
	r.mu.Unlock()
	if stopping {
		return ErrTrackerStopped
	}

	sub, err := conn.Subscribe(r.binding, func(d *broker.Delivery) {
		err := r.loop.Submit(func(ctx context.Context) error {
			r.handle(ctx, conn, d)
			return nil
		})
		if err != nil {
			r.logger.Debug("status query not handled, tracker stopping", "correlation_id", d.CorrelationID)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to status queries on %s: %w", r.binding, err)
	}

	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()
	r.logger.Debug("status responder bound", "binding", r.binding.String())
	return nil
}

// Stop stops consuming. Safe to call more than once.
func (r *StatusResponder) Stop() {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.stopping = true
	r.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("error cancelling status consumer", "error", err)
		}
	}
}

func (r *StatusResponder) handle(ctx context.Context, conn broker.Conn, d *broker.Delivery) {
	answer := r.answer(d.Body)
	if answer == ReplyUnknownCommand {
		statusQueriesTotal.WithLabelValues(resultUnknownCommand).Inc()
	} else {
		statusQueriesTotal.WithLabelValues(answer).Inc()
	}

	if err := d.Ack(); err != nil {
		r.logger.Warn("error acknowledging status query", "error", err)
	}

	if d.ReplyTo == "" {
		r.logger.Warn("status query not answered", "error", ErrMissingReplyTo)
		return
	}
	err := conn.Reply(ctx, d.ReplyTo, broker.Message{
		CorrelationID: d.CorrelationID,
		ContentType:   replyContentType,
		Body:          []byte(answer),
	})
	if err != nil {
		r.logger.Warn("error replying to status query", "error", err)
	}
}

// answer computes the reply body for a query body.
func (r *StatusResponder) answer(body []byte) string {
	var q statusQuery
	if err := json.Unmarshal(body, &q); err != nil {
		r.logger.Warn("ignoring status query", "error", fmt.Errorf("%w: %w", ErrMalformedQuery, err))
		return ReplyUnknownCommand
	}
	if q.Command != CommandDeviceStatus {
		r.logger.Debug("unknown status command", "command", q.Command)
		return ReplyUnknownCommand
	}
	return string(r.registry.Classify(q.deviceID()))
}
