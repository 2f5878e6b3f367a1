// Package notify publishes order lifecycle events after commit. Delivery is
// best effort: a failed notification never fails the order.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// Event is one notification. Payload is one of the orders.*Payload types.
type Event struct {
	Type    string
	OrderID string
	Payload any
}

type Dispatcher interface {
	Notify(ctx context.Context, e Event) error
}

// NewEnvelope wraps e for the wire, carrying the active trace id if any.
func NewEnvelope(ctx context.Context, e Event, producer string) (orders.Envelope, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return orders.Envelope{}, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     e.Type,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: e.OrderID,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env, nil
}

// LogDispatcher only logs. Used when no broker is configured.
type LogDispatcher struct {
	Log zerolog.Logger
}

func (d LogDispatcher) Notify(_ context.Context, e Event) error {
	d.Log.Info().Str("event_type", e.Type).Str("order_id", e.OrderID).Msg("notification")
	return nil
}

// Sender is satisfied by awsx.Publisher.
type Sender interface {
	Send(ctx context.Context, body []byte, attributes map[string]string) error
}

// SQSDispatcher sends enveloped events to one queue.
type SQSDispatcher struct {
	Sender  Sender
	Service string
}

func (d SQSDispatcher) Notify(ctx context.Context, e Event) error {
	env, err := NewEnvelope(ctx, e, d.Service)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return d.Sender.Send(ctx, body, map[string]string{
		"event_type": e.Type,
		"event_id":   env.EventID,
		"order_id":   e.OrderID,
	})
}
