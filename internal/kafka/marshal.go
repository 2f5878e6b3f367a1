package kafka

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/segmentio/kafka-go"
)

// ErrBadEnvelope marks a message that can never be processed.
var ErrBadEnvelope = errors.New("bad envelope")

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// DecodeEnvelope reads the envelope carried by m. The x-event-type header,
// when present, must agree with the body.
func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.EventID == "" || env.EventType == "" {
		return env, fmt.Errorf("%w: missing event id or type", ErrBadEnvelope)
	}
	for _, h := range m.Headers {
		if h.Key == "x-event-type" && string(h.Value) != env.EventType {
			return env, fmt.Errorf("%w: header type %s, body type %s", ErrBadEnvelope, h.Value, env.EventType)
		}
	}
	return env, nil
}

// UnwrapPayload decodes an envelope payload into its concrete type.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
