package notify

import (
	"context"
	"strconv"

	kafkax "github.com/ariefcatur/go-checkout-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
)

// Publisher is satisfied by kafkax.Producer.
type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafkago.Header) error
}

// KafkaDispatcher publishes envelopes keyed by order id so one order's
// events stay on one partition.
type KafkaDispatcher struct {
	Producer Publisher
	Service  string
}

func (d KafkaDispatcher) Notify(ctx context.Context, e Event) error {
	env, err := NewEnvelope(ctx, e, d.Service)
	if err != nil {
		return err
	}
	return d.Producer.Publish(orders.TopicFor(e.Type), orders.PartitionKey(e.OrderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(e.Type)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}
