package notify

import (
	"context"
	"encoding/json"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/aws/aws-lambda-go/events"
)

// HandleSQS processes a Lambda SQS batch. Failed records are reported
// individually so only they are redelivered; undecodable bodies are dropped.
func (c *Consumer) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		var env orders.Envelope
		if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
			c.Log.Error().Err(err).Str("message_id", rec.MessageId).Msg("undecodable envelope")
			continue
		}
		if err := c.Handle(ctx, env); err != nil {
			c.Log.Warn().Err(err).Str("message_id", rec.MessageId).Str("event_id", env.EventID).Msg("notification failed")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}
