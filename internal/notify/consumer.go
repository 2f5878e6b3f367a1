package notify

import (
	"context"
	"fmt"

	kafkax "github.com/ariefcatur/go-checkout-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Dedup remembers processed event ids.
type Dedup interface {
	MarkProcessed(ctx context.Context, service, id string) (bool, error)
	UnmarkProcessed(ctx context.Context, service, id string) error
}

// Mailer delivers a customer-facing message. Rendering is its concern.
type Mailer interface {
	Send(ctx context.Context, to, subject string, data any) error
}

// LogMailer records what would have been sent.
type LogMailer struct{ Log zerolog.Logger }

func (m LogMailer) Send(_ context.Context, to, subject string, _ any) error {
	m.Log.Info().Str("to", to).Str("subject", subject).Msg("mail")
	return nil
}

// Consumer turns order events into customer notifications, once per event.
type Consumer struct {
	Dedup       Dedup
	Mailer      Mailer
	ServiceName string
	Log         zerolog.Logger
}

// HandleMessage is installed as the kafka consumer handler.
func (c *Consumer) HandleMessage(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		// poison message; commit and move on
		c.Log.Error().Err(err).Str("topic", m.Topic).Int64("offset", m.Offset).Msg("undecodable envelope")
		return nil
	}
	return c.Handle(ctx, env)
}

func (c *Consumer) Handle(ctx context.Context, env orders.Envelope) error {
	first, err := c.Dedup.MarkProcessed(ctx, c.ServiceName, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		c.Log.Debug().Str("event_id", env.EventID).Msg("duplicate event skipped")
		return nil
	}

	if err := c.deliver(ctx, env); err != nil {
		if uerr := c.Dedup.UnmarkProcessed(context.WithoutCancel(ctx), c.ServiceName, env.EventID); uerr != nil {
			c.Log.Warn().Err(uerr).Str("event_id", env.EventID).Msg("unmark processed")
		}
		return err
	}
	return nil
}

func (c *Consumer) deliver(ctx context.Context, env orders.Envelope) error {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return err
		}
		return c.mail(ctx, p.Email, fmt.Sprintf("Order %s received", p.OrderID), p)
	case orders.EventOrderPaid:
		p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
		if err != nil {
			return err
		}
		return c.mail(ctx, p.Email, fmt.Sprintf("Payment received for order %s", p.OrderID), p)
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		c.Log.Info().Str("order_id", p.OrderID).Str("from", string(p.From)).Str("to", string(p.To)).Msg("order status changed")
		return nil
	default:
		c.Log.Debug().Str("event_type", env.EventType).Msg("ignored event")
		return nil
	}
}

func (c *Consumer) mail(ctx context.Context, to, subject string, data any) error {
	if to == "" {
		c.Log.Info().Str("subject", subject).Msg("no email on order, notification skipped")
		return nil
	}
	return c.Mailer.Send(ctx, to, subject, data)
}
