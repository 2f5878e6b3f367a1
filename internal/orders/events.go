package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderPaid          = "OrderPaid"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// Envelope wraps every notification payload published by the service.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type OrderPlacedPayload struct {
	OrderID        string         `json:"order_id"`
	CustomerID     string         `json:"customer_id"`
	Items          []LineItem     `json:"items"`
	TotalCents     int64          `json:"total_cents"`
	Currency       string         `json:"currency"`
	ShippingMethod ShippingMethod `json:"shipping_method"`
	Email          string         `json:"email,omitempty"`
}

type OrderPaidPayload struct {
	OrderPlacedPayload
	IntentID  string `json:"intent_id"`
	Processor string `json:"processor"`
}

type OrderStatusChangedPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	From       Status `json:"from"`
	To         Status `json:"to"`
}

// PlacedPayload builds the notification payload for a committed order.
func PlacedPayload(o *Order) OrderPlacedPayload {
	p := OrderPlacedPayload{
		OrderID:        o.ID,
		CustomerID:     o.CustomerID,
		Items:          o.Items,
		TotalCents:     o.TotalCents,
		Currency:       o.Currency,
		ShippingMethod: o.ShippingMethod,
	}
	if o.Address != nil {
		p.Email = o.Address.Email
	}
	return p
}
