package orders

import "time"

// Product is the inventory view needed for pricing and reservation.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int64  `json:"stock"`
}

type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Address is the delivery snapshot copied onto an order at checkout time.
type Address struct {
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	Email      string `json:"email,omitempty"`
}

// PaymentAuthorization records what the payment processor reported when the order was confirmed.
type PaymentAuthorization struct {
	Processor   string `json:"processor"`
	IntentID    string `json:"intent_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
}

type Order struct {
	ID               string                `json:"id"`
	CustomerID       string                `json:"customer_id"`
	Items            []LineItem            `json:"items"`
	SubtotalCents    int64                 `json:"subtotal_cents"`
	ShippingFeeCents int64                 `json:"shipping_fee_cents"`
	TotalCents       int64                 `json:"total_cents"`
	Currency         string                `json:"currency"`
	Status           Status                `json:"status"`
	ShippingMethod   ShippingMethod        `json:"shipping_method"`
	Address          *Address              `json:"address,omitempty"`
	Payment          *PaymentAuthorization `json:"payment,omitempty"`
	Notes            string                `json:"notes,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// Quantities sums requested quantities per product, keeping duplicate lines together.
func Quantities(items []LineItem) map[string]int64 {
	out := make(map[string]int64, len(items))
	for _, it := range items {
		out[it.ProductID] += int64(it.Quantity)
	}
	return out
}

// ProductIDs returns the distinct product ids of items in first-seen order.
func ProductIDs(items []LineItem) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		out = append(out, it.ProductID)
	}
	return out
}
