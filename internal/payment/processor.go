// Package payment creates payment intents with an external processor and
// gates paid orders on a verified, correctly priced authorization.
package payment

import (
	"context"
	"errors"
)

const StatusSucceeded = "succeeded"

var ErrIntentNotFound = errors.New("payment intent not found")

// Intent is the processor's view of a payment authorization.
type Intent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret,omitempty"`
	AmountCents  int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type Processor interface {
	Name() string
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (Intent, error)
	RetrieveIntent(ctx context.Context, id string) (Intent, error)
}
