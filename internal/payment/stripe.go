package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// StripeProcessor creates and retrieves Stripe PaymentIntents.
type StripeProcessor struct {
	client *paymentintent.Client
}

// NewStripeProcessor uses the public API unless baseURL overrides it.
func NewStripeProcessor(key, baseURL string) *StripeProcessor {
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 10 * time.Second},
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if baseURL != "" {
		cfg.URL = stripe.String(strings.TrimRight(baseURL, "/"))
	}
	return &StripeProcessor{
		client: &paymentintent.Client{B: stripe.GetBackendWithConfig(stripe.APIBackend, cfg), Key: key},
	}
}

func (p *StripeProcessor) Name() string { return "stripe" }

func (p *StripeProcessor) CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	pi, err := p.client.New(params)
	if err != nil {
		return Intent{}, mapStripeError(err)
	}
	return fromStripe(pi), nil
}

func (p *StripeProcessor) RetrieveIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.client.Get(id, params)
	if err != nil {
		return Intent{}, mapStripeError(err)
	}
	return fromStripe(pi), nil
}

func mapStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Code == stripe.ErrorCodeResourceMissing {
		return ErrIntentNotFound
	}
	return err
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Status:       string(pi.Status),
		Metadata:     pi.Metadata,
	}
}
