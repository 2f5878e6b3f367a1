package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

type lineItemReq struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

type addressReq struct {
	Name       string `json:"name" validate:"max=200"`
	Phone      string `json:"phone" validate:"max=50"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"max=20"`
	Country    string `json:"country" validate:"max=100"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
}

type quoteReq struct {
	Items          []lineItemReq `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingMethod string        `json:"shipping_method" validate:"omitempty,oneof=standard express"`
}

type placeOrderReq struct {
	Items          []lineItemReq `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingMethod string        `json:"shipping_method" validate:"omitempty,oneof=standard express"`
	Address        *addressReq   `json:"address" validate:"required"`
	Notes          string        `json:"notes" validate:"max=1000"`
}

type confirmReq struct {
	PaymentIntentID string        `json:"payment_intent_id" validate:"required,max=255"`
	Items           []lineItemReq `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingMethod  string        `json:"shipping_method" validate:"omitempty,oneof=standard express"`
	Address         *addressReq   `json:"address" validate:"required"`
	Notes           string        `json:"notes" validate:"max=1000"`
}

type statusReq struct {
	Status string `json:"status" validate:"required,oneof=pending shipped delivered cancelled"`
}

func lineItems(in []lineItemReq) []orders.LineItem {
	out := make([]orders.LineItem, 0, len(in))
	for _, it := range in {
		out = append(out, orders.LineItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

func (a *addressReq) toAddress() *orders.Address {
	if a == nil {
		return nil
	}
	return &orders.Address{
		Name:       a.Name,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Email:      a.Email,
	}
}

// bind decodes a strict JSON body into out and validates it. On failure it
// has already written the 400 response.
func bind(w http.ResponseWriter, r *http.Request, v *validator.Validate, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json", "msg": err.Error()})
		return false
	}
	if err := v.Struct(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": fieldErrors(err)})
		return false
	}
	return true
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Namespace()] = fe.Tag()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}
