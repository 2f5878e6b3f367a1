package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/checkout"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/payment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Identity headers set by the gateway in front of this service.
const (
	HeaderCustomerID = "X-Customer-Id"
	HeaderRole       = "X-Role"
	RoleAdmin        = "admin"
)

type Checkout interface {
	Quote(ctx context.Context, items []orders.LineItem, method orders.ShippingMethod) (pricing.Quote, error)
	PlaceOrder(ctx context.Context, req checkout.OrderRequest) (*orders.Order, error)
	CreatePaymentIntent(ctx context.Context, customerID string, items []orders.LineItem, method orders.ShippingMethod) (payment.Intent, error)
	ConfirmPaidOrder(ctx context.Context, c payment.Confirmation) (*orders.Order, error)
	ListOrders(ctx context.Context, customerID string) ([]orders.Order, error)
	GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error)
	OrderStatus(ctx context.Context, customerID, orderID string) (orders.Status, error)
	UpdateStatus(ctx context.Context, orderID string, to orders.Status) (*orders.Order, error)
	Products(ctx context.Context) ([]orders.Product, error)
}

type OrdersHandler struct {
	Checkout Checkout
	Timeout  time.Duration
	validate *validator.Validate
}

func NewOrdersHandler(c Checkout, timeout time.Duration) *OrdersHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OrdersHandler{Checkout: c, Timeout: timeout, validate: validator.New()}
}

type intentResp struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/quote", h.quote)
	r.Group(func(r chi.Router) {
		r.Use(requireCustomer)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Post("/payments/intent", h.createIntent)
		r.Post("/payments/confirm", h.confirmPayment)
	})
	r.With(requireAdmin).Put("/orders/{id}/status", h.updateStatus)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderCustomerID) == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderCustomerID})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderRole) != RoleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	ps, err := h.Checkout.Products(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req quoteReq
	if !bind(w, r, h.validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	q, err := h.Checkout.Quote(ctx, lineItems(req.Items), orders.ShippingMethod(req.ShippingMethod))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if !bind(w, r, h.validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	o, err := h.Checkout.PlaceOrder(ctx, checkout.OrderRequest{
		CustomerID:     r.Header.Get(HeaderCustomerID),
		Items:          lineItems(req.Items),
		ShippingMethod: orders.ShippingMethod(req.ShippingMethod),
		Address:        req.Address.toAddress(),
		Notes:          req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	list, err := h.Checkout.ListOrders(ctx, r.Header.Get(HeaderCustomerID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	o, err := h.Checkout.GetOrder(ctx, r.Header.Get(HeaderCustomerID), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	s, err := h.Checkout.OrderStatus(ctx, r.Header.Get(HeaderCustomerID), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": id, "status": s})
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if !bind(w, r, h.validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	o, err := h.Checkout.UpdateStatus(ctx, chi.URLParam(r, "id"), orders.Status(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req quoteReq
	if !bind(w, r, h.validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	in, err := h.Checkout.CreatePaymentIntent(ctx, r.Header.Get(HeaderCustomerID), lineItems(req.Items), orders.ShippingMethod(req.ShippingMethod))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResp{
		PaymentIntentID: in.ID,
		ClientSecret:    in.ClientSecret,
		AmountCents:     in.AmountCents,
		Currency:        in.Currency,
	})
}

func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if !bind(w, r, h.validate, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.Timeout)
	defer cancel()

	o, err := h.Checkout.ConfirmPaidOrder(ctx, payment.Confirmation{
		IntentID:       req.PaymentIntentID,
		CustomerID:     r.Header.Get(HeaderCustomerID),
		Items:          lineItems(req.Items),
		ShippingMethod: orders.ShippingMethod(req.ShippingMethod),
		Address:        req.Address.toAddress(),
		Notes:          req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}
