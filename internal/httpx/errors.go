package httpx

import (
	"errors"
	"net/http"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/rs/zerolog"
)

var errorStatus = []struct {
	err  error
	code int
}{
	{orders.ErrEmptyOrder, http.StatusBadRequest},
	{orders.ErrInvalidQuantity, http.StatusBadRequest},
	{orders.ErrProductNotFound, http.StatusBadRequest},
	{orders.ErrInsufficientStock, http.StatusConflict},
	{orders.ErrStockConflict, http.StatusConflict},
	{orders.ErrPaymentNotCompleted, http.StatusPaymentRequired},
	{orders.ErrAmountMismatch, http.StatusConflict},
	{orders.ErrPaymentAlreadyUsed, http.StatusConflict},
	{orders.ErrOrderNotFound, http.StatusNotFound},
	{orders.ErrInvalidTransition, http.StatusConflict},
}

func statusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return http.StatusInternalServerError
}

// writeError maps domain errors to their status. Anything unrecognised is
// logged and reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
