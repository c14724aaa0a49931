package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/NAVEED261/Reusable-shop/internal/inventory"
	"github.com/NAVEED261/Reusable-shop/internal/orders"
	"github.com/NAVEED261/Reusable-shop/internal/payments"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Items  any    `json:"items,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto the HTTP taxonomy. Provider error text
// stays inside the service; responses carry generic reasons plus whatever
// actionable detail (stale prices, short items) the caller can act on.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		validation *orders.ValidationError
		stale      *orders.PriceStaleError
		short      *inventory.UnavailableError
		rejected   *payments.RequestError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation_failed", Detail: validation.Msg})
	case errors.As(err, &stale):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "price_stale", Items: stale.Items})
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, errorBody{Error: "insufficient_stock", Items: short.Shortages})
	case errors.Is(err, orders.ErrIdempotencyConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "idempotency_key_reuse", Detail: err.Error()})
	case errors.Is(err, orders.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Detail: err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found"})
	case errors.Is(err, payments.ErrBadSignature):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_signature"})
	case errors.Is(err, payments.ErrStaleEvent):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "stale_event"})
	case errors.Is(err, payments.ErrBadPayload):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_payload"})
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "payment_rejected", Detail: "payment request rejected"})
	case errors.Is(err, payments.ErrProviderUnavailable):
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "provider_unavailable"})
	default:
		if logger != nil {
			logger.Error("unhandled request error", zap.Error(err))
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}
