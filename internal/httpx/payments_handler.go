package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/NAVEED261/Reusable-shop/internal/orders"
)

type createIntentReq struct {
	OrderID string `json:"order_id"`
	// AmountCents and Currency are optional confirmations; when present they
	// must match the order or the call is rejected.
	AmountCents   int64  `json:"amount_cents,omitempty"`
	Currency      string `json:"currency,omitempty"`
	CustomerEmail string `json:"customer_email"`
}

type intentResp struct {
	IntentID     string        `json:"intent_id"`
	ClientSecret string        `json:"client_secret,omitempty"`
	Status       string        `json:"status"`
	OrderID      string        `json:"order_id"`
	OrderStatus  orders.Status `json:"order_status"`
}

func (h *Handler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Logger, &orders.ValidationError{Msg: "invalid json"})
		return
	}
	if req.OrderID == "" {
		writeError(w, h.Logger, &orders.ValidationError{Msg: "order_id required"})
		return
	}

	// Provider retries happen inside this window.
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if req.AmountCents != 0 || req.Currency != "" {
		o, err := h.Service.GetOrder(ctx, req.OrderID)
		if err != nil {
			writeError(w, h.Logger, err)
			return
		}
		if req.AmountCents != 0 && req.AmountCents != o.TotalCents {
			writeError(w, h.Logger, fmt.Errorf("%w: amount %d does not match order total %d",
				orders.ErrConflict, req.AmountCents, o.TotalCents))
			return
		}
		if req.Currency != "" && !strings.EqualFold(req.Currency, o.Currency) {
			writeError(w, h.Logger, fmt.Errorf("%w: currency %q does not match order currency %q",
				orders.ErrConflict, req.Currency, o.Currency))
			return
		}
	}

	intent, o, err := h.Service.EnsureIntent(ctx, req.OrderID, req.CustomerEmail)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResp{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		OrderID:      o.ID,
		OrderStatus:  o.Status,
	})
}

func (h *Handler) intentStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	intent, o, err := h.Service.IntentStatus(ctx, chi.URLParam(r, "intentID"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, intentResp{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		OrderID:      o.ID,
		OrderStatus:  o.Status,
	})
}

// webhook acknowledges with 2xx only once the event is durably recorded or
// identified as a duplicate; anything else makes the provider redeliver.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, h.Logger, &orders.ValidationError{Msg: "unreadable body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	evt, err := h.Verifier.Verify(ctx, raw, r.Header.Get("Payment-Signature"))
	if err != nil {
		h.countWebhook("unknown", "rejected")
		writeError(w, h.Logger, err)
		return
	}

	result, o, err := h.Engine.Apply(ctx, evt)
	if err != nil {
		h.countWebhook(evt.Type, "error")
		writeError(w, h.Logger, err)
		return
	}
	h.countWebhook(evt.Type, string(result))

	body := map[string]any{"result": string(result)}
	if o != nil {
		body["order_id"] = o.ID
		body["status"] = o.Status
		body["version"] = o.Version
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) countWebhook(eventType, verdict string) {
	if h.Metrics != nil {
		h.Metrics.WebhookEvents.WithLabelValues(eventType, verdict).Inc()
	}
}
