package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/NAVEED261/Reusable-shop/internal/metrics"
	"github.com/NAVEED261/Reusable-shop/internal/orders"
	"github.com/NAVEED261/Reusable-shop/internal/payments"
	"github.com/NAVEED261/Reusable-shop/internal/reconcile"
)

// StatusCache serves the status-only read path without touching the store.
type StatusCache interface {
	OrderStatus(ctx context.Context, orderID string) (orders.StatusSnapshot, bool)
	Prime(ctx context.Context, o *orders.Order)
}

type Handler struct {
	Service  *orders.Service
	Engine   *reconcile.Engine
	Verifier *payments.Verifier
	Status   StatusCache
	WS       http.HandlerFunc
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Post("/payments/create-intent", h.createIntent)
	r.Get("/payments/{intentID}", h.intentStatus)
	r.Post("/webhooks/payment", h.webhook)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.orderStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	if h.WS != nil {
		r.Get("/orders/{id}/ws", h.WS)
	}
	r.Get("/products", h.listProducts)
}

type checkoutReq struct {
	CustomerID      string                `json:"customer_id"`
	Email           string                `json:"email"`
	ShippingAddress string                `json:"shipping_address"`
	Currency        string                `json:"currency"`
	Items           []orders.CheckoutItem `json:"items"`
}

type checkoutResp struct {
	OrderID      string        `json:"order_id"`
	Status       orders.Status `json:"status"`
	TotalCents   int64         `json:"total_cents"`
	ClientSecret string        `json:"client_secret,omitempty"`
	Replayed     bool          `json:"replayed,omitempty"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		writeError(w, h.Logger, &orders.ValidationError{Msg: "Idempotency-Key header required"})
		return
	}

	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.Logger, &orders.ValidationError{Msg: "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res, err := h.Service.CreateOrder(ctx, orders.CheckoutInput{
		CustomerID:      req.CustomerID,
		Email:           req.Email,
		ShippingAddress: req.ShippingAddress,
		Currency:        req.Currency,
		Items:           req.Items,
		IdempotencyKey:  key,
	})
	if err != nil {
		h.countCheckout("rejected")
		writeError(w, h.Logger, err)
		return
	}

	code := http.StatusCreated
	outcome := "created"
	if res.Replayed {
		code = http.StatusOK
		outcome = "replayed"
	}
	h.countCheckout(outcome)
	writeJSON(w, code, checkoutResp{
		OrderID:      res.Order.ID,
		Status:       res.Order.Status,
		TotalCents:   res.Order.TotalCents,
		ClientSecret: res.ClientSecret,
		Replayed:     res.Replayed,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// orderStatus is the hot poll path: cache hit skips the store entirely.
func (h *Handler) orderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Status != nil {
		if snap, ok := h.Status.OrderStatus(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	o, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if h.Status != nil {
		h.Status.Prime(ctx, o)
	}
	writeJSON(w, http.StatusOK, o.Snapshot())
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeError(w, h.Logger, &orders.ValidationError{Msg: "customer_id query parameter required"})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.Logger, &orders.ValidationError{Msg: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.ListOrders(ctx, customerID, limit)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Cancel(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Service.Products(ctx)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": ps})
}

func (h *Handler) countCheckout(outcome string) {
	if h.Metrics != nil {
		h.Metrics.CheckoutOutcomes.WithLabelValues(outcome).Inc()
	}
}
