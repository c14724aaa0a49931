package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/NAVEED261/Reusable-shop/internal/metrics"
)

// NewRouter builds the base router: request id, access log, instrumentation,
// panic recovery and the operational endpoints. Domain routes are added by
// Handler.Register.
func NewRouter(logger *zap.Logger, m *metrics.Metrics, metricsHandler http.Handler) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(instrument(m))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}
