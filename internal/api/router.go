package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/metrics"
)

// NewRouter assembles the full route tree. Webhooks and health sit outside
// the auth guard; everything under /v1 except webhooks requires a principal.
func NewRouter(logger *zap.Logger, h *Handler, gupshupWebhook, razorpayWebhook http.Handler, guard func(http.Handler) http.Handler, ratelimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Method(http.MethodPost, "/webhooks/gupshup", gupshupWebhook)
		r.Method(http.MethodPost, "/webhooks/razorpay", razorpayWebhook)

		// The dispatch trigger is called by the cron scheduler, not a user.
		r.Post("/jobs/dispatch", h.TriggerDispatch)

		r.Group(func(r chi.Router) {
			r.Use(guard)
			if ratelimit != nil {
				r.Use(ratelimit)
			}

			r.Post("/orders", h.CreateOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
			r.Post("/orders/{id}/status", h.UpdateOrderStatus)
			r.Get("/outbox", h.ListOutbox)
		})
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
