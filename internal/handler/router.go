package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/order-tracker/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса отслеживания заказов.
// metrics обслуживает /metrics; nil отключает маршрут.
func (h *Handler) SetupRouter(metrics http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Trace)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/statuses", h.GetStatuses)
		r.Get("/statuses/{status}/progress", h.GetProgress)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/vendor/orders", h.GetVendorOrders)

			r.Route("/orders/{orderID}", func(r chi.Router) {
				r.Get("/tracking", h.GetTracking)
				r.Delete("/tracking", h.ForgetTracking)
				r.Post("/transitions", h.RequestTransition)
				r.Post("/payment", h.ConfirmPayment)
				r.Get("/history", h.GetHistory)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
