package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handler        *Handler
	JWTSecret      string
	MetricsHandler http.Handler
	// HealthCheck is optional; nil means always healthy
	HealthCheck func(ctx context.Context) error
	Logger      *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Group(func(public chi.Router) {
		public.Get("/health", health(cfg.HealthCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(api chi.Router) {
		api.Use(Authenticate(cfg.JWTSecret))
		api.Use(middleware.Timeout(30 * time.Second))

		h := cfg.Handler
		api.Get("/doctors/{doctorID}/slots", h.AvailableSlots)
		api.Post("/appointments", h.Book)
		api.Route("/appointments/{folio}", func(appt chi.Router) {
			appt.Get("/", h.GetAppointment)
			appt.Get("/cancellation-policy", h.CancellationPolicy)
			appt.Post("/cancel", h.Cancel)
			appt.Post("/transitions", h.Transition)
			appt.Post("/payments/card", h.PayByCard)
			appt.Post("/payments/paypal/orders", h.CreatePayPalOrder)
			appt.Post("/payments/paypal/capture", h.CapturePayPalOrder)
		})
	})

	return r
}

func health(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
