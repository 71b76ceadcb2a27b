package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/salon-booking-engine/internal/appointment"
)

type RouterConfig struct {
	Service        *appointment.Service
	Auth           *Authenticator
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	Logger         zerolog.Logger
	RateLimitRPS   float64
	RateLimitBurst int
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger.With().Str("component", "api").Logger()
	h := &handlers{
		svc:    cfg.Service,
		errors: errorWriter{logger: logger, dev: cfg.Env == "dev"},
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))

		r.Get("/availability", h.availability)
		r.Get("/availability/days", h.availableDays)
		r.Get("/availability/unavailable-days", h.unavailableDays)
		r.Get("/services", h.listServices)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Post("/appointments", h.createAppointment)
			r.Get("/appointments/me", h.myAppointments)
			r.Get("/appointments/{id}", h.getAppointment)
			r.Post("/appointments/{id}/cancel", h.cancelAppointment)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Get("/appointments", h.listAppointments)
				r.Get("/appointments/export", h.exportAppointments)
				r.Post("/appointments/{id}/confirm", h.confirmAppointment)
				r.Post("/appointments/{id}/complete", h.completeAppointment)
				r.Post("/appointments/{id}/reschedule", h.rescheduleAppointment)
				r.Get("/stats", h.stats)
				r.Get("/calendar", h.getCalendar)
				r.Put("/calendar", h.updateCalendar)
				r.Put("/calendar/overrides/{date}", h.setOverride)
				r.Delete("/calendar/overrides/{date}", h.deleteOverride)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}
