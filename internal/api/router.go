package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/medilink/telemed-booking/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability endpoints
	r.Get("/doctors/{id}/slots", listSlotsHandler(cfg.Service))
	r.Put("/doctors/{id}/availability", putAvailabilityHandler(cfg.Service))
	r.Post("/doctors/{id}/exceptions", createExceptionHandler(cfg.Service))

	// Booking endpoints
	r.Post("/bookings", createBookingHandler(cfg.Service))
	r.Get("/bookings", listBookingsHandler(cfg.Service))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/complete", completeBookingHandler(cfg.Service))

	return r
}
