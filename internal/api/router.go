package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medbook/booking-service/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability
	r.Get("/doctors/{id}/slots", listSlotsHandler(cfg.Service, cfg.Logger))

	// Reservation lifecycle
	r.Post("/reservations", createReservationHandler(cfg.Service))
	r.Get("/reservations/{id}", getReservationHandler(cfg.Service))
	r.Post("/reservations/{id}/confirm", confirmReservationHandler(cfg.Service))
	r.Post("/reservations/{id}/release", releaseReservationHandler(cfg.Service))

	return r
}
