package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"licensecli/internal/config"
	"licensecli/internal/gate"
	"licensecli/internal/infrastructure"
	"licensecli/internal/middleware"
)

// Deps are the collaborators the control API is built from. Metrics and
// Feed are optional.
type Deps struct {
	Auth         AuthService
	Gate         *gate.Gate
	Authorized   func(context.Context) bool
	Feed         Feed
	Metrics      http.Handler
	Logger       *slog.Logger
	Version      string
	RateLimit    config.RateLimitConfig
	LicenseCalls time.Duration
}

// Feed is the websocket endpoint. It also receives gate transitions.
type Feed interface {
	http.Handler
	Broadcaster
	ClientCount() int
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	GateActive bool   `json:"gate_active"`
	WSClients  int    `json:"ws_clients"`
}

// NewRouter assembles the middleware chain and mounts every endpoint.
func NewRouter(d Deps) chi.Router {
	logger := infrastructure.WithComponent(d.Logger, "http")
	if d.LicenseCalls <= 0 {
		d.LicenseCalls = 30 * time.Second
	}
	started := time.Now()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, NewAPIError(http.StatusNotFound, "NOT_FOUND", "Resource not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, NewAPIError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:     "ok",
			Version:    d.Version,
			Uptime:     time.Since(started).Round(time.Second).String(),
			GateActive: d.Gate.Active(),
		}
		if d.Feed != nil {
			resp.WSClients = d.Feed.ClientCount()
		}
		render.JSON(w, r, resp)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	var broadcaster Broadcaster
	if d.Feed != nil {
		r.Method(http.MethodGet, "/ws", d.Feed)
		broadcaster = d.Feed
	}

	r.Route("/api", func(r chi.Router) {
		if d.RateLimit.Enabled {
			r.Use(middleware.NewRateLimiter(d.RateLimit.RPS, d.RateLimit.Burst, logger).Handler)
		}
		r.Mount("/auth", NewAuthHandler(d.Auth, d.LicenseCalls, d.Logger).Routes())
		r.Mount("/gate", NewGateHandler(d.Gate, d.Authorized, broadcaster, d.Logger).Routes())
	})

	return r
}
