package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/forgehost/controlplane/internal/dbx"
	"github.com/forgehost/controlplane/internal/telemetry"
)

// apiBodyLimit is the 1 MiB cap spec §4.8 mandates for API routes. The
// webhook route is mounted outside this limit; see Server.WebhookGroup.
const apiBodyLimit = 1 << 20

// Server holds the chi router and its cross-cutting middleware. Domain
// packages mount their own route groups on Router after construction —
// this type owns ordering, not the handlers themselves.
type Server struct {
	Router  *chi.Mux
	Logger  *slog.Logger
	DB      *dbx.Gateway
	Metrics *telemetry.Metrics

	startedAt time.Time
}

// New builds the router with the cross-cutting middleware stack from
// spec §4.8 in order: security headers + CORS, then request ID, logging,
// metrics, and panic recovery. Body-size capping and rate limiting are
// applied per route group by the caller, since their limits differ by
// group (auth vs. general API vs. lifecycle vs. unlimited-but-signed
// webhook).
func New(logger *slog.Logger, db *dbx.Gateway, metrics *telemetry.Metrics, frontendOrigin string) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		DB:        db,
		Metrics:   metrics,
		startedAt: time.Now(),
	}

	s.Router.Use(SecurityHeaders)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{frontendOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Workspace-Credential", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics(metrics))
	s.Router.Use(chimw.Recoverer)

	s.Router.Get("/health", s.handleHealth)
	s.Router.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return s
}

// APIGroup mounts a route group under a prefix with the standard 1 MiB body
// cap applied. Use this for every group except the webhook group.
func (s *Server) APIGroup(prefix string, fn func(r chi.Router)) {
	s.Router.Route(prefix, func(r chi.Router) {
		r.Use(BodyLimit(apiBodyLimit))
		fn(r)
	})
}

// WebhookGroup mounts a route group without the standard JSON body cap,
// since the webhook handler reads the raw body itself (with its own 1 MiB
// limit) before any parser would otherwise consume it.
func (s *Server) WebhookGroup(prefix string, fn func(r chi.Router)) {
	s.Router.Route(prefix, fn)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := s.DB.Ping(ctx); err != nil {
		s.Logger.Error("health check: database ping failed", "error", err)
		dbStatus = "error"
	}

	status := http.StatusOK
	overall := "ok"
	if dbStatus != "ok" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	Respond(w, status, map[string]string{
		"status":   overall,
		"database": dbStatus,
	})
}
