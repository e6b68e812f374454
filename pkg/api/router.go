package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/api/auth"
	"github.com/wharfd/wharfd/pkg/api/handlers"
	"github.com/wharfd/wharfd/pkg/api/middleware"
	"github.com/wharfd/wharfd/pkg/metrics"
	"github.com/wharfd/wharfd/pkg/security"
)

// Deps are the services the admin API reads and controls.
type Deps struct {
	// Counters is the performance ledger behind GET /status.
	Counters *metrics.PerformanceCounters

	// Ledger is the security ledger behind GET /security and unbanning.
	Ledger *security.Ledger

	// Server reports live acceptor state. May be nil.
	Server handlers.ServerStats

	// Shutdown triggers graceful shutdown of the whole process. May be nil,
	// which disables POST /shutdown.
	Shutdown func()

	// Version is reported by /health and /status.
	Version string
}

// NewRouter creates and configures the chi router with all middleware and
// routes.
//
// Routes:
//   - GET  /health                        - liveness (unauthenticated)
//   - GET  /metrics                       - Prometheus exposition (when enabled)
//   - POST /api/v1/auth/login             - obtain a token pair
//   - POST /api/v1/auth/refresh           - exchange a refresh token
//   - GET  /api/v1/status                 - performance ledger snapshot
//   - GET  /api/v1/security               - security ledger snapshot
//   - DELETE /api/v1/security/bans/{addr} - lift a ban
//   - POST /api/v1/shutdown               - graceful shutdown
func NewRouter(cfg APIConfig, jwtService *auth.JWTService, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Version)
	statusHandler := handlers.NewStatusHandler(deps.Counters, deps.Server, deps.Version)
	securityHandler := handlers.NewSecurityHandler(deps.Ledger)
	shutdownHandler := handlers.NewShutdownHandler(deps.Shutdown)
	authHandler := handlers.NewAuthHandler(jwtService, cfg.AdminUsername, cfg.AdminPasswordHash)

	// Unauthenticated surface
	r.Get("/health", healthHandler.Liveness)
	if promHandler := metrics.Handler(); promHandler != nil {
		r.Handle("/metrics", promHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)

		// Operational endpoints require a valid access token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.JWTAuth(jwtService))

			r.Get("/status", statusHandler.Status)
			r.Get("/security", securityHandler.List)
			r.Delete("/security/bans/{addr}", securityHandler.Unban)
			r.Post("/shutdown", shutdownHandler.Shutdown)
		})
	})

	// Root redirect to health for convenience
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimiddleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
