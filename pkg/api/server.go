package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/pkg/api/auth"
)

// Server provides the admin API HTTP server.
//
// The server supports graceful shutdown with configurable timeout.
type Server struct {
	server       *http.Server
	config       APIConfig
	shutdownOnce sync.Once
}

// NewServer creates a new admin API server.
//
// The server is created in a stopped state; call Start to begin serving.
// Defaults are applied here so the server also works when constructed
// directly in tests.
func NewServer(config APIConfig, deps Deps) (*Server, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: config.ResolveJWTSecret()})
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	router := NewRouter(config, jwtService, deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.BindAddress, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{
		server: server,
		config: config,
	}, nil
}

// Start starts the API HTTP server and blocks until the context is
// cancelled or an error occurs. Cancellation triggers graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin API listening", "address", s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Admin API shutdown signal received")
		// The cancelled ctx would abort shutdown immediately; give
		// in-flight requests a bounded grace period instead.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin API server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin API shutdown error: %w", err)
			logger.Error("Admin API shutdown error", logger.KeyError, err)
		} else {
			logger.Info("Admin API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.config.Port
}
