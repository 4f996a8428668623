// Package server wires the HTTP surfaces together: client proxy surfaces,
// admin API and health, each behind its middleware chain, plus the
// retention sweeper's lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeswitch-dev/aicodeswitch/internal/config"
	"github.com/codeswitch-dev/aicodeswitch/internal/handlers"
	"github.com/codeswitch-dev/aicodeswitch/internal/middleware"
	"github.com/codeswitch-dev/aicodeswitch/internal/store"
)

type Server struct {
	settings config.Settings
	manager  *config.Manager
	store    *store.Store
	logger   *slog.Logger
	server   *http.Server
}

func New(settings config.Settings, manager *config.Manager, st *store.Store, logger *slog.Logger) *Server {
	return &Server{
		settings: settings,
		manager:  manager,
		store:    st,
		logger:   logger,
	}
}

// Start serves until SIGINT/SIGTERM or a listener failure, then shuts
// down gracefully. The retention sweeper runs for the server's lifetime.
func (s *Server) Start() error {
	addr := s.settings.Addr()
	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	s.store.StartRetentionSweeper(sweepCtx)

	s.logger.Info("starting server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")
	return nil
}

// Stop shuts the listener down without waiting for a signal.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// setupRoutes mounts the three surfaces. The engine takes the catch-all
// so legacy dynamic paths keep working alongside the fixed prefixes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	engine := handlers.NewEngine(s.manager, s.store, s.logger)
	health := handlers.NewHealthHandler(s.logger)

	adminMux := http.NewServeMux()
	handlers.NewAdmin(s.store, s.manager, s.logger).Register(adminMux)

	ms := middleware.NewMiddlewareSet(s.manager, s.store, s.logger)

	mux.Handle("/health", ms.HealthChain().Handler(health))
	mux.Handle("/api/", ms.AdminChain().Handler(adminMux))
	mux.Handle("/", ms.DefaultChain().Handler(engine))

	return mux
}
