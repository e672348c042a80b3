// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it connects handlers, middleware, and
// routes, and owns the lifetime of the execution log database and the
// sandbox it is given.
//
// DEPENDENCY INJECTION FLOW:
//
//	cmd/amstig creates:  config.Config, sandbox (process or docker)
//	Server.New creates:  sqlite.DB → Gateway, HistoryService → handlers
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/amstig/internal/config"
	"github.com/sakif/amstig/internal/handler"
	"github.com/sakif/amstig/internal/limiter"
	"github.com/sakif/amstig/internal/middleware"
	sqliteRepo "github.com/sakif/amstig/internal/repository/sqlite"
	"github.com/sakif/amstig/internal/result"
	"github.com/sakif/amstig/internal/sandbox"
	"github.com/sakif/amstig/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection and the sandbox; both are closed
// when Start returns or when Close is called.
type Server struct {
	router  *chi.Mux
	config  config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	sandbox sandbox.Sandbox
	limiter *limiter.RateLimiter
	gateway *service.Gateway

	closeOnce sync.Once
	closeErr  error
}

// New creates a new Server around sb.
//
// Wiring order:
//  1. open the execution log (sqlite.New)
//  2. create the formatter and the gateway with the sandbox and the log
//  3. create the handlers with the services
//  4. wire handlers to routes
func New(cfg config.Config, sb sandbox.Sandbox, logger *slog.Logger) (*Server, error) {
	if dir := filepath.Dir(cfg.DBPath); cfg.DBPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	formatter := result.NewFormatter(cfg.Timeout, cfg.MaxErrorLength)

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		sandbox: sb,
		limiter: limiter.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		gateway: service.NewGateway(sb, formatter, db, cfg.Gateway(), logger),
	}
	s.setupRoutes()

	return s, nil
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/code/execute          → run code (rate limited)
// GET    /api/code/languages        → language catalogue
// GET    /api/code/executions       → execution log, newest first
// GET    /api/code/executions/{id}  → one execution log entry
// GET    /api/health                → liveness
// GET    /metrics                   → Prometheus exposition
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (used by Logger)
// 2. RealIP: extracts real client IP from proxy headers (used by the limiter)
// 3. Logger: logs each request with timing info
// 4. Recoverer: catches panics and returns 500 instead of crashing
// 5. CORS: answers preflight requests from the browser client
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	s.router.NotFound(handler.HandleNotFound)
	s.router.MethodNotAllowed(handler.HandleMethodNotAllowed)

	executeHandler := handler.NewExecuteHandler(s.gateway, s.logger)
	historyHandler := handler.NewHistoryHandler(service.NewHistoryService(s.db, s.logger), s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.HandleHealth)

		r.Route("/code", func(r chi.Router) {
			r.With(s.limiter.Middleware).Post("/execute", executeHandler.HandleExecute)
			r.Get("/languages", handler.HandleLanguages)
			r.Get("/executions", historyHandler.HandleList)
			r.Get("/executions/{id}", historyHandler.HandleGet)
		})
	})

	s.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish; a running session ends at its
//     own deadline, so the write timeout bounds the wait
//  3. Close the sandbox (kills warm workers) and the database
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	s.limiter.StartCleanup(time.Minute, 10*time.Minute)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("sandbox", s.config.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout())
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Close releases the sandbox, the limiter, and the database. It is safe to
// call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.limiter.Stop()
		s.closeErr = errors.Join(s.sandbox.Close(), s.db.Close())
	})
	return s.closeErr
}
