package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/FLClab/TiffWrapper/internal/backend"
	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/model"
	"github.com/FLClab/TiffWrapper/internal/runtimelog"
	"github.com/FLClab/TiffWrapper/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Bridge is the part of the bridge handle the HTTP surface uses.
type Bridge interface {
	Read(ctx context.Context, path string) (model.ImageBundle, error)
	GetMetadata(ctx context.Context, path string) (model.MetadataBundle, error)
	Status() bridge.Status
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	store    store.Store
	registry *backend.Registry
	bridge   Bridge
	output   *runtimelog.Broker
	logger   *slog.Logger
	addr     string
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, s store.Store, reg *backend.Registry, b Bridge, output *runtimelog.Broker, logger *slog.Logger) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		store:    s,
		registry: reg,
		bridge:   b,
		output:   output,
		logger:   logger,
		addr:     addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/backends", s.handleListBackends)
	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Post("/v1/read", s.handleRead)
	s.router.Post("/v1/metadata", s.handleMetadata)

	s.router.Route("/v1/runtime", func(r chi.Router) {
		r.Get("/", s.handleRuntimeStatus)
		r.Get("/logs", s.handleStreamRuntimeLogs)
		r.Get("/logs/history", s.handleGetRuntimeLogHistory)
	})

	s.router.Route("/v1/calls", func(r chi.Router) {
		r.Get("/", s.handleListCalls)
		r.Get("/{id}", s.handleGetCall)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until ctx is done, then shuts the
// server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", context.Cause(ctx).Error())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
