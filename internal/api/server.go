package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/hostdispatch/internal/dispatch"
	"github.com/mattjoyce/hostdispatch/internal/events"
	"github.com/mattjoyce/hostdispatch/internal/history"
	"github.com/mattjoyce/hostdispatch/internal/operation"
	"github.com/mattjoyce/hostdispatch/internal/result"
)

// Runner executes one dispatch and returns its id with the record.
type Runner interface {
	Dispatch(ctx context.Context, t dispatch.Target, req operation.Request) (string, result.Record)
}

// TargetResolver builds the target for a configured host name. ok is false
// for unknown hosts. The close func releases the host's connection.
type TargetResolver func(host string) (t dispatch.Target, closeFn func() error, ok bool)

// HistoryReader looks up recorded dispatches.
type HistoryReader interface {
	Get(ctx context.Context, id string) (*history.Entry, error)
	ListByHost(ctx context.Context, host string, limit int) ([]history.Entry, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the bearer token every protected route requires.
	APIKey string
	// MaxConcurrentDispatch bounds in-flight POST /dispatch requests.
	MaxConcurrentDispatch int
	// HostCount is reported by /healthz.
	HostCount int
	// KeepAlive is the SSE comment interval; zero means 15s.
	KeepAlive time.Duration
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	runner    Runner
	resolve   TargetResolver
	history   HistoryReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	inflight  chan struct{}
}

// New creates a new API server instance
func New(config Config, runner Runner, resolve TargetResolver, hist HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	if config.MaxConcurrentDispatch <= 0 {
		config.MaxConcurrentDispatch = 10
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		runner:    runner,
		resolve:   resolve,
		history:   hist,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
		inflight:  make(chan struct{}, config.MaxConcurrentDispatch),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Dispatches block until the variant finishes.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/openapi.json", s.handleOpenAPI)
		r.Post("/dispatch/{host}/{operation}", s.handleDispatch)
		r.Get("/history/{dispatchID}", s.handleGetDispatch)
		r.Get("/hosts/{host}/history", s.handleHostHistory)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
