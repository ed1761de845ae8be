// Package dashboard serves the vessel dashboard over HTTP: JSON views of the
// cached data, the job monitor, image upload and a websocket stream of job
// events.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/aritana/internal/app"
)

const (
	defaultUploadLimit = 10
	shutdownTimeout    = 10 * time.Second
	eventBuffer        = 64
)

// Server is the dashboard HTTP server.
type Server struct {
	app    *app.App
	hub    *Hub
	logger *slog.Logger

	origins     []string
	uploadLimit int

	upgrader websocket.Upgrader
	router   chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origins. Patterns may contain one "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithUploadLimit sets how many uploads and refreshes one client IP may
// make per minute.
func WithUploadLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.uploadLimit = perMinute
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server over the shared components in a.
func New(a *app.App, opts ...Option) *Server {
	s := &Server{
		app:         a,
		logger:      slog.Default(),
		uploadLimit: defaultUploadLimit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin and CLI clients only reach this through the local port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger.With("component", "hub"))
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(chimiddleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Get("/ws", s.handleWebsocket)
	r.Get("/debug/stats", s.handleStats)

	r.Route("/api", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Get("/summary", s.handleSummary)
		r.Get("/markers", s.handleMarkers)
		r.Get("/vessels/{id}", s.handleVessel)

		r.Get("/jobs", s.handleJobs)
		r.Get("/jobs/{id}", s.handleJob)
		r.Delete("/jobs/{id}", s.handleRemoveJob)

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(s.uploadLimit, time.Minute))
			r.Post("/refresh", s.handleRefresh)
			r.Post("/upload", s.handleUpload)
		})
	})

	return r
}

// Handler returns the HTTP handler. Start must be running for /ws clients
// to receive events.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the websocket hub and forwards monitor events to it until ctx
// is done.
func (s *Server) Start(ctx context.Context) {
	events, unsubscribe := s.app.Monitor.Subscribe(eventBuffer)
	go s.hub.Run(ctx)
	go func() {
		defer unsubscribe()
		s.hub.Forward(ctx, events)
	}()
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.Start(ctx)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second, // uploads are forwarded upstream
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// requestID propagates X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimiddleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(chimiddleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimiddleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
