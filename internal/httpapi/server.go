// Package httpapi provides mediacored's introspection HTTP server:
// health, version, and prometheus metrics, routed with chi.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediacore/mediacore/internal/version"
)

// Server is the introspection HTTP server: /healthz, /metrics, /version,
// and a registry of active HSO/TSD instances for /streams.
type Server struct {
	cfg        Config
	router     *chi.Mux
	httpServer *http.Server
	logger     *slog.Logger
	version    string
	startTime  time.Time

	registry *streamRegistry
}

// Config collects the introspection server's bind settings (mirrors
// internal/config.ServerConfig, kept distinct so httpapi doesn't import
// internal/config directly).
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// NewServer builds a Server with its route table installed but not yet
// listening.
func NewServer(cfg Config, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
		registry:  newStreamRegistry(),
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(chimiddleware.Recoverer)

	router.Get("/healthz", s.handleHealth)
	router.Get("/version", s.handleVersion)
	router.Get("/streams", s.handleStreams)
	router.Handle("/metrics", promhttp.Handler())

	s.router = router
	return s
}

// Registry exposes the instance registry so cmd/mediacored can register
// HSO/TSD instances as they're opened.
func (s *Server) Registry() *streamRegistry { return s.registry }

// ListenAndServe starts the HTTP server, blocking until it exits or ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"version":        s.version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
