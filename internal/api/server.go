package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/aegisstack/aegis-detect/internal/config"
)

// Server wraps the HTTP API and its lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer constructs the HTTP server with all routes registered. When
// cfg.APIKey is set, the detection and reporting routes require a matching
// X-API-Key header; health and ping stay open for probes.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, service DetectionAPI) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{logger: logger, service: service}

	router := mux.NewRouter()
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/ping", h.ping).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(requireAPIKey(cfg.APIKey))
	apiRouter.HandleFunc("/detect-anomaly", h.detectAnomaly).Methods(http.MethodPost)
	apiRouter.HandleFunc("/detect-failure", h.detectFailure).Methods(http.MethodPost)
	apiRouter.HandleFunc("/metrics/predictions", h.predictions).Methods(http.MethodGet)
	apiRouter.HandleFunc("/metrics/stats", h.stats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/patterns", h.patterns).Methods(http.MethodGet)

	return &Server{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Start serves HTTP requests until Shutdown is invoked.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("address", s.cfg.Address))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until the context expires.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("http server shutdown", slog.Any("error", err))
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func requireAPIKey(key string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" {
				provided := r.Header.Get("X-API-Key")
				if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
					writeError(w, http.StatusUnauthorized, "invalid or missing API key")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
