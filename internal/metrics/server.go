package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds metrics server configuration.
type Config struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled,omitempty"`
	Host    string `mapstructure:"host" json:"host,omitempty"`
	Port    int    `mapstructure:"port" json:"port,omitempty"`
	Token   string `mapstructure:"token" json:"token,omitempty"`
}

// DefaultConfig returns default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Host:    "0.0.0.0",
		Port:    9090,
	}
}

// Server exposes the metrics registry over HTTP, separate from the API
// listener so scraping never competes with decision traffic.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

func bearerAuthMiddleware(handler http.Handler, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		providedToken := strings.TrimPrefix(authHeader, "Bearer ")
		if providedToken != token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

// NewServer creates a metrics server serving the given registry.
func NewServer(cfg Config, logger *logrus.Logger, registry *Registry) *Server {
	mux := http.NewServeMux()

	metricsHandler := registry.Handler()
	if cfg.Token != "" {
		metricsHandler = bearerAuthMiddleware(metricsHandler, cfg.Token)
		logger.Info("Metrics endpoint authentication enabled")
	}
	mux.Handle("/metrics", metricsHandler)

	port := cfg.Port
	if port <= 0 {
		port = DefaultConfig().Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return &Server{
		server: server,
		logger: logger,
	}
}

// Start starts the metrics server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("Starting metrics server on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Metrics server failed to start: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down metrics server")
	return s.server.Shutdown(ctx)
}
