package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// ReadyFunc reports whether the gateway is ready to serve decisions,
// typically wired to "has at least one full policy sync completed".
type ReadyFunc func() bool

// Server exposes /healthz (liveness) and /readyz (readiness) probes.
type Server struct {
	port   int
	ready  ReadyFunc
	server *http.Server
}

// New creates a health server on the given port. A nil ready func makes
// /readyz always succeed.
func New(port int, ready ReadyFunc) *Server {
	return &Server{
		port:  port,
		ready: ready,
	}
}

// Start runs the health server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context, logger *logrus.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.ready != nil && !s.ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("policies not yet synced"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("health server shutdown error: %v", err)
		}
	}()

	logger.Infof("health probe server listening on :%d", s.port)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server failed: %w", err)
	}

	return nil
}
