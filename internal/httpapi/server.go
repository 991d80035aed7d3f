// Package httpapi exposes the orchestrator's operational HTTP surface:
// a liveness/readiness probe at /healthz and a Prometheus scrape
// endpoint at /metrics. It owns nothing about backups themselves.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// shutdownTimeout bounds how long Run's shutdown waits for in-flight requests to
// drain before forcing the listener closed.
const shutdownTimeout = 30 * time.Second

// ReadinessFunc reports whether the orchestrator is ready to serve
// traffic; a non-nil error is surfaced as a 503 from /healthz.
type ReadinessFunc func(ctx context.Context) error

// Server is the orchestrator's small HTTP surface.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds a Server bound to addr, serving metrics from reg and
// liveness/readiness from ready. ready may be nil, in which case
// /healthz always reports healthy.
func New(addr string, reg *prometheus.Registry, ready ReadinessFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "httpapi")

	router := mux.NewRouter()
	router.HandleFunc("/healthz", healthHandler(ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func healthHandler(ready ReadinessFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			writeHealth(w, http.StatusOK, healthResponse{Status: "ok"})
			return
		}

		if err := ready(r.Context()); err != nil {
			writeHealth(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
			return
		}

		writeHealth(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

func writeHealth(w http.ResponseWriter, status int, body healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Run starts the server and blocks until ctx is canceled, then performs
// a graceful shutdown. It returns a non-nil error only if the listener
// fails to start or shutdown does not complete in time.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http api listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("http api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
