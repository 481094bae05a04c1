package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mkarls/showcased/telemetry"
)

// Server exposes metrics and health over HTTP
type Server struct {
	daemon *Daemon
	http   *http.Server
}

// NewServer builds the HTTP server for the given listen address
func NewServer(addr string, d *Daemon) *Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", d.handleHealth)
	mux.HandleFunc("/-/ready", d.handleReady)

	return &Server{
		daemon: d,
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func metricsHandler() http.Handler {
	if telemetry.PrometheusRegistry != nil {
		return promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// Run serves until the listener fails or Shutdown is called
func (s *Server) Run() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Health())
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !d.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
