// Package api is the worker's admin HTTP surface: health checks, metrics, build info, solver
// telemetry and the job event stream.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"routeworker/internal/events"
	"routeworker/internal/logging"
	"routeworker/internal/metrics"
	"routeworker/internal/opt"
	"routeworker/internal/store"
)

// Pinger is implemented by the queue and store backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	Store  store.Store
	Broker events.EventBroker
	Runs   *opt.Registry
	Solver opt.Config
	// Queue, when set, must answer Ping for /readyz to pass.
	Queue Pinger
	// Config is served by /version; pass a redacted copy.
	Config any
	Log    *logging.Logger
}

// Routes builds the admin mux wrapped in the request log and metrics middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/version", s.VersionHandler)

	// Admin
	mux.HandleFunc("/v1/admin/solver/config", s.SolverConfigHandler)
	mux.HandleFunc("/v1/admin/solve-metrics", s.SolveMetricsHandler)
	mux.HandleFunc("/v1/admin/solve-runs", s.SolveRunsHandler)
	mux.HandleFunc("/v1/admin/solve-runs/", s.SolveRunByIDHandler)

	// Job lifecycle stream
	mux.HandleFunc("/v1/events/ws", s.EventsWSHandler)

	return s.instrument(mux)
}

// NewHTTPServer returns the admin listener for addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for websocket upgrades.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		path := routeLabel(r.URL.Path)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(dur.Seconds())
		s.log().DebugContext(r.Context(), "HTTP request", "remote", r.RemoteAddr, "method", r.Method, "path", r.URL.Path, "status", rec.status, "durationMs", dur.Milliseconds())
	})
}

// routeLabel keeps the path label bounded.
func routeLabel(p string) string {
	if strings.HasPrefix(p, "/v1/admin/solve-runs/") {
		return "/v1/admin/solve-runs/{id}"
	}
	switch p {
	case "/healthz", "/readyz", "/metrics", "/version", "/v1/admin/solver/config", "/v1/admin/solve-metrics", "/v1/admin/solve-runs", "/v1/events/ws":
		return p
	}
	return "other"
}

func (s *Server) log() *logging.Logger {
	if s.Log == nil {
		return logging.Nop()
	}
	return s.Log
}
