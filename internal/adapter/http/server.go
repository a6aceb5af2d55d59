package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/weather-telemetry-api/internal/observability"
	"github.com/couchcryptid/weather-telemetry-api/internal/telemetry"
)

// Readiness combines checkers; the first failure wins.
type Readiness []sharedobs.ReadinessChecker

func (rs Readiness) CheckReadiness(ctx context.Context) error {
	for _, r := range rs {
		if err := r.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Server exposes the telemetry query API alongside health, readiness, and
// metrics endpoints.
type Server struct {
	httpServer *http.Server
	queries    Queries
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates the HTTP server and registers every route.
func NewServer(addr string, queries Queries, ready sharedobs.ReadinessChecker, metrics *observability.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      countRequests(metrics, mux),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		queries: queries,
		metrics: metrics,
		logger:  logger,
	}

	mux.HandleFunc("GET /{$}", s.handleWindow(telemetry.WindowRecent))
	for _, w := range telemetry.Windows {
		if w == telemetry.WindowRecent {
			continue
		}
		mux.HandleFunc("GET /"+string(w), s.handleWindow(w))
	}
	mux.HandleFunc("GET /on-date/{date}", s.handleOnDate)
	mux.HandleFunc("GET /on-timestamp/{timestamp}", s.handleOnTimestamp)
	mux.HandleFunc("GET /since/{timestamp}", s.handleSince)
	mux.HandleFunc("GET /latest", s.handleLatest)

	mux.HandleFunc("GET /devices", s.handleDevices)
	mux.HandleFunc("GET /gateways", s.handleListing(queries.Gateways))
	mux.HandleFunc("GET /applications", s.handleListing(queries.Applications))
	mux.HandleFunc("GET /devices/locations", s.handleDeviceCities)

	mux.HandleFunc("GET /device/{id}", s.handleDevicePoints)
	mux.HandleFunc("GET /device/{id}/latest", s.handleDeviceLatest)
	mux.HandleFunc("GET /device/{id}/average-temp", s.handleAverageTemp)
	mux.HandleFunc("GET /device/{id}/location", s.handleDeviceCity)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
