// Package health exposes the operator-facing HTTP surface: a liveness probe
// with pipeline vitals and, when enabled, the Prometheus scrape endpoint.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/metrics"
)

// Config describes the listen address.
type Config struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8844
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Status is the body returned by the liveness probe.
type Status struct {
	Status     string `json:"status"`
	DeviceID   string `json:"device_id"`
	SerialPort string `json:"serial_port"`
	QueueDepth int64  `json:"queue_depth"`
	InMemory   bool   `json:"queue_in_memory"`
	Version    string `json:"version"`
	UptimeSec  int64  `json:"uptime_seconds"`
}

// Vitals supplies the live values the probe reports.
type Vitals struct {
	DeviceID   string
	SerialPort string
	Version    string

	// QueueDepth returns the current pending job count.
	QueueDepth func(ctx context.Context) (int64, error)

	// QueueInMemory reports whether the queue is on the volatile fallback.
	QueueInMemory bool
}

// Server is the health/metrics HTTP server.
type Server struct {
	server       *http.Server
	config       Config
	started      time.Time
	shutdownOnce sync.Once
}

// NewServer creates a configured but not yet started server.
func NewServer(config Config, vitals Vitals) *Server {
	config.applyDefaults()

	s := &Server{config: config, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.healthz(vitals))

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.GetRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, "/healthz", http.StatusTemporaryRedirect)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) healthz(vitals Vitals) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status := Status{
			Status:     "ok",
			DeviceID:   vitals.DeviceID,
			SerialPort: vitals.SerialPort,
			InMemory:   vitals.QueueInMemory,
			Version:    vitals.Version,
			UptimeSec:  int64(time.Since(s.started).Seconds()),
		}
		if vitals.QueueDepth != nil {
			depth, err := vitals.QueueDepth(req.Context())
			if err != nil {
				status.Status = "degraded"
			} else {
				status.QueueDepth = depth
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("health server listening", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("health server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("health server shutdown error: %w", err)
		} else {
			logger.Info("health server stopped")
		}
	})
	return shutdownErr
}
