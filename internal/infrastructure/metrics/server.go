package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
)

const (
	defaultPath = "/metrics"

	// HealthPath serves the readiness report built from registered checks.
	HealthPath = "/healthz"

	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	checkTimeout      = 3 * time.Second
)

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// CheckFunc reports whether a dependency is healthy.
type CheckFunc func(ctx context.Context) error

// Server exposes Prometheus metrics and a health report over HTTP.
//
// Run may be called again after it returns; each call listens afresh.
type Server struct {
	addr    string
	handler http.Handler
	logger  Logger

	mu     sync.Mutex
	checks map[string]CheckFunc
	bound  net.Addr
}

// NewServer builds a Server for the metrics section of the config.
//
// Parameters:
//   - cfg: Metrics configuration
//   - gatherer: Registry to expose; prometheus.DefaultGatherer if nil
//   - logger: Request and panic logging; discarded if nil
//
// Returns:
//   - *Server: Server ready to Run
//   - error: ErrDisabled when metrics are disabled
func NewServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer, logger Logger) (*Server, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = noopLogger{}
	}

	path := cfg.Path
	if path == "" {
		path = defaultPath
	}

	s := &Server{
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		checks: make(map[string]CheckFunc),
		logger: logger,
	}
	s.handler = s.buildRouter(path, gatherer)

	return s, nil
}

// buildRouter creates the HTTP router with the scrape and health routes.
func (s *Server) buildRouter(path string, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Method(http.MethodGet, path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get(HealthPath, s.serveHealth)

	return r
}

// AddCheck registers a named health check. A later check with the same
// name replaces the earlier one.
func (s *Server) AddCheck(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Addr returns the bound address while Run is serving, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Run serves until ctx is cancelled.
//
// Returns:
//   - error: ErrListenFailed if the address cannot be bound, the serve
//     error if the server fails, ctx.Err() after a graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrListenFailed, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.mu.Lock()
	s.bound = ln.Addr()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.bound = nil
		s.mu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// healthReport is the JSON body of HealthPath.
type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	checks := make(map[string]CheckFunc, len(s.checks))
	for name, check := range s.checks {
		checks[name] = check
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	report := healthReport{Status: "ok", Checks: make(map[string]string, len(checks))}
	code := http.StatusOK
	for name, check := range checks {
		if err := check(ctx); err != nil {
			report.Checks[name] = err.Error()
			report.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		report.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report) //nolint:errcheck // Client may have gone away
}
