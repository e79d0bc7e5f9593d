package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fm-presence/internal/infrastructure/config"
)

// recordingLogger implements Logger for testing.
type recordingLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
	args   [][]any
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, msg)
	l.args = append(l.args, args)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func testConfig() config.MetricsConfig {
	return config.MetricsConfig{Enabled: true, Host: "127.0.0.1", Port: 0, Path: "/metrics"}
}

// startServer runs s in the background and returns its base URL.
func startServer(t *testing.T, s *Server) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	t.Cleanup(cancel)

	require.Eventually(t, func() bool { return s.Addr() != nil }, 5*time.Second, 10*time.Millisecond)
	return "http://" + s.Addr().String(), cancel, errCh
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec,noctx // Test URL
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // Test cleanup
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewServer_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := NewServer(cfg, nil, nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestServer_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fm_presence_test_total",
		Help: "Test counter",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	s, err := NewServer(testConfig(), reg, nil)
	require.NoError(t, err)
	base, _, _ := startServer(t, s)

	code, body := get(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "fm_presence_test_total 3")
}

func TestServer_Health(t *testing.T) {
	s, err := NewServer(testConfig(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	brokerErr := errors.New("broker: not connected")
	var brokerDown atomic.Bool
	s.AddCheck("database", func(context.Context) error { return nil })
	s.AddCheck("broker", func(context.Context) error {
		if brokerDown.Load() {
			return brokerErr
		}
		return nil
	})

	base, _, _ := startServer(t, s)

	code, body := get(t, base+HealthPath)
	assert.Equal(t, http.StatusOK, code)
	var report healthReport
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, "ok", report.Status)
	assert.Equal(t, map[string]string{"database": "ok", "broker": "ok"}, report.Checks)

	brokerDown.Store(true)
	code, body = get(t, base+HealthPath)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.Equal(t, "unhealthy", report.Status)
	assert.Equal(t, brokerErr.Error(), report.Checks["broker"])
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s, err := NewServer(testConfig(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	_, cancel, errCh := startServer(t, s)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Nil(t, s.Addr())
}

func TestServer_ListenFailed(t *testing.T) {
	first, err := NewServer(testConfig(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	startServer(t, first)

	cfg := testConfig()
	cfg.Port = first.Addr().(*net.TCPAddr).Port

	second, err := NewServer(cfg, prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	err = second.Run(context.Background())
	assert.ErrorIs(t, err, ErrListenFailed)
}

func TestServer_HealthRejectsOtherMethods(t *testing.T) {
	s, err := NewServer(testConfig(), prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, HealthPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_LogsRequests(t *testing.T) {
	logger := &recordingLogger{}
	s, err := NewServer(testConfig(), prometheus.NewRegistry(), logger)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, HealthPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Equal(t, []string{"http request"}, logger.infos)
	assert.Contains(t, logger.args[0], HealthPath)
	assert.Contains(t, logger.args[0], http.StatusOK)
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := &recordingLogger{}
	s := &Server{logger: logger}

	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("collector exploded")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"panic recovered in HTTP handler"}, logger.errors)
}
