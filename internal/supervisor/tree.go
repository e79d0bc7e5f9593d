package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the process supervisor.
//
//	fm-presence
//	├── presence tracker
//	└── edge
//	    ├── presence beacon
//	    └── metrics server
//
// The tracker sits directly under the root so a device store failure can
// end the whole tree. The edge services restart independently and never
// take the tracker down.
type Tree struct {
	root   *suture.Supervisor
	edge   *suture.Supervisor
	logger *slog.Logger

	mu    sync.Mutex
	fatal error
}

// NewTree creates a supervisor tree. Zero config values take defaults.
func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	// MustHook has a pointer receiver.
	handler := &sutureslog.Handler{Logger: logger}

	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("fm-presence", rootSpec)
	edge := suture.New("edge", childSpec)
	root.Add(edge)

	return &Tree{root: root, edge: edge, logger: logger}
}

// AddTracker adds the presence tracker under the root.
func (t *Tree) AddTracker(svc *TrackerService) suture.ServiceToken {
	svc.tree = t
	return t.root.Add(svc)
}

// AddEdgeService adds a service that may fail without affecting the tracker.
func (t *Tree) AddEdgeService(svc suture.Service) suture.ServiceToken {
	return t.edge.Add(svc)
}

// Serve runs the tree until ctx is cancelled or a fatal failure ends it.
//
// Returns:
//   - error: nil after ctx is cancelled, the fatal error that terminated
//     the tree otherwise
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)

	if fatal := t.Fatal(); fatal != nil {
		return fatal
	}
	if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())) {
		return nil
	}
	return err
}

// Fatal returns the error that terminated the tree, if any.
func (t *Tree) Fatal() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fatal
}

func (t *Tree) setFatal(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fatal == nil {
		t.fatal = err
	}
}

// UnstoppedServiceReport lists services that missed the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
