package supervisor

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"

	"github.com/nerrad567/fm-presence/internal/presence"
)

// Runner is anything with a blocking Run, such as presence.Service,
// beacon.Beacon or metrics.Server.
type Runner interface {
	Run(ctx context.Context) error
}

// TrackerService supervises the presence tracker.
//
// Broker failures are restarted with suture's backoff. A device store
// failure (presence.ErrPersistence) terminates the whole tree: the store
// is the source of truth and running without it would answer heartbeats
// wrongly.
type TrackerService struct {
	runner Runner
	tree   *Tree
}

// NewTrackerService wraps a tracker runner, normally a *presence.Service.
func NewTrackerService(runner Runner) *TrackerService {
	return &TrackerService{runner: runner}
}

// Serve implements suture.Service.
func (s *TrackerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if errors.Is(err, presence.ErrPersistence) {
		if s.tree != nil {
			s.tree.setFatal(err)
		}
		return suture.ErrTerminateSupervisorTree
	}
	if err == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// String implements fmt.Stringer for suture's logs.
func (s *TrackerService) String() string {
	return "presence-tracker"
}

// RunnerService supervises a Runner that is restarted on every failure.
type RunnerService struct {
	name   string
	runner Runner
}

// NewRunnerService wraps runner under the given name.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{name: name, runner: runner}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for suture's logs.
func (s *RunnerService) String() string {
	return s.name
}
