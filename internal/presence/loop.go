package presence

import (
	"context"
	"sync"
	"time"
)

// loopBuffer is how many tasks may queue before submitters block.
const loopBuffer = 256

// task is a unit of work run on the event loop. A non-nil error ends the
// loop.
type task func(ctx context.Context) error

// eventLoop runs tasks one at a time on a single goroutine. Every registry
// access goes through it.
type eventLoop struct {
	tasks     chan task
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	runOnce   sync.Once

	mu  sync.Mutex
	err error
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		tasks: make(chan task, loopBuffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled, Close is called or a task
// fails. Returns the failing task's error or the error passed to Fail, nil
// otherwise.
func (l *eventLoop) Run(ctx context.Context) error {
	started := false
	l.runOnce.Do(func() { started = true })
	if !started {
		return ErrLoopClosed
	}
	defer close(l.done)

	for {
		// Quit takes priority over queued tasks.
		select {
		case <-l.quit:
			return l.failure()
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.quit:
			return l.failure()
		case t := <-l.tasks:
			if err := t(ctx); err != nil {
				return err
			}
		}
	}
}

// Submit queues t. Blocks while the queue is full.
func (l *eventLoop) Submit(t task) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	case <-l.quit:
		return ErrLoopClosed
	default:
	}

	select {
	case l.tasks <- t:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-l.quit:
		return ErrLoopClosed
	}
}

// Do runs fn on the loop and waits for its result. Unlike a submitted task,
// an error from fn is returned to the caller and does not end the loop.
func (l *eventLoop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	err := l.Submit(func(ctx context.Context) error {
		result <- fn(ctx)
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-l.done:
		// The loop may have run fn just before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrLoopClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallLater submits t after d. The returned timer can cancel the call if it
// has not fired yet.
func (l *eventLoop) CallLater(d time.Duration, t task) *time.Timer {
	return time.AfterFunc(d, func() {
		_ = l.Submit(t) //nolint:errcheck // loop already gone means nothing left to run
	})
}

// Fail stops the loop and makes Run return err. The first error wins.
func (l *eventLoop) Fail(err error) {
	l.mu.Lock()
	if l.err == nil {
		l.err = err
	}
	l.mu.Unlock()
	l.Close()
}

func (l *eventLoop) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops the loop after the task in progress, if any.
func (l *eventLoop) Close() {
	l.closeOnce.Do(func() { close(l.quit) })
}

// Done is closed once Run has returned.
func (l *eventLoop) Done() <-chan struct{} {
	return l.done
}
