// Package app owns the process lifecycle: the state machine, the cleanup
// stack and the ops HTTP surface.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalrun/internal/errs"
)

// State is a lifecycle phase.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

type cleanup struct {
	name string
	fn   func() error
}

// Lifecycle is the process state machine. All transitions and reads go
// through one lock. Shutdown is idempotent from every state and always
// lands on stopped, even when individual cleanups fail.
type Lifecycle struct {
	mu       sync.Mutex
	state    State
	cleanups []cleanup
	fatal    chan error
}

// NewLifecycle starts in the stopped state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{fatal: make(chan error, 1)}
}

// State returns the current phase.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Starting moves stopped -> starting. Start is idempotent when the process
// is already starting or running.
func (l *Lifecycle) Starting() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateStopped:
		l.state = StateStarting
		return nil
	case StateStarting, StateRunning:
		return nil
	default:
		return errs.Tag(errs.KindFatal, "app.Starting", "cannot start while stopping")
	}
}

// Running moves starting -> running.
func (l *Lifecycle) Running() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStarting {
		return errs.Tag(errs.KindFatal, "app.Running", "not in starting state")
	}
	l.state = StateRunning
	log.Info().Msg("pipeline running")
	return nil
}

// Defer pushes a cleanup onto the stack; Shutdown runs them last-in
// first-out.
func (l *Lifecycle) Defer(name string, fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanups = append(l.cleanups, cleanup{name: name, fn: fn})
}

// Fail reports an unrecoverable error and requests shutdown. Only the
// first failure is retained.
func (l *Lifecycle) Fail(err error) {
	select {
	case l.fatal <- err:
	default:
	}
}

// Fatal yields the fatal-error channel; it receives at most one error.
func (l *Lifecycle) Fatal() <-chan error {
	return l.fatal
}

// Shutdown drives the process to stopped. Each cleanup runs with its own
// error isolation; the first error is returned but never stops the rest.
// Idempotent: shutting down a stopped process is a no-op.
func (l *Lifecycle) Shutdown() error {
	l.mu.Lock()
	if l.state == StateStopped || l.state == StateStopping {
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopping
	tasks := l.cleanups
	l.cleanups = nil
	l.mu.Unlock()

	var first error
	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		if err := runCleanup(t); err != nil {
			log.Error().Err(err).Str("cleanup", t.name).Msg("cleanup failed")
			if first == nil {
				first = err
			}
		}
	}

	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
	log.Info().Msg("pipeline stopped")
	return first
}

// runCleanup isolates panics so one bad cleanup cannot abort the rest of
// the shutdown sequence.
func runCleanup(t cleanup) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Tag(errs.KindFatal, "app.cleanup."+t.name, "cleanup panicked")
		}
	}()
	return t.fn()
}
