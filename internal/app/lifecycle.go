package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/aesdsocket/internal/domain"
	"github.com/bft-labs/aesdsocket/pkg/log"
)

// DefaultGracePeriod bounds how long Stop waits for connection handlers.
const DefaultGracePeriod = 5 * time.Second

// State represents the lifecycle state of the server.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// EventEmitter is called when the lifecycle state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle is the server state machine. It also counts the connection
// handlers that are alive so shutdown can wait for them.
type Lifecycle struct {
	mu           sync.RWMutex
	state        State
	wg           sync.WaitGroup
	workers      atomic.Int64
	logger       log.Logger
	eventEmitter EventEmitter
}

// NewLifecycle creates a lifecycle in StateStopped.
func NewLifecycle(logger log.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:        StateStopped,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to newState or returns an error if the transition is
// not allowed from the current state:
//
//	Stopped  -> Starting
//	Starting -> Running, Stopping, Crashed
//	Running  -> Stopping, Crashed
//	Stopping -> Stopped, Crashed
//	Crashed  -> Starting
func (l *Lifecycle) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state

	var err error
	switch oldState {
	case StateStopped:
		if newState != StateStarting {
			err = domain.ErrNotRunning
		}
	case StateStarting:
		if newState != StateRunning && newState != StateStopping && newState != StateCrashed {
			err = domain.ErrAlreadyRunning
		}
	case StateRunning:
		if newState != StateStopping && newState != StateCrashed {
			err = domain.ErrAlreadyRunning
		}
	case StateStopping:
		if newState != StateStopped && newState != StateCrashed {
			err = domain.ErrAlreadyRunning
		}
	case StateCrashed:
		if newState != StateStarting {
			err = domain.ErrNotRunning
		}
	}
	if err != nil {
		l.mu.Unlock()
		return err
	}

	l.state = newState
	l.mu.Unlock()

	if l.eventEmitter != nil {
		l.eventEmitter.OnStateChange(oldState, newState, reason)
	}

	l.logger.Debug("state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	return nil
}

// CanStart reports whether the server may be started.
func (l *Lifecycle) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop reports whether the server may be stopped.
func (l *Lifecycle) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateRunning || l.state == StateStarting
}

// AddWorker registers a connection handler.
func (l *Lifecycle) AddWorker() {
	l.workers.Add(1)
	l.wg.Add(1)
}

// WorkerDone unregisters a connection handler.
func (l *Lifecycle) WorkerDone() {
	l.workers.Add(-1)
	l.wg.Done()
}

// Workers returns the number of registered handlers.
func (l *Lifecycle) Workers() int {
	return int(l.workers.Load())
}

// WaitWithTimeout waits for all handlers to finish.
// Returns ErrShutdownTimeout if they are still running after timeout.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-done:
		return nil
	case <-t.C:
		l.logger.Warn("handlers still running after grace period",
			log.Duration("timeout", timeout),
			log.Int("handlers", l.Workers()),
		)
		return domain.ErrShutdownTimeout
	}
}
