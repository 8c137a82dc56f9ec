package app

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/aesdsocket/pkg/log"
)

// TerminationSignals are the signals that request a cooperative stop.
var TerminationSignals = []os.Signal{unix.SIGINT, unix.SIGTERM}

// Coordinator turns termination requests into the process-wide stop flag.
//
// The flag starts false, is set at most once and is never reset. Signal
// delivery only feeds a channel; the watcher goroutine sets the flag and
// closes Done, so no work happens in the delivery path itself.
type Coordinator struct {
	stopping atomic.Bool
	once     sync.Once
	done     chan struct{}

	mu      sync.Mutex
	sigCh   chan os.Signal
	closed  chan struct{}
	closing sync.Once

	logger log.Logger
}

// NewCoordinator returns a coordinator in the running state.
func NewCoordinator(logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Coordinator{
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// Notify subscribes to sigs (TerminationSignals when empty) and starts
// watching them. It also ignores SIGPIPE so that a client vanishing
// during a send cannot kill the process.
func (c *Coordinator) Notify(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = TerminationSignals
	}
	IgnoreBrokenPipe()

	c.mu.Lock()
	if c.sigCh == nil {
		c.sigCh = make(chan os.Signal, 1)
	}
	ch := c.sigCh
	c.mu.Unlock()

	signal.Notify(ch, sigs...)
	go c.Watch(ch)
}

// Watch triggers the stop on every signal received from sigCh until the
// channel is closed or Close is called. Repeated signals are no-ops.
func (c *Coordinator) Watch(sigCh <-chan os.Signal) {
	for {
		select {
		case <-c.closed:
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			if c.Trigger("signal " + sig.String()) {
				c.logger.Info("Caught signal, exiting", log.String("signal", sig.String()))
			} else {
				c.logger.Debug("already stopping, signal ignored", log.String("signal", sig.String()))
			}
		}
	}
}

// Trigger sets the stop flag. Only the first call has an effect; it
// returns true for that call and false for every later one.
func (c *Coordinator) Trigger(reason string) bool {
	if !c.stopping.CompareAndSwap(false, true) {
		return false
	}
	c.once.Do(func() { close(c.done) })
	c.logger.Debug("stop requested", log.String("reason", reason))
	return true
}

// Stopping reports whether a stop has been requested.
func (c *Coordinator) Stopping() bool {
	return c.stopping.Load()
}

// Done is closed when a stop has been requested.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Close unsubscribes from signals and ends the watcher. It does not
// reset the stop flag.
func (c *Coordinator) Close() {
	c.closing.Do(func() {
		c.mu.Lock()
		if c.sigCh != nil {
			signal.Stop(c.sigCh)
		}
		c.mu.Unlock()
		close(c.closed)
	})
}

// IgnoreBrokenPipe ignores SIGPIPE for the whole process.
func IgnoreBrokenPipe() {
	signal.Ignore(unix.SIGPIPE)
}
