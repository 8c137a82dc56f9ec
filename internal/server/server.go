package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"

	"github.com/bft-labs/aesdsocket/internal/app"
	"github.com/bft-labs/aesdsocket/internal/domain"
	"github.com/bft-labs/aesdsocket/pkg/log"
)

// forceCloseTimeout bounds the wait for handlers after their connections
// have been closed at the end of the grace period.
const forceCloseTimeout = 2 * time.Second

// DefaultReadBufferSize is the size of a handler's read chunk.
const DefaultReadBufferSize = 4096

// Accept failures under descriptor exhaustion repeat every backoff step;
// at most acceptLogBurst of them are logged per second.
const acceptLogBurst = 5

// LogStore is the shared log the handlers append to and echo from.
// *logstore.Store satisfies it.
type LogStore interface {
	Append(p []byte) error
	ReadAll() ([]byte, error)
	Reset() error
	Remove() error
}

// Config holds the server settings.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":9000".
	Addr string

	// GracePeriod is how long Stop lets handlers finish before closing
	// their connections.
	GracePeriod time.Duration

	// MaxConns caps concurrently served connections. Zero means unbounded.
	MaxConns int

	// MaxFrameBytes caps the size of one frame. Zero means unbounded.
	MaxFrameBytes int

	// ReadBufferSize is the per-read chunk size.
	ReadBufferSize int
}

// Option configures optional behavior of a Server.
type Option func(*Server)

// WithListener makes the server accept on ln instead of binding Config.Addr.
// Used to adopt a socket inherited from a parent process.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.ln = ln
	}
}

// WithStateObserver registers an observer for lifecycle transitions.
func WithStateObserver(emitter app.EventEmitter) Option {
	return func(s *Server) {
		s.emitter = emitter
	}
}

// Server accepts TCP connections and runs one handler goroutine per
// connection. Every handler appends complete frames to the shared store and
// echoes the store's full content back to its client.
type Server struct {
	cfg       Config
	store     LogStore
	coord     *app.Coordinator
	lifecycle *app.Lifecycle
	emitter   app.EventEmitter
	logger    log.Logger

	mu        sync.Mutex
	ln        net.Listener
	lnClosed  bool
	conns     map[uint64]net.Conn
	serveDone chan struct{}
	serveErr  error

	connSeq   atomic.Uint64
	acceptLog *rate.Limiter
}

// New creates a server in StateStopped. The server takes ownership of
// store: Stop resets and removes it.
func New(cfg Config, store LogStore, coord *app.Coordinator, logger log.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if coord == nil {
		coord = app.NewCoordinator(logger)
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = app.DefaultGracePeriod
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		coord:  coord,
		logger: logger,
		conns:  make(map[uint64]net.Conn),

		acceptLog: rate.NewLimiter(rate.Every(time.Second/acceptLogBurst), acceptLogBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = app.NewLifecycle(logger, s.emitter)
	return s
}

// Listen binds Config.Addr unless a listener was already provided.
func (s *Server) Listen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenLocked(ctx)
}

func (s *Server) listenLocked(ctx context.Context) error {
	if s.ln != nil {
		return nil
	}
	ln, err := Listen(ctx, s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

// Start binds (if needed) and runs the accept loop in the background.
// Cancelling ctx requests a stop, as does a termination signal delivered
// to the coordinator; Stop must still be called to tear the server down.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if s.coord.Stopping() {
		return domain.ErrStopRequested
	}
	if err := s.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	if err := s.listenLocked(ctx); err != nil {
		_ = s.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		return err
	}
	if s.cfg.MaxConns > 0 {
		s.ln = netutil.LimitListener(s.ln, s.cfg.MaxConns)
	}
	s.lnClosed = false
	s.serveErr = nil
	s.serveDone = make(chan struct{})

	if err := s.lifecycle.TransitionTo(app.StateRunning, "listening"); err != nil {
		return err
	}
	s.logger.Info("server listening",
		log.Addr("addr", s.ln.Addr()),
		log.Int("max_conns", s.cfg.MaxConns),
	)

	ln, done := s.ln, s.serveDone
	go func() {
		err := s.Serve(ln)
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
		close(done)
		if err != nil {
			s.logger.Error("accept loop stopped", log.Err(err))
			s.coord.Trigger("accept loop failed")
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			s.coord.Trigger("context canceled")
		case <-s.coord.Done():
		case <-done:
			return
		}
		s.closeListener()
	}()

	return nil
}

// Serve accepts connections on ln until the stop flag is set or a
// non-transient error occurs. Each accepted connection is handed to its
// own handler goroutine in acceptance order.
func (s *Server) Serve(ln net.Listener) error {
	backoff := app.NewBackoff(app.DefaultBackoffInitial, app.DefaultBackoffMax)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.coord.Stopping() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isTransientAcceptError(err) {
				if s.acceptLog.Allow() {
					s.logger.Warn("accept failed, retrying",
						log.Err(err),
						log.Duration("delay", backoff.Current()),
					)
				}
				if !backoff.Wait(s.coord.Done()) {
					return nil
				}
				continue
			}
			return fmt.Errorf("%w: %w", domain.ErrAccept, err)
		}
		backoff.Reset()
		s.dispatch(conn)
	}
}

func (s *Server) dispatch(conn net.Conn) {
	id := s.connSeq.Add(1)
	s.lifecycle.AddWorker()

	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()

	go s.handle(id, conn)
}

func (s *Server) untrack(id uint64) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// Stop moves the server through Stopping to Stopped. It closes the
// listener, gives handlers GracePeriod to finish their current frame,
// closes whatever connections remain and then resets and removes the store.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.lifecycle.CanStop() {
		s.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := s.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		s.mu.Unlock()
		return err
	}
	done := s.serveDone
	s.mu.Unlock()

	s.coord.Trigger("Stop() called")
	s.closeListener()
	if done != nil {
		<-done
	}

	var errs []error
	if err := s.lifecycle.WaitWithTimeout(s.cfg.GracePeriod); err != nil {
		n := s.closeConnections()
		s.logger.Warn("closed connections still open after grace period", log.Int("connections", n))
		if err := s.lifecycle.WaitWithTimeout(forceCloseTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.store.Reset(); err != nil {
		errs = append(errs, fmt.Errorf("%w: reset: %w", domain.ErrStoreIO, err))
	}
	if err := s.store.Remove(); err != nil {
		errs = append(errs, fmt.Errorf("%w: remove: %w", domain.ErrStoreIO, err))
	}
	if err := s.Err(); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		_ = s.lifecycle.TransitionTo(app.StateCrashed, err.Error())
		return err
	}
	_ = s.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeListener() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil || s.lnClosed {
		return
	}
	s.lnClosed = true
	if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("error closing listener", log.Err(err))
	}
}

// closeConnections closes every tracked connection, unblocking handlers
// stuck in a read. The accept loop has exited by the time it is called.
func (s *Server) closeConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.conns {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("error closing connection", log.Uint64("conn", id), log.Err(err))
		}
	}
	return len(s.conns)
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Status returns the current lifecycle state.
func (s *Server) Status() app.State {
	return s.lifecycle.State()
}

// ActiveConnections returns the number of live connection handlers.
func (s *Server) ActiveConnections() int {
	return s.lifecycle.Workers()
}

// Done is closed when the accept loop has exited.
// It returns nil before Start.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveDone
}

// Err returns the error that ended the accept loop, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}
