// Package aesdsocket runs a TCP server that appends newline-terminated
// messages from any client to a shared log file and answers every message
// with the full content of that file.
//
// Example usage:
//
//	cfg := aesdsocket.DefaultConfig()
//	cfg.Port = 9000
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := aesdsocket.Run(ctx, cfg, nil); err != nil {
//	    log.Fatal(err)
//	}
package aesdsocket

import (
	"context"
	"net"
	"os"

	"github.com/bft-labs/aesdsocket/internal/app"
	"github.com/bft-labs/aesdsocket/internal/cliconfig"
	"github.com/bft-labs/aesdsocket/internal/server"
	"github.com/bft-labs/aesdsocket/pkg/log"
	"github.com/bft-labs/aesdsocket/pkg/logstore"
)

// Config holds the server configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = cliconfig.Config

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return cliconfig.DefaultConfig()
}

// Option configures optional behavior of Run.
type Option func(*options)

type options struct {
	ln       net.Listener
	coord    *app.Coordinator
	observer app.EventEmitter
	started  func(net.Addr)
}

// WithListener serves on an already bound listener, e.g. one inherited
// from the foreground process after detaching.
func WithListener(ln net.Listener) Option {
	return func(o *options) { o.ln = ln }
}

// WithCoordinator uses coord to request the stop. Callers that subscribe
// coord to signals get the usual SIGINT/SIGTERM behavior.
func WithCoordinator(coord *app.Coordinator) Option {
	return func(o *options) { o.coord = coord }
}

// WithStateObserver reports server lifecycle transitions.
func WithStateObserver(observer app.EventEmitter) Option {
	return func(o *options) { o.observer = observer }
}

// WithStartedHook is called with the listening address once the server
// accepts connections.
func WithStartedHook(fn func(net.Addr)) Option {
	return func(o *options) { o.started = fn }
}

// Run binds the listener, opens the log file and serves until ctx is
// cancelled or the coordinator requests a stop. It then shuts down and
// removes the log file. cfg must already be validated.
func Run(ctx context.Context, cfg Config, logger log.Logger, opts ...Option) error {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.coord == nil {
		o.coord = app.NewCoordinator(logger)
	}

	// Bind before touching the data file: a second instance on a busy port
	// must fail without truncating or removing the running server's log.
	ln := o.ln
	if ln == nil {
		var err error
		if ln, err = server.Listen(ctx, cfg.Addr()); err != nil {
			return err
		}
	}

	store, err := logstore.Open(cfg.DataFile, logstore.Options{Sync: cfg.SyncWrites})
	if err != nil {
		ln.Close()
		return err
	}

	srvOpts := []server.Option{server.WithListener(ln)}
	if o.observer != nil {
		srvOpts = append(srvOpts, server.WithStateObserver(o.observer))
	}

	srv := server.New(server.Config{
		Addr:          cfg.Addr(),
		GracePeriod:   cfg.GracePeriod,
		MaxConns:      cfg.MaxConns,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}, store, o.coord, logger, srvOpts...)

	if err := srv.Start(ctx); err != nil {
		ln.Close()
		if rerr := store.Remove(); rerr != nil {
			logger.Warn("failed to remove data file", log.Err(rerr))
		}
		return err
	}

	logger.Info("aesdsocket started",
		log.Addr("addr", srv.Addr()),
		log.String("data_file", cfg.DataFile),
		log.Int("pid", os.Getpid()),
	)
	if o.started != nil {
		o.started(srv.Addr())
	}

	// Start forwards ctx cancellation to the coordinator.
	<-o.coord.Done()
	return srv.Stop()
}
