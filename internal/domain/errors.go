package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions of the server.
// They are returned wrapped and can be checked with errors.Is.
var (
	// ErrBind is returned when the listening port cannot be bound.
	ErrBind = errors.New("aesdsocket: bind failed")

	// ErrSocket is returned for socket setup failures other than bind.
	ErrSocket = errors.New("aesdsocket: socket setup failed")

	// ErrAccept is returned when the accept loop stops on a non-transient error.
	ErrAccept = errors.New("aesdsocket: accept failed")

	// ErrConnectionIO marks a read or write failure on a client connection.
	ErrConnectionIO = errors.New("aesdsocket: connection i/o")

	// ErrStoreIO marks a failed append or read against the log store.
	ErrStoreIO = errors.New("aesdsocket: store i/o")

	// ErrFrameTooLarge is returned when a client frame exceeds the configured limit.
	ErrFrameTooLarge = errors.New("aesdsocket: frame too large")

	// ErrAlreadyRunning is returned when Start() is called on a running server.
	ErrAlreadyRunning = errors.New("aesdsocket: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped server.
	ErrNotRunning = errors.New("aesdsocket: not running")

	// ErrStopRequested is returned by Start once a stop has been requested.
	ErrStopRequested = errors.New("aesdsocket: stop already requested")

	// ErrShutdownTimeout is returned when handlers outlive the grace period.
	ErrShutdownTimeout = errors.New("aesdsocket: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("aesdsocket: invalid configuration")
)

// SetupError reports a failure to create, bind or listen on the server socket.
// It is fatal: the process exits non-zero before entering the accept loop.
type SetupError struct {
	Op   string // "socket", "bind", "listen" or "inherit"
	Addr string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

// Unwrap exposes both the cause and the ErrBind/ErrSocket class.
func (e *SetupError) Unwrap() []error {
	class := ErrSocket
	if e.Op == "bind" {
		class = ErrBind
	}
	return []error{class, e.Err}
}
