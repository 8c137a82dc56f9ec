package server

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bft-labs/aesdsocket/internal/domain"
)

// Listen binds a TCP listener on addr with SO_REUSEADDR set.
// Failures are returned as *domain.SetupError.
func Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddr}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, &domain.SetupError{Op: setupOp(err), Addr: addr, Err: err}
	}
	return ln, nil
}

// FileListener adopts a listening socket inherited as file descriptor fd.
func FileListener(fd uintptr) (net.Listener, error) {
	f := os.NewFile(fd, "aesdsocket-listener")
	if f == nil {
		return nil, &domain.SetupError{Op: "inherit", Addr: "fd", Err: os.ErrInvalid}
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, &domain.SetupError{Op: "inherit", Addr: f.Name(), Err: err}
	}
	return ln, nil
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	if serr != nil {
		return os.NewSyscallError("setsockopt", serr)
	}
	return nil
}

// setupOp names the step of socket setup that failed.
func setupOp(err error) string {
	if errors.Is(err, unix.EADDRINUSE) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EADDRNOTAVAIL) {
		return "bind"
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return sysErr.Syscall
	}
	return "listen"
}

// isTransientAcceptError reports whether an accept failure is worth retrying.
func isTransientAcceptError(err error) bool {
	for _, errno := range []unix.Errno{
		unix.EINTR,
		unix.EAGAIN,
		unix.ECONNABORTED,
		unix.ECONNRESET,
		unix.EPROTO,
		unix.EMFILE,
		unix.ENFILE,
		unix.ENOBUFS,
		unix.ENOMEM,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
