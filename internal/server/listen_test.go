package server

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/bft-labs/aesdsocket/internal/domain"
)

func TestListenReuseAddr(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	raw, err := ln.(*net.TCPListener).SyscallConn()
	require.NoError(t, err)

	var opt int
	var optErr error
	require.NoError(t, raw.Control(func(fd uintptr) {
		opt, optErr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR)
	}))
	require.NoError(t, optErr)
	assert.Equal(t, 1, opt)
}

func TestListenBadAddress(t *testing.T) {
	_, err := Listen(context.Background(), "127.0.0.1:notaport")
	require.Error(t, err)

	var setupErr *domain.SetupError
	require.True(t, errors.As(err, &setupErr))
	assert.ErrorIs(t, err, domain.ErrSocket)
	assert.NotErrorIs(t, err, domain.ErrBind)
}

func TestFileListener(t *testing.T) {
	orig, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer orig.Close()

	f, err := orig.(*net.TCPListener).File()
	require.NoError(t, err)

	// FileListener takes ownership of the descriptor and closes it.
	ln, err := FileListener(f.Fd())
	require.NoError(t, err)
	defer ln.Close()
	assert.Equal(t, orig.Addr().String(), ln.Addr().String())

	go func() {
		if c, err := net.Dial("tcp", ln.Addr().String()); err == nil {
			c.Close()
		}
	}()
	conn, err := ln.Accept()
	require.NoError(t, err)
	conn.Close()
}

func TestFileListenerRejectsNonSocket(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notasocket")
	require.NoError(t, err)
	defer f.Close()

	fd, err := unix.Dup(int(f.Fd()))
	require.NoError(t, err)

	_, err = FileListener(uintptr(fd))
	assert.ErrorIs(t, err, domain.ErrSocket)
}

func TestTransientAcceptErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"aborted", &net.OpError{Op: "accept", Err: os.NewSyscallError("accept", unix.ECONNABORTED)}, true},
		{"fd exhaustion", &net.OpError{Op: "accept", Err: os.NewSyscallError("accept", unix.EMFILE)}, true},
		{"closed", net.ErrClosed, false},
		{"bad fd", &net.OpError{Op: "accept", Err: os.NewSyscallError("accept", unix.EBADF)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransientAcceptError(tt.err))
		})
	}
}
