package aesdsocket

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/aesdsocket/internal/app"
	"github.com/bft-labs/aesdsocket/internal/domain"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.BindAddr = "127.0.0.1"
	cfg.Port = 0 // Validate rejects it; Run does not check.
	cfg.DataFile = filepath.Join(t.TempDir(), "aesdsocketdata")
	cfg.GracePeriod = 200 * time.Millisecond
	cfg.SyncWrites = false
	return cfg
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg, nil, WithStartedHook(func(a net.Addr) { addrCh <- a }))
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start")
	}

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, len("hello\n"))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(buf))

	_, err = os.Stat(cfg.DataFile)
	require.NoError(t, err, "data file exists while serving")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, err = os.Stat(cfg.DataFile)
	assert.True(t, os.IsNotExist(err), "data file removed on shutdown")
}

func TestRunStopsOnCoordinator(t *testing.T) {
	cfg := testConfig(t)
	coord := app.NewCoordinator(nil)

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(context.Background(), cfg, nil,
			WithCoordinator(coord),
			WithStartedHook(func(net.Addr) { close(started) }),
		)
	}()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start")
	}
	coord.Trigger("test")

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after stop request")
	}
}

func TestRunBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Port = busy.Addr().(*net.TCPAddr).Port

	err = Run(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, domain.ErrBind)

	_, statErr := os.Stat(cfg.DataFile)
	assert.True(t, os.IsNotExist(statErr), "data file is not created when bind fails")
}

func TestSecondInstanceLeavesRunningLogIntact(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg, nil, WithStartedHook(func(a net.Addr) { addrCh <- a }))
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-errCh:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start")
	}

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	exchange(t, conn, "hello\n", "hello\n")

	second := cfg
	second.Port = addr.(*net.TCPAddr).Port
	err = Run(context.Background(), second, nil)
	require.ErrorIs(t, err, domain.ErrBind)

	onDisk, err := os.ReadFile(cfg.DataFile)
	require.NoError(t, err, "running server's data file must survive")
	assert.Equal(t, "hello\n", string(onDisk))

	exchange(t, conn, "world\n", "hello\nworld\n")

	cancel()
	require.NoError(t, <-errCh)
}

func exchange(t *testing.T, conn net.Conn, msg, want string) {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, len(want))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))
}

func TestRunWithListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := testConfig(t)
	coord := app.NewCoordinator(nil)

	addrCh := make(chan net.Addr, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(context.Background(), cfg, nil,
			WithListener(ln),
			WithCoordinator(coord),
			WithStartedHook(func(a net.Addr) { addrCh <- a }),
		)
	}()

	select {
	case addr := <-addrCh:
		assert.Equal(t, ln.Addr().String(), addr.String())
	case <-time.After(3 * time.Second):
		t.Fatal("server did not start")
	}
	coord.Trigger("test")
	require.NoError(t, <-errCh)
}

func TestRunBadDataFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.DataFile = filepath.Join(t.TempDir(), "missing", "aesdsocketdata")
	err := Run(context.Background(), cfg, nil)
	assert.Error(t, err)
}
