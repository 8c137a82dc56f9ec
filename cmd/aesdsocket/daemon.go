package main

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

// listenFDEnv tells a detached child which descriptor holds the listener.
const listenFDEnv = "AESDSOCKET_LISTEN_FD"

// inheritedFD is where the first entry of exec.Cmd.ExtraFiles lands.
const inheritedFD = 3

// inheritedListenFD reports whether this process was started by detach.
func inheritedListenFD() (uintptr, bool, error) {
	v, ok := os.LookupEnv(listenFDEnv)
	if !ok {
		return 0, false, nil
	}
	os.Unsetenv(listenFDEnv)

	fd, err := strconv.Atoi(v)
	if err != nil || fd < inheritedFD {
		return 0, false, fmt.Errorf("invalid %s=%q", listenFDEnv, v)
	}
	return uintptr(fd), true, nil
}

// detach re-executes the binary in a new session with ln passed down as an
// inherited descriptor and standard streams on /dev/null. The caller's copy
// of the listener is closed once the child owns it.
func detach(ln net.Listener) (int, error) {
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return 0, fmt.Errorf("detach: unsupported listener %T", ln)
	}
	defer tl.Close()

	f, err := tl.File()
	if err != nil {
		return 0, fmt.Errorf("detach: %w", err)
	}
	defer f.Close()

	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("detach: %w", err)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("detach: %w", err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), listenFDEnv+"="+strconv.Itoa(inheritedFD))
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.ExtraFiles = []*os.File{f}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("detach: start child: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("detach: %w", err)
	}
	return pid, nil
}
