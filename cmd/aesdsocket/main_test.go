package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/aesdsocket/internal/domain"
)

func TestFlags(t *testing.T) {
	cmd := newRootCmd()
	flags := cmd.Flags()

	for _, name := range []string{
		"config", "port", "bind", "data-file", "daemon", "grace-period",
		"max-conns", "max-frame-bytes", "sync", "log-level", "log-format", "log-file",
	} {
		assert.NotNil(t, flags.Lookup(name), name)
	}
	assert.NotNil(t, flags.ShorthandLookup("d"))
}

func TestInvalidConfigFails(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", "", "--port", "0"})
	t.Setenv("HOME", t.TempDir())

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", t.TempDir() + "/absent.toml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not found"), err.Error())
}

func TestRejectsPositionalArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}

func TestInheritedListenFD(t *testing.T) {
	t.Setenv(listenFDEnv, "3")
	fd, ok, err := inheritedListenFD()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uintptr(3), fd)

	_, ok, err = inheritedListenFD()
	require.NoError(t, err)
	assert.False(t, ok, "variable is consumed")

	t.Setenv(listenFDEnv, "stdin")
	_, _, err = inheritedListenFD()
	assert.Error(t, err)
}
