package cliconfig

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/aesdsocket/internal/domain"
	"github.com/bft-labs/aesdsocket/pkg/logstore"
)

// DefaultPort is the TCP port the server listens on.
const DefaultPort = 9000

// Log output formats.
const (
	LogFormatAuto    = "auto"
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config holds CLI configuration for aesdsocket.
type Config struct {
	Port     int
	BindAddr string
	DataFile string
	Daemon   bool

	GracePeriod   time.Duration
	MaxConns      int
	MaxFrameBytes int
	SyncWrites    bool

	LogLevel  string
	LogFormat string
	LogFile   string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Port:        DefaultPort,
		DataFile:    logstore.DefaultPath,
		GracePeriod: 5 * time.Second,
		SyncWrites:  true,
		LogLevel:    "info",
		LogFormat:   LogFormatAuto,
	}
}

// Addr returns the listen address built from BindAddr and Port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// Validate checks the configuration for errors and normalizes values.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", domain.ErrInvalidConfig, c.Port)
	}

	if c.DataFile == "" {
		return fmt.Errorf("%w: data-file is required", domain.ErrInvalidConfig)
	}
	if !filepath.IsAbs(c.DataFile) {
		return fmt.Errorf("%w: data-file %q must be an absolute path", domain.ErrInvalidConfig, c.DataFile)
	}
	c.DataFile = filepath.Clean(c.DataFile)

	if c.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace period must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("%w: max-conns must not be negative", domain.ErrInvalidConfig)
	}
	if c.MaxFrameBytes < 0 {
		return fmt.Errorf("%w: max-frame-bytes must not be negative", domain.ErrInvalidConfig)
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	c.LogFormat = strings.ToLower(c.LogFormat)
	switch c.LogFormat {
	case "":
		c.LogFormat = LogFormatAuto
	case LogFormatAuto, LogFormatConsole, LogFormatJSON:
	default:
		return fmt.Errorf("%w: unknown log format %q", domain.ErrInvalidConfig, c.LogFormat)
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
