package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Port          int    `toml:"port"`
	BindAddr      string `toml:"bind_addr"`
	DataFile      string `toml:"data_file"`
	Daemon        *bool  `toml:"daemon"`
	GracePeriod   string `toml:"grace_period"`
	MaxConns      int    `toml:"max_conns"`
	MaxFrameBytes int    `toml:"max_frame_bytes"`
	SyncWrites    *bool  `toml:"sync_writes"`
	LogLevel      string `toml:"log_level"`
	LogFormat     string `toml:"log_format"`
	LogFile       string `toml:"log_file"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.aesdsocket/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".aesdsocket", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setInt("port", fc.Port, &cfg.Port)
	s.setString("bind", fc.BindAddr, &cfg.BindAddr)
	s.setString("data-file", fc.DataFile, &cfg.DataFile)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)

	if err := s.setDuration("grace-period", fc.GracePeriod, &cfg.GracePeriod); err != nil {
		return err
	}

	s.setInt("max-conns", fc.MaxConns, &cfg.MaxConns)
	s.setInt("max-frame-bytes", fc.MaxFrameBytes, &cfg.MaxFrameBytes)

	s.setBool("daemon", fc.Daemon, &cfg.Daemon)
	s.setBool("sync", fc.SyncWrites, &cfg.SyncWrites)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
