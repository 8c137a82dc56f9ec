package cliconfig

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "AESDSOCKET_"

// ApplyEnvConfig applies configuration from environment variables (AESDSOCKET_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	if err := s.setIntFromString("port", env("PORT"), &cfg.Port); err != nil {
		return err
	}
	s.setString("bind", env("BIND_ADDR"), &cfg.BindAddr)
	s.setString("data-file", env("DATA_FILE"), &cfg.DataFile)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	s.setString("log-file", env("LOG_FILE"), &cfg.LogFile)

	if err := s.setDuration("grace-period", env("GRACE_PERIOD"), &cfg.GracePeriod); err != nil {
		return err
	}
	if err := s.setIntFromString("max-conns", env("MAX_CONNS"), &cfg.MaxConns); err != nil {
		return err
	}
	if err := s.setIntFromString("max-frame-bytes", env("MAX_FRAME_BYTES"), &cfg.MaxFrameBytes); err != nil {
		return err
	}

	s.setBoolFromString("daemon", env("DAEMON"), &cfg.Daemon)
	s.setBoolFromString("sync", env("SYNC_WRITES"), &cfg.SyncWrites)

	return nil
}

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}
