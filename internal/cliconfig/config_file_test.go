package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	falseVal := false

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Port:          9100,
				BindAddr:      "0.0.0.0",
				DataFile:      "/srv/data",
				Daemon:        &trueVal,
				GracePeriod:   "10s",
				MaxConns:      4,
				MaxFrameBytes: 512,
				SyncWrites:    &falseVal,
				LogLevel:      "warn",
				LogFormat:     "console",
				LogFile:       "/var/log/aesdsocket.log",
			},
			changed: map[string]bool{},
			initial: DefaultConfig(),
			expected: Config{
				Port:          9100,
				BindAddr:      "0.0.0.0",
				DataFile:      "/srv/data",
				Daemon:        true,
				GracePeriod:   10 * time.Second,
				MaxConns:      4,
				MaxFrameBytes: 512,
				SyncWrites:    false,
				LogLevel:      "warn",
				LogFormat:     "console",
				LogFile:       "/var/log/aesdsocket.log",
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Port:   9100,
				Daemon: &trueVal,
			},
			changed: map[string]bool{"port": true, "daemon": true},
			initial: Config{Port: 9300},
			expected: Config{
				Port: 9300, // unchanged because flag was set
			},
		},
		{
			name:       "empty file keeps defaults",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    DefaultConfig(),
			expected:   DefaultConfig(),
		},
		{
			name:       "invalid duration",
			fileConfig: FileConfig{GracePeriod: "forever"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	tomlContent := `
port = 9100
data_file = "/srv/aesdsocketdata"
grace_period = "3s"
sync_writes = false
log_level = "debug"
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Port != 9100 {
		t.Errorf("Port = %v, want 9100", fc.Port)
	}
	if fc.DataFile != "/srv/aesdsocketdata" {
		t.Errorf("DataFile = %v, want /srv/aesdsocketdata", fc.DataFile)
	}
	if fc.GracePeriod != "3s" {
		t.Errorf("GracePeriod = %v, want 3s", fc.GracePeriod)
	}
	if fc.SyncWrites == nil || *fc.SyncWrites {
		t.Errorf("SyncWrites = %v, want false", fc.SyncWrites)
	}
	if fc.Daemon != nil {
		t.Errorf("Daemon = %v, want unset", fc.Daemon)
	}
	if fc.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", fc.LogLevel)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
port = 9000
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".aesdsocket") {
		t.Errorf("DefaultConfigPath() = %v, should contain .aesdsocket", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}
