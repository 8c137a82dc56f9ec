package cliconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/bft-labs/aesdsocket/pkg/log"
)

// DefaultDebounceDelay is how long the watcher waits after the last change
// event before reloading.
const DefaultDebounceDelay = 100 * time.Millisecond

// Watcher reloads the config file when it changes and applies the keys that
// can change at runtime. Only log_level is live; other keys are reported as
// needing a restart.
type Watcher struct {
	path          string
	debounceDelay time.Duration
	logger        log.Logger

	mu       sync.Mutex
	current  FileConfig
	debounce *time.Timer
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for the config file at path. initial is the
// file content the process started with.
func NewWatcher(path string, initial FileConfig, logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Watcher{
		path:          filepath.Clean(path),
		debounceDelay: DefaultDebounceDelay,
		logger:        logger,
		current:       initial,
	}
}

// Start begins watching the directory that holds the config file. Watching
// the directory keeps working across editors that replace the file.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go w.watchLoop(watchCtx, fsw)

	w.logger.Info("config watcher started", log.String("path", w.path))
	return nil
}

// Shutdown stops the watcher and waits for its goroutine.
func (w *Watcher) Shutdown() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()

	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) watchLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.debounceReload(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) debounceReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", log.String("path", w.path), log.Err(err))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = fc
	w.mu.Unlock()

	if fc.LogLevel != prev.LogLevel && fc.LogLevel != "" {
		level, err := ParseLevel(fc.LogLevel)
		if err != nil {
			w.logger.Warn("ignoring log_level from config", log.Err(err))
		} else {
			zerolog.SetGlobalLevel(level)
			w.logger.Info("log level changed", log.String("level", level.String()))
		}
	}

	if keys := restartKeys(prev, fc); len(keys) > 0 {
		w.logger.Warn("config changes take effect after restart", log.Any("keys", keys))
	}
}

// restartKeys lists changed keys that are only read at startup.
func restartKeys(a, b FileConfig) []string {
	var keys []string
	if a.Port != b.Port {
		keys = append(keys, "port")
	}
	if a.BindAddr != b.BindAddr {
		keys = append(keys, "bind_addr")
	}
	if a.DataFile != b.DataFile {
		keys = append(keys, "data_file")
	}
	if !boolPtrEqual(a.Daemon, b.Daemon) {
		keys = append(keys, "daemon")
	}
	if a.GracePeriod != b.GracePeriod {
		keys = append(keys, "grace_period")
	}
	if a.MaxConns != b.MaxConns {
		keys = append(keys, "max_conns")
	}
	if a.MaxFrameBytes != b.MaxFrameBytes {
		keys = append(keys, "max_frame_bytes")
	}
	if !boolPtrEqual(a.SyncWrites, b.SyncWrites) {
		keys = append(keys, "sync_writes")
	}
	if a.LogFormat != b.LogFormat {
		keys = append(keys, "log_format")
	}
	if a.LogFile != b.LogFile {
		keys = append(keys, "log_file")
	}
	return keys
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
