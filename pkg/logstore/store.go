package logstore

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// DefaultPath is the well-known location of the server's log file.
const DefaultPath = "/var/tmp/aesdsocketdata"

// FileMode restricts the log file to its owner.
const FileMode os.FileMode = 0o600

var (
	// ErrIO marks every error caused by the underlying file.
	ErrIO = errors.New("logstore: i/o error")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("logstore: closed")
)

// Options tunes a Store.
type Options struct {
	// Sync flushes the file to stable storage after every append.
	Sync bool
}

// Store is the append-only log. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	opts Options
	file *os.File
	size int64

	syncFile func(*os.File) error
}

// Open creates the log file at path, truncating it if it already exists.
func Open(path string, opts Options) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, FileMode)
	if err != nil {
		return nil, ioError(err, "open %s", path)
	}
	// O_CREATE honours the umask and leaves the mode of an existing file alone.
	if err := f.Chmod(FileMode); err != nil {
		f.Close()
		return nil, ioError(err, "chmod %s", path)
	}
	return &Store{path: path, opts: opts, file: f, syncFile: (*os.File).Sync}, nil
}

// Path returns the location of the log file.
func (s *Store) Path() string {
	return s.path
}

// Append extends the log with p. The bytes of one call are contiguous in the
// file; concurrent calls are ordered by entry into the critical section.
func (s *Store) Append(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}
	n, err := s.file.WriteAt(p, s.size)
	if err != nil {
		// Drop whatever part of p reached the file so readers never see it.
		if terr := s.file.Truncate(s.size); terr != nil {
			return ioError(terr, "rollback %s after short append", s.path)
		}
		return ioError(err, "append %d bytes to %s (wrote %d)", len(p), s.path, n)
	}
	if s.opts.Sync {
		if err := s.syncFile(s.file); err != nil {
			if terr := s.file.Truncate(s.size); terr != nil {
				return ioError(terr, "rollback %s after failed sync", s.path)
			}
			return ioError(err, "sync %s", s.path)
		}
	}
	s.size += int64(n)
	return nil
}

// ReadAll returns the full content of the log as of the call.
func (s *Store) ReadAll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil, ErrClosed
	}
	buf := make([]byte, s.size)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return nil, ioError(err, "read %s", s.path)
	}
	return buf, nil
}

// Size returns the number of bytes in the log.
func (s *Store) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Reset truncates the log to empty.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}
	if err := s.file.Truncate(0); err != nil {
		return ioError(err, "truncate %s", s.path)
	}
	s.size = 0
	return nil
}

// Close releases the file handle. The file stays on disk.
// Closing an already closed store is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// Remove closes the store and deletes the log file.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.closeLocked(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return ioError(err, "remove %s", s.path)
	}
	return nil
}

func (s *Store) closeLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return ioError(err, "close %s", s.path)
	}
	return nil
}

// ioError wraps err with context and tags it as ErrIO.
func ioError(err error, format string, args ...interface{}) error {
	return &storeError{cause: errors.Wrapf(err, format, args...)}
}

type storeError struct {
	cause error
}

func (e *storeError) Error() string { return e.cause.Error() }

func (e *storeError) Unwrap() []error { return []error{ErrIO, e.cause} }

// Cause lets errors.Cause reach the underlying OS error.
func (e *storeError) Cause() error { return errors.Cause(e.cause) }
