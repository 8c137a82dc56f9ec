// Package log provides the logging abstraction used by aesdsocket components.
//
// Components depend on the Logger interface only. A zerolog-backed adapter is
// provided for the binary and a no-op logger for tests:
//
//	logger := log.NewZerologAdapter(os.Stderr)
//	connLog := logger.With(log.String("peer", conn.RemoteAddr().String()))
//	connLog.Info("Accepted connection")
//
// Or, in tests:
//
//	logger := log.NewNoopLogger()
package log
