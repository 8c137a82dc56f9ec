package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/bft-labs/aesdsocket/internal/domain"
	"github.com/bft-labs/aesdsocket/pkg/log"
)

// handle runs the framing protocol for one accepted connection and
// releases the connection on every exit path.
func (s *Server) handle(id uint64, conn net.Conn) {
	defer s.lifecycle.WorkerDone()
	defer s.untrack(id)

	peer := peerHost(conn.RemoteAddr())
	logger := s.logger.With(log.Uint64("conn", id), log.Addr("peer", conn.RemoteAddr()))
	logger.Info("Accepted connection from " + peer)

	h := &connHandler{
		conn:     conn,
		store:    s.store,
		frames:   domain.NewFrameBuffer(s.cfg.MaxFrameBytes),
		readBuf:  make([]byte, s.cfg.ReadBufferSize),
		stopping: s.coord.Stopping,
		logger:   logger,
	}
	err := h.serve()

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStoreIO):
		logger.Error("log store failure, dropping connection", log.Err(err))
	case errors.Is(err, domain.ErrFrameTooLarge):
		logger.Warn("frame exceeds limit, dropping connection",
			log.Err(err),
			log.Int("max_frame_bytes", s.cfg.MaxFrameBytes),
		)
	default:
		logger.Warn("connection error", log.Err(err))
	}

	h.close()
	logger.Info("Closed connection from "+peer, log.Int("frames", h.committed))
}

// connHandler owns one client connection and its pending frame buffer.
type connHandler struct {
	conn      net.Conn
	store     LogStore
	frames    *domain.FrameBuffer
	readBuf   []byte
	stopping  func() bool
	logger    log.Logger
	committed int
}

// serve reads until the peer closes, an error occurs or a stop is
// requested. Every complete frame is committed before the next read, so
// frames from one connection are processed strictly in arrival order.
// A nil return means the connection ended normally.
func (h *connHandler) serve() error {
	var readErr error
	for {
		for {
			frame, ok := h.frames.Next()
			if !ok {
				break
			}
			if err := h.commit(frame); err != nil {
				return err
			}
		}

		if readErr != nil {
			return h.readFailed(readErr)
		}
		if h.stopping() {
			h.discardPending("server stopping")
			return nil
		}

		n, err := h.conn.Read(h.readBuf)
		if n > 0 {
			if _, werr := h.frames.Write(h.readBuf[:n]); werr != nil {
				return werr
			}
		}
		readErr = err
	}
}

func (h *connHandler) readFailed(err error) error {
	if errors.Is(err, io.EOF) {
		h.discardPending("peer closed")
		return nil
	}
	if h.stopping() && errors.Is(err, net.ErrClosed) {
		h.discardPending("closed at shutdown")
		return nil
	}
	return fmt.Errorf("%w: read: %w", domain.ErrConnectionIO, err)
}

// commit appends one complete frame and echoes the whole log back.
func (h *connHandler) commit(frame []byte) error {
	if err := h.store.Append(frame); err != nil {
		return fmt.Errorf("%w: append: %w", domain.ErrStoreIO, err)
	}
	h.committed++

	content, err := h.store.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: read back: %w", domain.ErrStoreIO, err)
	}
	if _, err := h.conn.Write(content); err != nil {
		return fmt.Errorf("%w: write: %w", domain.ErrConnectionIO, err)
	}
	h.logger.Debug("frame committed",
		log.Int("frame_bytes", len(frame)),
		log.Int("log_bytes", len(content)),
	)
	return nil
}

// discardPending drops bytes that never saw a delimiter.
func (h *connHandler) discardPending(reason string) {
	if n := h.frames.Len(); n > 0 {
		h.logger.Debug("discarding incomplete frame",
			log.Int("bytes", n),
			log.String("reason", reason),
		)
	}
	h.frames.Reset()
}

// close half-closes the write side first so the client sees a clean EOF
// after the last echo, then releases the socket.
func (h *connHandler) close() {
	if cw, ok := h.conn.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	if err := h.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Debug("error closing connection", log.Err(err))
	}
	h.frames.Reset()
}

func peerHost(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
