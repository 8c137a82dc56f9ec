package domain

import "bytes"

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

// FrameBuffer is the per-connection pending message buffer.
//
// Bytes read from the client are appended with Write. Next hands out one
// complete frame at a time (everything through the first delimiter) and keeps
// the bytes that follow it for the next frame. Bytes never followed by a
// delimiter are never returned.
type FrameBuffer struct {
	buf     []byte
	scanned int // prefix of buf already known to hold no delimiter
	tail    int // bytes after the last delimiter in buf
	max     int
}

// NewFrameBuffer returns an empty buffer. maxFrame limits the size of a
// single frame including its delimiter; zero means unlimited.
func NewFrameBuffer(maxFrame int) *FrameBuffer {
	return &FrameBuffer{max: maxFrame}
}

// Write appends p. It returns ErrFrameTooLarge once any frame grows past
// the limit; the buffer must then be discarded.
func (b *FrameBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if b.max <= 0 {
		return len(p), nil
	}
	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, Delimiter)
		if i < 0 {
			b.tail += len(rest)
			if b.tail > b.max {
				return len(p), ErrFrameTooLarge
			}
			break
		}
		if b.tail+i+1 > b.max {
			return len(p), ErrFrameTooLarge
		}
		b.tail = 0
		rest = rest[i+1:]
	}
	return len(p), nil
}

// Next removes and returns the first complete frame, delimiter included.
// The returned slice is owned by the caller.
func (b *FrameBuffer) Next() ([]byte, bool) {
	i := bytes.IndexByte(b.buf[b.scanned:], Delimiter)
	if i < 0 {
		b.scanned = len(b.buf)
		return nil, false
	}
	end := b.scanned + i + 1
	frame := make([]byte, end)
	copy(frame, b.buf[:end])

	n := copy(b.buf, b.buf[end:])
	b.buf = b.buf[:n]
	b.scanned = 0
	return frame, true
}

// Len returns the number of buffered bytes not yet handed out.
func (b *FrameBuffer) Len() int {
	return len(b.buf)
}

// Reset discards all buffered bytes.
func (b *FrameBuffer) Reset() {
	b.buf = b.buf[:0]
	b.scanned = 0
	b.tail = 0
}
