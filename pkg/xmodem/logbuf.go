package xmodem

import (
	"fmt"

	"github.com/librescoot/xmodem-transfer/pkg/transport"
)

// logBufferCapacity bounds the diagnostic buffer. Tens of kilobytes, per
// spec.md §4.5 — generous enough to hold a whole noisy transfer's worth of
// level-3 trace lines without growing unbounded.
const logBufferCapacity = 32 * 1024

// logBuffer accumulates human-readable diagnostic lines during one
// transfer and is flushed to the transport only between solicitation
// cycles and at transfer end, never mid-frame, so log output can never
// interleave with live protocol bytes on the wire.
//
// It latches full: once an append would overflow the capacity, further
// appends are silently dropped and the already-buffered content (the
// first-failure evidence) is preserved rather than overwritten.
type logBuffer struct {
	level int
	buf   []byte
	full  bool
}

func newLogBuffer(level int) *logBuffer {
	return &logBuffer{level: level, buf: make([]byte, 0, 256)}
}

// logf appends a formatted line if level passes the configured log level.
func (l *logBuffer) logf(atLevel int, format string, args ...interface{}) {
	if l.level < atLevel || l.full {
		return
	}
	line := fmt.Sprintf(format, args...)
	if len(l.buf)+len(line)+2 > logBufferCapacity {
		l.full = true
		return
	}
	l.buf = append(l.buf, line...)
	l.buf = append(l.buf, '\r', '\n')
}

// flush writes the accumulated lines to the transport's log sink and
// clears the buffer. Safe to call when empty.
func (l *logBuffer) flush(t transport.Transport) {
	if len(l.buf) == 0 {
		return
	}
	_ = t.WriteLine(string(l.buf))
	l.buf = l.buf[:0]
	l.full = false
}
