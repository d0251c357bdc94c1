// Package transport abstracts the byte-oriented serial link the xmodem
// core drives: non-blocking timed byte reads, unbuffered byte writes, and a
// monotonic time source for deadline arithmetic. Generalised from
// pkg/usock's direct ownership of a *serial.Port in the teacher repo.
package transport

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// ErrTimeout is returned by ReadByte when no byte arrives within the
// requested timeout. It is a sentinel, not a boolean flag, so callers use
// errors.Is instead of comparing a side channel.
var ErrTimeout = errors.New("transport: read timed out")

// Transport is the interface the xmodem core consumes. Implementations
// must never fail write_byte observably (link-dead conditions manifest as
// persistent ReadByte timeouts, per spec.md §4.1) and must buffer nothing
// the core needs flushed — WriteLine is the only path diagnostic text
// takes, kept fully separate from protocol bytes.
type Transport interface {
	// ReadByte blocks at most timeout for the next inbound byte. Returns
	// ErrTimeout (wrapped or bare) if none arrives in time.
	ReadByte(timeout time.Duration) (byte, error)
	// WriteByte synchronously emits one byte.
	WriteByte(b byte) error
	// WriteLine flushes a diagnostic log line. Never called while a frame
	// is being read or written.
	WriteLine(s string) error
	// Now returns the current time from the transport's clock.
	Now() time.Time
	// DeadlineAfter returns Now() + d.
	DeadlineAfter(d time.Duration) time.Time
}

// Clock is an alias for clockwork.Clock, so implementations can be built
// over a real or fake clock independently of the underlying byte link.
type Clock = clockwork.Clock
