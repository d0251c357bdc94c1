package transport

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// loopbackTransport is an in-memory Transport backed by a byte channel, used
// to pair a sender and a receiver directly in tests without a real serial
// port — the equivalent of net.Pipe() for this package.
type loopbackTransport struct {
	in    <-chan byte
	out   chan<- byte
	clock clockwork.Clock
	log   *[]string
}

// LoopbackPair returns two Transports wired to each other: bytes written to
// a are read by b and vice versa. Both share clock (pass
// clockwork.NewRealClock() for ordinary tests).
func LoopbackPair(clock clockwork.Clock) (a, b Transport) {
	ab := make(chan byte, 4096)
	ba := make(chan byte, 4096)
	logA := make([]string, 0)
	logB := make([]string, 0)
	a = &loopbackTransport{in: ba, out: ab, clock: clock, log: &logA}
	b = &loopbackTransport{in: ab, out: ba, clock: clock, log: &logB}
	return a, b
}

func (l *loopbackTransport) ReadByte(timeout time.Duration) (byte, error) {
	select {
	case b := <-l.in:
		return b, nil
	case <-l.clock.After(timeout):
		return 0, ErrTimeout
	}
}

func (l *loopbackTransport) WriteByte(b byte) error {
	l.out <- b
	return nil
}

func (l *loopbackTransport) WriteLine(s string) error {
	*l.log = append(*l.log, s)
	return nil
}

func (l *loopbackTransport) Now() time.Time { return l.clock.Now() }

func (l *loopbackTransport) DeadlineAfter(d time.Duration) time.Time {
	return l.clock.Now().Add(d)
}
