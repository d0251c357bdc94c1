package transport

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// SerialTransport drives the xmodem core over a real serial port, using
// github.com/tarm/serial the way pkg/usock/usock.go does. Unlike USOCK's
// readLoop, which owns a single unbounded blocking Read in a background
// goroutine, the core needs a distinct timeout per call (1 ms solicitation
// polls, a 1000 ms per-frame deadline, etc.), so each ReadByte wraps one
// blocking port.Read in a select against the clock — the same pattern
// flash_la66.go's readWithTimeout uses, generalised to an injectable clock.
type SerialTransport struct {
	port  *serial.Port
	clock clockwork.Clock
}

// SerialConfig describes how to open the underlying port.
type SerialConfig struct {
	Device   string
	BaudRate int
}

// NewSerialTransport opens cfg.Device at cfg.BaudRate, 8N1, and
// returns a Transport backed by it.
func NewSerialTransport(cfg SerialConfig) (*SerialTransport, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:     cfg.Device,
		Baud:     cfg.BaudRate,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "opening serial port %s", cfg.Device)
	}
	return &SerialTransport{port: port, clock: clockwork.NewRealClock()}, nil
}

// Close releases the underlying port.
func (s *SerialTransport) Close() error {
	return s.port.Close()
}

type readResult struct {
	b   byte
	err error
}

// ReadByte blocks at most timeout for the next inbound byte.
func (s *SerialTransport) ReadByte(timeout time.Duration) (byte, error) {
	result := make(chan readResult, 1)

	go func() {
		buf := make([]byte, 1)
		n, err := s.port.Read(buf)
		if err != nil {
			result <- readResult{0, err}
			return
		}
		if n == 0 {
			result <- readResult{0, ErrTimeout}
			return
		}
		result <- readResult{buf[0], nil}
	}()

	select {
	case res := <-result:
		if res.err != nil {
			return 0, res.err
		}
		return res.b, nil
	case <-s.clock.After(timeout):
		// The goroutine above is still blocked in port.Read and will
		// deliver its result into a buffered channel nobody drains; it is
		// abandoned, not leaked forever, once the byte eventually arrives
		// or the port closes.
		return 0, ErrTimeout
	}
}

// WriteByte synchronously emits one byte.
func (s *SerialTransport) WriteByte(b byte) error {
	_, err := s.port.Write([]byte{b})
	return errors.Wrap(err, "writing byte")
}

// WriteLine flushes a diagnostic log line to the port as plain text.
func (s *SerialTransport) WriteLine(line string) error {
	_, err := s.port.Write([]byte(line))
	return errors.Wrap(err, "writing log line")
}

// Now returns the current time from the transport's clock.
func (s *SerialTransport) Now() time.Time { return s.clock.Now() }

// DeadlineAfter returns Now() + d.
func (s *SerialTransport) DeadlineAfter(d time.Duration) time.Time {
	return s.clock.Now().Add(d)
}
