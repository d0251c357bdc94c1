package xmodem

import "errors"

// Terminal errors a transfer operation can surface. Transient frame errors
// (timeout, wrong block number, bad complement, bad integrity) are never
// surfaced — they are recovered locally by NAK-and-retry (receiver) or
// retry-same-block (sender) and never reach the caller.
var (
	// ErrHandshakeTimeout: the sender received no solicitation byte within
	// the handshake deadline. No cleanup CANs are emitted — the peer is
	// presumed absent.
	ErrHandshakeTimeout = errors.New("xmodem: handshake timeout, no solicitation received")

	// ErrCancelled: the peer sent CAN (receiver) or CAN-CAN (sender).
	ErrCancelled = errors.New("xmodem: transfer cancelled by peer")

	// ErrBufferFull: the receiver's next block would overflow the caller's
	// buffer. Distinct from ErrCancelled even though both emit a CAN burst.
	ErrBufferFull = errors.New("xmodem: output buffer full")

	// ErrCallerAbort: the receiver's side-channel predicate returned true.
	ErrCallerAbort = errors.New("xmodem: aborted by caller side channel")

	// ErrRetryExhausted: the sender exceeded its per-block retry budget.
	ErrRetryExhausted = errors.New("xmodem: retry budget exhausted")
)

// IsCancelled reports whether err is (or wraps) ErrCancelled.
func IsCancelled(err error) bool { return errors.Is(err, ErrCancelled) }

// IsHandshakeTimeout reports whether err is (or wraps) ErrHandshakeTimeout.
func IsHandshakeTimeout(err error) bool { return errors.Is(err, ErrHandshakeTimeout) }

// IsBufferFull reports whether err is (or wraps) ErrBufferFull.
func IsBufferFull(err error) bool { return errors.Is(err, ErrBufferFull) }

// IsCallerAbort reports whether err is (or wraps) ErrCallerAbort.
func IsCallerAbort(err error) bool { return errors.Is(err, ErrCallerAbort) }

// IsRetryExhausted reports whether err is (or wraps) ErrRetryExhausted.
func IsRetryExhausted(err error) bool { return errors.Is(err, ErrRetryExhausted) }
