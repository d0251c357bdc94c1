package xmodem

import (
	"time"

	"github.com/librescoot/xmodem-transfer/pkg/transport"
)

// Timing constants fixed by spec.md §4.3 / §4.4.
const (
	solicitPeriod  = 3 * time.Second
	pollTimeout    = 1 * time.Millisecond
	frameDeadline  = 1000 * time.Millisecond
	handshakePolls = 30000
	eotPolls       = 2000
	senderRetries  = 10
)

// SideChannel is evaluated for every byte seen during solicitation other
// than SOH, EOT, CAN, BS and NAK. Returning true aborts the receive
// immediately.
type SideChannel func(b byte) bool

// Receive drives a peer sender to completion, writing payload bytes into
// out as they are validated. capacity bounds how much of out may be
// written (out must be at least capacity bytes long). banner, if non-empty,
// is emitted alongside every solicitation byte. side, if non-nil, is
// polled on every unexpected byte seen while soliciting.
//
// Returns the number of bytes received on success, -1 on error or peer
// cancellation (err distinguishes the two via IsCancelled/IsBufferFull), or
// 0 if the caller aborted via side.
func Receive(t transport.Transport, cfg Config, out []byte, capacity int, banner string, side SideChannel) (int, error) {
	log := newLogBuffer(cfg.LogLevel)
	cursor := 0
	nextBlock := 1
	nextSolicit := t.Now()

	for {
		first, err := solicitUntilFrameStart(t, cfg, log, banner, side, &nextSolicit)
		if err != nil {
			log.flush(t)
			return 0, err
		}

		switch first {
		case EOT:
			log.logf(2, "EOT => ACK")
			_ = t.WriteByte(ACK)
			log.flush(t)
			return cursor, nil
		case CAN:
			log.logf(1, "CAN => ACK")
			_ = t.WriteByte(ACK)
			log.flush(t)
			return -1, ErrCancelled
		}

		// first == SOH beyond this point.
		log.logf(2, "Got SOH for block %d", nextBlock)

		if cursor+BlockSize > capacity {
			log.logf(1, "Output buffer full")
			emitCANBurst(t)
			drainUntilTimeout(t)
			log.flush(t)
			return -1, ErrBufferFull
		}

		payload, ok := readFrame(t, cfg, log, nextBlock)
		if !ok {
			log.logf(1, "NAK")
			_ = t.WriteByte(NAK)
			continue
		}

		log.logf(2, "ACK")
		_ = t.WriteByte(ACK)
		copy(out[cursor:cursor+BlockSize], payload)
		cursor += BlockSize
		nextBlock = (nextBlock % 256) + 1
	}
}

// solicitUntilFrameStart emits the solicitation byte whenever *nextSolicit
// has passed, while polling for the next frame-starting byte
// (SOH/EOT/CAN). *nextSolicit is shared across calls for one Receive, so a
// solicitation goes out at most once per solicitPeriod for the whole
// transfer, never immediately after an ACK or NAK. Any other byte is routed
// to side if supplied; BS and NAK are always ignored.
func solicitUntilFrameStart(t transport.Transport, cfg Config, log *logBuffer, banner string, side SideChannel, nextSolicit *time.Time) (byte, error) {
	for {
		if !t.Now().Before(*nextSolicit) {
			log.flush(t)
			if banner != "" {
				_ = t.WriteLine(banner)
			}
			if cfg.Mode == ModeCRC {
				_ = t.WriteByte(BS)
				_ = t.WriteByte(CRCStart)
			} else {
				_ = t.WriteByte(NAK)
			}
			*nextSolicit = t.DeadlineAfter(solicitPeriod)
		}

		b, err := t.ReadByte(pollTimeout)
		if err != nil {
			continue
		}

		switch b {
		case SOH, EOT, CAN:
			return b, nil
		case BS, NAK:
			// silently ignored during solicitation
		default:
			if side != nil && side(b) {
				return 0, ErrCallerAbort
			}
			if cfg.LogLevel >= 1 {
				log.logf(1, "Unexpected character %d received - expected SOH or EOT", b)
			}
		}
	}
}

// readFrame collects the header, payload, and trailer following an
// already-consumed SOH, applying the per-frame deadline and DLE-unescape
// rule. Returns the unescaped 128-byte payload and whether the frame
// passed all three validation checks (block number, complement, integrity).
func readFrame(t transport.Transport, cfg Config, log *logBuffer, expectedBlock int) ([]byte, bool) {
	deadline := t.DeadlineAfter(frameDeadline)
	trailerLen := cfg.Mode.trailerLen()
	total := 2 + BlockSize + trailerLen

	raw := make([]byte, 0, total)
	payload := make([]byte, 0, BlockSize)
	var checksum byte
	var crc CRC16
	escape := false
	timedOut := false

	for len(raw) < total {
		if !t.Now().Before(deadline) {
			log.logf(1, "Timeout")
			timedOut = true
			break
		}

		b, err := t.ReadByte(pollTimeout)
		if err != nil {
			continue
		}

		if cfg.LogLevel >= 3 {
			log.logf(3, "Got %d", b)
		}

		isPayload := len(raw) >= 2 && len(raw) < 2+BlockSize

		if cfg.UseEscape && isPayload && b == DLE {
			escape = true
			continue
		}
		if escape {
			b ^= 0x40
			escape = false
		}

		raw = append(raw, b)

		if isPayload {
			payload = append(payload, b)
			if cfg.Mode == ModeCRC {
				crc.Update(b)
			} else {
				checksum += b
			}
		}
	}

	if timedOut || len(raw) < total {
		return nil, false
	}

	blockByte := raw[0]
	complementByte := raw[1]
	wrongBlock := blockByte != byte(expectedBlock%256)
	badComplement := complementByte != byte(255-int(blockByte))

	var badIntegrity bool
	if cfg.Mode == ModeCRC {
		want := crc.Bytes()
		badIntegrity = raw[2+BlockSize] != want[0] || raw[2+BlockSize+1] != want[1]
	} else {
		badIntegrity = raw[2+BlockSize] != checksum
	}

	if wrongBlock || badComplement || badIntegrity {
		return nil, false
	}
	return payload, true
}

// emitCANBurst writes eight CAN bytes, the standard cancellation signal.
func emitCANBurst(t transport.Transport) {
	for i := 0; i < 8; i++ {
		_ = t.WriteByte(CAN)
	}
}

// drainUntilTimeout reads and discards bytes until a read times out,
// clearing whatever the peer sends in response to a cancellation burst.
func drainUntilTimeout(t transport.Transport) {
	for {
		if _, err := t.ReadByte(pollTimeout); err != nil {
			return
		}
	}
}
