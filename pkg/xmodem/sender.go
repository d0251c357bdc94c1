package xmodem

import (
	"github.com/librescoot/xmodem-transfer/pkg/transport"
)

// Send drives a peer receiver through a complete upload of in. The
// configured mode is a default only: the peer's solicitation byte decides
// the effective mode for this transfer, per spec.md §9's negotiation
// precedence (the receiver dictates which integrity scheme it can verify).
//
// Returns true on success. On failure the returned error distinguishes
// handshake timeout, peer cancellation, and retry-budget exhaustion via
// IsHandshakeTimeout/IsCancelled/IsRetryExhausted.
func Send(t transport.Transport, cfg Config, in []byte) (bool, error) {
	log := newLogBuffer(cfg.LogLevel)

	mode, err := awaitHandshake(t, log)
	if err != nil {
		log.flush(t)
		return false, err
	}

	block := 1
	offset := 0

	for offset < len(in) {
		payload := nextBlockPayload(in, offset)
		log.logf(2, "Sending block %d - %d", block, offset)

		ok, cancelled := sendBlockUntilAcked(t, log, mode, block, payload)
		if cancelled {
			cleanupCancel(t, log)
			return false, ErrCancelled
		}
		if !ok {
			log.logf(1, "Failed to deliver block %d", block)
			cleanupCancel(t, log)
			return false, ErrRetryExhausted
		}

		block = (block % 256) + 1
		offset += BlockSize
	}

	ok, cancelled := sendEOT(t, log)
	if cancelled {
		cleanupCancel(t, log)
		return false, ErrCancelled
	}
	if !ok {
		cleanupCancel(t, log)
		return false, ErrRetryExhausted
	}

	log.flush(t)
	return true, nil
}

// awaitHandshake polls for a solicitation byte against an explicit 30s
// deadline (spec.md §9's alternative to counting 30000 iterations, which
// the source's loop conflates with non-handshake chatter).
func awaitHandshake(t transport.Transport, log *logBuffer) (Mode, error) {
	deadline := t.DeadlineAfter(pollTimeout * handshakePolls)

	for t.Now().Before(deadline) {
		b, err := t.ReadByte(pollTimeout)
		if err != nil {
			continue
		}
		switch b {
		case CRCStart:
			log.logf(1, "CRC enabled")
			return ModeCRC, nil
		case NAK:
			log.logf(1, "CRC disabled")
			return ModeChecksum, nil
		case BS:
			// ignored
		default:
			log.logf(1, "Unexpected character %d received - expected %d or %d", b, CRCStart, NAK)
		}
	}

	log.logf(1, "Timeout")
	return 0, ErrHandshakeTimeout
}

// nextBlockPayload returns the 128 bytes starting at offset, padding the
// tail with SUB if the source buffer is exhausted mid-block.
func nextBlockPayload(in []byte, offset int) []byte {
	payload := make([]byte, BlockSize)
	n := copy(payload, in[offset:])
	for i := n; i < BlockSize; i++ {
		payload[i] = SUB
	}
	return payload
}

// sendBlockUntilAcked emits one block and resends it on NAK/timeout/
// garbage up to the retry budget. Returns (true, false) on ACK, (false,
// false) if the retry budget is exhausted, or (_, true) on a peer
// double-CAN cancellation.
func sendBlockUntilAcked(t transport.Transport, log *logBuffer, mode Mode, block int, payload []byte) (ok bool, cancelled bool) {
	retries := 0

	for {
		emitBlock(t, mode, block, payload)

		b, err := t.ReadByte(pollTimeout)
		switch {
		case err == nil && b == ACK:
			return true, false
		case err == nil && b == CAN:
			if b2, err2 := t.ReadByte(pollTimeout); err2 == nil && b2 == CAN {
				return false, true
			}
			// A lone CAN isn't the double-CAN cancel sequence; treat it
			// like any other unexpected response and retry.
		case err == nil && b == NAK:
			log.logf(2, "Retrying block %d", block)
		case err == nil:
			log.logf(2, "Unknown response %d, retrying block %d", b, block)
		}

		retries++
		if retries > senderRetries {
			return false, false
		}
	}
}

// emitBlock writes one complete frame: header, payload, trailer.
func emitBlock(t transport.Transport, mode Mode, block int, payload []byte) {
	_ = t.WriteByte(SOH)
	_ = t.WriteByte(byte(block % 256))
	_ = t.WriteByte(byte(255 - (block % 256)))

	var checksum byte
	var crc CRC16
	for _, b := range payload {
		_ = t.WriteByte(b)
		if mode == ModeCRC {
			crc.Update(b)
		} else {
			checksum += b
		}
	}

	if mode == ModeCRC {
		trailer := crc.Bytes()
		_ = t.WriteByte(trailer[0])
		_ = t.WriteByte(trailer[1])
	} else {
		_ = t.WriteByte(checksum)
	}
}

// sendEOT emits EOT once and waits for the peer's ACK, re-emitting only
// when a genuine non-timeout, non-ACK, non-double-CAN byte is received (a
// bare poll timeout is a silent retry of the read, not a re-send).
func sendEOT(t transport.Transport, log *logBuffer) (ok bool, cancelled bool) {
	_ = t.WriteByte(EOT)

	for attempt := 0; attempt < eotPolls; attempt++ {
		b, err := t.ReadByte(pollTimeout)
		if err != nil {
			continue
		}
		if b == ACK {
			return true, false
		}
		if b == CAN {
			if b2, err2 := t.ReadByte(pollTimeout); err2 == nil && b2 == CAN {
				return false, true
			}
			// A lone CAN isn't the double-CAN cancel sequence; treat it
			// like any other received-but-unexpected byte and re-emit EOT.
			_ = t.WriteByte(EOT)
			continue
		}
		// NAK or anything else actually received: re-emit EOT.
		_ = t.WriteByte(EOT)
	}
	log.logf(1, "Timeout")
	return false, false
}

// cleanupCancel emits a CAN burst and drains the transport, the shared
// teardown for both retry exhaustion and peer cancellation.
func cleanupCancel(t transport.Transport, log *logBuffer) {
	log.logf(1, "Transmission cancelled")
	emitCANBurst(t)
	drainUntilTimeout(t)
	log.flush(t)
}
