// Package control implements a small framed request/response protocol used
// to talk to the target bootloader outside of an XMODEM transfer: asking it
// to identify itself before a send, and asking it to reboot into the
// application after one completes. It shares the wire (and the
// transport.Transport abstraction) with pkg/xmodem but is a separate,
// optional protocol — nothing in pkg/xmodem imports this package.
package control

import (
	"time"

	"github.com/pkg/errors"

	"github.com/librescoot/xmodem-transfer/pkg/transport"
)

const (
	syncByte1 = 0xF6
	syncByte2 = 0xD9

	maxPayloadLength = 256
)

// Command IDs. Every command gets a fixed ack ID one greater than itself.
const (
	CmdPing   byte = 0x01
	CmdReboot byte = 0x03
)

var ErrUnexpectedReply = errors.New("control: unexpected reply frame")

// Frame is one control-channel message: two sync bytes, a command ID, a
// little-endian payload length, a CRC16 over that header, the payload
// itself, and a CRC16 over the payload.
type Frame struct {
	ID      byte
	Payload []byte
}

// WriteFrame writes f to t one byte at a time, computing both CRCs as it
// goes so the wire layout never has to be buffered up front.
func WriteFrame(t transport.Transport, f Frame) error {
	if len(f.Payload) > maxPayloadLength {
		return errors.Errorf("control: payload %d exceeds max %d", len(f.Payload), maxPayloadLength)
	}

	header := []byte{syncByte1, syncByte2, f.ID, byte(len(f.Payload)), byte(len(f.Payload) >> 8)}
	var headerCRC crc16ARC
	for _, b := range header {
		headerCRC.update(b)
	}
	for _, b := range header {
		if err := t.WriteByte(b); err != nil {
			return errors.Wrap(err, "control: write header")
		}
	}
	hc := headerCRC.bytes()
	if err := t.WriteByte(hc[0]); err != nil {
		return errors.Wrap(err, "control: write header crc")
	}
	if err := t.WriteByte(hc[1]); err != nil {
		return errors.Wrap(err, "control: write header crc")
	}

	var payloadCRC crc16ARC
	for _, b := range f.Payload {
		if err := t.WriteByte(b); err != nil {
			return errors.Wrap(err, "control: write payload")
		}
		payloadCRC.update(b)
	}
	pc := payloadCRC.bytes()
	if err := t.WriteByte(pc[0]); err != nil {
		return errors.Wrap(err, "control: write payload crc")
	}
	return t.WriteByte(pc[1])
}

// ReadFrame polls t for a complete, CRC-valid frame until deadline. Bytes
// that don't match the sync sequence are discarded, mirroring the original
// USOCK resync-on-garbage behaviour.
func ReadFrame(t transport.Transport, timeout time.Duration) (*Frame, error) {
	deadline := t.DeadlineAfter(timeout)
	state := stateSync1
	var id byte
	var payloadLen uint16
	var headerCRC crc16ARC
	var header []byte
	var payload []byte
	var payloadCRC crc16ARC

	for t.Now().Before(deadline) {
		b, err := t.ReadByte(time.Millisecond)
		if err != nil {
			continue
		}

		switch state {
		case stateSync1:
			if b == syncByte1 {
				header = header[:0]
				header = append(header, b)
				state = stateSync2
			}
		case stateSync2:
			if b == syncByte2 {
				header = append(header, b)
				state = stateID
			} else {
				state = stateSync1
			}
		case stateID:
			id = b
			header = append(header, b)
			state = stateLen1
		case stateLen1:
			payloadLen = uint16(b)
			header = append(header, b)
			state = stateLen2
		case stateLen2:
			payloadLen |= uint16(b) << 8
			header = append(header, b)
			if payloadLen > maxPayloadLength {
				state = stateSync1
				continue
			}
			headerCRC = crc16ARC{}
			for _, hb := range header {
				headerCRC.update(hb)
			}
			payload = make([]byte, 0, payloadLen)
			state = stateHeaderCRC1
		case stateHeaderCRC1:
			if b != headerCRC.bytes()[0] {
				state = stateSync1
				continue
			}
			state = stateHeaderCRC2
		case stateHeaderCRC2:
			if b != headerCRC.bytes()[1] {
				state = stateSync1
				continue
			}
			payloadCRC = crc16ARC{}
			if payloadLen == 0 {
				state = statePayloadCRC1
			} else {
				state = statePayload
			}
		case statePayload:
			payload = append(payload, b)
			payloadCRC.update(b)
			if uint16(len(payload)) >= payloadLen {
				state = statePayloadCRC1
			}
		case statePayloadCRC1:
			if b != payloadCRC.bytes()[0] {
				state = stateSync1
				continue
			}
			state = statePayloadCRC2
		case statePayloadCRC2:
			if b != payloadCRC.bytes()[1] {
				state = stateSync1
				continue
			}
			return &Frame{ID: id, Payload: payload}, nil
		}
	}

	return nil, errors.New("control: timed out waiting for frame")
}

type frameState int

const (
	stateSync1 frameState = iota
	stateSync2
	stateID
	stateLen1
	stateLen2
	stateHeaderCRC1
	stateHeaderCRC2
	statePayload
	statePayloadCRC1
	statePayloadCRC2
)

// Ping asks the target to identify itself and returns its version string.
// Used as a best-effort pre-flight check before starting a transfer; a
// failure here doesn't necessarily mean the target can't speak XMODEM, just
// that it doesn't answer this sideband.
func Ping(t transport.Transport, timeout time.Duration) (string, error) {
	if err := WriteFrame(t, Frame{ID: CmdPing}); err != nil {
		return "", err
	}
	reply, err := ReadFrame(t, timeout)
	if err != nil {
		return "", err
	}
	if reply.ID != CmdPing+1 {
		return "", ErrUnexpectedReply
	}
	return string(reply.Payload), nil
}

// Reboot asks the target to leave the bootloader and start the application,
// typically issued after a successful firmware Send.
func Reboot(t transport.Transport, timeout time.Duration) error {
	if err := WriteFrame(t, Frame{ID: CmdReboot}); err != nil {
		return err
	}
	reply, err := ReadFrame(t, timeout)
	if err != nil {
		return err
	}
	if reply.ID != CmdReboot+1 {
		return ErrUnexpectedReply
	}
	return nil
}
