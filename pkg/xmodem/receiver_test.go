package xmodem

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/librescoot/xmodem-transfer/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// driver lets a test feed bytes to a Receive call and observe what it
// writes back, standing in for the peer sender.
type driver struct {
	t transport.Transport
}

func newDriver(clock clockwork.Clock) (d driver, peer transport.Transport) {
	a, b := transport.LoopbackPair(clock)
	return driver{t: a}, b
}

func (d driver) send(bytes ...byte) {
	for _, b := range bytes {
		_ = d.t.WriteByte(b)
	}
}

func (d driver) expect(t *testing.T, want byte) {
	t.Helper()
	got, err := d.t.ReadByte(time.Second) // generous, real clock
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func buildChecksumFrame(block byte, payload []byte) []byte {
	frame := []byte{SOH, block, 255 - block}
	frame = append(frame, payload...)
	frame = append(frame, Checksum(payload))
	return frame
}

func buildCRCFrame(block byte, payload []byte) []byte {
	frame := []byte{SOH, block, 255 - block}
	frame = append(frame, payload...)
	crc := ComputeCRC16(payload)
	b := crc.Bytes()
	frame = append(frame, b[0], b[1])
	return frame
}

// buildEscapedChecksumFrame wire-encodes payload with DLE byte-stuffing:
// any payload byte equal to DLE is sent as DLE followed by itself XORed
// with 0x40. The checksum trailer is computed over the logical
// (unescaped) payload, never the wire bytes, per spec.md §4.3.2.
func buildEscapedChecksumFrame(block byte, payload []byte) []byte {
	frame := []byte{SOH, block, 255 - block}
	for _, b := range payload {
		if b == DLE {
			frame = append(frame, DLE, b^0x40)
		} else {
			frame = append(frame, b)
		}
	}
	frame = append(frame, Checksum(payload))
	return frame
}

func TestReceiveCRCSingleBlock(t *testing.T) {
	clock := clockwork.NewRealClock()
	d, peer := newDriver(clock)

	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = 'A'
	}

	done := make(chan struct {
		n   int
		err error
	}, 1)
	out := make([]byte, 256)
	go func() {
		n, err := Receive(peer, Config{Mode: ModeCRC}, out, len(out), "", nil)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	// Wait for the first solicitation: BS then 'C'.
	d.expect(t, BS)
	d.expect(t, CRCStart)

	d.send(buildCRCFrame(1, payload)...)
	d.expect(t, ACK)

	d.send(EOT)
	d.expect(t, ACK)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, BlockSize, result.n)
	for i := 0; i < BlockSize; i++ {
		assert.Equal(t, byte('A'), out[i])
	}
}

func TestReceiveChecksumTwoBlocksFirstCorrupted(t *testing.T) {
	clock := clockwork.NewRealClock()
	d, peer := newDriver(clock)

	zeros := make([]byte, BlockSize)

	done := make(chan struct {
		n   int
		err error
	}, 1)
	out := make([]byte, 256)
	go func() {
		n, err := Receive(peer, Config{Mode: ModeChecksum}, out, len(out), "", nil)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	d.expect(t, NAK)

	corrupted := buildChecksumFrame(1, zeros)
	corrupted[len(corrupted)-1] ^= 0x01 // flip the checksum byte
	d.send(corrupted...)
	d.expect(t, NAK)

	// Receiver sends nothing more while awaiting the resend.
	_, err := d.t.ReadByte(100 * time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)
	d.send(buildChecksumFrame(1, zeros)...)
	d.expect(t, ACK)

	d.send(buildChecksumFrame(2, zeros)...)
	d.expect(t, ACK)

	d.send(EOT)
	d.expect(t, ACK)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, 256, result.n)
	for i := 0; i < 256; i++ {
		assert.Equal(t, byte(0), out[i])
	}
}

func TestReceiveCapacityGuard(t *testing.T) {
	clock := clockwork.NewRealClock()
	d, peer := newDriver(clock)

	block1 := make([]byte, BlockSize)
	for i := range block1 {
		block1[i] = byte(i)
	}

	out := make([]byte, 200)
	for i := 128; i < 200; i++ {
		out[i] = 0xEE
	}

	done := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		n, err := Receive(peer, Config{Mode: ModeChecksum}, out, 200, "", nil)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	d.expect(t, NAK)
	d.send(buildChecksumFrame(1, block1)...)
	d.expect(t, ACK)

	// No re-solicitation before block 2 arrives.
	_, err := d.t.ReadByte(100 * time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	zeros := make([]byte, BlockSize)
	d.send(buildChecksumFrame(2, zeros)...)
	for i := 0; i < 8; i++ {
		d.expect(t, CAN)
	}

	result := <-done
	assert.Equal(t, -1, result.n)
	assert.True(t, IsBufferFull(result.err))
	assert.Equal(t, block1, out[:128])
	for i := 128; i < 200; i++ {
		assert.Equal(t, byte(0xEE), out[i])
	}
}

func TestReceiveCancelDuringSoliciting(t *testing.T) {
	clock := clockwork.NewRealClock()
	d, peer := newDriver(clock)

	out := make([]byte, 128)
	done := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		n, err := Receive(peer, Config{Mode: ModeChecksum}, out, len(out), "", nil)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	d.expect(t, NAK)
	d.send(CAN)
	d.expect(t, ACK)

	result := <-done
	assert.Equal(t, -1, result.n)
	assert.True(t, IsCancelled(result.err))
}

func TestReceiveCallerAbort(t *testing.T) {
	clock := clockwork.NewRealClock()
	d, peer := newDriver(clock)

	out := make([]byte, 128)
	done := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		n, err := Receive(peer, Config{Mode: ModeChecksum}, out, len(out), "", func(b byte) bool {
			return b == 'q'
		})
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	d.expect(t, NAK)
	d.send('q')

	result := <-done
	assert.Equal(t, 0, result.n)
	assert.True(t, IsCallerAbort(result.err))
}

func TestReceiveWrongBlockNumberDoesNotAdvance(t *testing.T) {
	clock := clockwork.NewRealClock()
	d, peer := newDriver(clock)

	zeros := make([]byte, BlockSize)
	out := make([]byte, 128)
	done := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		n, err := Receive(peer, Config{Mode: ModeChecksum}, out, len(out), "", nil)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	d.expect(t, NAK)
	d.send(buildChecksumFrame(2, zeros)...) // wrong block number, expected 1
	d.expect(t, NAK)                        // invalid-frame NAK
	// Nothing more until the peer retransmits.
	_, err := d.t.ReadByte(100 * time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)

	d.send(buildChecksumFrame(1, zeros)...)
	d.expect(t, ACK)

	d.send(EOT)
	d.expect(t, ACK)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, BlockSize, result.n)
}

func TestReceiveDLEEscapedPayloadByte(t *testing.T) {
	clock := clockwork.NewRealClock()
	d, peer := newDriver(clock)

	payload := make([]byte, BlockSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	// Plant a literal DLE byte in the logical payload; on the wire it must
	// be stuffed as DLE, DLE^0x40, and the receiver must undo that before
	// checking the block against the checksum and before it lands in out.
	payload[10] = DLE

	out := make([]byte, 256)
	done := make(chan struct {
		n   int
		err error
	}, 1)
	go func() {
		n, err := Receive(peer, Config{Mode: ModeChecksum, UseEscape: true}, out, len(out), "", nil)
		done <- struct {
			n   int
			err error
		}{n, err}
	}()

	d.expect(t, NAK)
	d.send(buildEscapedChecksumFrame(1, payload)...)
	d.expect(t, ACK)

	d.send(EOT)
	d.expect(t, ACK)

	result := <-done
	require.NoError(t, result.err)
	assert.Equal(t, BlockSize, result.n)
	assert.Equal(t, payload, out[:BlockSize])
	assert.Equal(t, byte(DLE), out[10])
}
