// Package xmodem implements the XMODEM file-transfer protocol core: the
// receiver and sender state machines, the checksum/CRC integrity codecs,
// and the handshake/retry/cancel discipline that governs a transfer.
package xmodem

// Protocol control bytes, fixed by XMODEM.
const (
	SOH byte = 0x01 // Start Of Header, 128-byte block follows
	EOT byte = 0x04 // End Of Transmission
	ACK byte = 0x06 // Acknowledge
	BS  byte = 0x08 // Backspace, used to erase a stray prompt character
	DLE byte = 0x10 // Data Link Escape, payload byte-stuffing marker
	NAK byte = 0x15 // Negative Acknowledge
	CAN byte = 0x18 // Cancel
	SUB byte = 0x1A // Substitute, used to pad the final block
)

// CRCStart is the 'C' character a CRC-mode receiver solicits with.
const CRCStart byte = 'C'

// BlockSize is the fixed XMODEM payload size in bytes.
const BlockSize = 128
