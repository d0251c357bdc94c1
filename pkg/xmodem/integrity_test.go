package xmodem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumAllOnesBlock(t *testing.T) {
	data := make([]byte, BlockSize)
	for i := range data {
		data[i] = 0xFF
	}
	assert.EqualValues(t, 0x80, Checksum(data))
}

func TestCRC16StandardTestVector(t *testing.T) {
	crc := ComputeCRC16([]byte("123456789"))
	assert.EqualValues(t, 0x31C3, crc)
}

func TestCRC16BytesHighByteFirst(t *testing.T) {
	crc := ComputeCRC16([]byte("123456789"))
	b := crc.Bytes()
	assert.Equal(t, byte(0x31), b[0])
	assert.Equal(t, byte(0xC3), b[1])
}

func TestCRC16IncrementalMatchesOneShot(t *testing.T) {
	data := []byte("some arbitrary payload bytes 0123456789")
	oneShot := ComputeCRC16(data)

	var incremental CRC16
	for _, b := range data {
		incremental.Update(b)
	}
	assert.Equal(t, oneShot, incremental)
}
