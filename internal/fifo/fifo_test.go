package fifo

import (
	"testing"

	"github.com/hexad/antfs/internal/crc"
	"github.com/stretchr/testify/assert"
)

func TestWriteAccumulates(t *testing.T) {
	f := New(16)
	f.Write([]byte{1, 2, 3}, nil)
	f.Write([]byte{4, 5}, nil)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, f.Bytes())
	assert.Equal(t, 5, f.Len())
}

func TestWriteFoldsCRC(t *testing.T) {
	f := New(16)
	var running crc.CRC16
	data := []byte("123456789")
	f.Write(data, &running)
	assert.EqualValues(t, crc.Of(0, data), uint16(running))
}

func TestReset(t *testing.T) {
	f := New(4)
	f.Write([]byte{1, 2}, nil)
	f.Reset()
	assert.Equal(t, 0, f.Len())
	assert.Empty(t, f.Bytes())
}
