package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x01},
		{0x01, 0x02, 0x03, 0x04},
		make([]byte, 255),
	}
	for _, payload := range cases {
		encoded := Encode(0x4E, payload)
		decoded, remainder, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, byte(0x4E), decoded.ID)
		assert.Equal(t, payload, decoded.Payload)
		assert.Equal(t, []byte{0x00, 0x00}, remainder)
	}
}

func TestNeedMoreForTruncatedFrames(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}
	encoded := Encode(0x4E, payload)
	for k := 0; k < len(payload)+4; k++ {
		_, _, err := Decode(encoded[:k])
		assert.ErrorIs(t, err, ErrNeedMore, "k=%d", k)
	}
}

func TestBadSync(t *testing.T) {
	encoded := Encode(0x4E, []byte{0x01})
	encoded[0] = 0xFF
	_, _, err := Decode(encoded)
	assert.ErrorIs(t, err, ErrBadSync)
}

func TestBadChecksum(t *testing.T) {
	encoded := Encode(0x4E, []byte{0x01, 0x02})
	encoded[len(encoded)-3] ^= 0xFF
	_, _, err := Decode(encoded)
	assert.ErrorIs(t, err, ErrBadChecksum)
}

func TestDecodeConsumesOnlyOneFrame(t *testing.T) {
	first := Encode(0x4E, []byte{0x01})
	second := Encode(0x4F, []byte{0x02, 0x03})
	buf := append(append([]byte{}, first...), second...)

	f1, rest, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, byte(0x4E), f1.ID)

	f2, rest2, err := Decode(rest[2:]) // skip f1's trailing padding
	require.NoError(t, err)
	assert.Equal(t, byte(0x4F), f2.ID)
	assert.Equal(t, []byte{0x00, 0x00}, rest2)
}
