// Package frame encodes and decodes the dongle-level message envelope:
// sync byte, length, message id, payload, and an XOR checksum over
// everything before it. The codec is stateless — the transport layer
// owns the accumulating receive buffer (see pkg/transport).
package frame

import "errors"

// Sync is the fixed sync byte that starts every frame.
const Sync byte = 0xA4

// MaxPayload is the largest payload length representable in the
// 1-byte length field.
const MaxPayload = 255

var (
	// ErrBadSync is returned when the first byte of a candidate frame
	// is not Sync.
	ErrBadSync = errors.New("frame: bad sync byte")
	// ErrBadChecksum is returned when the trailing XOR checksum does
	// not match the preceding bytes.
	ErrBadChecksum = errors.New("frame: bad checksum")
	// ErrNeedMore is returned when buffer does not yet contain a
	// complete frame; the caller should read more bytes and retry.
	ErrNeedMore = errors.New("frame: need more data")
)

// Frame is one decoded dongle-level message.
type Frame struct {
	ID      byte
	Payload []byte
}

// Encode renders id/payload as a wire frame: sync, length, id,
// payload, XOR checksum, followed by two null padding bytes expected
// by the dongle's USB write path.
//
// Panics if len(payload) > MaxPayload — the length field is one byte
// wide, so a caller asking to encode more is a programmer error, not
// a runtime condition.
func Encode(id byte, payload []byte) []byte {
	if len(payload) > MaxPayload {
		panic("frame: payload too large")
	}
	out := make([]byte, 0, 4+len(payload)+2)
	out = append(out, Sync, byte(len(payload)), id)
	out = append(out, payload...)
	out = append(out, checksum(out))
	out = append(out, 0x00, 0x00)
	return out
}

// Decode peeks at buffer for one complete frame.
//
// On success it returns the decoded Frame and the unconsumed
// remainder of buffer. If buffer does not yet hold a full frame it
// returns ErrNeedMore. If buffer starts with a byte other than Sync,
// or the trailing checksum does not match, it returns ErrBadSync or
// ErrBadChecksum respectively — the transport layer is expected to
// discard bytes up to the next plausible sync byte and retry.
func Decode(buffer []byte) (f Frame, remainder []byte, err error) {
	if len(buffer) < 2 {
		return Frame{}, buffer, ErrNeedMore
	}
	length := int(buffer[1])
	total := length + 4
	if len(buffer) < total {
		return Frame{}, buffer, ErrNeedMore
	}
	if buffer[0] != Sync {
		return Frame{}, buffer, ErrBadSync
	}
	if checksum(buffer[:total-1]) != buffer[total-1] {
		return Frame{}, buffer, ErrBadChecksum
	}
	payload := make([]byte, length)
	copy(payload, buffer[3:3+length])
	return Frame{ID: buffer[2], Payload: payload}, buffer[total:], nil
}

func checksum(bytes []byte) byte {
	var x byte
	for _, b := range bytes {
		x ^= b
	}
	return x
}
