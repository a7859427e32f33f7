package transport

import (
	"testing"
	"time"

	"github.com/hexad/antfs/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore() *Core {
	return New(nil, nil)
}

func recvEvent(t *testing.T, c *Core) Record {
	t.Helper()
	select {
	case r := <-c.events:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Record{}
	}
}

func TestDuplicateBroadcastSuppressed(t *testing.T) {
	c := newTestCore()
	payload := []byte{0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x11, 0x22}

	c.route(frame.Frame{ID: MsgBroadcastData, Payload: payload})
	first := recvEvent(t, c)
	assert.Equal(t, EventRxBroadcast, first.Code)

	c.route(frame.Frame{ID: MsgBroadcastData, Payload: payload})
	select {
	case r := <-c.events:
		t.Fatalf("expected no second event, got %v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDistinctBroadcastsBothEmit(t *testing.T) {
	c := newTestCore()
	c.route(frame.Frame{ID: MsgBroadcastData, Payload: []byte{0x00, 1, 2, 3, 4, 5, 6, 7, 8}})
	recvEvent(t, c)
	c.route(frame.Frame{ID: MsgBroadcastData, Payload: []byte{0x00, 9, 9, 9, 9, 9, 9, 9, 9}})
	r := recvEvent(t, c)
	assert.Equal(t, EventRxBroadcast, r.Code)
}

func TestBurstReassembly(t *testing.T) {
	c := newTestCore()
	// 3 packets on channel 0: seq 0, 1, and 2|last-bit. Each wire
	// payload is a 1-byte header followed by 8 bytes of data.
	c.route(frame.Frame{ID: MsgBurstData, Payload: append([]byte{0x00 << 5}, []byte{1, 2, 3, 4, 5, 6, 7, 8}...)})
	c.route(frame.Frame{ID: MsgBurstData, Payload: append([]byte{0x01 << 5}, []byte{9, 10, 11, 12, 13, 14, 15, 16}...)})

	select {
	case r := <-c.events:
		t.Fatalf("expected no event before last packet, got %v", r)
	default:
	}

	lastHeader := byte((0x02 | 0x4) << 5)
	c.route(frame.Frame{ID: MsgBurstData, Payload: append([]byte{lastHeader}, []byte{17, 18, 19, 20, 21, 22, 23, 24}...)})

	r := recvEvent(t, c)
	require.Equal(t, EventRxBurstPacket, r.Code)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24}
	assert.Equal(t, want, r.Data)
}

func TestTimeslotPacingOnePerBroadcast(t *testing.T) {
	c := newTestCore()
	var written [][]byte
	c.drv = writeCapture(&written)

	require.NoError(t, c.QueueTimeslot(MsgAcknowledgedData, []byte{0x00, 1, 2, 3, 4, 5, 6, 7}))
	require.NoError(t, c.QueueTimeslot(MsgAcknowledgedData, []byte{0x00, 2, 2, 3, 4, 5, 6, 7}))
	require.NoError(t, c.QueueTimeslot(MsgAcknowledgedData, []byte{0x00, 3, 2, 3, 4, 5, 6, 7}))

	broadcast := []byte{0x00, 0, 0, 0, 0, 0, 0, 0, 0}
	for i := 0; i < 3; i++ {
		// vary payload so each broadcast is "new" and not suppressed
		broadcast[1] = byte(i + 1)
		c.route(frame.Frame{ID: MsgBroadcastData, Payload: append([]byte{}, broadcast...)})
		recvEvent(t, c)
	}

	require.Len(t, written, 3)
}

func TestBurstPacingExceptionDrainsWholeBurstInOneTick(t *testing.T) {
	c := newTestCore()
	var written [][]byte
	c.drv = writeCapture(&written)

	seqs := []byte{0x00, 0x01, (0x02 | 0x4)}
	for _, seq := range seqs {
		header := seq << 5
		require.NoError(t, c.QueueTimeslot(MsgBurstData, []byte{header, 1, 2, 3, 4, 5, 6, 7}))
	}

	c.route(frame.Frame{ID: MsgBroadcastData, Payload: []byte{0x00, 1, 1, 1, 1, 1, 1, 1, 1}})
	recvEvent(t, c) // the broadcast event itself

	require.Len(t, written, 3, "all 3 burst packets should drain in one timeslot tick")
}

// writeCapture returns a minimal dongle.Driver whose Write appends to
// *out instead of touching real hardware.
func writeCapture(out *[][]byte) *captureDriver {
	return &captureDriver{out: out}
}

type captureDriver struct{ out *[][]byte }

func (d *captureDriver) Open() error  { return nil }
func (d *captureDriver) Close() error { return nil }
func (d *captureDriver) Read(int) ([]byte, error) {
	return nil, nil
}
func (d *captureDriver) Write(data []byte) error {
	cp := append([]byte(nil), data...)
	*d.out = append(*d.out, cp)
	return nil
}
