package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexad/antfs/internal/crc"
	"github.com/hexad/antfs/pkg/session"
	"github.com/hexad/antfs/pkg/transport"
)

// fakeDevice accepts an upload, optionally rejecting the first DATA
// chunk once to exercise the resync path.
type fakeDevice struct {
	received     []byte
	blockSize    uint32
	rejectFirst  bool
	rejectedOnce bool
	lastSent     []byte
}

func (d *fakeDevice) SendBurst(data []byte) error {
	d.lastSent = data
	return nil
}

func (d *fakeDevice) WaitForEvent(allowed ...transport.Code) (transport.Record, error) {
	if req, err := session.DecodeUploadRequestCommand(d.lastSent); err == nil {
		resp := session.UploadResponseCommand{
			Response: session.ResponseOK, LastOffset: uint32(len(d.received)),
			MaxFileSize: 1 << 20, MaxBlockSize: d.blockSize,
			CRC: crc.Of(0, d.received),
		}
		_ = req
		return transport.Record{Code: transport.EventRxBurstPacket, Data: resp.Encode()}, nil
	}

	data, err := session.DecodeUploadDataCommand(d.lastSent)
	if err != nil {
		return transport.Record{}, err
	}

	if d.rejectFirst && !d.rejectedOnce {
		d.rejectedOnce = true
		resp := session.UploadDataResponseCommand{Response: session.ResponseNotReady}
		return transport.Record{Code: transport.EventRxBurstPacket, Data: resp.Encode()}, nil
	}

	d.received = append(d.received, data.Data[:min(len(data.Data), int(d.blockSize))]...)
	resp := session.UploadDataResponseCommand{Response: session.ResponseOK}
	return transport.Record{Code: transport.EventRxBurstPacket, Data: resp.Encode()}, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestUploadFullFile(t *testing.T) {
	source := make([]byte, 64)
	for i := range source {
		source[i] = byte(i * 3)
	}
	dev := &fakeDevice{blockSize: 16}

	eng := New(dev, nil)
	err := eng.Upload(1, source, nil)
	require.NoError(t, err)
	assert.Equal(t, source, dev.received)
}

func TestUploadResyncsAfterRejectedChunk(t *testing.T) {
	source := []byte("resync-on-rejected-chunk-fixture-data")
	dev := &fakeDevice{blockSize: uint32(len(source)), rejectFirst: true}

	eng := New(dev, nil)
	err := eng.Upload(1, source, nil)
	require.NoError(t, err)
	assert.Equal(t, source, dev.received)
	assert.True(t, dev.rejectedOnce)
}

func TestUploadCapacityQueryUsesSentinelOffset(t *testing.T) {
	dev := &fakeDevice{blockSize: 8}
	eng := New(dev, nil)
	_, err := eng.queryCapacity(2, 8)
	require.NoError(t, err)

	req, err := session.DecodeUploadRequestCommand(dev.lastSent)
	require.NoError(t, err)
	assert.Equal(t, session.UploadCapacityQuery, req.Offset)
}

func TestCRCIncrementalLawUnderlying(t *testing.T) {
	a := []byte("hello ")
	b := []byte("world")
	whole := crc.Of(0, append(append([]byte(nil), a...), b...))
	split := crc.Of(crc.Of(0, a), b)
	assert.Equal(t, whole, split)
}
