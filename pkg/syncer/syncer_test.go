package syncer

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexad/antfs/internal/crc"
	"github.com/hexad/antfs/pkg/directory"
	"github.com/hexad/antfs/pkg/profile"
	"github.com/hexad/antfs/pkg/session"
	"github.com/hexad/antfs/pkg/transport"
)

// fakeRadio answers whatever command was most recently sent via
// SendBurst, playing the device side of link establishment and
// chunked download for one fixed directory plus its files.
type fakeRadio struct {
	files map[uint16][]byte

	lastCmd         session.CommandID
	lastAuthReq     session.AuthenticateCommand
	lastDownloadReq session.DownloadRequestCommand
}

func (r *fakeRadio) Assign(byte, byte) error                              { return nil }
func (r *fakeRadio) SetChannelID(uint16, byte, byte) error                 { return nil }
func (r *fakeRadio) SetPeriod(uint16) error                                { return nil }
func (r *fakeRadio) SetSearchTimeout(byte) error                           { return nil }
func (r *fakeRadio) SetNetworkKey(byte, [8]byte) error                     { return nil }
func (r *fakeRadio) Open() (transport.Record, error)                      { return transport.Record{}, nil }
func (r *fakeRadio) Close() (transport.Record, error)                     { return transport.Record{}, nil }

func (r *fakeRadio) SendBurst(data []byte) error {
	if len(data) < 2 || data[0] != session.EnvelopeTag {
		return fmt.Errorf("fakeRadio: malformed envelope")
	}
	r.lastCmd = session.CommandID(data[1])
	switch r.lastCmd {
	case session.CmdAuthenticate:
		req, err := session.DecodeAuthenticateCommand(data)
		if err != nil {
			return err
		}
		r.lastAuthReq = req
	case session.CmdDownloadRequest:
		req, err := session.DecodeDownloadRequestCommand(data)
		if err != nil {
			return err
		}
		r.lastDownloadReq = req
	}
	return nil
}

func (r *fakeRadio) WaitForEvent(allowed ...transport.Code) (transport.Record, error) {
	switch r.lastCmd {
	case session.CmdAuthenticate:
		resp := session.AuthenticateCommand{
			SubType: byte(session.AuthAccept),
			Serial:  r.lastAuthReq.Serial,
			Data:    []byte{1, 2, 3, 4, 5, 6, 7, 8},
		}
		return transport.Record{Code: transport.EventRxBurstPacket, Data: resp.Encode()}, nil

	case session.CmdDownloadRequest:
		req := r.lastDownloadReq
		file := r.files[req.DataIndex]
		remaining := uint32(len(file)) - req.Offset
		end := req.Offset + remaining
		resp := session.DownloadResponseCommand{
			Response:  session.ResponseOK,
			Remaining: remaining,
			Offset:    req.Offset,
			Size:      uint32(len(file)),
			Data:      file[req.Offset:end],
			CRC:       crc.Of(0, file[:end]),
		}
		return transport.Record{Code: transport.EventRxBurstPacket, Data: resp.Encode()}, nil

	default:
		return transport.Record{}, fmt.Errorf("fakeRadio: no pending request for WaitForEvent")
	}
}

func encodeEntry(idx uint16, subtype directory.SubType, size, timestamp uint32) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint16(buf[0:2], idx)
	buf[2] = byte(subtype)
	binary.LittleEndian.PutUint16(buf[4:6], idx) // Identifier[1:3]: FitFileNumber, distinct from Index
	buf[7] = byte(directory.FlagReadable)
	binary.LittleEndian.PutUint32(buf[8:12], size)
	binary.LittleEndian.PutUint32(buf[12:16], timestamp)
	return buf
}

func buildDirectory(entries ...[]byte) []byte {
	header := make([]byte, 16)
	buf := append([]byte(nil), header...)
	for _, e := range entries {
		buf = append(buf, e...)
	}
	return buf
}

// TestFullSyncDryRun exercises a complete EstablishLink + Sync run
// against a two-entry directory, mirroring the scripted device in
// SPEC_FULL.md §8 scenario 6: after sync, the local tree contains
// exactly the two offered files with matching content.
func TestFullSyncDryRun(t *testing.T) {
	const timestamp = 1_000_000

	workout := make([]byte, 12)
	for i := range workout {
		workout[i] = byte(i + 1)
	}
	course := make([]byte, 48)
	for i := range course {
		course[i] = byte(200 + i)
	}

	dirBytes := buildDirectory(
		encodeEntry(1, directory.SubTypeWorkout, uint32(len(workout)), timestamp),
		encodeEntry(2, directory.SubTypeCourse, uint32(len(course)), timestamp),
	)

	radio := &fakeRadio{files: map[uint16][]byte{
		0: dirBytes,
		1: workout,
		2: course,
	}}

	root := t.TempDir()
	prof, err := profile.Load(root, 1337, nil)
	require.NoError(t, err)

	events := make(chan transport.Record, 3)
	events <- transport.Record{Code: transport.EventRxBroadcast, Data: session.Beacon{State: session.StateLink}.Encode()}
	events <- transport.Record{Code: transport.EventRxBroadcast, Data: session.Beacon{State: session.StateAuthentication}.Encode()}
	events <- transport.Record{Code: transport.EventRxBroadcast, Data: session.Beacon{State: session.StateTransport}.Encode()}

	orch := New(radio, events, prof, nil, nil, nil)

	require.NoError(t, orch.EstablishLink(Options{}))

	result, err := orch.Sync(Options{})
	require.NoError(t, err)
	assert.Len(t, result.Downloaded, 2)
	assert.Empty(t, result.Uploaded)

	workoutEntries, err := os.ReadDir(prof.SubfolderPath("workouts"))
	require.NoError(t, err)
	require.Len(t, workoutEntries, 1)
	got, err := os.ReadFile(filepath.Join(prof.SubfolderPath("workouts"), workoutEntries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, workout, got)

	courseEntries, err := os.ReadDir(prof.SubfolderPath("courses"))
	require.NoError(t, err)
	require.Len(t, courseEntries, 1)
	got, err = os.ReadFile(filepath.Join(prof.SubfolderPath("courses"), courseEntries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, course, got)
}

// TestEstablishLinkTimesOutWithoutTransportBeacon confirms a closed
// events channel (device never reached TRANSPORT) surfaces
// ErrLinkTimedOut instead of hanging.
func TestEstablishLinkTimesOutWithoutTransportBeacon(t *testing.T) {
	radio := &fakeRadio{files: map[uint16][]byte{}}
	root := t.TempDir()
	prof, err := profile.Load(root, 42, nil)
	require.NoError(t, err)

	events := make(chan transport.Record, 1)
	events <- transport.Record{Code: transport.EventRxBroadcast, Data: session.Beacon{State: session.StateLink}.Encode()}
	close(events)

	orch := New(radio, events, prof, nil, nil, nil)
	err = orch.EstablishLink(Options{})
	assert.ErrorIs(t, err, ErrLinkTimedOut)
}
