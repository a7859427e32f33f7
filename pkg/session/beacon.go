package session

import "encoding/binary"

// ClientState is the device's half of the session state machine, as
// reported in every beacon.
type ClientState byte

const (
	StateLink           ClientState = 0
	StateAuthentication ClientState = 1
	StateTransport      ClientState = 2
	StateBusy           ClientState = 3
)

func (s ClientState) String() string {
	switch s {
	case StateLink:
		return "LINK"
	case StateAuthentication:
		return "AUTHENTICATION"
	case StateTransport:
		return "TRANSPORT"
	case StateBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// Beacon is the 8-byte advertisement the device broadcasts every
// timeslot. Status byte 1 packs channel period (bits 0-2), upload
// enabled (bit 3), pairing enabled (bit 4) and data available (bit
// 5). Status byte 2's low 3 bits are the client device state.
type Beacon struct {
	DataAvailable  bool
	UploadEnabled  bool
	PairingEnabled bool
	ChannelPeriod  byte
	State          ClientState
	AuthType       byte
	Descriptor     uint32
}

// Decode parses an 8-byte beacon. It does not consume trailing bytes
// the caller may have (e.g. a command envelope appended after a
// beacon inside the same burst, see SPEC_FULL.md §4.5).
func Decode(buf []byte) (Beacon, error) {
	if len(buf) < 8 || buf[0] != BeaconTag {
		return Beacon{}, ErrBadBeacon
	}
	status1 := buf[1]
	status2 := buf[2]
	return Beacon{
		ChannelPeriod:  status1 & 0x07,
		UploadEnabled:  status1&0x08 != 0,
		PairingEnabled: status1&0x10 != 0,
		DataAvailable:  status1&0x20 != 0,
		State:          ClientState(status2 & 0x07),
		AuthType:       buf[3],
		Descriptor:     binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

func (b Beacon) Encode() []byte {
	var status1 byte
	status1 |= b.ChannelPeriod & 0x07
	if b.UploadEnabled {
		status1 |= 0x08
	}
	if b.PairingEnabled {
		status1 |= 0x10
	}
	if b.DataAvailable {
		status1 |= 0x20
	}
	buf := make([]byte, 8)
	buf[0] = BeaconTag
	buf[1] = status1
	buf[2] = byte(b.State) & 0x07
	buf[3] = b.AuthType
	binary.LittleEndian.PutUint32(buf[4:8], b.Descriptor)
	return buf
}

// SplitEnvelope implements the inbound router's discrimination rule:
// a burst payload whose first byte is BeaconTag starts with a beacon
// optionally followed by a command envelope; a payload starting with
// EnvelopeTag is a bare command. It returns the beacon (if any) and
// the remaining command-envelope bytes (if any).
func SplitEnvelope(payload []byte) (beacon []byte, command []byte) {
	if len(payload) == 0 {
		return nil, nil
	}
	switch payload[0] {
	case BeaconTag:
		if len(payload) <= 8 {
			return payload, nil
		}
		return payload[:8], payload[8:]
	case EnvelopeTag:
		return nil, payload
	default:
		return nil, nil
	}
}
