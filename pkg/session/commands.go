package session

import "encoding/binary"

// LinkCommand requests the device switch from broadcast search to a
// dedicated link channel at the given frequency/period.
type LinkCommand struct {
	Frequency byte
	Period    byte
	Serial    uint32
}

func (c LinkCommand) Encode() []byte {
	return envelope(CmdLink, u8(c.Frequency), u8(c.Period), u32(c.Serial))
}

func DecodeLinkCommand(buf []byte) (LinkCommand, error) {
	if err := checkEnvelope(buf, CmdLink, 8); err != nil {
		return LinkCommand{}, err
	}
	return LinkCommand{
		Frequency: buf[2],
		Period:    buf[3],
		Serial:    binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// DisconnectCommand tells the device to drop back to the link or
// broadcast channel.
type DisconnectType byte

const (
	DisconnectReturnToLink      DisconnectType = 0
	DisconnectReturnToBroadcast DisconnectType = 1
)

type DisconnectCommand struct {
	Type             DisconnectType
	TimeDuration     byte
	AppSpecificDuration byte
}

func (c DisconnectCommand) Encode() []byte {
	return envelope(CmdDisconnect, u8(byte(c.Type)), u8(c.TimeDuration), u8(c.AppSpecificDuration), pad(3))
}

func DecodeDisconnectCommand(buf []byte) (DisconnectCommand, error) {
	if err := checkEnvelope(buf, CmdDisconnect, 8); err != nil {
		return DisconnectCommand{}, err
	}
	return DisconnectCommand{
		Type:                DisconnectType(buf[2]),
		TimeDuration:        buf[3],
		AppSpecificDuration: buf[4],
	}, nil
}

// AuthSubType selects the authentication request flavor.
type AuthSubType byte

const (
	AuthPassThrough    AuthSubType = 0
	AuthSerial         AuthSubType = 1
	AuthPairing        AuthSubType = 2
	AuthPasskeyExchange AuthSubType = 3
)

// AuthResponseType is the client device's reply sub-type.
type AuthResponseType byte

const (
	AuthNotAvailable AuthResponseType = 0
	AuthAccept       AuthResponseType = 1
	AuthReject       AuthResponseType = 2
)

// AuthenticateCommand is used for both the host's request and the
// device's response — the wire shape is identical, only the
// sub-type's vocabulary differs (request sub-type vs response type).
type AuthenticateCommand struct {
	SubType byte
	Serial  uint32
	Data    []byte
}

func (c AuthenticateCommand) Encode() []byte {
	return envelope(CmdAuthenticate, u8(c.SubType), u8(byte(len(c.Data))), u32(c.Serial), c.Data)
}

func DecodeAuthenticateCommand(buf []byte) (AuthenticateCommand, error) {
	if err := checkEnvelope(buf, CmdAuthenticate, 8); err != nil {
		return AuthenticateCommand{}, err
	}
	dataLen := int(buf[3])
	if len(buf) < 8+dataLen {
		return AuthenticateCommand{}, ErrBadEnvelope
	}
	return AuthenticateCommand{
		SubType: buf[2],
		Serial:  binary.LittleEndian.Uint32(buf[4:8]),
		Data:    append([]byte(nil), buf[8:8+dataLen]...),
	}, nil
}

// PingCommand carries no fields; the device answers by continuing to
// beacon normally.
type PingCommand struct{}

func (PingCommand) Encode() []byte { return envelope(CmdPing) }

// DownloadRequestCommand asks for a chunk of a directory-indexed file
// starting at Offset, continuing a previous CRC via CRCSeed.
type DownloadRequestCommand struct {
	DataIndex uint16
	Offset    uint32
	Initial   bool
	CRCSeed   uint16
	MaxBlock  uint32
}

func (c DownloadRequestCommand) Encode() []byte {
	var initial byte
	if c.Initial {
		initial = 1
	}
	return envelope(CmdDownloadRequest,
		u16(c.DataIndex), u32(c.Offset), pad(1), u8(initial), u16(c.CRCSeed), u32(c.MaxBlock))
}

func DecodeDownloadRequestCommand(buf []byte) (DownloadRequestCommand, error) {
	if err := checkEnvelope(buf, CmdDownloadRequest, 16); err != nil {
		return DownloadRequestCommand{}, err
	}
	return DownloadRequestCommand{
		DataIndex: binary.LittleEndian.Uint16(buf[2:4]),
		Offset:    binary.LittleEndian.Uint32(buf[4:8]),
		Initial:   buf[9] != 0,
		CRCSeed:   binary.LittleEndian.Uint16(buf[10:12]),
		MaxBlock:  binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// ResponseCode is the first data byte of every *RESPONSE envelope.
type ResponseCode byte

const (
	ResponseOK                ResponseCode = 0
	ResponseEOF               ResponseCode = 1
	ResponseNotReady          ResponseCode = 2
	ResponseInvalidOperation  ResponseCode = 3
	ResponseCRCIncorrect      ResponseCode = 5
	ResponseInvalidDataIndex  ResponseCode = 6
	ResponseInvalidCRCSeed    ResponseCode = 7
)

func (r ResponseCode) OK() bool { return r == ResponseOK }

// DownloadResponseCommand is the device's reply to a download
// request: a slice of bytes at Offset, plus a running CRC over
// everything downloaded so far (including this chunk).
type DownloadResponseCommand struct {
	Response  ResponseCode
	Remaining uint32
	Offset    uint32
	Size      uint32
	Data      []byte
	CRC       uint16
}

func (c DownloadResponseCommand) Encode() []byte {
	// Data is padded to an 8-byte boundary before the fixed trailer
	// (6 pad + crc) is appended, so the trailer lands at a fixed
	// offset from the end regardless of alignment padding — the
	// generic envelope()/padTo8 pass this through as a no-op.
	return envelope(CmdDownloadResponse,
		u8(byte(c.Response)), pad(1), u32(c.Remaining), u32(c.Offset), u32(c.Size), padDataTo8(c.Data), pad(6), u16(c.CRC))
}

func DecodeDownloadResponseCommand(buf []byte) (DownloadResponseCommand, error) {
	if err := checkEnvelope(buf, CmdDownloadResponse, 24); err != nil {
		return DownloadResponseCommand{}, err
	}
	remaining := binary.LittleEndian.Uint32(buf[4:8])
	availableDataLen := len(buf) - 24
	if availableDataLen < 0 || uint32(availableDataLen) < remaining {
		return DownloadResponseCommand{}, ErrBadEnvelope
	}
	data := append([]byte(nil), buf[16:16+int(remaining)]...)
	crc := binary.LittleEndian.Uint16(buf[len(buf)-2:])
	return DownloadResponseCommand{
		Response:  ResponseCode(buf[2]),
		Remaining: remaining,
		Offset:    binary.LittleEndian.Uint32(buf[8:12]),
		Size:      binary.LittleEndian.Uint32(buf[12:16]),
		Data:      data,
		CRC:       crc,
	}, nil
}

// UploadCapacityQuery is the sentinel offset value that asks the
// device "start from zero, tell me your limits" (see SPEC_FULL.md
// §4.8 and the resolved Open Question on 0xFFFFFFFF semantics).
const UploadCapacityQuery uint32 = 0xFFFFFFFF

type UploadRequestCommand struct {
	DataIndex uint16
	MaxSize   uint32
	Offset    uint32
}

func (c UploadRequestCommand) Encode() []byte {
	return envelope(CmdUploadRequest, u16(c.DataIndex), u32(c.MaxSize), pad(4), u32(c.Offset))
}

func DecodeUploadRequestCommand(buf []byte) (UploadRequestCommand, error) {
	if err := checkEnvelope(buf, CmdUploadRequest, 16); err != nil {
		return UploadRequestCommand{}, err
	}
	return UploadRequestCommand{
		DataIndex: binary.LittleEndian.Uint16(buf[2:4]),
		MaxSize:   binary.LittleEndian.Uint32(buf[4:8]),
		Offset:    binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

type UploadResponseCommand struct {
	Response     ResponseCode
	LastOffset   uint32
	MaxFileSize  uint32
	MaxBlockSize uint32
	CRC          uint16
}

func (c UploadResponseCommand) Encode() []byte {
	return envelope(CmdUploadResponse,
		u8(byte(c.Response)), pad(1), u32(c.LastOffset), u32(c.MaxFileSize), u32(c.MaxBlockSize), pad(6), u16(c.CRC))
}

func DecodeUploadResponseCommand(buf []byte) (UploadResponseCommand, error) {
	if err := checkEnvelope(buf, CmdUploadResponse, 24); err != nil {
		return UploadResponseCommand{}, err
	}
	return UploadResponseCommand{
		Response:     ResponseCode(buf[2]),
		LastOffset:   binary.LittleEndian.Uint32(buf[4:8]),
		MaxFileSize:  binary.LittleEndian.Uint32(buf[8:12]),
		MaxBlockSize: binary.LittleEndian.Uint32(buf[12:16]),
		CRC:          binary.LittleEndian.Uint16(buf[22:24]),
	}, nil
}

type UploadDataCommand struct {
	CRCSeed uint16
	Offset  uint32
	Data    []byte
	CRC     uint16
}

func (c UploadDataCommand) Encode() []byte {
	return envelope(CmdUploadData, u16(c.CRCSeed), u32(c.Offset), padDataTo8(c.Data), pad(6), u16(c.CRC))
}

func DecodeUploadDataCommand(buf []byte) (UploadDataCommand, error) {
	if err := checkEnvelope(buf, CmdUploadData, 16); err != nil {
		return UploadDataCommand{}, err
	}
	dataLen := len(buf) - 16
	if dataLen < 0 {
		return UploadDataCommand{}, ErrBadEnvelope
	}
	data := append([]byte(nil), buf[8:8+dataLen]...)
	crc := binary.LittleEndian.Uint16(buf[len(buf)-2:])
	return UploadDataCommand{
		CRCSeed: binary.LittleEndian.Uint16(buf[2:4]),
		Offset:  binary.LittleEndian.Uint32(buf[4:8]),
		Data:    data,
		CRC:     crc,
	}, nil
}

type UploadDataResponseCommand struct {
	Response ResponseCode
}

func (c UploadDataResponseCommand) Encode() []byte {
	return envelope(CmdUploadDataResponse, u8(byte(c.Response)), pad(5))
}

func DecodeUploadDataResponseCommand(buf []byte) (UploadDataResponseCommand, error) {
	if err := checkEnvelope(buf, CmdUploadDataResponse, 8); err != nil {
		return UploadDataResponseCommand{}, err
	}
	return UploadDataResponseCommand{Response: ResponseCode(buf[2])}, nil
}

type EraseRequestCommand struct{ DataIndex uint32 }

func (c EraseRequestCommand) Encode() []byte {
	return envelope(CmdEraseRequest, u32(c.DataIndex))
}

func DecodeEraseRequestCommand(buf []byte) (EraseRequestCommand, error) {
	if err := checkEnvelope(buf, CmdEraseRequest, 8); err != nil {
		return EraseRequestCommand{}, err
	}
	return EraseRequestCommand{DataIndex: binary.LittleEndian.Uint32(buf[2:6])}, nil
}

type EraseResponseCommand struct{ Response ResponseCode }

func (c EraseResponseCommand) Encode() []byte {
	return envelope(CmdEraseResponse, u8(byte(c.Response)))
}

func DecodeEraseResponseCommand(buf []byte) (EraseResponseCommand, error) {
	if err := checkEnvelope(buf, CmdEraseResponse, 8); err != nil {
		return EraseResponseCommand{}, err
	}
	return EraseResponseCommand{Response: ResponseCode(buf[2])}, nil
}
