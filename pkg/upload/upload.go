// Package upload implements the chunked upload engine (SPEC_FULL.md
// §4.8): query device capacity, then push fixed-size chunks with a
// running CRC, retrying from the device-reported offset on failure.
package upload

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hexad/antfs/internal/crc"
	"github.com/hexad/antfs/pkg/session"
	"github.com/hexad/antfs/pkg/transport"
)

// ErrFailed wraps a non-OK UPLOAD (DATA) RESPONSE code.
type ErrFailed struct{ Code session.ResponseCode }

func (e *ErrFailed) Error() string {
	return fmt.Sprintf("upload: device returned response code %d", e.Code)
}

// ErrCRCMismatch is returned when the device's final CRC does not
// match the locally computed full-file CRC.
type ErrCRCMismatch struct{ Local, Remote uint16 }

func (e *ErrCRCMismatch) Error() string {
	return fmt.Sprintf("upload: final CRC mismatch: local=%#04x remote=%#04x", e.Local, e.Remote)
}

// Radio is the subset of pkg/channel.Channel the engine depends on.
type Radio interface {
	SendBurst(data []byte) error
	WaitForEvent(allowed ...transport.Code) (transport.Record, error)
}

// Engine drives the upload protocol for one channel.
type Engine struct {
	radio  Radio
	logger *logrus.Logger
}

func New(radio Radio, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{radio: radio, logger: logger}
}

// Upload pushes bytes into directory index idx.
func (e *Engine) Upload(idx uint16, data []byte, onProgress func(fraction float64)) error {
	capResp, err := e.queryCapacity(idx, len(data))
	if err != nil {
		return err
	}

	offset := capResp.LastOffset
	crcSeed := crc.Of(0, data[:offset])

	for offset < uint32(len(data)) {
		blockSize := capResp.MaxBlockSize
		if blockSize == 0 || blockSize > uint32(len(data))-offset {
			blockSize = uint32(len(data)) - offset
		}
		chunk := data[offset : offset+blockSize]
		chunkCRC := crc.Of(crcSeed, chunk)

		resp, err := e.sendChunk(crcSeed, offset, chunk, chunkCRC)
		if err != nil {
			return err
		}
		if !resp.Response.OK() {
			// The device may have accepted a prefix of what's already
			// been sent; re-query capacity to learn its last accepted
			// offset and resume the running CRC from there.
			e.logger.WithField("code", resp.Response).Warn("upload chunk rejected, resyncing from device-reported offset")
			capResp, err = e.queryCapacity(idx, len(data))
			if err != nil {
				return err
			}
			offset = capResp.LastOffset
			crcSeed = crc.Of(0, data[:offset])
			continue
		}

		offset += blockSize
		crcSeed = chunkCRC
		if onProgress != nil {
			onProgress(float64(offset) / float64(len(data)))
		}
	}

	final, err := e.queryCapacity(idx, len(data))
	if err != nil {
		return err
	}
	if want := crc.Of(0, data); final.CRC != want {
		return &ErrCRCMismatch{Local: want, Remote: final.CRC}
	}
	return nil
}

func (e *Engine) queryCapacity(idx uint16, size int) (session.UploadResponseCommand, error) {
	req := session.UploadRequestCommand{DataIndex: idx, MaxSize: uint32(size), Offset: session.UploadCapacityQuery}
	if err := e.radio.SendBurst(req.Encode()); err != nil {
		return session.UploadResponseCommand{}, err
	}
	rec, err := e.radio.WaitForEvent(transport.EventRxBurstPacket)
	if err != nil {
		return session.UploadResponseCommand{}, err
	}
	resp, err := session.DecodeUploadResponseCommand(rec.Data)
	if err != nil {
		return session.UploadResponseCommand{}, err
	}
	if !resp.Response.OK() {
		return session.UploadResponseCommand{}, &ErrFailed{Code: resp.Response}
	}
	return resp, nil
}

func (e *Engine) sendChunk(crcSeed uint16, offset uint32, chunk []byte, chunkCRC uint16) (session.UploadDataResponseCommand, error) {
	cmd := session.UploadDataCommand{CRCSeed: crcSeed, Offset: offset, Data: chunk, CRC: chunkCRC}
	if err := e.radio.SendBurst(cmd.Encode()); err != nil {
		return session.UploadDataResponseCommand{}, err
	}
	rec, err := e.radio.WaitForEvent(transport.EventRxBurstPacket)
	if err != nil {
		return session.UploadDataResponseCommand{}, err
	}
	return session.DecodeUploadDataResponseCommand(rec.Data)
}

