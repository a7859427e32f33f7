// Package download implements the resumable chunked download engine
// (SPEC_FULL.md §4.7): request a chunk by offset, accumulate the
// response, continue with the device-reported CRC seed until the
// file is complete.
package download

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/hexad/antfs/internal/crc"
	"github.com/hexad/antfs/pkg/session"
	"github.com/hexad/antfs/pkg/transport"
)

// ErrFailed wraps a non-OK DOWNLOAD RESPONSE code.
type ErrFailed struct{ Code session.ResponseCode }

func (e *ErrFailed) Error() string {
	return fmt.Sprintf("download: device returned response code %d", e.Code)
}

// ErrCRCMismatch is returned when the accumulated bytes' CRC does not
// match the device's continuation seed — a consistency check the
// engine performs but does not require to pass strictly (see Engine.Strict).
var ErrCRCMismatch = errors.New("download: local CRC does not match device continuation seed")

// Radio is the subset of pkg/channel.Channel the engine depends on,
// named here so tests can substitute a simulated device.
type Radio interface {
	SendBurst(data []byte) error
	WaitForEvent(allowed ...transport.Code) (transport.Record, error)
}

const defaultRetryBudget = 3

// Engine drives the download protocol for one channel.
type Engine struct {
	radio   Radio
	logger  *logrus.Logger
	retries int
	// Strict makes a CRC continuation mismatch a hard failure instead
	// of a logged warning.
	Strict bool
}

func New(radio Radio, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{radio: radio, logger: logger, retries: defaultRetryBudget}
}

// Download fetches directory index idx in full, reporting fractional
// progress via onProgress (may be nil).
func (e *Engine) Download(idx uint16, onProgress func(fraction float64)) ([]byte, error) {
	var (
		offset      uint32
		crcSeed     uint16
		accumulator []byte
	)

	for {
		resp, err := e.requestChunk(idx, offset, crcSeed)
		if err != nil {
			return nil, err
		}
		if !resp.Response.OK() {
			return nil, &ErrFailed{Code: resp.Response}
		}

		accumulator = appendAt(accumulator, int(resp.Offset), resp.Data[:resp.Remaining])

		if onProgress != nil && resp.Size > 0 {
			onProgress(float64(resp.Offset+resp.Remaining) / float64(resp.Size))
		}

		if err := e.checkCRC(accumulator, resp.CRC); err != nil {
			if e.Strict {
				return nil, err
			}
			e.logger.WithError(err).Warn("download CRC continuation mismatch, continuing")
		}

		if resp.Offset+resp.Remaining >= resp.Size {
			return accumulator, nil
		}
		offset = resp.Offset + resp.Remaining
		crcSeed = resp.CRC
	}
}

func (e *Engine) requestChunk(idx uint16, offset uint32, crcSeed uint16) (session.DownloadResponseCommand, error) {
	req := session.DownloadRequestCommand{
		DataIndex: idx, Offset: offset, Initial: offset == 0, CRCSeed: crcSeed, MaxBlock: 0,
	}

	var lastErr error
	for attempt := 0; attempt < e.retries; attempt++ {
		if err := e.radio.SendBurst(req.Encode()); err != nil {
			return session.DownloadResponseCommand{}, err
		}
		rec, err := e.radio.WaitForEvent(transport.EventRxBurstPacket)
		if err != nil {
			lastErr = err
			e.logger.WithError(err).WithField("attempt", attempt+1).Warn("download chunk timed out, retrying")
			continue
		}
		return session.DecodeDownloadResponseCommand(rec.Data)
	}
	return session.DownloadResponseCommand{}, fmt.Errorf("download: exhausted retries: %w", lastErr)
}

func (e *Engine) checkCRC(accumulated []byte, seed uint16) error {
	if crc.Of(0, accumulated) != seed {
		return ErrCRCMismatch
	}
	return nil
}

// appendAt writes data into dst at offset, growing dst as needed.
func appendAt(dst []byte, offset int, data []byte) []byte {
	need := offset + len(data)
	if len(dst) < need {
		grown := make([]byte, need)
		copy(grown, dst)
		dst = grown
	}
	copy(dst[offset:], data)
	return dst
}
