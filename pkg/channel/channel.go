// Package channel is a thin typed layer over pkg/transport: for each
// transport command it encodes the command and either fires-and-
// forgets or blocks until a specified filter matches an item on the
// response or event queue.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hexad/antfs/pkg/transport"
)

var (
	// ErrTimedOut is returned when a waiter's retry budget is
	// exhausted without a matching record.
	ErrTimedOut = errors.New("channel: timed out")
	// ErrTransferFailed is returned when EVENT_TRANSFER_TX_FAILED
	// arrives while a waiter is blocked.
	ErrTransferFailed = errors.New("channel: transfer failed")
)

// UnexpectedCodeError is returned by WaitForResponse when the
// response carries a code other than ResponseNoError.
type UnexpectedCodeError struct{ Code transport.Code }

func (e *UnexpectedCodeError) Error() string {
	return fmt.Sprintf("channel: unexpected response code %s", e.Code)
}

const (
	defaultPollInterval = 1 * time.Second
	defaultRetryBudget  = 10
)

// Channel is the typed command/response façade used by the session
// layer. One Channel corresponds to one radio channel — this module
// uses exactly one (see SPEC_FULL.md §1 Non-goals).
type Channel struct {
	core   *transport.Core
	logger *logrus.Logger
	id     uint8

	pollInterval time.Duration
	retryBudget  int
}

// New wraps core for channel id.
func New(core *transport.Core, id uint8, logger *logrus.Logger) *Channel {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Channel{
		core: core, id: id, logger: logger,
		pollInterval: defaultPollInterval,
		retryBudget:  defaultRetryBudget,
	}
}

// --- fire-and-forget configuration commands -------------------------------

func (c *Channel) Assign(channelType, networkNumber byte) error {
	return c.core.WriteMessage(transport.MsgAssignChannel, []byte{c.id, channelType, networkNumber})
}

func (c *Channel) SetChannelID(deviceNumber uint16, deviceType, transmissionType byte) error {
	payload := make([]byte, 5)
	payload[0] = c.id
	binary.LittleEndian.PutUint16(payload[1:3], deviceNumber)
	payload[3] = deviceType
	payload[4] = transmissionType
	return c.core.WriteMessage(transport.MsgChannelID, payload)
}

func (c *Channel) SetPeriod(period uint16) error {
	payload := make([]byte, 3)
	payload[0] = c.id
	binary.LittleEndian.PutUint16(payload[1:3], period)
	return c.core.WriteMessage(transport.MsgChannelPeriod, payload)
}

func (c *Channel) SetSearchTimeout(timeout byte) error {
	return c.core.WriteMessage(transport.MsgSearchTimeout, []byte{c.id, timeout})
}

func (c *Channel) SetRFFreq(freq byte) error {
	return c.core.WriteMessage(transport.MsgChannelRFFreq, []byte{c.id, freq})
}

func (c *Channel) SetNetworkKey(networkNumber byte, key [8]byte) error {
	payload := make([]byte, 9)
	payload[0] = networkNumber
	copy(payload[1:], key[:])
	return c.core.WriteMessage(transport.MsgNetworkKey, payload)
}

func (c *Channel) SetSearchWaveform(waveform uint16) error {
	payload := make([]byte, 3)
	payload[0] = c.id
	binary.LittleEndian.PutUint16(payload[1:3], waveform)
	return c.core.WriteMessage(transport.MsgSearchWaveform, payload)
}

func (c *Channel) ResetSystem() error {
	return c.core.WriteMessage(transport.MsgSystemReset, []byte{0})
}

// --- open/close + blocking waits -------------------------------------------

// Open opens the channel and waits for the corresponding channel
// response.
func (c *Channel) Open() (transport.Record, error) {
	if err := c.core.WriteMessage(transport.MsgOpenChannel, []byte{c.id}); err != nil {
		return transport.Record{}, err
	}
	return c.WaitForResponse(transport.MsgOpenChannel)
}

// Close closes the channel and waits for the corresponding channel
// response.
func (c *Channel) Close() (transport.Record, error) {
	if err := c.core.WriteMessage(transport.MsgCloseChannel, []byte{c.id}); err != nil {
		return transport.Record{}, err
	}
	return c.WaitForResponse(transport.MsgCloseChannel)
}

// RequestMessage asks the dongle to emit an info response
// (version/capabilities/serial/channel id/channel status) and waits
// for it.
func (c *Channel) RequestMessage(messageID byte) (transport.Record, error) {
	if err := c.core.WriteMessage(transport.MsgRequestMessage, []byte{c.id, messageID}); err != nil {
		return transport.Record{}, err
	}
	return c.WaitForSpecial(messageID)
}

// SendAcknowledged queues an 8-byte acknowledged-data message onto
// the timeslot queue.
func (c *Channel) SendAcknowledged(data []byte) error {
	payload := make([]byte, 9)
	payload[0] = c.id
	copy(payload[1:], data)
	return c.core.QueueTimeslot(transport.MsgAcknowledgedData, payload)
}

// SendBurst decomposes data (a multiple of 8 bytes) into 8-byte burst
// packets, queues them in order on the timeslot queue, and awaits
// EVENT_TRANSFER_TX_START then EVENT_TRANSFER_TX_COMPLETED. On
// ErrTransferFailed it retries the whole burst exactly once.
func (c *Channel) SendBurst(data []byte) error {
	if len(data)%8 != 0 {
		panic("channel: burst payload must be a multiple of 8 bytes")
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.queueBurstPackets(data); err != nil {
			return err
		}
		if _, err := c.WaitForEvent(transport.EventTransferTxStart); err != nil {
			lastErr = err
			if errors.Is(err, ErrTransferFailed) {
				continue
			}
			return err
		}
		if _, err := c.WaitForEvent(transport.EventTransferTxCompleted); err != nil {
			lastErr = err
			if errors.Is(err, ErrTransferFailed) {
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// queueBurstPackets splits data into 8-byte chunks and prefixes each
// with a (channel | sequence<<5) header byte, giving 9-byte ANT burst
// messages. The rolling 2-bit sequence counter is 0 for the first
// packet and 1,2,3,1,2,3,... thereafter; the last packet additionally
// sets the last-packet marker bit (bit 2) on top of its rolling value.
func (c *Channel) queueBurstPackets(data []byte) error {
	packets := len(data) / 8
	for i := 0; i < packets; i++ {
		var seq byte
		if i > 0 {
			seq = byte((i-1)%3) + 1
		}
		if i == packets-1 {
			seq |= 0x4
		}
		header := c.id | (seq << 5)
		payload := make([]byte, 9)
		payload[0] = header
		copy(payload[1:], data[i*8:i*8+8])
		if err := c.core.QueueTimeslot(transport.MsgBurstData, payload); err != nil {
			return err
		}
	}
	return nil
}

// --- filter primitives -------------------------------------------------

// WaitForResponse matches a RESPONSE_CHANNEL-derived record with
// code == the given messageID and data[0] == ResponseNoError. Any
// other code is surfaced as *UnexpectedCodeError.
func (c *Channel) WaitForResponse(messageID byte) (transport.Record, error) {
	return c.poll(c.core.Responses(), func(r transport.Record) (bool, error) {
		if byte(r.Code) != messageID {
			return false, nil
		}
		if len(r.Data) == 0 || transport.Code(r.Data[0]) != transport.ResponseNoError {
			var got transport.Code
			if len(r.Data) > 0 {
				got = transport.Code(r.Data[0])
			}
			return true, &UnexpectedCodeError{Code: got}
		}
		return true, nil
	})
}

// WaitForEvent matches an event whose code is in allowed.
func (c *Channel) WaitForEvent(allowed ...transport.Code) (transport.Record, error) {
	set := make(map[transport.Code]bool, len(allowed))
	for _, code := range allowed {
		set[code] = true
	}
	return c.poll(c.core.Events(), func(r transport.Record) (bool, error) {
		return set[r.Code], nil
	})
}

// WaitForSpecial matches a response whose message id equals
// messageID. Used for info responses where there is no error code.
func (c *Channel) WaitForSpecial(messageID byte) (transport.Record, error) {
	return c.poll(c.core.Responses(), func(r transport.Record) (bool, error) {
		return byte(r.Code) == messageID, nil
	})
}

// poll drains queue, applying match to every item; match returns
// (true, err) to stop and deliver a result (err nil for success),
// or (false, nil) to keep waiting. While waiting on the same queue,
// an EVENT_TRANSFER_TX_FAILED record fails the wait fast.
func (c *Channel) poll(queue <-chan transport.Record, match func(transport.Record) (bool, error)) (transport.Record, error) {
	deadline := time.NewTimer(time.Duration(c.retryBudget) * c.pollInterval)
	defer deadline.Stop()

	for {
		select {
		case r := <-queue:
			if r.Code == transport.EventTransferTxFailed {
				return transport.Record{}, ErrTransferFailed
			}
			stop, err := match(r)
			if stop {
				return r, err
			}
		case <-deadline.C:
			return transport.Record{}, ErrTimedOut
		}
	}
}
