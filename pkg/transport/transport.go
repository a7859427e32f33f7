// Package transport implements the lower radio-transport layer: frame
// routing into response/event queues, outbound write serialisation,
// timeslot-gated queuing, and burst packet reassembly. It knows
// nothing about the session/file-sync protocol layered on top of it
// (see pkg/channel and pkg/session).
package transport

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hexad/antfs/internal/fifo"
	"github.com/hexad/antfs/pkg/dongle"
	"github.com/hexad/antfs/pkg/frame"
)

// ErrStopped is returned by outbound operations once Stop has been
// called.
var ErrStopped = errors.New("transport: stopped")

const (
	responseQueueSize = 64
	eventQueueSize     = 64
	timeslotQueueSize  = 64
	readChunkSize      = 4096
)

// Core mediates between the dongle and its two consumers: a response
// queue and a channel-event queue. It also owns a timeslot queue of
// outbound frames released one per broadcast tick (see drainTimeslot).
//
// One reader goroutine owns the dongle's read side, the receive
// buffer and the burst buffer — it is the sole frame decoder and sole
// publisher to the response/event queues, matching the single-reader
// design the teacher's BusManager documents for CAN frame dispatch.
type Core struct {
	logger *logrus.Logger
	drv    dongle.Driver

	writeMu sync.Mutex // serialises writes to drv

	responses chan Record
	events    chan Record
	timeslot  chan []byte

	recvBuf []byte
	bursts  map[uint8]*fifo.Fifo
	lastBroadcast map[uint8][]byte

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New creates a Core around drv. Call Start to begin reading.
func New(drv dongle.Driver, logger *logrus.Logger) *Core {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Core{
		logger:        logger,
		drv:           drv,
		responses:     make(chan Record, responseQueueSize),
		events:        make(chan Record, eventQueueSize),
		timeslot:      make(chan []byte, timeslotQueueSize),
		bursts:        make(map[uint8]*fifo.Fifo),
		lastBroadcast: make(map[uint8][]byte),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
}

// Responses returns the response queue consumers read from.
func (c *Core) Responses() <-chan Record { return c.responses }

// Events returns the channel-event queue consumers read from.
func (c *Core) Events() <-chan Record { return c.events }

// Start opens the dongle and launches the reader goroutine.
func (c *Core) Start() error {
	if err := c.drv.Open(); err != nil {
		return err
	}
	go c.readLoop()
	return nil
}

// Stop flips the reader's run flag, joins it, and closes the dongle.
// Outstanding waiters on the response/event queues observe the
// queues simply stop producing; pkg/channel's waiters then return
// ErrTimedOut once their deadline passes. There is no separate
// cancellation error.
func (c *Core) Stop() {
	c.once.Do(func() {
		close(c.stop)
	})
	<-c.stopped
	_ = c.drv.Close()
}

// WriteMessage writes a frame immediately; it does not suspend.
func (c *Core) WriteMessage(id byte, payload []byte) error {
	select {
	case <-c.stop:
		return ErrStopped
	default:
	}
	return c.writeRaw(frame.Encode(id, payload))
}

// QueueTimeslot enqueues a frame to be released on the next (or a
// later) broadcast tick. It suspends if the timeslot queue is full.
func (c *Core) QueueTimeslot(id byte, payload []byte) error {
	raw := frame.Encode(id, payload)
	select {
	case c.timeslot <- raw:
		return nil
	case <-c.stop:
		return ErrStopped
	}
}

func (c *Core) writeRaw(raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.drv.Write(raw)
}

func (c *Core) readLoop() {
	defer close(c.stopped)
	defer c.logger.Debug("transport reader stopped")
	c.logger.Debug("transport reader started")

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		chunk, err := c.drv.Read(readChunkSize)
		if err != nil {
			c.logger.WithError(err).Warn("transient dongle read error, continuing")
			continue
		}
		if len(chunk) == 0 {
			continue
		}
		c.recvBuf = append(c.recvBuf, chunk...)
		c.drainFrames()
	}
}

// drainFrames decodes as many complete frames as recvBuf holds,
// routing each. A decode failure (bad sync / bad checksum) discards
// bytes up to the next plausible sync byte and resumes.
func (c *Core) drainFrames() {
	for {
		f, rem, err := frame.Decode(c.recvBuf)
		switch {
		case err == nil:
			c.recvBuf = rem
			c.route(f)
		case errors.Is(err, frame.ErrNeedMore):
			return
		default:
			c.logger.WithError(err).Warn("frame decode failed, resyncing")
			c.recvBuf = resync(c.recvBuf)
			if len(c.recvBuf) == 0 {
				return
			}
		}
	}
}

// resync drops buf[0] and scans forward to the next byte equal to
// frame.Sync, since buf[0] itself was already ruled out as a valid
// frame start.
func resync(buf []byte) []byte {
	for i := 1; i < len(buf); i++ {
		if buf[i] == frame.Sync {
			return buf[i:]
		}
	}
	return nil
}

func (c *Core) route(f frame.Frame) {
	switch f.ID {
	case MsgStartup, MsgSerialError:
		c.publishResponse(Record{Kind: KindResponse, Code: Code(f.ID), Data: f.Payload})

	case MsgResponseVersion, MsgResponseCapabilities, MsgResponseSerialNumber:
		c.publishResponse(Record{Kind: KindResponse, Code: Code(f.ID), Data: f.Payload})

	case MsgResponseChannelStatus, MsgChannelID:
		if len(f.Payload) < 1 {
			return
		}
		c.publishResponse(Record{
			Kind: KindResponse, Channel: channelOf(f.Payload[0]),
			Code: Code(f.ID), Data: f.Payload[1:],
		})

	case MsgResponseChannel:
		if len(f.Payload) < 2 {
			return
		}
		ch := f.Payload[0]
		subCode := f.Payload[1]
		data := f.Payload[2:]
		if subCode != 0x01 {
			c.publishResponse(Record{Kind: KindResponse, Channel: channelOf(ch), Code: Code(subCode), Data: data})
		} else {
			// §4.3 / Open Questions: sub-code 0x01 denotes "this is
			// an event dressed as a response" — re-route as event,
			// keyed by the event code carried in data[0].
			code := Code(subCode)
			if len(data) > 0 {
				code = Code(data[0])
			}
			c.publishEvent(Record{Kind: KindEvent, Channel: channelOf(ch), Code: code, Data: data})
		}

	case MsgBroadcastData:
		c.handleBroadcast(f.Payload)

	case MsgAcknowledgedData:
		if len(f.Payload) < 1 {
			return
		}
		c.publishEvent(Record{
			Kind: KindEvent, Channel: channelOf(f.Payload[0]),
			Code: EventRxAcknowledged, Data: f.Payload[1:],
		})

	case MsgBurstData:
		c.handleBurst(f.Payload)

	default:
		c.logger.WithField("id", f.ID).Debug("unrouted message id, dropped")
	}
}

func (c *Core) handleBroadcast(payload []byte) {
	if len(payload) < 1 {
		return
	}
	ch := payload[0]
	data := payload[1:]

	prev, seen := c.lastBroadcast[ch]
	duplicate := seen && bytesEqual(prev, data)
	if !duplicate {
		stored := append([]byte(nil), data...)
		c.lastBroadcast[ch] = stored
		c.publishEvent(Record{Kind: KindEvent, Channel: channelOf(ch), Code: EventRxBroadcast, Data: stored})
	}
	// Every broadcast, suppressed or not, is a timeslot tick.
	c.drainTimeslot()
}

func (c *Core) handleBurst(payload []byte) {
	if len(payload) < 1 {
		return
	}
	header := payload[0]
	ch := header & 0x1F
	seq := header >> 5
	last := seq&0x4 != 0
	data := payload[1:]

	buf, ok := c.bursts[ch]
	if !ok {
		buf = fifo.New(64)
		c.bursts[ch] = buf
	}
	buf.Write(data, nil)

	if last {
		reassembled := append([]byte(nil), buf.Bytes()...)
		buf.Reset()
		c.publishEvent(Record{Kind: KindEvent, Channel: channelOf(ch), Code: EventRxBurstPacket, Data: reassembled})
	}
}

// drainTimeslot writes one queued outbound frame, continuing to drain
// further frames without waiting for another broadcast only while the
// frame just written is a non-final burst-data packet (a burst must
// land within one contiguous timeslot window; regular writes must be
// paced one per tick).
func (c *Core) drainTimeslot() {
	for {
		select {
		case raw := <-c.timeslot:
			if err := c.writeRaw(raw); err != nil {
				c.logger.WithError(err).Warn("timeslot write failed")
			}
			if !isNonFinalBurstPacket(raw) {
				return
			}
		default:
			return
		}
	}
}

// isNonFinalBurstPacket reports whether raw is an encoded
// MsgBurstData frame whose sequence nibble does not have the
// last-packet bit set.
func isNonFinalBurstPacket(raw []byte) bool {
	if len(raw) < 4 || raw[2] != MsgBurstData {
		return false
	}
	header := raw[3]
	seq := header >> 5
	return seq&0x4 == 0
}

func (c *Core) publishResponse(r Record) {
	select {
	case c.responses <- r:
	case <-c.stop:
	}
}

func (c *Core) publishEvent(r Record) {
	select {
	case c.events <- r:
	case <-c.stop:
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
