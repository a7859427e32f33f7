// Package dongle provides the opaque byte-pipe abstraction over the
// radio dongle hardware: open/close/read/write, nothing else. Framing
// and protocol semantics live entirely above this package (see
// pkg/frame and pkg/transport) — the transport core treats a Driver
// as a byte stream.
package dongle

import "errors"

var (
	// ErrNotFound is returned when no registered Driver variant
	// could locate hardware.
	ErrNotFound = errors.New("dongle: no compatible device found")
	// ErrOpenFailed is returned when a matching device was found but
	// could not be opened/claimed.
	ErrOpenFailed = errors.New("dongle: failed to open device")
	// ErrTimeout is returned by Write when the dongle did not accept
	// a frame within its internal deadline.
	ErrTimeout = errors.New("dongle: write timed out")
)

// Driver is the capability set the transport core depends on. Read is
// expected to be non-blocking-ish: it returns at least one byte, or
// an empty slice after an internal timeout, never blocking forever.
type Driver interface {
	Open() error
	Close() error
	Read(max int) ([]byte, error)
	Write(data []byte) error
}

// Finder probes for one Driver variant, returning ErrNotFound if no
// matching hardware is present.
type Finder func() (Driver, error)

// Open tries each finder in order and returns the first Driver whose
// finder succeeds. Finders are tried in the order given — callers
// should list more specific / faster-to-probe variants first.
func Open(finders ...Finder) (Driver, error) {
	for _, find := range finders {
		drv, err := find()
		if err == nil {
			return drv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
