package dongle

import (
	"io"
	"os"
	"time"
)

// SerialPaths lists the device nodes probed by NewSerialFinder, in
// order. Serial-over-USB ANT sticks enumerate as a CDC-ACM TTY rather
// than a raw USB bulk device.
var SerialPaths = []string{"/dev/ttyUSB0", "/dev/ttyACM0"}

// SerialDriver talks to a serial-over-USB ANT stick as a plain byte
// stream. No third-party serial library appears anywhere in this
// module's reference corpus (the nearest analogues all target raw
// USB bulk endpoints or CAN sockets), so this variant stays on
// stdlib os.File against a TTY device node the kernel's CDC-ACM
// driver has already configured — there is no line-discipline
// negotiation left for a userspace serial library to do.
type SerialDriver struct {
	path string
	f    *os.File
}

// NewSerialFinder returns a Finder that opens the first existing
// device node in paths.
func NewSerialFinder(paths []string) Finder {
	return func() (Driver, error) {
		for _, p := range paths {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			return &SerialDriver{path: p}, nil
		}
		return nil, ErrNotFound
	}
}

func (d *SerialDriver) Open() error {
	f, err := os.OpenFile(d.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	d.f = f
	return nil
}

func (d *SerialDriver) Close() error {
	if d.f == nil {
		return nil
	}
	return d.f.Close()
}

func (d *SerialDriver) Read(max int) ([]byte, error) {
	_ = d.f.SetReadDeadline(time.Now().Add(usbReadTimeout))
	buf := make([]byte, max)
	n, err := d.f.Read(buf)
	if err != nil {
		if err == io.EOF || os.IsTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

func (d *SerialDriver) Write(data []byte) error {
	_ = d.f.SetWriteDeadline(time.Now().Add(usbWriteTimeout))
	_, err := d.f.Write(data)
	if err != nil {
		if os.IsTimeout(err) {
			return ErrTimeout
		}
		return err
	}
	return nil
}
