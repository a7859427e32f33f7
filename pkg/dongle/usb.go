package dongle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"
)

// USBVendorProduct identifies one ANT USB stick variant by its
// USB vendor/product id pair.
type USBVendorProduct struct {
	Vendor  gousb.ID
	Product gousb.ID
}

// KnownUSBSticks lists the vendor/product pairs recognised by
// NewUSBFinder, probed in this order. Garmin's two common stick
// revisions come first since they are the most commonly deployed.
var KnownUSBSticks = []USBVendorProduct{
	{Vendor: 0x0fcf, Product: 0x1004}, // Garmin ANT+ USB stick (original)
	{Vendor: 0x0fcf, Product: 0x1008}, // Garmin ANT+ USB2 stick
	{Vendor: 0x0fcf, Product: 0x1009}, // Dynastream ANTUSB-m stick
}

const (
	usbConfigNum    = 1
	usbInterfaceNum = 0
	usbAltSetting   = 0
	usbReadTimeout  = 500 * time.Millisecond
	usbWriteTimeout = 1 * time.Second
)

// USBDriver talks to an ANT USB stick directly via gousb, bypassing
// any kernel CDC-ACM driver. Grounded on the same probe → Config(1) →
// claim-interface → bulk in/out endpoint sequence used for the USB
// ASIC link in the hashing-rig reference code this module's dependency
// set was drawn from.
type USBDriver struct {
	ctx    *gousb.Context
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	epIn   *gousb.InEndpoint
	epOut  *gousb.OutEndpoint
	vendor USBVendorProduct
}

// NewUSBFinder returns a Finder that probes sticks in the order given.
func NewUSBFinder(sticks []USBVendorProduct) Finder {
	return func() (Driver, error) {
		ctx := gousb.NewContext()
		for _, vp := range sticks {
			dev, err := ctx.OpenDeviceWithVIDPID(vp.Vendor, vp.Product)
			if err != nil || dev == nil {
				continue
			}
			drv, err := newUSBDriver(ctx, dev, vp)
			if err != nil {
				dev.Close()
				ctx.Close()
				return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
			}
			return drv, nil
		}
		ctx.Close()
		return nil, ErrNotFound
	}
}

func newUSBDriver(ctx *gousb.Context, dev *gousb.Device, vp USBVendorProduct) (*USBDriver, error) {
	cfg, err := dev.Config(usbConfigNum)
	if err != nil {
		return nil, fmt.Errorf("set config: %w", err)
	}
	intf, err := cfg.Interface(usbInterfaceNum, usbAltSetting)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("claim interface: %w", err)
	}
	epIn, err := intf.InEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("open IN endpoint: %w", err)
	}
	epOut, err := intf.OutEndpoint(1)
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, fmt.Errorf("open OUT endpoint: %w", err)
	}
	return &USBDriver{
		ctx: ctx, dev: dev, cfg: cfg, intf: intf,
		epIn: epIn, epOut: epOut, vendor: vp,
	}, nil
}

// Open is a no-op: the finder has already opened and claimed the
// device by the time a USBDriver exists.
func (d *USBDriver) Open() error { return nil }

func (d *USBDriver) Close() error {
	d.intf.Close()
	d.cfg.Close()
	d.dev.Close()
	d.ctx.Close()
	return nil
}

func (d *USBDriver) Read(max int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), usbReadTimeout)
	defer cancel()
	buf := make([]byte, max)
	n, err := d.epIn.ReadContext(ctx, buf)
	if err != nil {
		// A read timeout with zero bytes is the expected idle case,
		// not a driver failure.
		if n == 0 {
			return nil, nil
		}
		return nil, err
	}
	return buf[:n], nil
}

func (d *USBDriver) Write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), usbWriteTimeout)
	defer cancel()
	_, err := d.epOut.WriteContext(ctx, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return nil
}
