package lawicel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/gousb"
)

const (
	ftdiVid = 0x0403
	ftdiPid = 0x6001

	ftdiInEndpoint  = 1
	ftdiOutEndpoint = 2

	// ftdi vendor requests
	sioReset        = 0x00
	sioSetBaudrate  = 0x03
	sioSetData      = 0x04
	sioSetLatency   = 0x09
	sioResetSIO     = 0
	sioPurgeRX      = 1
	sioPurgeTX      = 2
	sioInterfaceA   = 1
	ftdiRequestType = 0x40 // vendor, host to device
	ftdiStatusBytes = 2

	// 8 data bits, no parity, one stop bit
	ftdiData8N1 = 0x0008

	ftdiLatencyMs = 2
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:        "CANUSB D2XX",
		Description: "Lawicell CANUSB over libusb, port selects the serial number",
		Transport:   TransportFTDI,
		New:         NewLawicel("CANUSB D2XX", DialFTDI),
	}); err != nil {
		panic(err)
	}
}

// ftdiFracCode maps the eighths of the divisor to the FT232BM/R sub-integer
// bit encoding.
var ftdiFracCode = [8]uint16{0, 3, 2, 4, 1, 5, 6, 7}

// ftdiBaudDivisor returns the value and index words of the SET_BAUDRATE
// request for baud on a 3MHz base clock.
func ftdiBaudDivisor(baud int) (value, index uint16) {
	switch {
	case baud <= 0:
		baud = defaultSerialBaudrate
	case baud >= 3000000:
		return 0, 0
	case baud >= 2000000:
		return 1, 0
	}
	div8 := (3000000*8 + baud/2) / baud
	encoded := uint32(div8>>3) | uint32(ftdiFracCode[div8&7])<<14
	return uint16(encoded), uint16(encoded >> 16)
}

type ftdiTransport struct {
	usbCtx *gousb.Context
	dev    *gousb.Device
	devCfg *gousb.Config
	iface  *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint

	// pending holds payload bytes of the last USB read not yet returned
	pending   []byte
	buf       []byte
	closeOnce sync.Once
}

var usbNewContext = gousb.NewContext

// newUSBContext turns the panic gousb raises when libusb cannot be
// initialised into an error.
func newUSBContext() (ctx *gousb.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			ctx, err = nil, fmt.Errorf("libusb init: %v", r)
		}
	}()
	return usbNewContext(), nil
}

// DialFTDI opens the first FT232 based adapter, or the one whose serial
// number equals cfg.Port, directly over libusb.
func DialFTDI(_ context.Context, cfg *AdapterConfig) (Transport, error) {
	usbCtx, err := newUSBContext()
	if err != nil {
		return nil, err
	}
	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == ftdiVid && desc.Product == ftdiPid
	})
	var dev *gousb.Device
	for _, d := range devs {
		if dev != nil {
			d.Close()
			continue
		}
		if cfg.Port != "" {
			serial, serr := d.SerialNumber()
			if serr != nil || serial != cfg.Port {
				d.Close()
				continue
			}
		}
		dev = d
	}
	if dev == nil {
		usbCtx.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate usb: %w", err)
		}
		if cfg.Port != "" {
			return nil, fmt.Errorf("no FTDI device with serial %q found", cfg.Port)
		}
		return nil, errors.New("no FTDI device found")
	}
	dev.SetAutoDetach(true)

	t := &ftdiTransport{usbCtx: usbCtx, dev: dev}
	if t.devCfg, err = dev.Config(1); err != nil {
		t.Close()
		return nil, err
	}
	if t.iface, err = t.devCfg.Interface(0, 0); err != nil {
		t.Close()
		return nil, err
	}
	if t.in, err = t.iface.InEndpoint(ftdiInEndpoint); err != nil {
		t.Close()
		return nil, fmt.Errorf("InEndpoint(%d): %w", ftdiInEndpoint, err)
	}
	if t.out, err = t.iface.OutEndpoint(ftdiOutEndpoint); err != nil {
		t.Close()
		return nil, fmt.Errorf("OutEndpoint(%d): %w", ftdiOutEndpoint, err)
	}
	t.buf = make([]byte, t.in.Desc.MaxPacketSize*8)

	if err := t.configure(cfg.PortBaudrate); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *ftdiTransport) control(request uint8, value, index uint16) error {
	if _, err := t.dev.Control(ftdiRequestType, request, value, index, nil); err != nil {
		return fmt.Errorf("ftdi request %#02x: %w", request, err)
	}
	return nil
}

func (t *ftdiTransport) configure(baud int) error {
	value, index := ftdiBaudDivisor(baud)
	for _, r := range []struct {
		req          uint8
		value, index uint16
	}{
		{sioReset, sioResetSIO, sioInterfaceA},
		{sioSetData, ftdiData8N1, sioInterfaceA},
		{sioSetBaudrate, value, index},
		{sioSetLatency, ftdiLatencyMs, sioInterfaceA},
		{sioReset, sioPurgeRX, sioInterfaceA},
		{sioReset, sioPurgeTX, sioInterfaceA},
	} {
		if err := t.control(r.req, r.value, r.index); err != nil {
			return err
		}
	}
	return nil
}

func (t *ftdiTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), defaultReadTimeout*5)
		n, err := t.in.ReadContext(ctx, t.buf)
		cancel()
		if err != nil && n == 0 {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, gousb.TransferCancelled) || errors.Is(err, gousb.TransferTimedOut) {
				return 0, nil
			}
			return 0, err
		}
		t.pending = stripModemStatus(t.buf[:n], t.in.Desc.MaxPacketSize)
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// stripModemStatus removes the two status bytes the chip puts in front of
// every packet, compacting the payload in place.
func stripModemStatus(b []byte, packetSize int) []byte {
	if packetSize <= ftdiStatusBytes {
		return b[:0]
	}
	out := b[:0]
	for len(b) > 0 {
		n := packetSize
		if n > len(b) {
			n = len(b)
		}
		if n > ftdiStatusBytes {
			out = append(out, b[ftdiStatusBytes:n]...)
		}
		b = b[n:]
	}
	return out
}

func (t *ftdiTransport) Write(p []byte) (int, error) {
	return t.out.Write(p)
}

func (t *ftdiTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.iface != nil {
			t.iface.Close()
		}
		if t.devCfg != nil {
			if cerr := t.devCfg.Close(); cerr != nil {
				err = cerr
			}
		}
		if t.dev != nil {
			if cerr := t.dev.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if t.usbCtx != nil {
			if cerr := t.usbCtx.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// ListFTDIDevices returns the serial numbers of attached FT232 adapters.
func ListFTDIDevices() ([]DeviceInfo, error) {
	usbCtx, err := newUSBContext()
	if err != nil {
		return nil, err
	}
	defer usbCtx.Close()
	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == ftdiVid && desc.Product == ftdiPid
	})
	var out []DeviceInfo
	for _, d := range devs {
		info := DeviceInfo{Transport: TransportFTDI, IsUSB: true, VID: "0403", PID: "6001"}
		if s, serr := d.SerialNumber(); serr == nil {
			info.Name, info.SerialNumber = s, s
		}
		if p, perr := d.Product(); perr == nil {
			info.Description = p
		}
		d.Close()
		out = append(out, info)
	}
	return out, err
}
