package lawicel

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

const defaultSerialBaudrate = 115200

func init() {
	for _, info := range []*AdapterInfo{
		{
			Name:               "CANUSB VCP",
			Description:        "Lawicell CANUSB over the FTDI virtual com port",
			RequiresSerialPort: true,
			Transport:          TransportSerial,
			New:                NewLawicel("CANUSB VCP", DialSerial),
		},
		{
			Name:               "SLCAN",
			Description:        "CANable and other slcan firmware",
			RequiresSerialPort: true,
			Transport:          TransportSerial,
			New:                NewLawicel("SLCAN", DialSerial, WithoutFilters()),
		},
	} {
		if err := RegisterAdapter(info); err != nil {
			panic(err)
		}
	}
}

// DialSerial opens cfg.Port as a 8N1 serial port.
func DialSerial(_ context.Context, cfg *AdapterConfig) (Transport, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("no serial port given")
	}
	baud := cfg.PortBaudrate
	if baud == 0 {
		baud = defaultSerialBaudrate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open com port %q : %w", cfg.Port, err)
	}
	if err := p.SetReadTimeout(defaultReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to reset input buffer: %w", err)
	}
	return &serialTransport{Port: p}, nil
}

type serialTransport struct {
	serial.Port
}

func (s *serialTransport) Close() error {
	s.ResetOutputBuffer()
	return s.Port.Close()
}
