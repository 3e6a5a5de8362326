//go:build linux

package lawicel

import (
	"fmt"

	"github.com/brutella/can"
)

// can_id flag bits of a SocketCAN frame
const (
	canEFFFlag = 0x80000000
	canRTRFlag = 0x40000000
	canERRFlag = 0x20000000
	canSFFMask = 0x000007FF
)

// ToSocketCAN converts m into a SocketCAN frame. Identifiers above 0x7FF fit
// a LAWICEL frame but not an 11 bit CAN id and are rejected.
func ToSocketCAN(m *Message) (can.Frame, error) {
	if err := m.Validate(); err != nil {
		return can.Frame{}, err
	}
	if m.Identifier > canSFFMask {
		return can.Frame{}, fmt.Errorf("%w: 0x%X is not an 11 bit id", ErrInvalidIdentifier, m.Identifier)
	}
	f := can.Frame{
		ID:     m.Identifier,
		Length: m.Length,
		Data:   m.Data,
	}
	if m.RTR {
		f.ID |= canRTRFlag
		f.Data = [8]uint8{}
	}
	return f, nil
}

// FromSocketCAN converts a SocketCAN frame, extended and error frames have
// no LAWICEL 't' representation and are rejected.
func FromSocketCAN(f can.Frame) (*Message, error) {
	switch {
	case f.ID&canERRFlag != 0:
		return nil, fmt.Errorf("error frame %08X", f.ID)
	case f.ID&canEFFFlag != 0:
		return nil, fmt.Errorf("extended frame %08X not supported", f.ID&^canEFFFlag)
	}
	m := &Message{
		Identifier: f.ID & canSFFMask,
		Length:     f.Length,
		RTR:        f.ID&canRTRFlag != 0,
	}
	if !m.RTR {
		m.Data = f.Data
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
