package lawicel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

const (
	// MaxDataLength is the largest payload a classic CAN frame carries.
	MaxDataLength = 8
	// MaxIdentifier is the largest identifier that fits in the three hex
	// digits of a standard LAWICEL frame.
	MaxIdentifier = 0xFFF
)

// Message is one standard CAN frame as exchanged with the upper layer.
// Only the first Length bytes of Data are meaningful.
type Message struct {
	Identifier uint32
	Length     uint8
	Data       [MaxDataLength]byte
	RTR        bool
}

// NewMessage creates a data frame and copies at most 8 bytes of data
func NewMessage(identifier uint32, data []byte) *Message {
	m := &Message{Identifier: identifier}
	m.Length = uint8(copy(m.Data[:], data))
	return m
}

// NewRemoteRequest creates a remote transmission request asking for length bytes.
func NewRemoteRequest(identifier uint32, length uint8) *Message {
	return &Message{
		Identifier: identifier,
		Length:     length,
		RTR:        true,
	}
}

// Validate checks the preconditions Encode relies on.
func (m *Message) Validate() error {
	if m.Length > MaxDataLength {
		return fmt.Errorf("%w: %d", ErrInvalidLength, m.Length)
	}
	if m.Identifier > MaxIdentifier {
		return fmt.Errorf("%w: 0x%X", ErrInvalidIdentifier, m.Identifier)
	}
	return nil
}

// Payload returns the meaningful part of Data. The slice aliases the message.
func (m *Message) Payload() []byte {
	n := int(m.Length)
	if n > MaxDataLength {
		n = MaxDataLength
	}
	return m.Data[:n]
}

var (
	blue  = color.New(color.FgHiBlue).SprintfFunc()
	red   = color.New(color.FgRed).SprintfFunc()
	green = color.New(color.FgGreen).SprintfFunc()
)

func (m *Message) String() string {
	return m.format(fmt.Sprintf, fmt.Sprintf, fmt.Sprintf)
}

// ColorString is String with the identifier, bit view and ASCII view colored.
func (m *Message) ColorString() string {
	return m.format(green, red, blue)
}

type sprintf func(format string, a ...interface{}) string

func (m *Message) format(idFn, binFn, asciiFn sprintf) string {
	var out strings.Builder
	if m.RTR {
		out.WriteString("<r> || ")
	} else {
		out.WriteString("<d> || ")
	}
	out.WriteString(idFn("0x%03X", m.Identifier) + " || ")
	out.WriteString(strconv.Itoa(int(m.Length)) + " || ")

	payload := m.Payload()
	if m.RTR {
		payload = nil
	}
	hexView := make([]string, 0, len(payload))
	binView := make([]string, 0, len(payload))
	for _, b := range payload {
		hexView = append(hexView, fmt.Sprintf("%02X", b))
		binView = append(binView, fmt.Sprintf("%08b", b))
	}
	out.WriteString(fmt.Sprintf("%-23s", strings.Join(hexView, " ")))
	out.WriteString(" || ")
	out.WriteString(binFn("%-71s", strings.Join(binView, " ")))
	out.WriteString(" || ")
	out.WriteString(asciiFn("%s", onlyPrintable(payload)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
