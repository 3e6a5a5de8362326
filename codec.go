package lawicel

import "fmt"

const (
	CR = 0x0D

	markerData   = 't'
	markerRemote = 'r'

	// minFrameLen is marker, three identifier digits and one length digit.
	minFrameLen = 5
	// MaxFrameLen is the longest standard frame on the wire.
	MaxFrameLen = minFrameLen + MaxDataLength*2 + 1
)

// OutcomeKind tells the caller what to do with the bytes handed to Decode.
type OutcomeKind int

const (
	// Incomplete means more bytes are needed, nothing may be discarded.
	Incomplete OutcomeKind = iota
	// SkipPrefix means the first N bytes are noise and must be discarded.
	SkipPrefix
	// Frame means a message was decoded from the first N bytes.
	Frame
)

func (k OutcomeKind) String() string {
	switch k {
	case Incomplete:
		return "Incomplete"
	case SkipPrefix:
		return "SkipPrefix"
	case Frame:
		return "Frame"
	default:
		return "Unknown"
	}
}

// Outcome is the result of one Decode attempt.
type Outcome struct {
	Kind OutcomeKind
	// N is the number of bytes to skip for SkipPrefix and the number of
	// bytes consumed for Frame.
	N int
	// Message is set for Frame.
	Message Message
	// Err is ErrIncompleteInput for Incomplete and ErrDesynchronized or
	// ErrMalformedFrame for SkipPrefix.
	Err error
}

func (o Outcome) String() string {
	switch o.Kind {
	case SkipPrefix:
		return fmt.Sprintf("SkipPrefix(%d)", o.N)
	case Frame:
		return fmt.Sprintf("Frame(%s, %d)", &o.Message, o.N)
	default:
		return o.Kind.String()
	}
}

func incomplete() Outcome {
	return Outcome{Kind: Incomplete, Err: ErrIncompleteInput}
}

func malformed(pos int) Outcome {
	return Outcome{Kind: SkipPrefix, N: pos, Err: ErrMalformedFrame}
}

const hexDigits = "0123456789ABCDEF"

// Encode returns the wire representation of m. The caller must have
// validated m, out of range values are not truncated.
func Encode(m *Message) []byte {
	return AppendEncode(make([]byte, 0, MaxFrameLen), m)
}

// AppendEncode appends the wire representation of m to dst.
func AppendEncode(dst []byte, m *Message) []byte {
	if m.RTR {
		dst = append(dst, markerRemote)
	} else {
		dst = append(dst, markerData)
	}
	id := m.Identifier
	dst = append(dst,
		hexDigits[(id>>8)&0xF],
		hexDigits[(id>>4)&0xF],
		hexDigits[id&0xF],
		hexDigits[m.Length&0xF],
	)
	for _, b := range m.Data[:m.Length] {
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0xF])
	}
	return append(dst, CR)
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Decode makes one attempt at decoding a data frame from the start of buf.
// It never modifies buf. Remote requests are not decoded, an 'r' marker is
// treated like any other noise byte.
func Decode(buf []byte) Outcome {
	if len(buf) < minFrameLen {
		return incomplete()
	}

	k := -1
	for i, c := range buf {
		if c == markerData {
			k = i
			break
		}
	}
	switch {
	case k < 0:
		// No marker yet, later bytes may still bring one.
		return incomplete()
	case k > 0:
		return Outcome{Kind: SkipPrefix, N: k, Err: ErrDesynchronized}
	}

	var msg Message
	for pos := 1; pos < minFrameLen; pos++ {
		v, ok := unhex(buf[pos])
		if !ok {
			return malformed(pos)
		}
		if pos < minFrameLen-1 {
			msg.Identifier = msg.Identifier<<4 | uint32(v)
			continue
		}
		if v > MaxDataLength {
			return malformed(pos)
		}
		msg.Length = v
	}

	dataEnd := minFrameLen + int(msg.Length)*2
	if dataEnd > len(buf) {
		return incomplete()
	}

	pos := minFrameLen
	for n := 0; n < int(msg.Length); n++ {
		var b byte
		for j := 0; j < 2; j++ {
			c := buf[pos]
			if c == CR || c == markerData {
				// Short frame, or a fresh frame start clobbering this one.
				return malformed(pos)
			}
			v, ok := unhex(c)
			if !ok {
				return malformed(pos)
			}
			b = b<<4 | v
			pos++
		}
		msg.Data[n] = b
	}

	if pos >= len(buf) {
		// The terminator has not arrived yet.
		return incomplete()
	}
	if buf[pos] != CR {
		return malformed(pos)
	}
	return Outcome{Kind: Frame, N: pos + 1, Message: msg}
}
