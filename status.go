package lawicel

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/albenik/bcd"
)

// BELL is what the adapter answers to a command it did not accept
const BELL = 0x07

/*
Bit 0 CAN receive FIFO queue full
Bit 1 CAN transmit FIFO queue full
Bit 2 Error warning (EI), see SJA1000 datasheet
Bit 3 Data Overrun (DOI), see SJA1000 datasheet
Bit 4 Not used.
Bit 5 Error Passive (EPI), see SJA1000 datasheet
Bit 6 Arbitration Lost (ALI), see SJA1000 datasheet *
Bit 7 Bus Error (BEI), see SJA1000 datasheet **
* Arbitration lost doesn't generate a blinking RED light!
** Bus Error generates a constant RED light
*/

type StatusFlags uint8

const (
	StatusRxFIFOFull StatusFlags = 1 << iota
	StatusTxFIFOFull
	StatusErrorWarning
	StatusDataOverrun
	statusUnused
	StatusErrorPassive
	StatusArbitrationLost
	StatusBusError
)

var statusNames = [8]string{
	"CAN receive FIFO queue full",
	"CAN transmit FIFO queue full",
	"error warning (EI)",
	"data overrun (DOI)",
	"not used",
	"error passive (EPI)",
	"arbitration lost (ALI)",
	"bus error (BEI)",
}

func (f StatusFlags) String() string {
	if f == 0 {
		return "ok"
	}
	var names []string
	for i, name := range statusNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// ParseStatus decodes a status reply such as "F08". A reply with any flag
// set returns a *StatusError alongside the flags.
func ParseStatus(line []byte) (StatusFlags, error) {
	if len(line) != 3 || line[0] != 'F' {
		return 0, fmt.Errorf("invalid status reply %q", line)
	}
	v, err := strconv.ParseUint(string(line[1:]), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid status reply %q: %w", line, err)
	}
	flags := StatusFlags(v)
	if flags != 0 {
		return flags, &StatusError{Flags: flags}
	}
	return flags, nil
}

// Version as reported by the V command, both parts are two BCD digits.
type Version struct {
	Hardware uint8
	Software uint8
}

func (v Version) String() string {
	return fmt.Sprintf("hw %d.%d sw %d.%d", v.Hardware/10, v.Hardware%10, v.Software/10, v.Software%10)
}

// ParseVersion decodes a version reply such as "V1013".
func ParseVersion(line []byte) (Version, error) {
	if len(line) != 5 || line[0] != 'V' {
		return Version{}, fmt.Errorf("invalid version reply %q", line)
	}
	packed, err := hex.DecodeString(string(line[1:]))
	if err != nil {
		return Version{}, fmt.Errorf("invalid version reply %q: %w", line, err)
	}
	for _, b := range packed {
		if b>>4 > 9 || b&0xF > 9 {
			return Version{}, fmt.Errorf("invalid version reply %q: not BCD", line)
		}
	}
	return Version{
		Hardware: bcd.ToUint8(packed[0]),
		Software: bcd.ToUint8(packed[1]),
	}, nil
}

// ReplyKind identifies a line the adapter sends back besides frames.
type ReplyKind int

const (
	ReplyUnknown ReplyKind = iota
	ReplyAck
	ReplyError
	ReplyStatus
	ReplyVersion
	ReplySerial
)

// Reply is one line of adapter output.
type Reply struct {
	Kind ReplyKind
	Line []byte
}

// ScanReplies splits noise bytes into adapter replies. A BELL is a reply
// of its own and drops the partial line in front of it, everything else is
// terminated by CR. An unterminated tail is ignored.
func ScanReplies(b []byte, fn func(Reply)) {
	for len(b) > 0 {
		i := bytes.IndexAny(b, "\r\a")
		if i < 0 {
			return
		}
		line, term := b[:i], b[i]
		b = b[i+1:]
		if term == BELL {
			fn(Reply{Kind: ReplyError, Line: []byte{BELL}})
			continue
		}
		if len(line) == 0 {
			continue
		}
		fn(Reply{Kind: replyKind(line), Line: line})
	}
}

func replyKind(line []byte) ReplyKind {
	switch line[0] {
	case 'z', 'Z':
		return ReplyAck
	case 'F':
		return ReplyStatus
	case 'V':
		return ReplyVersion
	case 'N':
		return ReplySerial
	}
	return ReplyUnknown
}
