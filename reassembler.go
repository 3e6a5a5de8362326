package lawicel

import (
	"bytes"
	"fmt"
)

// DefaultCeiling is how many unresolved bytes a Reassembler keeps before
// treating the stream as desynchronized and starting over.
const DefaultCeiling = 500

// Stats counts what a Reassembler has seen since it was created.
type Stats struct {
	RecvBytes    uint64
	Frames       uint64
	SkippedBytes uint64
	Malformed    uint64
	Overflows    uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("recv: %d frames: %d skipped: %d malformed: %d overflows: %d",
		st.RecvBytes, st.Frames, st.SkippedBytes, st.Malformed, st.Overflows)
}

// DiscardFunc is called with the reason and the bytes a Reassembler drops.
// The slice is only valid for the duration of the call.
type DiscardFunc func(reason error, b []byte)

// Reassembler turns an arbitrarily chunked byte stream into messages. It
// owns the residual bytes of one connection and is not safe for concurrent
// use.
type Reassembler struct {
	buf       bytes.Buffer
	ceiling   int
	onDiscard DiscardFunc
	stats     Stats
}

type ReassemblerOpt func(*Reassembler)

// WithCeiling sets the residual buffer ceiling. Values below MaxFrameLen
// are raised to MaxFrameLen so a single frame always fits.
func WithCeiling(n int) ReassemblerOpt {
	return func(r *Reassembler) {
		if n < MaxFrameLen {
			n = MaxFrameLen
		}
		r.ceiling = n
	}
}

// WithDiscardFunc registers fn to observe every discarded byte range.
func WithDiscardFunc(fn DiscardFunc) ReassemblerOpt {
	return func(r *Reassembler) {
		r.onDiscard = fn
	}
}

func NewReassembler(opts ...ReassemblerOpt) *Reassembler {
	r := &Reassembler{ceiling: DefaultCeiling}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed appends data to the residual buffer and returns every message that
// could be completed. Bytes that cannot be resolved yet are kept for the
// next call.
func (r *Reassembler) Feed(data []byte) []*Message {
	r.buf.Write(data)
	r.stats.RecvBytes += uint64(len(data))

	var out []*Message
	for r.buf.Len() > 0 {
		res := Decode(r.buf.Bytes())
		switch res.Kind {
		case Frame:
			msg := res.Message
			out = append(out, &msg)
			r.buf.Next(res.N)
			r.stats.Frames++
			continue
		case SkipPrefix:
			if res.Err == ErrMalformedFrame {
				r.stats.Malformed++
			}
			r.stats.SkippedBytes += uint64(res.N)
			r.discard(res.Err, r.buf.Next(res.N))
			continue
		}
		break
	}
	r.releaseLines()

	if r.buf.Len() > r.ceiling {
		r.stats.Overflows++
		r.stats.SkippedBytes += uint64(r.buf.Len())
		r.discard(ErrBufferOverflow, r.buf.Bytes())
		r.buf.Reset()
	}
	return out
}

// releaseLines drops the terminated lines of a residual that holds no frame
// marker. No frame can start in them, so they go to the discard hook now
// instead of waiting for the next marker.
func (r *Reassembler) releaseLines() {
	b := r.buf.Bytes()
	if len(b) == 0 || bytes.IndexByte(b, markerData) >= 0 {
		return
	}
	i := bytes.LastIndexAny(b, "\r\a")
	if i < 0 {
		return
	}
	r.stats.SkippedBytes += uint64(i + 1)
	r.discard(ErrDesynchronized, r.buf.Next(i+1))
}

func (r *Reassembler) discard(reason error, b []byte) {
	if r.onDiscard != nil {
		r.onDiscard(reason, b)
	}
}

// Len returns the number of residual bytes waiting for more input.
func (r *Reassembler) Len() int {
	return r.buf.Len()
}

// Residual returns a copy of the unresolved bytes.
func (r *Reassembler) Residual() []byte {
	return bytes.Clone(r.buf.Bytes())
}

// Reset drops all residual bytes, used when a connection closes.
func (r *Reassembler) Reset() {
	r.buf.Reset()
}

func (r *Reassembler) Stats() Stats {
	return r.stats
}
