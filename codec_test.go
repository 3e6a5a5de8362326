package lawicel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{"example", NewMessage(0x123, []byte{0xAB, 0xCD}), "t1232ABCD\r"},
		{"empty", NewMessage(0x7E8, nil), "t7E80\r"},
		{"full", NewMessage(0xFFF, []byte{0, 1, 2, 3, 4, 5, 6, 0xFF}), "tFFF800010203040506FF\r"},
		{"zero id", NewMessage(0, []byte{0x0A}), "t00010A\r"},
		{"rtr", NewRemoteRequest(0x7DF, 2), "r7DF20000\r"},
		{"rtr with payload", &Message{Identifier: 0x123, Length: 2, Data: [8]byte{0xAB, 0xCD}, RTR: true}, "r1232ABCD\r"},
		{"rtr empty", NewRemoteRequest(0x7DF, 0), "r7DF0\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Encode(tt.msg)))
		})
	}
}

func TestAppendEncodeReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, MaxFrameLen)
	buf = AppendEncode(buf, NewMessage(0x123, []byte{0xAB, 0xCD}))
	assert.Equal(t, "t1232ABCD\r", string(buf))
	buf = AppendEncode(buf[:0], NewMessage(0x1, nil))
	assert.Equal(t, "t0010\r", string(buf))
}

func TestDecodeExample(t *testing.T) {
	res := Decode([]byte("t1232ABCD\r"))
	require.Equal(t, Frame, res.Kind)
	assert.Equal(t, 10, res.N)
	assert.Equal(t, *NewMessage(0x123, []byte{0xAB, 0xCD}), res.Message)
	assert.Equal(t, []byte{0xAB, 0xCD}, res.Message.Payload())
}

func TestDecodeRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 0x1, 0x123, 0x7FF, 0x800, 0xFFF} {
		for l := 0; l <= MaxDataLength; l++ {
			data := make([]byte, l)
			for i := range data {
				data[i] = byte(id) + byte(i*37)
			}
			m := NewMessage(id, data)
			wire := Encode(m)
			res := Decode(wire)
			require.Equal(t, Frame, res.Kind, "%q", wire)
			assert.Equal(t, len(wire), res.N)
			assert.Equal(t, *m, res.Message)
		}
	}
}

func TestDecodeLowercaseHex(t *testing.T) {
	res := Decode([]byte("t7e82abcd\r"))
	require.Equal(t, Frame, res.Kind)
	assert.Equal(t, uint32(0x7E8), res.Message.Identifier)
	assert.Equal(t, []byte{0xAB, 0xCD}, res.Message.Payload())
}

func TestDecodeIncomplete(t *testing.T) {
	for _, in := range []string{
		"",
		"t12",
		"t123",
		"t1232",
		"t1232AB",
		"t1232ABCD",
		"garbage noise",
	} {
		res := Decode([]byte(in))
		assert.Equal(t, Incomplete, res.Kind, "%q", in)
		assert.Zero(t, res.N, "%q", in)
	}
}

func TestDecodeSkipPrefix(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		err  error
	}{
		{"noise before marker", "garbaget1230\r", 7, ErrDesynchronized},
		{"reply before marker", "z\rt1230\r", 2, ErrDesynchronized},
		{"remote marker is noise", "r1230\rt1230\r", 6, ErrDesynchronized},
		{"bad id digit", "t1G30\r", 2, ErrMalformedFrame},
		{"length above 8", "t1239\r", 4, ErrMalformedFrame},
		{"non hex length", "t123X00\r", 4, ErrMalformedFrame},
		{"restart in id", "t12t1230\r", 3, ErrMalformedFrame},
		{"short data", "t1232AB\rxxxx", 7, ErrMalformedFrame},
		{"restart in data", "t1232ABt1230\r", 7, ErrMalformedFrame},
		{"bad data digit", "t1231GG\r", 5, ErrMalformedFrame},
		{"bad terminator", "t1231AAX", 7, ErrMalformedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode([]byte(tt.in))
			require.Equal(t, SkipPrefix, res.Kind, res.String())
			assert.Equal(t, tt.n, res.N)
			assert.GreaterOrEqual(t, res.N, 1)
			assert.ErrorIs(t, res.Err, tt.err)
		})
	}
}

func TestDecodeDoesNotModifyInput(t *testing.T) {
	in := []byte("xxt1232ABCD\r")
	cp := append([]byte(nil), in...)
	Decode(in)
	Decode(in[2:])
	assert.Equal(t, cp, in)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "Incomplete", Decode([]byte("t12")).String())
	assert.Equal(t, "SkipPrefix(3)", Decode([]byte("abct1230\r")).String())
	assert.Contains(t, Decode([]byte("t1230\r")).String(), "Frame(")
}
