//go:build linux

package lawicel

import (
	"testing"

	"github.com/brutella/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToSocketCAN(t *testing.T) {
	f, err := ToSocketCAN(NewMessage(0x123, []byte{0xAB, 0xCD}))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), f.ID)
	assert.Equal(t, uint8(2), f.Length)
	assert.Equal(t, [8]uint8{0xAB, 0xCD}, f.Data)

	f, err = ToSocketCAN(NewRemoteRequest(0x7DF, 8))
	require.NoError(t, err)
	assert.Equal(t, uint32(0x7DF|canRTRFlag), f.ID)

	_, err = ToSocketCAN(NewMessage(0x800, nil))
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestFromSocketCAN(t *testing.T) {
	m, err := FromSocketCAN(can.Frame{ID: 0x7E8, Length: 3, Data: [8]uint8{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, NewMessage(0x7E8, []byte{1, 2, 3}), m)

	m, err = FromSocketCAN(can.Frame{ID: 0x7DF | canRTRFlag, Length: 8, Data: [8]uint8{9}})
	require.NoError(t, err)
	assert.Equal(t, NewRemoteRequest(0x7DF, 8), m)

	_, err = FromSocketCAN(can.Frame{ID: 0x18DAF110 | canEFFFlag, Length: 1})
	assert.Error(t, err)
	_, err = FromSocketCAN(can.Frame{ID: canERRFlag | 0x4, Length: 8})
	assert.Error(t, err)
	_, err = FromSocketCAN(can.Frame{ID: 0x100, Length: 12})
	assert.ErrorIs(t, err, ErrInvalidLength)
}
