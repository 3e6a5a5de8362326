package lawicel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

func openPipeAdapter(t *testing.T, cfg *AdapterConfig, opts ...LawicelOpt) (*Lawicel, *PipeTransport) {
	t.Helper()
	p := NewPipeTransport()
	a, err := NewLawicelAdapter("test", cfg, PipeDialer(p), opts...)
	require.NoError(t, err)
	require.NoError(t, a.Open(context.Background()))
	t.Cleanup(func() { a.Close() })
	return a, p
}

// sentUntil collects writes until one equals last.
func sentUntil(t *testing.T, p *PipeTransport, last string) []string {
	t.Helper()
	var out []string
	for {
		select {
		case b := <-p.Sent():
			out = append(out, string(b))
			if string(b) == last {
				return out
			}
		case <-time.After(testTimeout):
			t.Fatalf("timeout waiting for %q, got %q", last, out)
		}
	}
}

func waitEvent(t *testing.T, a Adapter, match func(Event) bool) Event {
	t.Helper()
	for {
		select {
		case evt := <-a.Event():
			if match(evt) {
				return evt
			}
		case <-time.After(testTimeout):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestLawicelOpenSequence(t *testing.T) {
	_, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	assert.Equal(t, []string{
		"C\r", "\r", "\r",
		"V\r",
		"Z0\r",
		"S6\r",
		"M00000000\r", "mFFFFFFFF\r",
		"O\r",
	}, sentUntil(t, p, "O\r"))
}

func TestLawicelOpenSequenceWithoutFilters(t *testing.T) {
	_, p := openPipeAdapter(t, &AdapterConfig{CANRate: 33.3}, WithoutFilters(), WithoutVersion())
	assert.Equal(t, []string{"C\r", "\r", "\r", "Z0\r", "s0e1c\r", "O\r"}, sentUntil(t, p, "O\r"))
}

func TestLawicelSend(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	sentUntil(t, p, "O\r")

	a.Send() <- NewMessage(0x123, []byte{0xAB, 0xCD})
	assert.Equal(t, []string{"t1232ABCD\r"}, sentUntil(t, p, "t1232ABCD\r"))
}

func TestLawicelSendInvalidFrame(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	sentUntil(t, p, "O\r")

	a.Send() <- &Message{Identifier: 0x1000}
	evt := waitEvent(t, a, func(e Event) bool { return e.Type == EventTypeError })
	assert.ErrorIs(t, evt.Err, ErrInvalidIdentifier)

	a.Send() <- NewMessage(0x1, nil)
	assert.Equal(t, []string{"t0010\r"}, sentUntil(t, p, "t0010\r"))
}

func TestLawicelRecv(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})

	p.Inject([]byte("z\rt12"))
	p.Inject([]byte("32AB"))
	p.Inject([]byte("CD\r"))
	select {
	case msg := <-a.Recv():
		assert.Equal(t, NewMessage(0x123, []byte{0xAB, 0xCD}), msg)
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for frame")
	}
	assert.Eventually(t, func() bool {
		st := a.Stats()
		return st.Frames == 1 && st.SkippedBytes == 2
	}, testTimeout, 5*time.Millisecond)
}

func TestLawicelNULIsCR(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	p.Inject([]byte("t1230\x00"))
	select {
	case msg := <-a.Recv():
		assert.Equal(t, uint32(0x123), msg.Identifier)
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for frame")
	}
}

func TestLawicelCommandError(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	p.Inject([]byte("\at1230\r"))
	evt := waitEvent(t, a, func(e Event) bool { return e.Type == EventTypeError })
	assert.ErrorIs(t, evt.Err, ErrCommand)
}

func TestLawicelVersionAndStatus(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500, PrintVersion: true})
	p.Inject([]byte("V1013\rF04\rt1230\r"))

	evt := waitEvent(t, a, func(e Event) bool { return e.Type == EventTypeInfo })
	assert.Equal(t, "H/W version hw 1.0 sw 1.3", evt.Details)

	evt = waitEvent(t, a, func(e Event) bool { return e.Type == EventTypeWarning })
	var se *StatusError
	require.True(t, errors.As(evt.Err, &se))
	assert.Equal(t, StatusErrorWarning, se.Flags)
}

func TestLawicelReplyOnQuietBus(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	p.Inject([]byte("F08\r"))
	evt := waitEvent(t, a, func(e Event) bool { return e.Type == EventTypeWarning })
	var se *StatusError
	require.True(t, errors.As(evt.Err, &se))
	assert.Equal(t, StatusDataOverrun, se.Flags)

	p.Inject([]byte("\a"))
	evt = waitEvent(t, a, func(e Event) bool { return e.Type == EventTypeError })
	assert.ErrorIs(t, evt.Err, ErrCommand)
}

func TestLawicelStatusPolling(t *testing.T) {
	_, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500, StatusInterval: 5 * time.Millisecond})
	sentUntil(t, p, "F\r")
}

func TestLawicelSetFilter(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	sentUntil(t, p, "O\r")
	require.NoError(t, a.SetFilter([]uint32{0x123}))
	assert.Equal(t, []string{"C\r", "M24602460\r", "m001F001F\r", "O\r"}, sentUntil(t, p, "O\r"))
}

func TestLawicelClose(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	sentUntil(t, p, "O\r")
	require.NoError(t, a.Close())
	assert.Equal(t, []string{"C\r"}, sentUntil(t, p, "C\r"))
	assert.NoError(t, a.Close())
	assert.ErrorIs(t, a.SendCommand("V"), ErrClosed)
}

// slowTransport stalls writes of one command and counts overlapping writes.
type slowTransport struct {
	*PipeTransport
	slow     string
	started  chan struct{}
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (s *slowTransport) Write(b []byte) (int, error) {
	if s.inflight.Add(1) > 1 {
		s.overlap.Store(true)
	}
	defer s.inflight.Add(-1)
	if string(b) == s.slow {
		close(s.started)
		time.Sleep(closeTimeout + 200*time.Millisecond)
	}
	return s.PipeTransport.Write(b)
}

func TestLawicelCloseWaitsForPendingWrite(t *testing.T) {
	st := &slowTransport{PipeTransport: NewPipeTransport(), slow: "V\r", started: make(chan struct{})}
	a, err := NewLawicelAdapter("test", &AdapterConfig{CANRate: 500}, func(context.Context, *AdapterConfig) (Transport, error) {
		return st, nil
	}, WithoutVersion())
	require.NoError(t, err)
	require.NoError(t, a.Open(context.Background()))
	sentUntil(t, st.PipeTransport, "O\r")

	require.NoError(t, a.SendCommand("V"))
	select {
	case <-st.started:
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for slow write")
	}
	require.NoError(t, a.Close())
	assert.Equal(t, []string{"V\r", "C\r"}, sentUntil(t, st.PipeTransport, "C\r"))
	assert.False(t, st.overlap.Load(), "close command written during a pending write")
}

func TestLawicelOpenAfterClose(t *testing.T) {
	a, p := openPipeAdapter(t, &AdapterConfig{CANRate: 500})
	sentUntil(t, p, "O\r")
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Open(context.Background()), ErrClosed)

	b, err := NewLawicelAdapter("test", &AdapterConfig{CANRate: 500}, PipeDialer(NewPipeTransport()))
	require.NoError(t, err)
	require.NoError(t, b.Open(context.Background()))
	assert.NoError(t, b.Close())
}

type failingTransport struct {
	*PipeTransport
	readErr error
}

func (f *failingTransport) Read([]byte) (int, error) {
	return 0, f.readErr
}

func TestLawicelReadErrorIsFatal(t *testing.T) {
	ft := &failingTransport{PipeTransport: NewPipeTransport(), readErr: errors.New("device unplugged")}
	a, err := NewLawicelAdapter("test", &AdapterConfig{CANRate: 500}, func(context.Context, *AdapterConfig) (Transport, error) {
		return ft, nil
	})
	require.NoError(t, err)
	require.NoError(t, a.Open(context.Background()))
	defer a.Close()

	select {
	case err := <-a.Err():
		assert.False(t, IsRecoverable(err))
		assert.Contains(t, err.Error(), "device unplugged")
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for fatal error")
	}
}

func TestLawicelOpenRetries(t *testing.T) {
	p := NewPipeTransport()
	var calls int
	dial := func(context.Context, *AdapterConfig) (Transport, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("port busy")
		}
		return p, nil
	}
	a, err := NewLawicelAdapter("test", &AdapterConfig{CANRate: 500}, dial)
	require.NoError(t, err)
	require.NoError(t, a.Open(context.Background()))
	defer a.Close()
	assert.Equal(t, 3, calls)

	calls = -10
	b, err := NewLawicelAdapter("test", &AdapterConfig{CANRate: 500, OpenAttempts: 2}, dial)
	require.NoError(t, err)
	err = b.Open(context.Background())
	assert.ErrorContains(t, err, "port busy")
}

func TestLawicelUnknownRate(t *testing.T) {
	_, err := NewLawicelAdapter("test", &AdapterConfig{CANRate: 42}, PipeDialer(NewPipeTransport()))
	assert.ErrorIs(t, err, ErrUnknownRate)
}

func TestAdapterRegistry(t *testing.T) {
	names := ListAdapterNames()
	for _, want := range []string{"CANUSB D2XX", "CANUSB VCP", "LAWICEL MQTT", "LAWICEL NATS", "SLCAN"} {
		assert.Contains(t, names, want)
	}

	dev, err := NewAdapter("slcan", &AdapterConfig{CANRate: 500})
	require.NoError(t, err)
	assert.Equal(t, "SLCAN", dev.Name())

	_, err = NewAdapter("nope", &AdapterConfig{})
	assert.Error(t, err)

	err = RegisterAdapter(&AdapterInfo{Name: "SLCAN"})
	assert.True(t, strings.Contains(err.Error(), "already registered"))
}
