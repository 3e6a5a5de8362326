package lawicel

import (
	"context"
	"io"
	"sync"
	"time"
)

const defaultReadTimeout = 4 * time.Millisecond

// chunkQueue turns pushed byte chunks into a Transport style Read with a
// read timeout. The message bus transports deliver payloads from callbacks
// and read from one of these.
type chunkQueue struct {
	in      chan []byte
	pending []byte
	timeout time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newChunkQueue(size int, timeout time.Duration) *chunkQueue {
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	return &chunkQueue{
		in:      make(chan []byte, size),
		timeout: timeout,
		closed:  make(chan struct{}),
	}
}

// push queues a copy of b, it reports false when the queue is full or closed.
func (q *chunkQueue) push(b []byte) bool {
	if len(b) == 0 {
		return true
	}
	select {
	case <-q.closed:
		return false
	default:
	}
	c := make([]byte, len(b))
	copy(c, b)
	select {
	case q.in <- c:
		return true
	default:
		return false
	}
}

func (q *chunkQueue) Read(p []byte) (int, error) {
	if len(q.pending) == 0 {
		t := time.NewTimer(q.timeout)
		defer t.Stop()
		select {
		case <-q.closed:
			return 0, io.EOF
		case <-t.C:
			return 0, nil
		case q.pending = <-q.in:
		}
	}
	n := copy(p, q.pending)
	q.pending = q.pending[n:]
	return n, nil
}

func (q *chunkQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil
}

// PipeTransport is an in memory Transport. Bytes given to Inject are read
// by the adapter and everything the adapter writes shows up on Sent.
type PipeTransport struct {
	*chunkQueue
	sent chan []byte
}

func NewPipeTransport() *PipeTransport {
	return &PipeTransport{
		chunkQueue: newChunkQueue(64, time.Millisecond),
		sent:       make(chan []byte, 256),
	}
}

// Inject makes b available to Read.
func (p *PipeTransport) Inject(b []byte) bool {
	return p.push(b)
}

// Sent returns the writes made to the pipe, one slice per Write call.
func (p *PipeTransport) Sent() <-chan []byte {
	return p.sent
}

func (p *PipeTransport) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrClosed
	default:
	}
	c := make([]byte, len(b))
	copy(c, b)
	select {
	case p.sent <- c:
	default:
		// nobody is draining Sent, drop the oldest write
		select {
		case <-p.sent:
		default:
		}
		p.sent <- c
	}
	return len(b), nil
}

// PipeDialer returns a Dialer that always hands out p.
func PipeDialer(p *PipeTransport) Dialer {
	return func(_ context.Context, _ *AdapterConfig) (Transport, error) {
		return p, nil
	}
}
