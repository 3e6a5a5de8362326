package lawicel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"golang.org/x/sync/errgroup"
)

// Dialer opens the transport for an adapter.
type Dialer func(ctx context.Context, cfg *AdapterConfig) (Transport, error)

const (
	commandDelay = 10 * time.Millisecond
	closeTimeout = 500 * time.Millisecond
)

type lawicelOptions struct {
	filters bool
	version bool
}

type LawicelOpt func(*lawicelOptions)

// WithoutFilters skips the acceptance code and mask commands, for firmware
// that does not implement them.
func WithoutFilters() LawicelOpt {
	return func(o *lawicelOptions) {
		o.filters = false
	}
}

// WithoutVersion skips asking the adapter for its version on open.
func WithoutVersion() LawicelOpt {
	return func(o *lawicelOptions) {
		o.version = false
	}
}

// Lawicel speaks the LAWICEL ASCII protocol over any Transport. The
// transport is the only thing that differs between CANUSB, SLCAN and the
// bus tunnels. An adapter is single use, create a new one to reopen after
// Close.
type Lawicel struct {
	*BaseAdapter
	dial         Dialer
	opts         lawicelOptions
	port         Transport
	wmu          sync.Mutex
	canRate      string
	filter, mask string
	cmdChan      chan string

	mu    sync.Mutex
	reasm *Reassembler

	done     chan struct{}
	shutdown sync.Once
}

// NewLawicel returns an AdapterInfo constructor for a named LAWICEL variant.
func NewLawicel(name string, dial Dialer, opts ...LawicelOpt) func(*AdapterConfig) (Adapter, error) {
	return func(cfg *AdapterConfig) (Adapter, error) {
		return NewLawicelAdapter(name, cfg, dial, opts...)
	}
}

func NewLawicelAdapter(name string, cfg *AdapterConfig, dial Dialer, opts ...LawicelOpt) (*Lawicel, error) {
	if cfg == nil {
		cfg = &AdapterConfig{}
	}
	o := lawicelOptions{filters: true, version: true}
	for _, opt := range opts {
		opt(&o)
	}
	rate, err := CANRateCommand(cfg.CANRate)
	if err != nil {
		return nil, err
	}
	a := &Lawicel{
		BaseAdapter: NewBaseAdapter(name, cfg),
		dial:        dial,
		opts:        o,
		canRate:     rate,
		cmdChan:     make(chan string, 10),
	}
	a.filter, a.mask = AcceptanceFilters(cfg.CANFilter)
	ceiling := cfg.Ceiling
	if ceiling == 0 {
		ceiling = DefaultCeiling
	}
	a.reasm = NewReassembler(WithCeiling(ceiling), WithDiscardFunc(a.onDiscard))
	return a, nil
}

func (a *Lawicel) Open(ctx context.Context) error {
	if a.closed() {
		return ErrClosed
	}
	if a.port != nil {
		return fmt.Errorf("%s already open", a.name)
	}
	attempts := a.cfg.OpenAttempts
	if attempts == 0 {
		attempts = 3
	}
	var port Transport
	err := retry.Do(func() error {
		p, err := a.dial(ctx, a.cfg)
		if err != nil {
			return err
		}
		port = p
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(100*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			a.logger().WithError(err).Warnf("open retry #%d", n+1)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", a.name, err)
	}
	a.port = port

	if err := a.setup(); err != nil {
		a.port.Close()
		a.port = nil
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.recvManager(gctx) })
	g.Go(func() error { return a.sendManager(gctx) })
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		if err := g.Wait(); err != nil && !a.closed() {
			a.Fatal(err)
		}
	}()

	// Open the CAN channel
	a.cmdChan <- "O"
	return nil
}

func (a *Lawicel) setup() error {
	cmds := []string{
		"C", "", "", // Empty buffer
	}
	if a.opts.version {
		cmds = append(cmds, "V") // Get Version number of both CANUSB hardware and software
	}
	cmds = append(cmds,
		"Z0",      // Sets Time Stamp OFF for received frames
		a.canRate, // Setup CAN bit-rates
	)
	if a.opts.filters && a.filter != "" {
		cmds = append(cmds, a.filter, a.mask)
	}
	for _, c := range cmds {
		if err := a.writeCommand(c); err != nil {
			return err
		}
		time.Sleep(commandDelay)
	}
	return nil
}

func (a *Lawicel) Close() error {
	a.BaseAdapter.Close()
	if a.port == nil {
		return nil
	}
	var err error
	a.shutdown.Do(func() { err = a.closeTransport() })
	return err
}

func (a *Lawicel) closeTransport() error {
	if a.done != nil {
		select {
		case <-a.done:
		case <-time.After(closeTimeout):
			a.logger().Warn("timeout waiting for io goroutines")
		}
	}
	var errs []error
	if err := a.writeCommand("C"); err != nil {
		errs = append(errs, err)
	}
	if err := a.port.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
	}
	a.mu.Lock()
	a.reasm.Reset()
	a.mu.Unlock()
	return errors.Join(errs...)
}

// SendCommand queues a raw LAWICEL command, the CR is appended.
func (a *Lawicel) SendCommand(cmd string) error {
	if a.closed() {
		return ErrClosed
	}
	if a.port == nil {
		return ErrNotOpen
	}
	select {
	case a.cmdChan <- cmd:
		return nil
	case <-a.closeChan:
		return ErrClosed
	case <-time.After(time.Second):
		return ErrSendTimeout
	}
}

// SetFilter reprograms the acceptance filter, the channel is closed and
// reopened around it.
func (a *Lawicel) SetFilter(filters []uint32) error {
	if !a.opts.filters {
		return nil
	}
	filter, mask := AcceptanceFilters(filters)
	if filter == "" {
		return nil
	}
	for _, cmd := range []string{"C", filter, mask, "O"} {
		if err := a.SendCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the receive statistics of the current connection.
func (a *Lawicel) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reasm.Stats()
}

// write is used by the send manager and by Close, wmu keeps them from
// interleaving when Close gives up waiting for the io goroutines.
func (a *Lawicel) write(b []byte) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	n, err := a.port.Write(b)
	if err != nil {
		return Unrecoverable(fmt.Errorf("failed to write to %s: %w", a.name, err))
	}
	if n < len(b) {
		return Unrecoverable(fmt.Errorf("failed to write to %s: %w (%d of %d)", a.name, io.ErrShortWrite, n, len(b)))
	}
	if a.cfg.Debug {
		a.logger().Debugf(">> %q", b)
	}
	return nil
}

func (a *Lawicel) writeCommand(cmd string) error {
	return a.write(append([]byte(cmd), CR))
}

func (a *Lawicel) sendManager(ctx context.Context) error {
	var poll <-chan time.Time
	if a.cfg.StatusInterval > 0 {
		ticker := time.NewTicker(a.cfg.StatusInterval)
		defer ticker.Stop()
		poll = ticker.C
	}
	buf := make([]byte, 0, MaxFrameLen)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.closeChan:
			return nil
		case <-poll:
			if err := a.writeCommand("F"); err != nil {
				return err
			}
		case cmd := <-a.cmdChan:
			if err := a.writeCommand(cmd); err != nil {
				return err
			}
		case msg := <-a.sendChan:
			if msg == nil {
				continue
			}
			if err := msg.Validate(); err != nil {
				a.Error(fmt.Errorf("dropped outgoing frame: %w", err))
				continue
			}
			buf = AppendEncode(buf[:0], msg)
			if err := a.write(buf); err != nil {
				return err
			}
		}
	}
}

func (a *Lawicel) recvManager(ctx context.Context) error {
	readBuffer := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.closeChan:
			return nil
		default:
		}
		n, err := a.port.Read(readBuffer)
		if err != nil {
			if a.closed() || ctx.Err() != nil {
				return nil
			}
			return Unrecoverable(fmt.Errorf("failed to read from %s: %w", a.name, err))
		}
		if n == 0 {
			continue
		}
		chunk := readBuffer[:n]
		if !a.cfg.KeepNUL {
			for i, b := range chunk {
				if b == 0 {
					chunk[i] = CR
				}
			}
		}
		if a.cfg.Debug {
			a.logger().Debugf("<< %q", chunk)
		}
		a.mu.Lock()
		msgs := a.reasm.Feed(chunk)
		a.mu.Unlock()
		for _, msg := range msgs {
			select {
			case a.recvChan <- msg:
			default:
				a.Error(ErrDroppedFrame)
			}
		}
	}
}

// onDiscard runs inside Feed with a.mu held.
func (a *Lawicel) onDiscard(reason error, b []byte) {
	switch reason {
	case ErrBufferOverflow:
		a.Warn(fmt.Sprintf("receive buffer overflow, dropped %d bytes", len(b)))
	case ErrMalformedFrame:
		a.logger().Debugf("malformed frame dropped: %q", b)
	}
	ScanReplies(b, a.handleReply)
}

func (a *Lawicel) handleReply(r Reply) {
	switch r.Kind {
	case ReplyError:
		a.Error(ErrCommand)
	case ReplyStatus:
		if _, err := ParseStatus(r.Line); err != nil {
			a.sendEvent(Event{Type: EventTypeWarning, Details: err.Error(), Err: err})
		}
	case ReplyVersion:
		if !a.cfg.PrintVersion {
			return
		}
		v, err := ParseVersion(r.Line)
		if err != nil {
			a.Warn(err.Error())
			return
		}
		a.Info("H/W version " + v.String())
	case ReplySerial:
		if a.cfg.PrintVersion {
			a.Info("H/W serial " + string(r.Line[1:]))
		}
	case ReplyAck:
		if a.cfg.Debug {
			a.logger().Debug("command ok")
		}
	default:
		a.Debug("Unknown>> " + string(r.Line))
	}
}
