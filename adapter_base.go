package lawicel

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// BaseAdapter holds the channels every adapter exposes.
type BaseAdapter struct {
	name               string
	cfg                *AdapterConfig
	sendChan, recvChan chan *Message

	errOnce sync.Once
	errChan chan error

	evtChan chan Event

	closeOnce sync.Once
	closeChan chan struct{}
}

func NewBaseAdapter(name string, cfg *AdapterConfig) *BaseAdapter {
	return &BaseAdapter{
		name:      name,
		cfg:       cfg,
		sendChan:  make(chan *Message, 40),
		recvChan:  make(chan *Message, 1024),
		errChan:   make(chan error, 1),
		evtChan:   make(chan Event, 100),
		closeChan: make(chan struct{}),
	}
}

// Name returns the adapter name.
func (base *BaseAdapter) Name() string {
	return base.name
}

// Return the send channel for the adapter
func (base *BaseAdapter) Send() chan<- *Message {
	return base.sendChan
}

// Return the receive channel for the adapter
func (base *BaseAdapter) Recv() <-chan *Message {
	return base.recvChan
}

// Return the error channel for the adapter. It carries at most one error,
// after which the adapter has stopped.
func (base *BaseAdapter) Err() <-chan error {
	return base.errChan
}

func (base *BaseAdapter) Event() <-chan Event {
	return base.evtChan
}

func (base *BaseAdapter) Close() {
	base.closeOnce.Do(func() {
		close(base.closeChan)
	})
}

func (base *BaseAdapter) closed() bool {
	select {
	case <-base.closeChan:
		return true
	default:
		return false
	}
}

// Set a fatal adapter error, meaning communication is broken and cannot continue.
func (base *BaseAdapter) Fatal(err error) {
	base.errOnce.Do(func() {
		select {
		case base.errChan <- err:
		default:
			base.logger().WithError(err).Error("error channel full")
		}
	})
}

func (base *BaseAdapter) logger() log.FieldLogger {
	return base.cfg.logger().WithField("adapter", base.name)
}

func (base *BaseAdapter) sendEvent(evt Event) {
	select {
	case base.evtChan <- evt:
	default:
		base.logger().Warnf("event channel full: %s", evt)
	}
}

// Send an error event
func (base *BaseAdapter) Error(err error) {
	base.sendEvent(Event{Type: EventTypeError, Details: err.Error(), Err: err})
}

// Send a warning event
func (base *BaseAdapter) Warn(warn string) {
	base.sendEvent(Event{Type: EventTypeWarning, Details: warn})
}

// Send an info event
func (base *BaseAdapter) Info(info string) {
	base.sendEvent(Event{Type: EventTypeInfo, Details: info})
}

// Send a debug event
func (base *BaseAdapter) Debug(debug string) {
	base.sendEvent(Event{Type: EventTypeDebug, Details: debug})
}
