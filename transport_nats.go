package lawicel

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:        "LAWICEL NATS",
		Description: "LAWICEL byte stream tunneled over NATS, port is the server url",
		Transport:   TransportNATS,
		New:         NewLawicel("LAWICEL NATS", DialNATS, WithoutVersion()),
	}); err != nil {
		panic(err)
	}
}

type natsTransport struct {
	*chunkQueue
	nc     *nats.Conn
	sub    *nats.Subscription
	txSubj string
	rxSubj string
}

// DialNATS connects to the server in cfg.Port, or the default local server.
// Writes go to <topic>.tx and messages on <topic>.rx are read back.
func DialNATS(ctx context.Context, cfg *AdapterConfig) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	url := cfg.Port
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("lawicel"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	t := &natsTransport{
		chunkQueue: newChunkQueue(256, defaultReadTimeout),
		nc:         nc,
	}
	t.txSubj, t.rxSubj = busTopics(cfg, ".")
	t.sub, err = nc.Subscribe(t.rxSubj, func(msg *nats.Msg) {
		if !t.push(msg.Data) {
			cfg.logger().WithField("subject", msg.Subject).Warn("nats receive queue full")
		}
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.rxSubj, err)
	}
	return t, nil
}

func (t *natsTransport) Write(p []byte) (int, error) {
	if t.nc.IsClosed() {
		return 0, ErrClosed
	}
	if err := t.nc.Publish(t.txSubj, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *natsTransport) Close() error {
	t.chunkQueue.Close()
	var errs []error
	if err := t.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, err)
	}
	if err := t.nc.Flush(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		errs = append(errs, err)
	}
	t.nc.Close()
	return errors.Join(errs...)
}
