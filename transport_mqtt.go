package lawicel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultTopic       = "lawicel"
	mqttConnectTimeout = 5 * time.Second
	mqttQoS            = 0
)

func init() {
	if err := RegisterAdapter(&AdapterInfo{
		Name:        "LAWICEL MQTT",
		Description: "LAWICEL byte stream tunneled over MQTT, port is the broker url",
		Transport:   TransportMQTT,
		New:         NewLawicel("LAWICEL MQTT", DialMQTT, WithoutVersion()),
	}); err != nil {
		panic(err)
	}
}

// busTopics returns the subject the adapter writes to and the one it reads
// from, both derived from the configured prefix.
func busTopics(cfg *AdapterConfig, sep string) (tx, rx string) {
	prefix := cfg.Topic
	if prefix == "" {
		prefix = defaultTopic
	}
	return prefix + sep + "tx", prefix + sep + "rx"
}

type mqttTransport struct {
	*chunkQueue
	client  mqtt.Client
	txTopic string
	rxTopic string
}

// DialMQTT connects to the broker in cfg.Port. Writes are published on
// <topic>/tx and payloads arriving on <topic>/rx are read back.
func DialMQTT(ctx context.Context, cfg *AdapterConfig) (Transport, error) {
	if cfg.Port == "" {
		return nil, errors.New("no mqtt broker given")
	}
	host, _ := os.Hostname()
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Port)
	opts.SetClientID(fmt.Sprintf("lawicel-%s-%d", host, os.Getpid()))
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(mqttConnectTimeout)

	t := &mqttTransport{
		chunkQueue: newChunkQueue(256, defaultReadTimeout),
	}
	t.txTopic, t.rxTopic = busTopics(cfg, "/")
	t.client = mqtt.NewClient(opts)

	token := t.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Port, err)
	}
	sub := t.client.Subscribe(t.rxTopic, mqttQoS, func(_ mqtt.Client, msg mqtt.Message) {
		if !t.push(msg.Payload()) {
			cfg.logger().WithField("topic", msg.Topic()).Warn("mqtt receive queue full")
		}
	})
	if err := waitToken(ctx, sub); err != nil {
		t.client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.rxTopic, err)
	}
	return t, nil
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttConnectTimeout):
		return errors.New("timeout")
	}
}

func (t *mqttTransport) Write(p []byte) (int, error) {
	token := t.client.Publish(t.txTopic, mqttQoS, false, append([]byte(nil), p...))
	if !token.WaitTimeout(mqttConnectTimeout) {
		return 0, fmt.Errorf("publish to %s timed out", t.txTopic)
	}
	if err := token.Error(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *mqttTransport) Close() error {
	t.chunkQueue.Close()
	t.client.Unsubscribe(t.rxTopic).WaitTimeout(time.Second)
	t.client.Disconnect(250)
	return nil
}
