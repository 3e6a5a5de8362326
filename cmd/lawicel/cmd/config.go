package cmd

import (
	"fmt"

	"github.com/roffe/lawicel"
	"gopkg.in/ini.v1"
)

// configFile is the optional ini overlay for the adapter flags.
//
//	[adapter]
//	name = CANUSB VCP
//	port = /dev/ttyUSB0
//	baudrate = 115200
//	canrate = 500
//	filter = 0x7E8, 0x7E0
//	ceiling = 500
//	status_interval = 1s
//	print_version = true
//
//	[mqtt]
//	broker = tcp://localhost:1883
//	topic = car/can0
//
//	[nats]
//	url = nats://localhost:4222
//	subject = car.can0
type configFile struct {
	file *ini.File
}

func loadConfigFile(source interface{}) (*configFile, error) {
	f, err := ini.Load(source)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &configFile{file: f}, nil
}

// apply copies the settings found in the file into cfg. Settings whose flag
// was given on the command line are left alone.
func (c *configFile) apply(adapterName string, cfg *lawicel.AdapterConfig, changed func(string) bool) (string, error) {
	sec := c.file.Section("adapter")
	set := func(flag, key string, fn func(*ini.Key) error) error {
		if changed(flag) || !sec.HasKey(key) {
			return nil
		}
		if err := fn(sec.Key(key)); err != nil {
			return fmt.Errorf("adapter.%s: %w", key, err)
		}
		return nil
	}

	err := firstError(
		set(flagAdapter, "name", func(k *ini.Key) error {
			adapterName = k.String()
			return nil
		}),
		set(flagPort, "port", func(k *ini.Key) error {
			cfg.Port = k.String()
			return nil
		}),
		set(flagBaudrate, "baudrate", func(k *ini.Key) (err error) {
			cfg.PortBaudrate, err = k.Int()
			return
		}),
		set(flagCANRate, "canrate", func(k *ini.Key) (err error) {
			cfg.CANRate, err = lawicel.ParseCANRate(k.String())
			return
		}),
		set(flagFilter, "filter", func(k *ini.Key) (err error) {
			cfg.CANFilter, err = parseIdentifiers(k.Strings(","))
			return
		}),
		set(flagCeiling, "ceiling", func(k *ini.Key) (err error) {
			cfg.Ceiling, err = k.Int()
			return
		}),
		set(flagStatusInterval, "status_interval", func(k *ini.Key) (err error) {
			cfg.StatusInterval, err = k.Duration()
			return
		}),
		set(flagVersion, "print_version", func(k *ini.Key) (err error) {
			cfg.PrintVersion, err = k.Bool()
			return
		}),
	)
	if err != nil {
		return "", err
	}

	info, found := lookupAdapterInfo(adapterName)
	if !found {
		return adapterName, nil
	}
	var section, urlKey, topicKey string
	switch info.Transport {
	case lawicel.TransportMQTT:
		section, urlKey, topicKey = "mqtt", "broker", "topic"
	case lawicel.TransportNATS:
		section, urlKey, topicKey = "nats", "url", "subject"
	default:
		return adapterName, nil
	}
	bus, err := c.file.GetSection(section)
	if err != nil {
		return adapterName, nil
	}
	if !changed(flagPort) && bus.HasKey(urlKey) {
		cfg.Port = bus.Key(urlKey).String()
	}
	if !changed(flagTopic) && bus.HasKey(topicKey) {
		cfg.Topic = bus.Key(topicKey).String()
	}
	return adapterName, nil
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
