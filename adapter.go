package lawicel

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Adapter interface {
	Name() string
	Open(context.Context) error
	Close() error
	Send() chan<- *Message
	Recv() <-chan *Message
	Err() <-chan error
	Event() <-chan Event
}

// Transport is the byte pipe beneath the LAWICEL protocol. Read may return
// 0, nil when nothing arrived within the transport's read timeout.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// TransportKind tells which kind of transport an adapter opens.
type TransportKind int

const (
	TransportSerial TransportKind = iota
	TransportFTDI
	TransportMQTT
	TransportNATS
	TransportPipe
)

func (k TransportKind) String() string {
	switch k {
	case TransportSerial:
		return "serial"
	case TransportFTDI:
		return "ftdi"
	case TransportMQTT:
		return "mqtt"
	case TransportNATS:
		return "nats"
	case TransportPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

type AdapterInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	Transport          TransportKind
	New                func(*AdapterConfig) (Adapter, error)
}

func (a *AdapterInfo) String() string {
	return fmt.Sprintf("%s | %s, transport: %s, requires serial port: %v", a.Name, a.Description, a.Transport, a.RequiresSerialPort)
}

type AdapterConfig struct {
	Debug        bool
	PrintVersion bool
	// Port is the serial port name, the FTDI serial number or the broker
	// URL depending on the transport.
	Port         string
	PortBaudrate int
	CANRate      float64
	CANFilter    []uint32
	// Topic is the MQTT topic or NATS subject prefix for bus transports.
	Topic string
	// Ceiling caps the residual receive buffer, 0 means DefaultCeiling.
	Ceiling int
	// KeepNUL disables translating NUL bytes on the wire into CR.
	KeepNUL bool
	// StatusInterval is how often the adapter polls for status flags, 0
	// disables polling.
	StatusInterval time.Duration
	OpenAttempts   uint
	Logger         log.FieldLogger
}

func (cfg *AdapterConfig) logger() log.FieldLogger {
	if cfg == nil || cfg.Logger == nil {
		return log.StandardLogger()
	}
	return cfg.Logger
}

var (
	adapterMu  sync.RWMutex
	adapterMap = make(map[string]*AdapterInfo)
)

func NewAdapter(adapterName string, cfg *AdapterConfig) (Adapter, error) {
	adapterMu.RLock()
	adapter, found := lookupAdapter(adapterName)
	adapterMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown adapter %q", adapterName)
	}
	return adapter.New(cfg)
}

func lookupAdapter(name string) (*AdapterInfo, bool) {
	if adapter, found := adapterMap[name]; found {
		return adapter, true
	}
	for key, adapter := range adapterMap {
		if strings.EqualFold(key, name) {
			return adapter, true
		}
	}
	return nil, false
}

func RegisterAdapter(adapter *AdapterInfo) error {
	adapterMu.Lock()
	defer adapterMu.Unlock()
	if _, found := adapterMap[adapter.Name]; !found {
		adapterMap[adapter.Name] = adapter
		return nil
	}
	return fmt.Errorf("adapter %s already registered", adapter.Name)
}

func ListAdapterNames() []string {
	adapters := ListAdapters()
	out := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		out = append(out, adapter.Name)
	}
	return out
}

// ListAdapters returns the registered adapters sorted by name.
func ListAdapters() []AdapterInfo {
	adapterMu.RLock()
	defer adapterMu.RUnlock()
	out := make([]AdapterInfo, 0, len(adapterMap))
	for _, adapter := range adapterMap {
		out = append(out, *adapter)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}
