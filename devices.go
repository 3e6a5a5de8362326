package lawicel

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// DeviceInfo describes a port or USB device an adapter can be opened on.
type DeviceInfo struct {
	Name         string
	Description  string
	Transport    TransportKind
	IsUSB        bool
	VID, PID     string
	SerialNumber string
}

func (d DeviceInfo) String() string {
	if d.IsUSB {
		return fmt.Sprintf("%s (%s) USB %s:%s serial %s", d.Name, d.Transport, d.VID, d.PID, d.SerialNumber)
	}
	if d.Description != "" {
		return fmt.Sprintf("%s (%s) %s", d.Name, d.Transport, d.Description)
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Transport)
}

// ListSerialPorts returns the serial ports on the system.
func ListSerialPorts() ([]DeviceInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, ErrNoSerialPorts
	}
	out := make([]DeviceInfo, 0, len(ports))
	for _, port := range ports {
		out = append(out, DeviceInfo{
			Name:         port.Name,
			Description:  port.Product,
			Transport:    TransportSerial,
			IsUSB:        port.IsUSB,
			VID:          port.VID,
			PID:          port.PID,
			SerialNumber: port.SerialNumber,
		})
	}
	return out, nil
}

// ListDevices returns serial ports and FTDI devices sorted by name. A
// failing USB scan does not hide the serial ports, its error is returned
// alongside them.
func ListDevices() ([]DeviceInfo, error) {
	var errs []error
	devices, err := ListSerialPorts()
	if err != nil && !errors.Is(err, ErrNoSerialPorts) {
		errs = append(errs, err)
	}
	ftdi, err := ListFTDIDevices()
	if err != nil {
		errs = append(errs, fmt.Errorf("usb: %w", err))
	}
	devices = append(devices, ftdi...)
	sortDevices(devices)
	return devices, errors.Join(errs...)
}

func sortDevices(devices []DeviceInfo) {
	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].Name < devices[j].Name
	})
}

// FindPort checks that portName exists, on windows the name is matched
// case insensitive the way COM ports are.
func FindPort(portName string) (DeviceInfo, error) {
	ports, err := ListSerialPorts()
	if err != nil {
		return DeviceInfo{}, err
	}
	for _, port := range ports {
		if port.Name == portName || (runtime.GOOS == "windows" && strings.EqualFold(port.Name, portName)) {
			return port, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("port %q not found", portName)
}
