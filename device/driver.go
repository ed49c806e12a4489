// Package device defines the interface implemented by device drivers and a
// registry that orders hardware probes.
package device

import (
	"io"

	"github.com/kcs1959/kcs-os/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it. It returns nil if the
// hardware is not present.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hardware detection code.
type DetectOrder int8

const (
	// DetectOrderFirmware specifies that the driver's probe function
	// should be executed once the firmware services are reachable.
	DetectOrderFirmware DetectOrder = -64

	// DetectOrderMMIO specifies that the driver's probe function should be
	// executed after the firmware drivers, when memory-mapped devices are
	// probed.
	DetectOrderMMIO DetectOrder = 0
)

// DriverInfo is a driver-defined struct that is passed to calls to RegisterDriver.
type DriverInfo struct {
	// Order specifies at which stage of the HW detection step should
	// the probe function be invoked.
	Order DetectOrder

	// Probe is a function that checks for the presence of a particular
	// piece of hardware and returns back a driver for it.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the length of the driver info list.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 elements in the driver info list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less compares 2 elements of the driver info list.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Registry collects the drivers known to a kernel instance.
type Registry struct {
	drivers DriverInfoList
}

// RegisterDriver adds the supplied driver info object to the registry. The
// hardware detection code invokes the probe functions of all registered
// drivers ordered by DetectOrder.
func (r *Registry) RegisterDriver(info *DriverInfo) {
	r.drivers = append(r.drivers, info)
}

// DriverList returns the list of registered drivers.
func (r *Registry) DriverList() DriverInfoList {
	return r.drivers
}
