// Package sbi provides access to the services of the supervisor binary
// interface firmware using the legacy extensions.
package sbi

import (
	"io"

	"github.com/kcs1959/kcs-os/device"
	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
)

// Legacy extension IDs.
const (
	EIDConsolePutchar = uint32(0x01)
	EIDConsoleGetchar = uint32(0x02)
	EIDShutdown       = uint32(0x08)
)

// Ret holds the values returned by an SBI call in a0 and a1.
type Ret struct {
	Error int32
	Value int32
}

// Firmware is implemented by the machine-mode firmware. Call behaves like an
// ecall from supervisor mode with a0-a5 set to args, a6 to fid and a7 to eid.
type Firmware interface {
	Call(eid, fid uint32, args [6]uint32) Ret
}

var errNoFirmware = &kernel.Error{Module: "sbi", Message: "firmware not present"}

// Console is a driver for the firmware console. It implements io.Writer so
// it can serve as the kfmt output sink.
type Console struct {
	fw Firmware
}

// NewConsole returns a console driver that uses fw.
func NewConsole(fw Firmware) *Console {
	return &Console{fw: fw}
}

// Putchar writes ch to the console.
func (c *Console) Putchar(ch byte) {
	c.fw.Call(EIDConsolePutchar, 0, [6]uint32{uint32(ch)})
}

// Getchar polls the console for input. It returns -1 if no character is
// available. The legacy extension reports the character in a0.
func (c *Console) Getchar() int32 {
	return c.fw.Call(EIDConsoleGetchar, 0, [6]uint32{}).Error
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	for _, b := range p {
		c.Putchar(b)
	}
	return len(p), nil
}

// DriverName returns the name of this driver.
func (*Console) DriverName() string {
	return "sbi_console"
}

// DriverVersion returns the version of this driver.
func (*Console) DriverVersion() (uint16, uint16, uint16) {
	return 0, 2, 0
}

// DriverInit initializes this driver.
func (c *Console) DriverInit(w io.Writer) *kernel.Error {
	if c.fw == nil {
		return errNoFirmware
	}

	kfmt.Fprintf(w, "legacy console extension\n")
	return nil
}

// Shutdown asks the firmware to power off the machine.
func Shutdown(fw Firmware) {
	fw.Call(EIDShutdown, 0, [6]uint32{})
}

// ConsoleProbe returns a probe function that detects the firmware console.
func ConsoleProbe(fw Firmware) device.ProbeFn {
	return func() device.Driver {
		if fw == nil {
			return nil
		}
		return NewConsole(fw)
	}
}
