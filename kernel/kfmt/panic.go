package kfmt

import (
	"strings"

	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = haltPanicHart

	// panicHart is the hart halted by Panic.
	panicHart *cpu.Hart

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// SetPanicHart selects the hart that Panic halts. It is set by the kernel
// entry point before any subsystem can fail.
func SetPanicHart(h *cpu.Hart) {
	panicHart = h
}

func haltPanicHart() {
	if panicHart != nil {
		panicHart.Halt()
	}

	select {}
}

// Panic outputs the supplied error (if not nil) to the console and halts the
// CPU. Calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// Panicf formats a message for the given module and passes it to Panic. It
// is used for fatal conditions that need to report register values.
func Panicf(module, format string, args ...interface{}) {
	var msg strings.Builder
	Fprintf(&msg, format, args...)
	Panic(&kernel.Error{Module: module, Message: msg.String()})
}
