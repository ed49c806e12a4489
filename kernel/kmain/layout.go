package kmain

import (
	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/proc"
)

// Offsets of the boot stack and the process kernel stacks from the start of
// the kernel image.
const (
	bootStackTopOffset  = uintptr(0x10000)
	procStackAreaOffset = bootStackTopOffset
	procStackAreaSize   = uintptr(proc.MaxProcs * proc.KernelStackSize)
)

var errLayoutTooSmall = &kernel.Error{Module: "kmain", Message: "reserved kernel region cannot hold the kernel stacks"}

// Layout describes where the kernel image, its stacks and the free RAM are
// located in physical memory. It replaces the symbols that a linker script
// exports to a bare-metal kernel.
type Layout struct {
	// KernelBase is the address of the kernel image.
	KernelBase uintptr

	// BootStackTop is the initial stack pointer of the boot hart.
	BootStackTop uintptr

	// ProcStackArea holds the kernel stacks of all process slots.
	ProcStackArea uintptr

	// FreeRAMStart and FreeRAMEnd delimit the RAM managed by the page
	// allocator.
	FreeRAMStart, FreeRAMEnd uintptr
}

// NewLayout returns the layout of a kernel loaded at the start of a RAM
// region of ramSize bytes whose first reserved bytes hold the kernel image
// and stacks.
func NewLayout(ramBase, ramSize, reserved uintptr) (Layout, *kernel.Error) {
	if reserved < procStackAreaOffset+procStackAreaSize || reserved >= ramSize {
		return Layout{}, errLayoutTooSmall
	}

	return Layout{
		KernelBase:    ramBase,
		BootStackTop:  ramBase + bootStackTopOffset,
		ProcStackArea: ramBase + procStackAreaOffset,
		FreeRAMStart:  mm.AlignUp(ramBase + reserved),
		FreeRAMEnd:    ramBase + ramSize,
	}, nil
}
