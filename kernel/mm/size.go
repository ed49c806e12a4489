package mm

import "github.com/kcs1959/kcs-os/kernel"

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

// FrameAllocatorFn is a function that can allocate physical frames. The vmm
// package uses it to obtain pages for second-level page tables.
type FrameAllocatorFn func() (Frame, *kernel.Error)
