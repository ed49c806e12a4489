// Package pmm contains code that manages physical memory page allocations.
package pmm

import (
	"io"

	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

var (
	errOutOfMemory      = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errUnalignedRegion  = &kernel.Error{Module: "pmm", Message: "free RAM region is not page-aligned"}
	errRegionOutsideRAM = &kernel.Error{Module: "pmm", Message: "free RAM region is not backed by physical memory"}
)

// BumpAllocator implements the kernel's physical page allocator.
//
// The allocator hands out contiguous runs of pages from the free RAM extent
// that follows the kernel image. Allocations are tracked via a cursor that
// points to the next free page; the cursor only ever moves forward and never
// crosses the end of the extent.
//
// It is not possible to free allocated pages. Everything the kernel allocates
// (page tables, virtqueues, request buffers, user images) lives for the
// lifetime of the system.
type BumpAllocator struct {
	mem *phys.Memory

	// nextAddr points to the first page that has not been handed out yet.
	nextAddr uintptr

	// Keep track of the free RAM extent so we can report on it.
	startAddr, endAddr uintptr

	// allocCount tracks the total number of allocated pages.
	allocCount uint64
}

// Init sets up the allocator to manage the free RAM range [start, end).
func (alloc *BumpAllocator) Init(mem *phys.Memory, start, end uintptr) *kernel.Error {
	if !mm.IsAligned(start) || !mm.IsAligned(end) || end < start {
		return errUnalignedRegion
	}

	if !mem.Contains(start, end-start) {
		return errRegionOutsideRAM
	}

	alloc.mem = mem
	alloc.startAddr, alloc.endAddr = start, end
	alloc.nextAddr = start
	alloc.allocCount = 0
	return nil
}

// AllocPages reserves count contiguous pages, clears their contents and
// returns the physical address of the first page.
//
// AllocPages returns an error if the request would move the cursor past the
// end of free RAM. The cursor is left untouched in that case.
func (alloc *BumpAllocator) AllocPages(count uintptr) (uintptr, *kernel.Error) {
	size := count << mm.PageShift
	if size > alloc.endAddr-alloc.nextAddr {
		return 0, errOutOfMemory
	}

	addr := alloc.nextAddr
	alloc.nextAddr += size
	alloc.allocCount += uint64(count)

	alloc.mem.Memset(addr, 0, size)
	return addr, nil
}

// AllocFrame reserves a single cleared page and returns its frame. It
// satisfies mm.FrameAllocatorFn so it can back page table allocations.
func (alloc *BumpAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	addr, err := alloc.AllocPages(1)
	if err != nil {
		return mm.InvalidFrame, err
	}

	return mm.FrameFromAddress(addr), nil
}

// Allocated returns the number of pages handed out so far.
func (alloc *BumpAllocator) Allocated() uint64 {
	return alloc.allocCount
}

// Free returns the number of bytes still available for allocation.
func (alloc *BumpAllocator) Free() mm.Size {
	return mm.Size(alloc.endAddr - alloc.nextAddr)
}

// PrintMemoryMap writes a summary of the managed RAM extent to w.
func (alloc *BumpAllocator) PrintMemoryMap(w io.Writer) {
	kfmt.Fprintf(w, "[pmm] free RAM: [0x%8x - 0x%8x], size: %dKb\n",
		uint32(alloc.startAddr), uint32(alloc.endAddr),
		uint64(mm.Size(alloc.endAddr-alloc.startAddr)/mm.Kb),
	)
	kfmt.Fprintf(w, "[pmm] allocated pages: %d, available: %dKb\n", alloc.allocCount, uint64(alloc.Free()/mm.Kb))
}
