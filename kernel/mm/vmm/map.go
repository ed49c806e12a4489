// Package vmm manages Sv32 two-level page tables that live in physical RAM.
package vmm

import (
	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

var (
	errUnalignedVaddr    = &kernel.Error{Module: "vmm", Message: "unaligned vaddr"}
	errUnalignedPaddr    = &kernel.Error{Module: "vmm", Message: "unaligned paddr"}
	errNoMegapageSupport = &kernel.Error{Module: "vmm", Message: "megapages are not supported"}
	errNoFrameAllocator  = &kernel.Error{Module: "vmm", Message: "page table has no frame allocator"}
	errAddressOutOfRange = &kernel.Error{Module: "vmm", Message: "address does not fit in 32 bits"}
)

// PageTable is a view over an Sv32 page table whose root table occupies a
// single physical frame. The table entries are stored in physical memory so
// the hart's MMU walks exactly the bytes written by Map.
type PageTable struct {
	root    mm.Frame
	mem     *phys.Memory
	allocFn mm.FrameAllocatorFn
}

// New allocates a zeroed root table using allocFn. Second-level tables that
// Map needs are also obtained from allocFn.
func New(mem *phys.Memory, allocFn mm.FrameAllocatorFn) (*PageTable, *kernel.Error) {
	root, err := allocFn()
	if err != nil {
		return nil, err
	}

	mem.Memset(root.Address(), 0, mm.PageSize)
	return &PageTable{root: root, mem: mem, allocFn: allocFn}, nil
}

// FromSATP returns a read-only view of the page table selected by a satp
// value. Calls to Map on the returned table fail if a second-level table
// needs to be allocated.
func FromSATP(mem *phys.Memory, satp uint32) *PageTable {
	return &PageTable{root: mm.Frame(satp & satpPPNMask), mem: mem}
}

// Root returns the frame holding the root (VPN1) table.
func (pt *PageTable) Root() mm.Frame {
	return pt.root
}

// SATP returns the satp value that activates this page table in Sv32 mode.
func (pt *PageTable) SATP() uint32 {
	return SatpSv32 | uint32(pt.root)
}

// Map establishes a mapping between the page at virtAddr and the frame at
// physAddr. Missing second-level tables are allocated on demand and linked
// from the root table with only FlagValid set. The leaf entry is always
// tagged with FlagValid in addition to the supplied flags.
func (pt *PageTable) Map(virtAddr, physAddr uintptr, flags PageTableEntryFlag) *kernel.Error {
	switch {
	case !mm.IsAligned(virtAddr):
		return errUnalignedVaddr
	case !mm.IsAligned(physAddr):
		return errUnalignedPaddr
	case uint64(virtAddr) > 0xffffffff || uint64(physAddr)>>mm.PageShift > 1<<22-1:
		return errAddressOutOfRange
	}

	var err *kernel.Error

	pt.walk(virtAddr, func(pteLevel uint8, entryAddr uintptr, pte pageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			pte = 0
			pte.SetFrame(mm.FrameFromAddress(physAddr))
			pte.SetFlags(flags | FlagValid)
			pt.store(entryAddr, pte)
			return true
		}

		if pte.HasFlags(FlagValid) {
			if pte.HasAnyFlag(flagLeafMask) {
				err = errNoMegapageSupport
				return false
			}
			return true
		}

		if pt.allocFn == nil {
			err = errNoFrameAllocator
			return false
		}

		var tableFrame mm.Frame
		if tableFrame, err = pt.allocFn(); err != nil {
			return false
		}
		pt.mem.Memset(tableFrame.Address(), 0, mm.PageSize)

		pte = 0
		pte.SetFrame(tableFrame)
		pte.SetFlags(FlagValid)
		pt.store(entryAddr, pte)
		return true
	})

	return err
}

// MapRegion maps size bytes (rounded up to a page multiple) starting at
// virtAddr to the physical range starting at physAddr.
func (pt *PageTable) MapRegion(virtAddr, physAddr, size uintptr, flags PageTableEntryFlag) *kernel.Error {
	for off := uintptr(0); off < size; off += mm.PageSize {
		if err := pt.Map(virtAddr+off, physAddr+off, flags); err != nil {
			return err
		}
	}

	return nil
}
