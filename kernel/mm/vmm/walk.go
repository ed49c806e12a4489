package vmm

import "github.com/kcs1959/kcs-os/kernel/mm"

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level, the physical address of the page
// table entry for that level and its current contents. If the function
// returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, entryAddr uintptr, pte pageTableEntry) bool

// walk performs a page table walk for the given virtual address starting at
// the root table. The walk descends into the table pointed to by each entry
// after walkFn returns, so walkFn may install a missing table before
// returning true.
func (pt *PageTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	var entryAddr, entryIndex uintptr

	tableAddr := pt.root.Address()
	for level := uint8(0); level < pageLevels; level++ {
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr = tableAddr + entryIndex*mm.PTESize

		if !walkFn(level, entryAddr, pt.load(entryAddr)) {
			return
		}

		// Re-read the entry as walkFn may have installed the next table.
		tableAddr = pt.load(entryAddr).Frame().Address()
	}
}

func (pt *PageTable) load(entryAddr uintptr) pageTableEntry {
	return pageTableEntry(pt.mem.Read32(entryAddr))
}

func (pt *PageTable) store(entryAddr uintptr, pte pageTableEntry) {
	pt.mem.Write32(entryAddr, uint32(pte))
}
