package cpu

import (
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/vmm"
)

// Access describes the kind of memory access checked by the MMU.
type Access uint8

const (
	// AccessRead is a data load.
	AccessRead Access = iota

	// AccessWrite is a data store.
	AccessWrite

	// AccessExec is an instruction fetch.
	AccessExec
)

var (
	pageFaultCause   = [...]uint32{CauseLoadPageFault, CauseStorePageFault, CauseInstructionPageFault}
	accessFaultCause = [...]uint32{CauseLoadAccessFault, CauseStoreAccessFault, CauseInstructionAccessFault}
	accessFlag       = [...]vmm.PageTableEntryFlag{vmm.FlagRead, vmm.FlagWrite, vmm.FlagExec}
)

// translate converts a virtual address to a physical address using the
// active page table and the permission rules of the current mode. It returns
// the scause value to raise when the access is not permitted.
func (h *Hart) translate(vaddr uint32, access Access) (uintptr, uint32, bool) {
	if h.Satp&vmm.SatpSv32 == 0 {
		return uintptr(vaddr), 0, true
	}

	paddr, flags, err := vmm.FromSATP(h.mem, h.Satp).Translate(uintptr(vaddr))
	if err != nil {
		return 0, pageFaultCause[access], false
	}

	if flags&accessFlag[access] == 0 {
		return 0, pageFaultCause[access], false
	}

	isUserPage := flags&vmm.FlagUser != 0
	switch {
	case h.mode == ModeUser && !isUserPage:
		return 0, pageFaultCause[access], false
	case h.mode == ModeSupervisor && isUserPage && (access == AccessExec || h.Sstatus&SstatusSUM == 0):
		return 0, pageFaultCause[access], false
	}

	return paddr, 0, true
}

// access copies data between buf and virtual memory one page at a time. In
// user mode a failing access raises the matching trap; in supervisor mode
// it is reported to the caller.
func (h *Hart) access(vaddr uint32, buf []byte, access Access) bool {
	for len(buf) != 0 {
		paddr, cause, ok := h.translate(vaddr, access)
		if ok && !h.mem.Contains(paddr, 1) {
			cause, ok = accessFaultCause[access], false
		}

		if !ok {
			if h.mode == ModeUser {
				h.Trap(cause, vaddr)
			}
			return false
		}

		n := mm.PageSize - vmm.PageOffset(uintptr(vaddr))
		if n > uintptr(len(buf)) {
			n = uintptr(len(buf))
		}
		if !h.mem.Contains(paddr, n) {
			n = h.mem.End() - paddr
		}

		if access == AccessWrite {
			h.mem.Write(paddr, buf[:n])
		} else {
			h.mem.Read(paddr, buf[:n])
		}

		buf = buf[n:]
		vaddr += uint32(n)
	}

	return true
}

// Load reads len(dst) bytes of virtual memory starting at vaddr.
func (h *Hart) Load(vaddr uint32, dst []byte) bool {
	return h.access(vaddr, dst, AccessRead)
}

// Store writes src to virtual memory starting at vaddr.
func (h *Hart) Store(vaddr uint32, src []byte) bool {
	return h.access(vaddr, src, AccessWrite)
}

// Fetch reads len(dst) bytes of instruction memory starting at vaddr.
func (h *Hart) Fetch(vaddr uint32, dst []byte) bool {
	return h.access(vaddr, dst, AccessExec)
}

// LoadString reads a NUL-terminated string of at most max bytes starting at
// vaddr. It returns false if the string is not terminated within max bytes
// or crosses into memory that cannot be read.
func (h *Hart) LoadString(vaddr uint32, max int) (string, bool) {
	var (
		buf [1]byte
		out []byte
	)

	for i := 0; i < max; i++ {
		if !h.Load(vaddr+uint32(i), buf[:]) {
			return "", false
		}

		if buf[0] == 0 {
			return string(out), true
		}
		out = append(out, buf[0])
	}

	return "", false
}
