package cpu

import (
	"testing"

	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/vmm"
)

// setupAddressSpace maps a user code page at 0x1000000, a user stack page at
// 0xfff000 and a supervisor-only page at 0x2000000.
func setupAddressSpace(t *testing.T, h *Hart) (userPage, stackPage uintptr) {
	next := testRAMBase + 32*mm.PageSize
	allocFn := func() (mm.Frame, *kernel.Error) {
		f := mm.FrameFromAddress(next)
		next += mm.PageSize
		return f, nil
	}

	pt, err := vmm.New(h.mem, allocFn)
	if err != nil {
		t.Fatal(err)
	}

	userPage, stackPage = testRAMBase+8*mm.PageSize, testRAMBase+9*mm.PageSize
	for _, m := range []struct {
		vaddr, paddr uintptr
		flags        vmm.PageTableEntryFlag
	}{
		{0x1000000, userPage, vmm.FlagUser | vmm.FlagRead | vmm.FlagExec},
		{0xfff000, stackPage, vmm.FlagUser | vmm.FlagRead | vmm.FlagWrite},
		{0x2000000, testRAMBase + 10*mm.PageSize, vmm.FlagRead | vmm.FlagWrite},
		{0x3000000, 0x90000000, vmm.FlagUser | vmm.FlagRead},
	} {
		if err := pt.Map(m.vaddr, m.paddr, m.flags); err != nil {
			t.Fatal(err)
		}
	}

	h.SwitchPageTable(pt.SATP())
	return userPage, stackPage
}

func TestMMUUserAccess(t *testing.T) {
	h := newTestHart()
	userPage, stackPage := setupAddressSpace(t, h)
	h.mem.Write(userPage, []byte("print('hi')\x00"))

	var faults []uint32
	h.Sscratch = testStackTop
	h.SetTrapVector(func(_ *TrapFrame) {
		faults = append(faults, h.Scause)
	})
	h.mode = ModeUser

	buf := make([]byte, 5)
	if !h.Fetch(0x1000000, buf) || string(buf) != "print" {
		t.Fatalf("expected to fetch the user image; got %q", buf)
	}

	if !h.Store(0xfffff0, []byte("ok")) {
		t.Fatal("expected store to the user stack to succeed")
	}
	if got := h.mem.Read8(stackPage + 0xff0); got != 'o' {
		t.Fatalf("expected store to reach physical page; got %q", got)
	}

	specs := []struct {
		fn       func() bool
		expCause uint32
	}{
		// write to a read-only page
		{func() bool { return h.Store(0x1000000, []byte{1}) }, CauseStorePageFault},
		// execute from a non-executable page
		{func() bool { return h.Fetch(0xfff000, buf) }, CauseInstructionPageFault},
		// supervisor-only page
		{func() bool { return h.Load(0x2000000, buf) }, CauseLoadPageFault},
		// unmapped page
		{func() bool { return h.Load(0x4000000, buf) }, CauseLoadPageFault},
		// mapped outside of RAM
		{func() bool { return h.Load(0x3000000, buf) }, CauseLoadAccessFault},
	}

	for specIndex, spec := range specs {
		faults = faults[:0]
		h.mode = ModeUser

		if spec.fn() {
			t.Errorf("[spec %d] expected access to fail", specIndex)
		}

		if len(faults) != 1 || faults[0] != spec.expCause {
			t.Errorf("[spec %d] expected a trap with cause %d; got %v", specIndex, spec.expCause, faults)
		}
	}
}

func TestMMUSupervisorAccess(t *testing.T) {
	h := newTestHart()
	userPage, _ := setupAddressSpace(t, h)
	h.mem.Write(userPage+0x100, []byte("test.txt\x00"))

	h.SetTrapVector(func(_ *TrapFrame) {
		t.Fatal("supervisor accesses must not trap")
	})

	if _, ok := h.LoadString(0x1000100, 64); ok {
		t.Fatal("expected supervisor access to a user page to fail without SUM")
	}

	h.Sstatus |= SstatusSUM
	str, ok := h.LoadString(0x1000100, 64)
	if !ok || str != "test.txt" {
		t.Fatalf("expected to read %q; got %q (ok: %t)", "test.txt", str, ok)
	}

	if _, ok := h.LoadString(0x1000100, 4); ok {
		t.Fatal("expected unterminated string to be rejected")
	}

	buf := make([]byte, 4)
	if !h.Load(0x2000000, buf) {
		t.Fatal("expected supervisor access to a kernel page to succeed")
	}
}

func TestMMUBare(t *testing.T) {
	h := newTestHart()
	h.mem.Write32(testRAMBase+0x40, 0xcafebabe)

	buf := make([]byte, 4)
	if !h.Load(uint32(testRAMBase+0x40), buf) {
		t.Fatal("expected physical access to succeed with translation disabled")
	}

	if buf[0] != 0xbe || buf[3] != 0xca {
		t.Fatalf("unexpected data: %x", buf)
	}
}
