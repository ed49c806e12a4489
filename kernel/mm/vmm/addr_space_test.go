package vmm

import (
	"bytes"
	"testing"

	"github.com/kcs1959/kcs-os/kernel/mm"
)

func TestBuildAddressSpace(t *testing.T) {
	fs := newFrameSource(128 * mm.PageSize)
	layout := Layout{
		KernelBase: testRAMBase,
		FreeRAMEnd: testRAMBase + 128*mm.PageSize,
		MMIOBase:   0x10001000,
		UserBase:   0x1000000,
	}

	image := bytes.Repeat([]byte{0x5a}, int(mm.PageSize)+100)
	pt, err := BuildAddressSpace(fs.mem, fs, layout, image)
	if err != nil {
		t.Fatal(err)
	}

	specs := []struct {
		vaddr    uintptr
		expFlags PageTableEntryFlag
		identity bool
	}{
		{testRAMBase, FlagValid | FlagRead | FlagWrite | FlagExec, true},
		{testRAMBase + 127*mm.PageSize, FlagValid | FlagRead | FlagWrite | FlagExec, true},
		{0x10001000, FlagValid | FlagRead | FlagWrite, true},
		{0x1000000, FlagValid | FlagUser | FlagRead | FlagWrite | FlagExec, false},
		{0x1001000, FlagValid | FlagUser | FlagRead | FlagWrite | FlagExec, false},
		{0x0fff000, FlagValid | FlagUser | FlagRead | FlagWrite, false},
	}

	for specIndex, spec := range specs {
		paddr, flags, err := pt.Translate(spec.vaddr)
		if err != nil {
			t.Errorf("[spec %d] unexpected error translating 0x%x: %v", specIndex, spec.vaddr, err)
			continue
		}

		if flags != spec.expFlags {
			t.Errorf("[spec %d] expected flags 0x%x; got 0x%x", specIndex, spec.expFlags, flags)
		}

		if spec.identity && paddr != spec.vaddr {
			t.Errorf("[spec %d] expected identity mapping; got 0x%x", specIndex, paddr)
		}
	}

	if _, _, err := pt.Translate(0x1002000); err != ErrInvalidMapping {
		t.Fatalf("expected the page past the image to be unmapped; got %v", err)
	}

	// The image is copied and the last page is zero padded.
	paddr, _, _ := pt.Translate(0x1001000)
	tail := fs.mem.Slice(paddr, mm.PageSize)
	for i, b := range tail {
		exp := byte(0)
		if i < 100 {
			exp = 0x5a
		}
		if b != exp {
			t.Fatalf("expected byte %d of the last image page to be 0x%x; got 0x%x", i, exp, b)
		}
	}
}

func TestBuildAddressSpaceWithoutImage(t *testing.T) {
	fs := newFrameSource(32 * mm.PageSize)
	layout := Layout{
		KernelBase: testRAMBase,
		FreeRAMEnd: testRAMBase + 32*mm.PageSize,
		MMIOBase:   0x10001000,
		UserBase:   0x1000000,
	}

	pt, err := BuildAddressSpace(fs.mem, fs, layout, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, vaddr := range []uintptr{0x1000000, 0x0fff000} {
		if _, _, err := pt.Translate(vaddr); err != ErrInvalidMapping {
			t.Errorf("expected 0x%x to be unmapped; got %v", vaddr, err)
		}
	}
}
