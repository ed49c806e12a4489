package vmm

import (
	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

// PageAllocator provides the physical pages needed to build an address
// space.
type PageAllocator interface {
	AllocFrame() (mm.Frame, *kernel.Error)
	AllocPages(count uintptr) (uintptr, *kernel.Error)
}

// Layout describes the regions shared by every address space.
type Layout struct {
	// KernelBase and FreeRAMEnd delimit the range that is identity-mapped
	// for the kernel. It covers the kernel image and all free RAM.
	KernelBase, FreeRAMEnd uintptr

	// MMIOBase is the physical address of the virtio-blk register page.
	MMIOBase uintptr

	// UserBase is the virtual address where the user image is loaded. The
	// user stack occupies the page just below it.
	UserBase uintptr
}

// UserStackTop returns the initial user stack pointer.
func (l Layout) UserStackTop() uintptr {
	return l.UserBase
}

// BuildAddressSpace creates a page table that identity-maps the kernel and
// the MMIO page for supervisor access and loads image at layout.UserBase.
//
// The image is copied page by page into freshly allocated pages (the last
// page is zero padded) which are mapped U|R|W|X. When an image is supplied a
// single U|R|W stack page is mapped just below UserBase.
func BuildAddressSpace(mem *phys.Memory, alloc PageAllocator, layout Layout, image []byte) (*PageTable, *kernel.Error) {
	pt, err := New(mem, alloc.AllocFrame)
	if err != nil {
		return nil, err
	}

	if err = pt.MapRegion(layout.KernelBase, layout.KernelBase, layout.FreeRAMEnd-layout.KernelBase, FlagRead|FlagWrite|FlagExec); err != nil {
		return nil, err
	}

	if err = pt.Map(layout.MMIOBase, layout.MMIOBase, FlagRead|FlagWrite); err != nil {
		return nil, err
	}

	for off := uintptr(0); off < uintptr(len(image)); off += mm.PageSize {
		page, err := alloc.AllocPages(1)
		if err != nil {
			return nil, err
		}

		end := off + mm.PageSize
		if end > uintptr(len(image)) {
			end = uintptr(len(image))
		}
		mem.Write(page, image[off:end])

		if err = pt.Map(layout.UserBase+off, page, FlagUser|FlagRead|FlagWrite|FlagExec); err != nil {
			return nil, err
		}
	}

	if len(image) == 0 {
		return pt, nil
	}

	stack, err := alloc.AllocPages(1)
	if err != nil {
		return nil, err
	}

	if err = pt.Map(layout.UserBase-mm.PageSize, stack, FlagUser|FlagRead|FlagWrite); err != nil {
		return nil, err
	}

	return pt, nil
}
