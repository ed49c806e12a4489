// Package mm contains the page and frame primitives shared by the physical
// and virtual memory managers.
package mm

import "math"

// Frame describes a physical memory page index (a physical page number).
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint32)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(PageSize - 1)) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address, rounding down unaligned addresses.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

// IsAligned reports whether addr is a multiple of PageSize.
func IsAligned(addr uintptr) bool {
	return addr&(PageSize-1) == 0
}

// AlignUp rounds size up to the next multiple of PageSize.
func AlignUp(size uintptr) uintptr {
	return (size + (PageSize - 1)) & ^(PageSize - 1)
}

// PagesFor returns the number of pages needed to hold size bytes.
func PagesFor(size uintptr) uintptr {
	return AlignUp(size) >> PageShift
}
