package mm

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// PTESize is the size in bytes of a single Sv32 page table entry.
	PTESize = uintptr(4)

	// EntriesPerTable is the number of entries held by a page table page at
	// either level of the Sv32 translation scheme.
	EntriesPerTable = PageSize / PTESize
)
