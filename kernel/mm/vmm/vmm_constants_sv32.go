package vmm

const (
	// pageLevels indicates the number of page levels supported by Sv32.
	pageLevels = 2

	// ptePhysPageShift is the bit position of the physical page number
	// inside a page table entry.
	ptePhysPageShift = 10

	// SatpSv32 is the MODE bit of the satp register that enables Sv32
	// translation.
	SatpSv32 = uint32(1 << 31)

	// satpPPNMask selects the root table physical page number from satp.
	satpPPNMask = uint32(1<<22 - 1)
)

var (
	// pageLevelBits defines the virtual address bits that correspond to each
	// page level. For Sv32, each page level uses 10 bits.
	pageLevelBits = [pageLevels]uint8{10, 10}

	// pageLevelShifts defines the shift required to access each page table
	// component of a virtual address (VPN1, VPN0).
	pageLevelShifts = [pageLevels]uint8{22, 12}
)

const (
	// FlagValid is set when the entry describes a valid mapping or points to
	// the next level table.
	FlagValid PageTableEntryFlag = 1 << iota

	// FlagRead allows loads from the page.
	FlagRead

	// FlagWrite allows stores to the page.
	FlagWrite

	// FlagExec allows instruction fetches from the page.
	FlagExec

	// FlagUser makes the page accessible from user mode.
	FlagUser

	// FlagGlobal marks a mapping that exists in all address spaces.
	FlagGlobal

	// FlagAccessed is set by the hardware when the page is accessed.
	FlagAccessed

	// FlagDirty is set by the hardware when the page is written to.
	FlagDirty
)

// flagLeafMask selects the permission bits that turn an entry into a leaf.
const flagLeafMask = FlagRead | FlagWrite | FlagExec
