package vmm

import "github.com/kcs1959/kcs-os/kernel"

// Translate returns the physical address that corresponds to the supplied
// virtual address together with the flags of the leaf entry. It returns
// ErrInvalidMapping if any level of the walk hits an entry without
// FlagValid.
func (pt *PageTable) Translate(virtAddr uintptr) (uintptr, PageTableEntryFlag, *kernel.Error) {
	var (
		leaf pageTableEntry
		err  *kernel.Error
	)

	pt.walk(virtAddr, func(pteLevel uint8, _ uintptr, pte pageTableEntry) bool {
		switch {
		case !pte.HasFlags(FlagValid):
			err = ErrInvalidMapping
			return false
		case pteLevel < pageLevels-1 && pte.HasAnyFlag(flagLeafMask):
			err = errNoMegapageSupport
			return false
		case pteLevel == pageLevels-1 && !pte.HasAnyFlag(flagLeafMask):
			// A valid entry without permissions at the last level
			// would point to yet another table.
			err = ErrInvalidMapping
			return false
		}

		leaf = pte
		return pteLevel < pageLevels-1
	})

	if err != nil {
		return 0, 0, err
	}

	return leaf.Frame().Address() + PageOffset(virtAddr), leaf.Flags(), nil
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}
