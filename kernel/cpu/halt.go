package cpu

// SetHaltHandler registers fn to be called when the hart halts. The board
// uses it to learn that the kernel has stopped.
func (h *Hart) SetHaltHandler(fn func()) {
	h.haltHandler = fn
}

// Halt stops instruction execution on the hart. Calls to Halt never return.
func (h *Hart) Halt() {
	if h.haltHandler != nil {
		h.haltHandler()
	}

	select {}
}
