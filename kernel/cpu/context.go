package cpu

// Return addresses understood by SwitchContext. They live in the kernel
// image region and never hold real instructions.
const (
	// SwitchReturnAddr is the return address pushed by SwitchContext. A
	// context whose saved ra equals SwitchReturnAddr resumes inside its own
	// SwitchContext call.
	SwitchReturnAddr = uint32(0x80000100)

	// UserEntryAddr is the address of the trampoline that starts a new
	// process in user mode.
	UserEntryAddr = uint32(0x80000200)
)

// contextWords is the number of words pushed by SwitchContext: ra and the
// callee-saved registers s0-s11.
const contextWords = 13

// ContextFrameSize is the size in bytes of the frame pushed by SwitchContext.
const ContextFrameSize = contextWords * 4

// Context holds the saved kernel stack pointer of a process.
type Context struct {
	// SP points to the frame pushed by the last SwitchContext call.
	SP uint32

	wake chan struct{}
}

// RegisterEntryPoint associates fn with the code address addr. A context
// whose saved return address is addr starts executing fn when switched to.
func (h *Hart) RegisterEntryPoint(addr uint32, fn func()) {
	h.entryPoints[addr] = fn
}

// calleeSaved returns the registers SwitchContext preserves after ra, in
// frame order.
func (h *Hart) calleeSaved() [contextWords - 1]*uint32 {
	r := &h.Regs
	return [contextWords - 1]*uint32{
		&r.S0, &r.S1, &r.S2, &r.S3, &r.S4, &r.S5,
		&r.S6, &r.S7, &r.S8, &r.S9, &r.S10, &r.S11,
	}
}

// SwitchContext saves the callee-saved registers of the running context on
// its kernel stack, stores the stack pointer in prev, loads the stack
// pointer from next, restores the registers saved in next's frame and
// returns to the address saved there.
//
// Execution of the caller is suspended until another SwitchContext call
// switches back to prev. A context that is never switched back to (an
// exited process) stays suspended forever.
func (h *Hart) SwitchContext(prev, next *Context) {
	mem := h.mem

	sp := uintptr(h.Regs.SP) - ContextFrameSize
	mem.Write32(sp, SwitchReturnAddr)
	for i, reg := range h.calleeSaved() {
		mem.Write32(sp+uintptr(i+1)*4, *reg)
	}
	prev.SP = uint32(sp)
	if prev.wake == nil {
		prev.wake = make(chan struct{}, 1)
	}

	nextSP := uintptr(next.SP)
	for i, reg := range h.calleeSaved() {
		*reg = mem.Read32(nextSP + uintptr(i+1)*4)
	}
	ra := mem.Read32(nextSP)
	h.Regs.RA = ra
	h.Regs.SP = next.SP + ContextFrameSize

	switch fn, known := h.entryPoints[ra]; {
	case ra == SwitchReturnAddr:
		next.wake <- struct{}{}
	case known:
		go fn()
	default:
		go h.Trap(CauseInstructionAccessFault, ra)
	}

	<-prev.wake
}
