// Package cpu models a single RISC-V hart running in supervisor mode with an
// Sv32 MMU. The hart owns the supervisor CSRs used by the kernel and a
// register file; general purpose registers are exposed through the same
// TrapFrame layout that the trap entry path saves on the kernel stack.
package cpu

import (
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

// Mode describes the privilege mode the hart is executing in.
type Mode uint8

const (
	// ModeUser is the unprivileged mode used by processes.
	ModeUser Mode = iota

	// ModeSupervisor is the mode the kernel runs in.
	ModeSupervisor
)

// Trap causes reported in scause.
const (
	// CauseInstructionAccessFault occurs when execution reaches an address
	// that is not backed by memory or code.
	CauseInstructionAccessFault = uint32(1)

	// CauseIllegalInstruction occurs when the user program cannot be
	// executed any further.
	CauseIllegalInstruction = uint32(2)

	// CauseLoadAccessFault occurs when a load hits a physical address
	// outside of RAM.
	CauseLoadAccessFault = uint32(5)

	// CauseStoreAccessFault occurs when a store hits a physical address
	// outside of RAM.
	CauseStoreAccessFault = uint32(7)

	// CauseEcallFromUser is raised by an ecall instruction in user mode.
	CauseEcallFromUser = uint32(8)

	// CauseEcallFromSupervisor is raised by an ecall instruction in
	// supervisor mode.
	CauseEcallFromSupervisor = uint32(9)

	// CauseInstructionPageFault occurs when an instruction fetch fails the
	// page table permission checks.
	CauseInstructionPageFault = uint32(12)

	// CauseLoadPageFault occurs when a load fails the page table
	// permission checks.
	CauseLoadPageFault = uint32(13)

	// CauseStorePageFault occurs when a store fails the page table
	// permission checks.
	CauseStorePageFault = uint32(15)
)

// sstatus bits.
const (
	// SstatusSIE enables supervisor interrupts.
	SstatusSIE = uint32(1 << 1)

	// SstatusSPIE holds the value of SIE prior to a trap.
	SstatusSPIE = uint32(1 << 5)

	// SstatusSPP holds the mode the hart was in prior to a trap; sret
	// returns to supervisor mode when it is set.
	SstatusSPP = uint32(1 << 8)

	// SstatusSUM permits supervisor mode accesses to user pages.
	SstatusSUM = uint32(1 << 18)
)

// TrapVector is invoked with the saved register frame whenever the hart
// takes a trap. It corresponds to the handler installed in stvec.
type TrapVector func(frame *TrapFrame)

// UserExecutor runs the instructions of a user program starting at the
// hart's PC. It is invoked by EnterUser after the hart drops to user mode.
type UserExecutor func(h *Hart)

// Hart models the register state of a single hardware thread.
type Hart struct {
	// Regs holds the live general purpose registers.
	Regs TrapFrame

	// PC is the address of the instruction being executed.
	PC uint32

	// Supervisor CSRs.
	Satp     uint32
	Sscratch uint32
	Sepc     uint32
	Sstatus  uint32
	Scause   uint32
	Stval    uint32

	mode     Mode
	mem      *phys.Memory
	stvec    TrapVector
	userExec UserExecutor

	// haltHandler is notified when the hart halts.
	haltHandler func()

	// entryPoints maps code addresses found in saved return addresses to
	// the functions that implement them.
	entryPoints map[uint32]func()
}

// NewHart returns a hart in supervisor mode with translation disabled.
func NewHart(mem *phys.Memory) *Hart {
	return &Hart{
		mode:        ModeSupervisor,
		mem:         mem,
		entryPoints: make(map[uint32]func()),
	}
}

// Memory returns the physical memory attached to the hart.
func (h *Hart) Memory() *phys.Memory {
	return h.mem
}

// Mode returns the current privilege mode.
func (h *Hart) Mode() Mode {
	return h.mode
}

// SetTrapVector installs the trap handler (csrw stvec).
func (h *Hart) SetTrapVector(fn TrapVector) {
	h.stvec = fn
}

// SetUserExecutor registers the executor that runs user mode code.
func (h *Hart) SetUserExecutor(fn UserExecutor) {
	h.userExec = fn
}

// SwitchPageTable activates the page table selected by satp. The hosted MMU
// keeps no TLB so the surrounding sfence.vma instructions have no effect.
func (h *Hart) SwitchPageTable(satp uint32) {
	h.Satp = satp
}

// Trap transfers control to the trap vector as if the hart had taken a trap
// with the supplied cause while executing at PC.
//
// The trap entry path swaps sp and sscratch so it runs on the kernel stack
// of the current process, saves the registers of the interrupted context in
// a TrapFrame just below the stack top and reloads sscratch with the stack
// top. Once the trap vector returns, the registers are restored from the
// saved frame and the hart executes sret.
func (h *Hart) Trap(cause, tval uint32) {
	h.Sepc = h.PC
	h.Scause = cause
	h.Stval = tval

	if h.mode == ModeUser {
		h.Sstatus &^= SstatusSPP
	} else {
		h.Sstatus |= SstatusSPP
	}
	if h.Sstatus&SstatusSIE != 0 {
		h.Sstatus |= SstatusSPIE
	} else {
		h.Sstatus &^= SstatusSPIE
	}
	h.Sstatus &^= SstatusSIE
	h.mode = ModeSupervisor

	// csrrw sp, sscratch, sp
	h.Regs.SP, h.Sscratch = h.Sscratch, h.Regs.SP

	frameAddr := uintptr(h.Regs.SP) - TrapFrameSize
	frame := h.Regs
	frame.SP = h.Sscratch
	frame.Store(h.mem, frameAddr)

	h.Sscratch = uint32(frameAddr + TrapFrameSize)
	h.Regs.SP = uint32(frameAddr)

	if h.stvec != nil {
		frame.Load(h.mem, frameAddr)
		h.stvec(&frame)
		frame.Store(h.mem, frameAddr)
	}

	// The trap vector may have switched to other processes; the frame on
	// this process's kernel stack is the source of truth.
	h.Regs.Load(h.mem, frameAddr)
	h.sret()
}

// Ecall raises an environment call from the current mode. The syscall
// result is available in Regs.A0 once Ecall returns.
func (h *Hart) Ecall() {
	cause := CauseEcallFromUser
	if h.mode == ModeSupervisor {
		cause = CauseEcallFromSupervisor
	}
	h.Trap(cause, 0)
}

// EnterUser executes sret and hands the hart to the user executor. It only
// returns control to its caller through traps; a user executor that returns
// without terminating the process triggers an illegal instruction trap.
func (h *Hart) EnterUser() {
	h.sret()

	if h.userExec == nil || h.mode != ModeUser {
		h.Trap(CauseInstructionAccessFault, h.PC)
		return
	}

	h.userExec(h)
	h.Trap(CauseIllegalInstruction, h.PC)
}

// sret returns from a trap to the mode recorded in SPP and resumes
// execution at sepc.
func (h *Hart) sret() {
	if h.Sstatus&SstatusSPP != 0 {
		h.mode = ModeSupervisor
	} else {
		h.mode = ModeUser
	}

	if h.Sstatus&SstatusSPIE != 0 {
		h.Sstatus |= SstatusSIE
	} else {
		h.Sstatus &^= SstatusSIE
	}
	h.Sstatus |= SstatusSPIE
	h.Sstatus &^= SstatusSPP

	h.PC = h.Sepc
}
