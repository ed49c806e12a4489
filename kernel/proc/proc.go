// Package proc manages the process table and the cooperative round-robin
// scheduler.
package proc

import (
	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/cpu"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
	"github.com/kcs1959/kcs-os/kernel/mm/vmm"
)

const (
	// MaxProcs is the number of slots in the process table.
	MaxProcs = 8

	// KernelStackSize is the size of the kernel stack of each process.
	KernelStackSize = 8192
)

// State is the lifecycle state of a process slot.
type State uint8

const (
	// Unused slots are available to Create.
	Unused State = iota

	// Runnable processes are picked by the scheduler.
	Runnable

	// Exited processes keep their slot forever.
	Exited
)

func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Runnable:
		return "runnable"
	case Exited:
		return "exited"
	}
	return "unknown"
}

var (
	errNoFreeSlots        = &kernel.Error{Module: "proc", Message: "no free process slots"}
	errUnreachable        = &kernel.Error{Module: "proc", Message: "unreachable"}
	errUserEntryReturned  = &kernel.Error{Module: "proc", Message: "user entry returned"}
	errStackAreaUnaligned = &kernel.Error{Module: "proc", Message: "kernel stack area is not 16-byte aligned"}

	// switchContextFn and panicFn are mocked by tests.
	switchContextFn = (*cpu.Hart).SwitchContext
	panicFn         = kfmt.Panic
)

// Process describes a process slot.
type Process struct {
	// PID is the process id. The idle process has PID 0.
	PID int

	// State is the lifecycle state of the slot.
	State State

	// PageTable is the address space of the process.
	PageTable *vmm.PageTable

	ctx        cpu.Context
	stackStart uintptr
}

// StackTop returns the address just past the kernel stack of the process.
func (p *Process) StackTop() uint32 {
	return uint32(p.stackStart + KernelStackSize)
}

// SavedSP returns the kernel stack pointer saved by the last context
// switch away from the process.
func (p *Process) SavedSP() uint32 {
	return p.ctx.SP
}

// Table is the process table. The kernel stacks of all slots live in a
// contiguous region of RAM that the table receives at construction time.
type Table struct {
	hart      *cpu.Hart
	alloc     vmm.PageAllocator
	layout    vmm.Layout
	stackArea uintptr

	procs   [MaxProcs]Process
	current *Process
	idle    *Process
}

// NewTable returns an empty process table. stackArea must point to
// MaxProcs*KernelStackSize bytes of RAM inside the identity-mapped kernel
// region. New processes start in user mode at layout.UserBase.
func NewTable(hart *cpu.Hart, alloc vmm.PageAllocator, layout vmm.Layout, stackArea uintptr) (*Table, *kernel.Error) {
	if stackArea%16 != 0 {
		return nil, errStackAreaUnaligned
	}

	t := &Table{
		hart:      hart,
		alloc:     alloc,
		layout:    layout,
		stackArea: stackArea,
	}

	for i := range t.procs {
		t.procs[i].stackStart = stackArea + uintptr(i)*KernelStackSize
	}

	hart.RegisterEntryPoint(cpu.UserEntryAddr, t.userEntry)
	return t, nil
}

// Create allocates the first unused slot, builds an address space holding
// image and prepares the kernel stack so that the first switch to the
// process drops into user mode at UserBase.
func (t *Table) Create(image []byte) (*Process, *kernel.Error) {
	var (
		p    *Process
		slot int
	)
	for slot = range t.procs {
		if t.procs[slot].State == Unused {
			p = &t.procs[slot]
			break
		}
	}
	if p == nil {
		return nil, errNoFreeSlots
	}

	pt, err := vmm.BuildAddressSpace(t.hart.Memory(), t.alloc, t.layout, image)
	if err != nil {
		return nil, err
	}

	// Initial context: ra points at the user entry trampoline and the
	// callee-saved registers s0-s11 are zero.
	var (
		mem = t.hart.Memory()
		sp  = uintptr(p.StackTop()) - cpu.ContextFrameSize
	)
	mem.Write32(sp, cpu.UserEntryAddr)
	mem.Memset(sp+4, 0, cpu.ContextFrameSize-4)

	p.PID = slot + 1
	p.State = Runnable
	p.PageTable = pt
	p.ctx = cpu.Context{SP: uint32(sp)}

	return p, nil
}

// CreateIdle creates the idle process (PID 0) and makes it the current
// process. The context that calls CreateIdle becomes the idle process once
// it first yields.
func (t *Table) CreateIdle() (*Process, *kernel.Error) {
	p, err := t.Create(nil)
	if err != nil {
		return nil, err
	}

	p.PID = 0
	t.idle = p
	t.current = p
	return p, nil
}

// Current returns the running process.
func (t *Table) Current() *Process {
	return t.current
}

// Idle returns the idle process.
func (t *Table) Idle() *Process {
	return t.idle
}

// Slot returns the process in slot i.
func (t *Table) Slot(i int) *Process {
	return &t.procs[i]
}

// Yield switches to the next runnable process. Slots are scanned round-robin
// starting right after the current process; the idle process runs when no
// other process is runnable. Yield returns immediately when the current
// process is the only candidate. Otherwise it returns once the current
// process is scheduled again.
func (t *Table) Yield() {
	next := t.idle
	for i := 0; i < MaxProcs; i++ {
		p := &t.procs[(t.current.PID+i)%MaxProcs]
		if p.State == Runnable && p.PID > 0 {
			next = p
			break
		}
	}

	if next == t.current {
		return
	}

	t.hart.SwitchPageTable(next.PageTable.SATP())
	t.hart.Sscratch = next.StackTop()

	prev := t.current
	t.current = next
	switchContextFn(t.hart, &prev.ctx, &next.ctx)
}

// Exit terminates the current process and switches away from it. Exit
// never returns.
func (t *Table) Exit() {
	p := t.current
	p.State = Exited
	kfmt.Printf("process %d exited\n", p.PID)

	t.Yield()
	panicFn(errUnreachable)
}

// userEntry is the first code executed by a new process. It returns to user
// mode at UserBase with interrupts enabled after the sret.
func (t *Table) userEntry() {
	t.hart.Sepc = uint32(t.layout.UserBase)
	t.hart.Sstatus = cpu.SstatusSPIE
	t.hart.EnterUser()

	panicFn(errUserEntryReturned)
}
