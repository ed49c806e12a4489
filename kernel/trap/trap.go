// Package trap implements the supervisor trap handler and the system calls
// it dispatches to.
package trap

import (
	"github.com/kcs1959/kcs-os/abi"
	"github.com/kcs1959/kcs-os/fs/fat16"
	"github.com/kcs1959/kcs-os/kernel/cpu"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
)

var (
	// panicfFn and haltFn are mocked by tests.
	panicfFn = kfmt.Panicf
	haltFn   = (*cpu.Hart).Halt
)

// Console is the character device used by the putchar and getchar system
// calls.
type Console interface {
	Putchar(ch byte)

	// Getchar returns -1 when no input is available.
	Getchar() int32
}

// Scheduler is implemented by the process table.
type Scheduler interface {
	// Yield switches to the next runnable process.
	Yield()

	// Exit terminates the current process. It never returns.
	Exit()
}

// Handler dispatches the traps taken by a hart.
type Handler struct {
	hart  *cpu.Hart
	cons  Console
	sched Scheduler
	vol   *fat16.Volume
	files *fat16.FileTable

	// powerOff asks the firmware to switch the machine off.
	powerOff func()
}

// NewHandler returns a trap handler that serves system calls with the
// supplied collaborators.
func NewHandler(hart *cpu.Hart, cons Console, sched Scheduler, vol *fat16.Volume, files *fat16.FileTable, powerOff func()) *Handler {
	return &Handler{
		hart:     hart,
		cons:     cons,
		sched:    sched,
		vol:      vol,
		files:    files,
		powerOff: powerOff,
	}
}

// Install points the trap vector of the hart at h.
func (h *Handler) Install() {
	h.hart.SetTrapVector(h.HandleTrap)
}

// HandleTrap handles a trap described by the hart CSRs and the saved
// registers in frame. Environment calls from user mode are served as system
// calls and resume at the instruction following the ecall; any other trap
// is fatal.
func (h *Handler) HandleTrap(frame *cpu.TrapFrame) {
	var (
		scause = h.hart.Scause
		stval  = h.hart.Stval

		// The system call may yield to other processes whose traps
		// overwrite sepc.
		userPC = h.hart.Sepc
	)

	if scause != cpu.CauseEcallFromUser {
		printFrame(frame)
		panicfFn("trap", "unexpected trap scause=%x, stval=%x, sepc=%x", scause, stval, userPC)
		return
	}

	h.syscall(frame)
	h.hart.Sepc = userPC + 4
}

func (h *Handler) syscall(f *cpu.TrapFrame) {
	switch f.A3 {
	case abi.SysPutchar:
		h.cons.Putchar(byte(f.A0))
	case abi.SysGetchar:
		for {
			if ch := h.cons.Getchar(); ch >= 0 {
				f.A0 = uint32(ch)
				break
			}
			h.sched.Yield()
		}
	case abi.SysExit:
		h.sched.Exit()
	case abi.SysCreateFile:
		f.A0 = result(h.createFile(f.A0))
	case abi.SysListRootDir:
		h.vol.List()
		h.sched.Yield()
	case abi.SysCatFirstFile:
		h.vol.CatFirst()
		h.sched.Yield()
	case abi.SysFopen:
		f.A0 = result(h.fopen(f.A0, f.A1))
	case abi.SysFclose:
		if err := h.files.Close(int(f.A0)); err != nil {
			f.A0 = result(-1)
			break
		}
		f.A0 = 0
	case abi.SysFgetc:
		ch, err := h.files.Getc(int(f.A0))
		if err != nil {
			f.A0 = result(int(abi.EOF))
			break
		}
		f.A0 = uint32(ch)
	case abi.SysFputc:
		ch, err := h.files.Putc(int(f.A0), byte(f.A1))
		if err != nil {
			f.A0 = result(-1)
			break
		}
		f.A0 = uint32(ch)
	case abi.SysShutdown:
		kfmt.Printf("shutting down...\n")
		h.powerOff()
		haltFn(h.hart)
	default:
		panicfFn("trap", "unexpected syscall a3=%x", f.A3)
	}
}

func (h *Handler) createFile(namePtr uint32) int {
	name, ok := h.userString(namePtr)
	if !ok {
		return -1
	}

	index, err := h.vol.Create(name, nil, 0)
	if err != nil {
		return -1
	}
	return index
}

func (h *Handler) fopen(pathPtr, modePtr uint32) int {
	path, ok := h.userString(pathPtr)
	if !ok {
		return -1
	}
	mode, ok := h.userString(modePtr)
	if !ok {
		return -1
	}

	fd, err := h.files.Open(path, mode)
	if err != nil {
		return -1
	}
	return fd
}

// userString copies a NUL-terminated string out of the address space of the
// current process.
func (h *Handler) userString(ptr uint32) (string, bool) {
	h.hart.Sstatus |= cpu.SstatusSUM
	defer func() { h.hart.Sstatus &^= cpu.SstatusSUM }()

	return h.hart.LoadString(ptr, abi.PathMax)
}

func result(v int) uint32 {
	return uint32(int32(v))
}
