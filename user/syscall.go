package user

import (
	"github.com/kcs1959/kcs-os/abi"
	"github.com/kcs1959/kcs-os/kernel/cpu"
)

// Syscalls issues system calls on behalf of a program running in user mode
// on a hart.
type Syscalls struct {
	h *cpu.Hart
}

// NewSyscalls returns the system call stubs for the program running on h.
func NewSyscalls(h *cpu.Hart) *Syscalls {
	return &Syscalls{h: h}
}

// call executes an ecall with the call number in a3 and returns a0.
func (s *Syscalls) call(num, a0, a1, a2 uint32) uint32 {
	r := &s.h.Regs
	r.A0, r.A1, r.A2, r.A3 = a0, a1, a2, num
	s.h.Ecall()
	return r.A0
}

// pushString copies str and its terminating NUL to the user stack and
// returns its address. The caller restores the stack pointer.
func (s *Syscalls) pushString(str string) (uint32, bool) {
	if len(str) >= abi.PathMax {
		return 0, false
	}

	sp := (s.h.Regs.SP - uint32(len(str)+1)) &^ 3
	if !s.h.Store(sp, append([]byte(str), 0)) {
		return 0, false
	}

	s.h.Regs.SP = sp
	return sp, true
}

// Putchar writes ch to the console.
func (s *Syscalls) Putchar(ch byte) {
	s.call(abi.SysPutchar, uint32(ch), 0, 0)
}

// Write writes str to the console.
func (s *Syscalls) Write(str string) {
	for i := 0; i < len(str); i++ {
		s.Putchar(str[i])
	}
}

// Getchar blocks until a character is available on the console.
func (s *Syscalls) Getchar() byte {
	return byte(s.call(abi.SysGetchar, 0, 0, 0))
}

// Exit terminates the process. It does not return.
func (s *Syscalls) Exit() {
	s.call(abi.SysExit, 0, 0, 0)
}

// CreateFile creates an empty file and returns its directory entry index
// or -1.
func (s *Syscalls) CreateFile(name string) int {
	sp := s.h.Regs.SP
	defer func() { s.h.Regs.SP = sp }()

	ptr, ok := s.pushString(name)
	if !ok {
		return -1
	}
	return int(int32(s.call(abi.SysCreateFile, ptr, 0, 0)))
}

// ListRootDir prints the root directory.
func (s *Syscalls) ListRootDir() {
	s.call(abi.SysListRootDir, 0, 0, 0)
}

// CatFirstFile prints the first file of the root directory.
func (s *Syscalls) CatFirstFile() {
	s.call(abi.SysCatFirstFile, 0, 0, 0)
}

// Fopen opens path and returns a file descriptor or -1.
func (s *Syscalls) Fopen(path, mode string) int {
	sp := s.h.Regs.SP
	defer func() { s.h.Regs.SP = sp }()

	pathPtr, ok := s.pushString(path)
	if !ok {
		return -1
	}
	modePtr, ok := s.pushString(mode)
	if !ok {
		return -1
	}
	return int(int32(s.call(abi.SysFopen, pathPtr, modePtr, 0)))
}

// Fclose closes fd. It returns 0 or -1.
func (s *Syscalls) Fclose(fd int) int {
	return int(int32(s.call(abi.SysFclose, uint32(fd), 0, 0)))
}

// Fgetc returns the next byte of fd or abi.EOF.
func (s *Syscalls) Fgetc(fd int) int {
	return int(int32(s.call(abi.SysFgetc, uint32(fd), 0, 0)))
}

// Fputc writes ch to fd and returns it, or -1.
func (s *Syscalls) Fputc(fd int, ch byte) int {
	return int(int32(s.call(abi.SysFputc, uint32(fd), uint32(ch), 0)))
}

// Shutdown powers the machine off.
func (s *Syscalls) Shutdown() {
	s.call(abi.SysShutdown, 0, 0, 0)
}
