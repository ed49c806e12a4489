// Package abi defines the interface between user programs and the kernel:
// the user address space layout and the system call numbers.
//
// A system call is an ecall with the call number in a3 and up to three
// arguments in a0-a2. The result is returned in a0.
package abi

// UserBase is the virtual address where the user image is mapped. The
// user stack occupies the page just below it.
const UserBase = uint32(0x1000000)

// System call numbers.
const (
	SysPutchar      = uint32(1)
	SysGetchar      = uint32(2)
	SysExit         = uint32(3)
	SysCreateFile   = uint32(4)
	SysListRootDir  = uint32(5)
	SysCatFirstFile = uint32(6)
	SysFopen        = uint32(7)
	SysFclose       = uint32(8)
	SysFgetc        = uint32(9)
	SysFputc        = uint32(10)
	SysShutdown     = uint32(11)
)

// EOF is returned by SysFgetc once the end of the file is reached.
const EOF = int32(-1)

// PathMax is the longest string, including the terminating NUL, that the
// kernel accepts as a path or mode argument.
const PathMax = 64
