package cpu

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

// TrapFrame contains a snapshot of the general purpose registers saved by
// the trap entry path. The field order matches the layout of the frame on
// the kernel stack: each register occupies 4 bytes at offset 4*index.
type TrapFrame struct {
	RA  uint32
	GP  uint32
	TP  uint32
	T0  uint32
	T1  uint32
	T2  uint32
	T3  uint32
	T4  uint32
	T5  uint32
	T6  uint32
	A0  uint32
	A1  uint32
	A2  uint32
	A3  uint32
	A4  uint32
	A5  uint32
	A6  uint32
	A7  uint32
	S0  uint32
	S1  uint32
	S2  uint32
	S3  uint32
	S4  uint32
	S5  uint32
	S6  uint32
	S7  uint32
	S8  uint32
	S9  uint32
	S10 uint32
	S11 uint32

	// SP holds the stack pointer of the interrupted context.
	SP uint32
}

// TrapFrameSize is the number of bytes occupied by a saved TrapFrame.
const TrapFrameSize = uintptr(unsafe.Sizeof(TrapFrame{}))

// Store writes the frame to physical memory at addr.
func (f *TrapFrame) Store(mem *phys.Memory, addr uintptr) {
	buf := bytes.NewBuffer(mem.Slice(addr, TrapFrameSize)[:0])
	binary.Write(buf, binary.LittleEndian, f)
}

// Load reads the frame from physical memory at addr.
func (f *TrapFrame) Load(mem *phys.Memory, addr uintptr) {
	binary.Read(bytes.NewReader(mem.Slice(addr, TrapFrameSize)), binary.LittleEndian, f)
}
