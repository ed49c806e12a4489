// Package phys models the machine's physical RAM as an arena that is addressed
// by physical address. Page tables, virtqueue rings and block requests live in
// this arena using their exact hardware byte layout so that both the kernel
// and the devices of the board see the same bytes.
package phys

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/kcs1959/kcs-os/kernel"
)

// ErrBusFault is raised (via panic) when an access falls outside of RAM.
// On real hardware the same access would trap with an access fault.
var ErrBusFault = &kernel.Error{Module: "phys", Message: "access outside of physical memory"}

// Memory is a contiguous region of physical RAM starting at Base.
type Memory struct {
	base uintptr
	data []byte

	fences atomic.Uint64
}

// NewMemory returns a zeroed RAM region of size bytes that starts at the
// physical address base.
func NewMemory(base, size uintptr) *Memory {
	return &Memory{base: base, data: make([]byte, size)}
}

// Base returns the first physical address backed by this region.
func (m *Memory) Base() uintptr { return m.base }

// End returns the physical address just past the region.
func (m *Memory) End() uintptr { return m.base + uintptr(len(m.data)) }

// Fence orders every access to the region made before the call before any
// access made after it (fence rw,rw). Devices that run on another goroutine
// observe the writes that preceded the fence once they see a later write.
func (m *Memory) Fence() {
	m.fences.Add(1)
}

// Fences returns the number of fences executed on the region.
func (m *Memory) Fences() uint64 {
	return m.fences.Load()
}

// Contains reports whether the range [addr, addr+size) is backed by RAM.
func (m *Memory) Contains(addr, size uintptr) bool {
	return addr >= m.base && size <= uintptr(len(m.data)) && addr-m.base <= uintptr(len(m.data))-size
}

// Slice returns a slice aliasing size bytes of RAM starting at addr. Writes to
// the returned slice are visible to every other user of the region.
func (m *Memory) Slice(addr, size uintptr) []byte {
	if !m.Contains(addr, size) {
		panic(ErrBusFault)
	}
	off := addr - m.base
	return m.data[off : off+size : off+size]
}

// Memset sets size bytes at the given address to the supplied value.
func (m *Memory) Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := m.Slice(addr, size)

	// Set first element and make log2(size) copies
	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Read copies len(dst) bytes starting at addr into dst.
func (m *Memory) Read(addr uintptr, dst []byte) {
	copy(dst, m.Slice(addr, uintptr(len(dst))))
}

// Write copies src into RAM starting at addr.
func (m *Memory) Write(addr uintptr, src []byte) {
	copy(m.Slice(addr, uintptr(len(src))), src)
}

// Read8 returns the byte stored at addr.
func (m *Memory) Read8(addr uintptr) uint8 { return m.Slice(addr, 1)[0] }

// Write8 stores v at addr.
func (m *Memory) Write8(addr uintptr, v uint8) { m.Slice(addr, 1)[0] = v }

// Read16 returns the little-endian uint16 stored at addr.
func (m *Memory) Read16(addr uintptr) uint16 {
	return binary.LittleEndian.Uint16(m.Slice(addr, 2))
}

// Write16 stores v at addr in little-endian order.
func (m *Memory) Write16(addr uintptr, v uint16) {
	binary.LittleEndian.PutUint16(m.Slice(addr, 2), v)
}

// Read32 returns the little-endian uint32 stored at addr.
func (m *Memory) Read32(addr uintptr) uint32 {
	return binary.LittleEndian.Uint32(m.Slice(addr, 4))
}

// Write32 stores v at addr in little-endian order.
func (m *Memory) Write32(addr uintptr, v uint32) {
	binary.LittleEndian.PutUint32(m.Slice(addr, 4), v)
}

// Read64 returns the little-endian uint64 stored at addr.
func (m *Memory) Read64(addr uintptr) uint64 {
	return binary.LittleEndian.Uint64(m.Slice(addr, 8))
}

// Write64 stores v at addr in little-endian order.
func (m *Memory) Write64(addr uintptr, v uint64) {
	binary.LittleEndian.PutUint64(m.Slice(addr, 8), v)
}
