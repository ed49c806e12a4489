// Package virtio implements a driver for legacy (version 1) virtio-mmio block
// devices.
package virtio

// MMIOBase is the physical address of the virtio-blk register window.
const MMIOBase = uintptr(0x10001000)

// Legacy virtio-mmio register offsets.
const (
	RegMagic        = uintptr(0x00)
	RegVersion      = uintptr(0x04)
	RegDeviceID     = uintptr(0x08)
	RegQueueSel     = uintptr(0x30)
	RegQueueNumMax  = uintptr(0x34)
	RegQueueNum     = uintptr(0x38)
	RegQueueAlign   = uintptr(0x3c)
	RegQueuePFN     = uintptr(0x40)
	RegQueueReady   = uintptr(0x44)
	RegQueueNotify  = uintptr(0x50)
	RegDeviceStatus = uintptr(0x70)
	RegDeviceConfig = uintptr(0x100)
)

// MagicValue is the value of RegMagic ("virt" in little endian).
const MagicValue = uint32(0x74726976)

// DeviceIDBlock is the device ID of block devices.
const DeviceIDBlock = uint32(2)

// Device status bits.
const (
	StatusAck        = uint32(1)
	StatusDriver     = uint32(2)
	StatusDriverOK   = uint32(4)
	StatusFeaturesOK = uint32(8)
)

// Bus provides access to the registers of a memory-mapped device. Offsets
// are relative to the start of the device's register window.
type Bus interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, value uint32)
}

// read64 reads a 64-bit configuration value as two 32-bit halves, low half
// first.
func read64(bus Bus, offset uintptr) uint64 {
	lo := bus.Read32(offset)
	hi := bus.Read32(offset + 4)
	return uint64(hi)<<32 | uint64(lo)
}

// fetchAndOr32 sets bits in a register using a read-modify-write sequence.
func fetchAndOr32(bus Bus, offset uintptr, value uint32) {
	bus.Write32(offset, bus.Read32(offset)|value)
}
