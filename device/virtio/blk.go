package virtio

import (
	"io"
	"runtime"

	"github.com/kcs1959/kcs-os/device"
	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

// SectorSize is the size of a disk sector in bytes.
const SectorSize = 512

// Block request types.
const (
	BlkTypeIn  = uint32(0)
	BlkTypeOut = uint32(1)
)

// Layout of a block request: a 16-byte header (type, reserved, sector), the
// sector payload and a status byte written by the device.
const (
	ReqTypeOffset   = uintptr(0)
	ReqSectorOffset = uintptr(8)
	ReqDataOffset   = uintptr(16)
	ReqStatusOffset = ReqDataOffset + SectorSize
	reqHeaderSize   = uint32(ReqDataOffset)
	reqBytes        = ReqStatusOffset + 1

	// reqStatusPending is not a valid device status.
	reqStatusPending = uint8(0xff)
)

var (
	errInvalidMagic    = &kernel.Error{Module: "virtio", Message: "virtio: invalid magic value"}
	errInvalidVersion  = &kernel.Error{Module: "virtio", Message: "virtio: invalid version"}
	errInvalidDeviceID = &kernel.Error{Module: "virtio", Message: "virtio: invalid device id"}

	// spinWaitFn is invoked while polling the used ring.
	spinWaitFn = runtime.Gosched
)

// PageAllocator provides the physical pages used for the virtqueue and the
// request buffer.
type PageAllocator interface {
	AllocPages(count uintptr) (uintptr, *kernel.Error)
}

// BlockDevice is a driver for a legacy virtio-mmio block device. It keeps a
// single request buffer and issues one synchronous request at a time.
type BlockDevice struct {
	bus   Bus
	mem   *phys.Memory
	alloc PageAllocator

	vq       *Queue
	reqAddr  uintptr
	capacity uint64
}

// NewBlockDevice returns a driver for the block device behind bus.
func NewBlockDevice(bus Bus, mem *phys.Memory, alloc PageAllocator) *BlockDevice {
	return &BlockDevice{bus: bus, mem: mem, alloc: alloc}
}

// DriverName returns the name of this driver.
func (*BlockDevice) DriverName() string {
	return "virtio-blk"
}

// DriverVersion returns the version of this driver.
func (*BlockDevice) DriverVersion() (uint16, uint16, uint16) {
	return 1, 0, 0
}

// DriverInit validates the device identity, negotiates the device status,
// sets up request queue 0 and allocates the request buffer.
func (d *BlockDevice) DriverInit(w io.Writer) *kernel.Error {
	switch {
	case d.bus.Read32(RegMagic) != MagicValue:
		return errInvalidMagic
	case d.bus.Read32(RegVersion) != 1:
		return errInvalidVersion
	case d.bus.Read32(RegDeviceID) != DeviceIDBlock:
		return errInvalidDeviceID
	}

	d.bus.Write32(RegDeviceStatus, 0)
	fetchAndOr32(d.bus, RegDeviceStatus, StatusAck)
	fetchAndOr32(d.bus, RegDeviceStatus, StatusDriver)
	fetchAndOr32(d.bus, RegDeviceStatus, StatusFeaturesOK)

	vq, err := d.initQueue(0)
	if err != nil {
		return err
	}
	d.vq = vq

	d.bus.Write32(RegDeviceStatus, StatusDriverOK)

	d.capacity = read64(d.bus, RegDeviceConfig) * SectorSize
	kfmt.Fprintf(w, "capacity is %d bytes\n", d.capacity)

	if d.reqAddr, err = d.alloc.AllocPages(mm.PagesFor(reqBytes)); err != nil {
		return err
	}

	return nil
}

// initQueue allocates a virtqueue and registers it with the device.
func (d *BlockDevice) initQueue(index uint32) (*Queue, *kernel.Error) {
	base, err := d.alloc.AllocPages(QueuePages())
	if err != nil {
		return nil, err
	}

	d.bus.Write32(RegQueueSel, index)
	d.bus.Write32(RegQueueNum, QueueSize)
	d.bus.Write32(RegQueueAlign, uint32(QueueAlign))
	d.bus.Write32(RegQueuePFN, uint32(base>>mm.PageShift))

	return &Queue{Mem: d.mem, Base: base, queueIndex: index}, nil
}

// Capacity returns the size of the disk in bytes.
func (d *BlockDevice) Capacity() uint64 {
	return d.capacity
}

// ReadWrite transfers a single sector between buf and the disk. Requests for
// sectors beyond the end of the disk and requests that the device completes
// with a non-zero status are logged and leave buf untouched.
func (d *BlockDevice) ReadWrite(buf []byte, sector uint32, isWrite bool) {
	if uint64(sector) >= d.capacity/SectorSize {
		kfmt.Printf("virtio: tried to read/write sector=%d, but capacity is %d\n", sector, d.capacity/SectorSize)
		return
	}

	reqType := BlkTypeIn
	if isWrite {
		reqType = BlkTypeOut
	}

	d.mem.Write32(d.reqAddr+ReqTypeOffset, reqType)
	d.mem.Write32(d.reqAddr+ReqTypeOffset+4, 0)
	d.mem.Write64(d.reqAddr+ReqSectorOffset, uint64(sector))
	if isWrite {
		d.mem.Write(d.reqAddr+ReqDataOffset, buf[:SectorSize])
	}

	dataFlags := DescFlagNext
	if !isWrite {
		dataFlags |= DescFlagWrite
	}

	d.vq.SetDesc(0, Desc{Addr: uint64(d.reqAddr), Len: reqHeaderSize, Flags: DescFlagNext, Next: 1})
	d.vq.SetDesc(1, Desc{Addr: uint64(d.reqAddr + ReqDataOffset), Len: SectorSize, Flags: dataFlags, Next: 2})
	d.vq.SetDesc(2, Desc{Addr: uint64(d.reqAddr + ReqStatusOffset), Len: 1, Flags: DescFlagWrite})

	// A device that completes the chain without writing the status byte
	// leaves this value behind.
	d.mem.Write8(d.reqAddr+ReqStatusOffset, reqStatusPending)

	d.kick(0)

	for d.vq.busy() {
		spinWaitFn()
	}

	if status := d.mem.Read8(d.reqAddr + ReqStatusOffset); status != 0 {
		kfmt.Printf("virtio: warn: failed to read/write sector=%d status=%d\n", sector, status)
		return
	}

	if !isWrite {
		d.mem.Read(d.reqAddr+ReqDataOffset, buf[:SectorSize])
	}
}

// kick publishes the chain starting at head, fences the ring updates and
// notifies the device.
func (d *BlockDevice) kick(head uint16) {
	d.vq.publish(head)
	d.mem.Fence()
	d.bus.Write32(RegQueueNotify, d.vq.queueIndex)
}

// Probe returns a probe function that detects a block device on bus.
func Probe(bus Bus, mem *phys.Memory, alloc PageAllocator) device.ProbeFn {
	return func() device.Driver {
		if bus == nil {
			return nil
		}
		return NewBlockDevice(bus, mem, alloc)
	}
}
