package machine

import (
	"github.com/kcs1959/kcs-os/device/virtio"
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

// Block request status values written by the device.
const (
	blkStatusOK     = uint8(0)
	blkStatusIOErr  = uint8(1)
	blkStatusUnsupp = uint8(2)
)

// BlockDevice models a legacy virtio-mmio block device. It implements
// virtio.Bus so the driver can access its register window. Requests are
// processed synchronously when the driver writes to RegQueueNotify.
type BlockDevice struct {
	mem  *phys.Memory
	disk Disk

	status     uint32
	queueSel   uint32
	queueNum   uint32
	queueAlign uint32
	queuePFN   uint32

	queue     *virtio.Queue
	lastAvail uint16

	// Requests counts processed requests.
	Requests int
}

// NewBlockDevice returns a block device that serves requests from disk.
func NewBlockDevice(mem *phys.Memory, disk Disk) *BlockDevice {
	return &BlockDevice{mem: mem, disk: disk}
}

// Status returns the value of the device status register.
func (d *BlockDevice) Status() uint32 {
	return d.status
}

// Read32 implements virtio.Bus.
func (d *BlockDevice) Read32(offset uintptr) uint32 {
	switch offset {
	case virtio.RegMagic:
		return virtio.MagicValue
	case virtio.RegVersion:
		return 1
	case virtio.RegDeviceID:
		return virtio.DeviceIDBlock
	case virtio.RegQueueNumMax:
		return virtio.QueueSize
	case virtio.RegQueuePFN:
		return d.queuePFN
	case virtio.RegDeviceStatus:
		return d.status
	case virtio.RegDeviceConfig:
		return uint32(d.sectors())
	case virtio.RegDeviceConfig + 4:
		return uint32(d.sectors() >> 32)
	}

	return 0
}

// Write32 implements virtio.Bus.
func (d *BlockDevice) Write32(offset uintptr, value uint32) {
	switch offset {
	case virtio.RegQueueSel:
		d.queueSel = value
	case virtio.RegQueueNum:
		d.queueNum = value
	case virtio.RegQueueAlign:
		d.queueAlign = value
	case virtio.RegQueuePFN:
		d.queuePFN = value
		d.queue = nil
		if value != 0 && d.queueSel == 0 {
			d.queue = &virtio.Queue{Mem: d.mem, Base: uintptr(value) << mm.PageShift}
			d.lastAvail = 0
		}
	case virtio.RegDeviceStatus:
		d.status = value
		if value == 0 {
			d.reset()
		}
	case virtio.RegQueueNotify:
		if value == 0 {
			d.processQueue()
		}
	}
}

func (d *BlockDevice) reset() {
	d.queueSel, d.queueNum, d.queueAlign, d.queuePFN = 0, 0, 0, 0
	d.queue = nil
	d.lastAvail = 0
}

func (d *BlockDevice) sectors() uint64 {
	return uint64(d.disk.Size()) / virtio.SectorSize
}

// processQueue serves every chain the driver published since the last
// notification.
func (d *BlockDevice) processQueue() {
	if d.queue == nil || d.status&virtio.StatusDriverOK == 0 {
		return
	}

	for d.lastAvail != d.queue.AvailIndex() {
		head := d.queue.AvailRing(d.lastAvail)
		d.lastAvail++

		written := d.serve(head)
		d.queue.PushUsed(virtio.UsedElem{ID: uint32(head), Len: written})
		d.Requests++
	}
}

// serve executes the request described by the chain starting at head and
// returns the number of bytes written to guest memory.
func (d *BlockDevice) serve(head uint16) uint32 {
	header := d.queue.Desc(head)
	data := d.queue.Desc(header.Next)
	status := d.queue.Desc(data.Next)

	if header.Flags&virtio.DescFlagNext == 0 || data.Flags&virtio.DescFlagNext == 0 || status.Flags&virtio.DescFlagWrite == 0 {
		return 0
	}

	var (
		reqType = d.mem.Read32(uintptr(header.Addr) + virtio.ReqTypeOffset)
		sector  = d.mem.Read64(uintptr(header.Addr) + virtio.ReqSectorOffset)
		result  = blkStatusOK
		off     = int64(sector) * virtio.SectorSize
	)

	switch {
	case sector >= d.sectors():
		result = blkStatusIOErr
	case reqType == virtio.BlkTypeIn && data.Flags&virtio.DescFlagWrite != 0:
		if _, err := d.disk.ReadAt(d.mem.Slice(uintptr(data.Addr), uintptr(data.Len)), off); err != nil {
			result = blkStatusIOErr
		}
	case reqType == virtio.BlkTypeOut && data.Flags&virtio.DescFlagWrite == 0:
		if _, err := d.disk.WriteAt(d.mem.Slice(uintptr(data.Addr), uintptr(data.Len)), off); err != nil {
			result = blkStatusIOErr
		}
	default:
		result = blkStatusUnsupp
	}

	d.mem.Write8(uintptr(status.Addr), result)

	if reqType == virtio.BlkTypeIn && result == blkStatusOK {
		return data.Len + 1
	}
	return 1
}
