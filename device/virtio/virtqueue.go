package virtio

import (
	"github.com/kcs1959/kcs-os/kernel/mm"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

// QueueSize is the number of descriptors in each virtqueue.
const QueueSize = 16

// QueueAlign is the alignment of the used ring communicated to the device
// through RegQueueAlign.
const QueueAlign = uintptr(mm.PageSize)

// Descriptor flags.
const (
	DescFlagNext  = uint16(1)
	DescFlagWrite = uint16(2)
)

// Layout of a legacy virtqueue in physical memory. The descriptor table is
// followed by the available ring; the used ring starts at the next
// QueueAlign boundary.
const (
	descSize        = uintptr(16)
	availOffset     = QueueSize * descSize
	availRingOffset = availOffset + 4
	usedOffset      = QueueAlign
	usedRingOffset  = usedOffset + 4
	usedElemSize    = uintptr(8)

	// queueBytes is the number of bytes occupied by a virtqueue.
	queueBytes = usedRingOffset + QueueSize*usedElemSize
)

// Desc is a virtqueue descriptor describing a buffer in guest memory.
type Desc struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// UsedElem is an entry of the used ring.
type UsedElem struct {
	ID  uint32
	Len uint32
}

// Queue is a view over a legacy virtqueue that lives in physical memory at
// Base. It is shared by the driver and the device model; the driver-side
// bookkeeping (queue index and last seen used index) is kept in the Queue
// value itself.
type Queue struct {
	Mem  *phys.Memory
	Base uintptr

	queueIndex    uint32
	lastUsedIndex uint16
}

// QueuePages returns the number of pages needed to hold a virtqueue.
func QueuePages() uintptr {
	return mm.PagesFor(queueBytes)
}

// Desc returns descriptor i.
func (q *Queue) Desc(i uint16) Desc {
	addr := q.Base + uintptr(i%QueueSize)*descSize
	return Desc{
		Addr:  q.Mem.Read64(addr),
		Len:   q.Mem.Read32(addr + 8),
		Flags: q.Mem.Read16(addr + 12),
		Next:  q.Mem.Read16(addr + 14),
	}
}

// SetDesc overwrites descriptor i.
func (q *Queue) SetDesc(i uint16, d Desc) {
	addr := q.Base + uintptr(i%QueueSize)*descSize
	q.Mem.Write64(addr, d.Addr)
	q.Mem.Write32(addr+8, d.Len)
	q.Mem.Write16(addr+12, d.Flags)
	q.Mem.Write16(addr+14, d.Next)
}

// AvailIndex returns the index of the next free slot in the available ring.
func (q *Queue) AvailIndex() uint16 {
	return q.Mem.Read16(q.Base + availOffset + 2)
}

// AvailRing returns entry i of the available ring.
func (q *Queue) AvailRing(i uint16) uint16 {
	return q.Mem.Read16(q.Base + availRingOffset + uintptr(i%QueueSize)*2)
}

// UsedIndex returns the number of chains the device has completed.
func (q *Queue) UsedIndex() uint16 {
	return q.Mem.Read16(q.Base + usedOffset + 2)
}

// PushUsed appends a completed chain to the used ring. It is called by the
// device.
func (q *Queue) PushUsed(elem UsedElem) {
	idx := q.UsedIndex()
	addr := q.Base + usedRingOffset + uintptr(idx%QueueSize)*usedElemSize
	q.Mem.Write32(addr, elem.ID)
	q.Mem.Write32(addr+4, elem.Len)
	q.Mem.Write16(q.Base+usedOffset+2, idx+1)
}

// publish places the head of a descriptor chain in the available ring and
// bumps the available index.
func (q *Queue) publish(head uint16) {
	idx := q.AvailIndex()
	q.Mem.Write16(q.Base+availRingOffset+uintptr(idx%QueueSize)*2, head)
	q.Mem.Write16(q.Base+availOffset+2, idx+1)
	q.lastUsedIndex++
}

// busy reports whether the device has not yet completed all published
// chains.
func (q *Queue) busy() bool {
	return q.lastUsedIndex != q.UsedIndex()
}
