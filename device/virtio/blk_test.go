package virtio_test

import (
	"bytes"
	"testing"

	"github.com/kcs1959/kcs-os/device/virtio"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
	"github.com/kcs1959/kcs-os/kernel/mm/pmm"
	"github.com/kcs1959/kcs-os/machine"
)

const testSectors = 16

func setupDriver(t *testing.T) (*virtio.BlockDevice, *machine.BlockDevice, *machine.MemDisk, *phys.Memory) {
	t.Helper()

	mem := phys.NewMemory(machine.RAMBase, 1<<20)

	var alloc pmm.BumpAllocator
	if err := alloc.Init(mem, machine.RAMBase+0x10000, mem.End()); err != nil {
		t.Fatal(err)
	}

	disk := machine.NewMemDisk(testSectors * virtio.SectorSize)
	dev := machine.NewBlockDevice(mem, disk)
	drv := virtio.NewBlockDevice(dev, mem, &alloc)

	var buf bytes.Buffer
	if err := drv.DriverInit(&buf); err != nil {
		t.Fatal(err)
	}

	if exp := "capacity is 8192 bytes\n"; buf.String() != exp {
		t.Fatalf("expected init output %q; got %q", exp, buf.String())
	}

	return drv, dev, disk, mem
}

func captureOutput(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })
	return &buf
}

func TestDriverInit(t *testing.T) {
	drv, dev, _, _ := setupDriver(t)

	if exp := virtio.StatusDriverOK; dev.Status() != exp {
		t.Fatalf("expected final device status 0x%x; got 0x%x", exp, dev.Status())
	}

	if got := dev.Read32(virtio.RegQueuePFN); got != uint32((machine.RAMBase+0x10000)>>12) {
		t.Fatalf("expected the queue to be registered at the first free page; got pfn 0x%x", got)
	}

	if drv.Capacity() != testSectors*virtio.SectorSize {
		t.Fatalf("expected capacity %d; got %d", testSectors*virtio.SectorSize, drv.Capacity())
	}

	if drv.DriverName() != "virtio-blk" {
		t.Fatalf("unexpected driver name %q", drv.DriverName())
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	drv, dev, disk, _ := setupDriver(t)

	out := make([]byte, virtio.SectorSize)
	copy(out, "hello from sector 3")
	drv.ReadWrite(out, 3, true)

	if !bytes.HasPrefix(disk.Bytes()[3*virtio.SectorSize:], []byte("hello from sector 3")) {
		t.Fatal("expected the write to reach the disk image")
	}

	in := make([]byte, virtio.SectorSize)
	drv.ReadWrite(in, 3, false)
	if !bytes.Equal(in, out) {
		t.Fatal("expected to read back the written sector")
	}

	if dev.Requests != 2 {
		t.Fatalf("expected 2 device requests; got %d", dev.Requests)
	}
}

func TestReadWriteOutOfRange(t *testing.T) {
	drv, dev, _, _ := setupDriver(t)
	out := captureOutput(t)

	buf := bytes.Repeat([]byte{0x5a}, virtio.SectorSize)
	drv.ReadWrite(buf, testSectors, false)

	if !bytes.Equal(buf, bytes.Repeat([]byte{0x5a}, virtio.SectorSize)) {
		t.Fatal("expected buffer to be left untouched")
	}

	if dev.Requests != 0 {
		t.Fatalf("expected the device not to be notified; got %d requests", dev.Requests)
	}

	if exp := "virtio: tried to read/write sector=16, but capacity is 16\n"; out.String() != exp {
		t.Fatalf("expected log %q; got %q", exp, out.String())
	}
}

func TestReadWriteDeviceError(t *testing.T) {
	drv, dev, disk, _ := setupDriver(t)
	out := captureOutput(t)

	// Shrinking the disk behind the driver's back makes the device reject
	// the request with an I/O error.
	small := machine.NewMemDisk(virtio.SectorSize)
	*disk = *small

	buf := bytes.Repeat([]byte{0x5a}, virtio.SectorSize)
	drv.ReadWrite(buf, 4, false)

	if dev.Requests != 1 {
		t.Fatalf("expected the request to reach the device; got %d requests", dev.Requests)
	}

	if !bytes.Equal(buf, bytes.Repeat([]byte{0x5a}, virtio.SectorSize)) {
		t.Fatal("expected buffer to be left untouched")
	}

	if exp := "virtio: warn: failed to read/write sector=4 status=1\n"; out.String() != exp {
		t.Fatalf("expected log %q; got %q", exp, out.String())
	}
}

type stubBus map[uintptr]uint32

func (b stubBus) Read32(offset uintptr) uint32     { return b[offset] }
func (b stubBus) Write32(offset uintptr, v uint32) { b[offset] = v }

func TestDriverInitErrors(t *testing.T) {
	specs := []struct {
		bus    stubBus
		expMsg string
	}{
		{stubBus{}, "virtio: invalid magic value"},
		{stubBus{virtio.RegMagic: virtio.MagicValue, virtio.RegVersion: 2}, "virtio: invalid version"},
		{stubBus{virtio.RegMagic: virtio.MagicValue, virtio.RegVersion: 1, virtio.RegDeviceID: 1}, "virtio: invalid device id"},
	}

	mem := phys.NewMemory(machine.RAMBase, 1<<16)
	for specIndex, spec := range specs {
		var alloc pmm.BumpAllocator
		if err := alloc.Init(mem, machine.RAMBase, mem.End()); err != nil {
			t.Fatal(err)
		}

		err := virtio.NewBlockDevice(spec.bus, mem, &alloc).DriverInit(&bytes.Buffer{})
		if err == nil || err.Message != spec.expMsg {
			t.Errorf("[spec %d] expected error %q; got %v", specIndex, spec.expMsg, err)
		}
	}
}

func TestProbe(t *testing.T) {
	if drv := virtio.Probe(nil, nil, nil)(); drv != nil {
		t.Fatalf("expected probe without a bus to return nil; got %v", drv)
	}

	mem := phys.NewMemory(machine.RAMBase, 1<<16)
	if drv := virtio.Probe(machine.NewBlockDevice(mem, machine.NewMemDisk(512)), mem, &pmm.BumpAllocator{})(); drv == nil {
		t.Fatal("expected probe to return a driver")
	}
}

// silentBus records what the device observes on every notify. Once silent
// is set it completes chains without serving them, like a device that
// rejects a malformed chain.
type silentBus struct {
	*machine.BlockDevice
	mem    *phys.Memory
	silent bool

	notifies  int
	seenAvail uint16
	seenFence uint64
}

func (b *silentBus) Write32(offset uintptr, value uint32) {
	if offset != virtio.RegQueueNotify {
		b.BlockDevice.Write32(offset, value)
		return
	}

	q := &virtio.Queue{Mem: b.mem, Base: uintptr(b.BlockDevice.Read32(virtio.RegQueuePFN)) << 12}
	b.notifies++
	b.seenAvail = q.AvailIndex()
	b.seenFence = b.mem.Fences()

	if !b.silent {
		b.BlockDevice.Write32(offset, value)
		return
	}
	q.PushUsed(virtio.UsedElem{ID: uint32(q.AvailRing(q.AvailIndex() - 1))})
}

func TestReadWriteUnservedRequest(t *testing.T) {
	mem := phys.NewMemory(machine.RAMBase, 1<<20)

	var alloc pmm.BumpAllocator
	if err := alloc.Init(mem, machine.RAMBase+0x10000, mem.End()); err != nil {
		t.Fatal(err)
	}

	disk := machine.NewMemDisk(testSectors * virtio.SectorSize)
	copy(disk.Bytes()[2*virtio.SectorSize:], "on disk")
	bus := &silentBus{BlockDevice: machine.NewBlockDevice(mem, disk), mem: mem}
	drv := virtio.NewBlockDevice(bus, mem, &alloc)
	if err := drv.DriverInit(&bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	out := captureOutput(t)

	// Leave a stale success status and payload from a served request.
	first := make([]byte, virtio.SectorSize)
	drv.ReadWrite(first, 2, false)
	if !bytes.HasPrefix(first, []byte("on disk")) {
		t.Fatal("expected the first request to be served")
	}
	bus.silent = true
	out.Reset()

	fencesBefore := mem.Fences()
	buf := bytes.Repeat([]byte{0x5a}, virtio.SectorSize)
	drv.ReadWrite(buf, 2, false)

	if bus.notifies != 2 || bus.seenAvail != 2 {
		t.Fatalf("expected the device to see both published chains; got notifies=%d avail=%d", bus.notifies, bus.seenAvail)
	}
	if bus.seenFence != fencesBefore+1 {
		t.Fatalf("expected a fence between publishing and notifying; got %d fences", bus.seenFence-fencesBefore)
	}

	if !bytes.Equal(buf, bytes.Repeat([]byte{0x5a}, virtio.SectorSize)) {
		t.Fatal("expected buffer to be left untouched")
	}
	if exp := "virtio: warn: failed to read/write sector=2 status=255\n"; out.String() != exp {
		t.Fatalf("expected log %q; got %q", exp, out.String())
	}
}
