// Package kmain contains the kernel entry point. It owns every piece of
// kernel state and brings the subsystems up in dependency order.
package kmain

import (
	"github.com/kcs1959/kcs-os/abi"
	"github.com/kcs1959/kcs-os/device"
	"github.com/kcs1959/kcs-os/device/sbi"
	"github.com/kcs1959/kcs-os/device/virtio"
	"github.com/kcs1959/kcs-os/fs/fat16"
	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/cpu"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
	"github.com/kcs1959/kcs-os/kernel/mm/pmm"
	"github.com/kcs1959/kcs-os/kernel/mm/vmm"
	"github.com/kcs1959/kcs-os/kernel/proc"
	"github.com/kcs1959/kcs-os/kernel/trap"
)

var (
	errNoConsole = &kernel.Error{Module: "kmain", Message: "no console detected"}
	errNoDisk    = &kernel.Error{Module: "kmain", Message: "no block device detected"}

	// panicFn and haltFn are mocked by tests.
	panicFn = kfmt.Panic
	haltFn  = (*cpu.Hart).Halt
)

// Files written to a freshly formatted volume.
var seedFiles = []struct {
	name, data string
}{
	{"test.txt", "hello"},
	{"test2.txt", "hello2"},
}

// Config describes the machine the kernel boots on and the program started
// as the first user process.
type Config struct {
	// Layout is the physical memory layout of the kernel.
	Layout Layout

	// VolumeSerial is written to the boot sector when the disk is
	// formatted.
	VolumeSerial uint32

	// ForceFormat formats the disk even if it holds a valid volume.
	ForceFormat bool

	// UserImage is loaded at abi.UserBase in the first user process.
	UserImage []byte

	// Executor runs user mode code on the hart.
	Executor cpu.UserExecutor
}

// Kernel holds the kernel state.
type Kernel struct {
	cfg  Config
	hart *cpu.Hart
	fw   sbi.Firmware
	bus  virtio.Bus

	registry device.Registry
	alloc    pmm.BumpAllocator

	console *sbi.Console
	disk    *virtio.BlockDevice

	vol   *fat16.Volume
	files *fat16.FileTable
	procs *proc.Table
	traps *trap.Handler
}

// New returns a kernel for a hart that reaches the firmware through fw and
// the virtio block device through bus.
func New(hart *cpu.Hart, fw sbi.Firmware, bus virtio.Bus, cfg Config) *Kernel {
	k := &Kernel{
		cfg:  cfg,
		hart: hart,
		fw:   fw,
		bus:  bus,
	}

	k.registry.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderFirmware,
		Probe: sbi.ConsoleProbe(fw),
	})
	k.registry.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderMMIO,
		Probe: virtio.Probe(bus, hart.Memory(), &k.alloc),
	})

	return k
}

// Main boots the kernel, starts the first user process and shuts the
// machine down once no user process is left. Main is not expected to
// return.
func (k *Kernel) Main() {
	kfmt.SetPanicHart(k.hart)

	if err := k.init(); err != nil {
		panicFn(err)
		return
	}

	// The boot context becomes the idle process and resumes here once
	// every user process has exited.
	k.procs.Yield()

	sbi.Shutdown(k.fw)
	haltFn(k.hart)
}

func (k *Kernel) init() *kernel.Error {
	var (
		layout = k.cfg.Layout
		mem    = k.hart.Memory()
	)

	k.hart.Regs.SP = uint32(layout.BootStackTop)
	k.hart.SetUserExecutor(k.cfg.Executor)

	if err := k.alloc.Init(mem, layout.FreeRAMStart, layout.FreeRAMEnd); err != nil {
		return err
	}
	k.alloc.PrintMemoryMap(kfmt.GetOutputSink())

	k.detectHardware()
	switch {
	case k.console == nil:
		return errNoConsole
	case k.disk == nil:
		return errNoDisk
	}

	k.vol = fat16.New(k.disk, k.console)
	formatted := k.vol.Mount(k.cfg.VolumeSerial, k.cfg.ForceFormat)
	k.files = fat16.NewFileTable(k.vol)

	procs, err := proc.NewTable(k.hart, &k.alloc, vmm.Layout{
		KernelBase: layout.KernelBase,
		FreeRAMEnd: layout.FreeRAMEnd,
		MMIOBase:   virtio.MMIOBase,
		UserBase:   uintptr(abi.UserBase),
	}, layout.ProcStackArea)
	if err != nil {
		return err
	}
	k.procs = procs

	k.traps = trap.NewHandler(k.hart, k.console, k.procs, k.vol, k.files, func() { sbi.Shutdown(k.fw) })
	k.traps.Install()

	if _, err = k.procs.CreateIdle(); err != nil {
		return err
	}

	kfmt.Printf("\n\nWelcome to KCS OS!\n")
	k.printFirstSector()

	if formatted {
		if err = k.seedVolume(); err != nil {
			return err
		}
	}

	// User images are NUL terminated so the loader can find their end.
	image := append(append([]byte(nil), k.cfg.UserImage...), 0)
	_, err = k.procs.Create(image)
	return err
}

// printFirstSector prints the printable prefix of the boot sector.
func (k *Kernel) printFirstSector() {
	var buf [fat16.SectorSize]byte
	k.vol.ReadSector(buf[:], 0)

	text := make([]byte, 0, len(buf))
	for _, ch := range buf {
		if ch == 0 {
			break
		}
		if ch >= ' ' && ch < 0x7f {
			text = append(text, ch)
		}
	}

	kfmt.Printf("first sector: %s\n", text)
}

// seedVolume creates the sample files and appends to the first one through
// the open file table.
func (k *Kernel) seedVolume() *kernel.Error {
	for _, f := range seedFiles {
		if _, err := k.vol.Create(f.name, []byte(f.data), uint32(len(f.data))); err != nil {
			return err
		}
	}

	fd, err := k.files.Open(seedFiles[0].name, "a")
	if err != nil {
		return err
	}
	for _, ch := range []byte(" world!") {
		if _, err = k.files.Putc(fd, ch); err != nil {
			return err
		}
	}
	return k.files.Close(fd)
}
