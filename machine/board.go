package machine

import (
	"sync"

	"github.com/kcs1959/kcs-os/kernel/cpu"
	"github.com/kcs1959/kcs-os/kernel/mm/phys"
)

// Board ties the hart, the RAM arena and the devices together.
type Board struct {
	cfg Config

	// Mem is the physical RAM of the board.
	Mem *phys.Memory

	// Hart is the single processor of the board.
	Hart *cpu.Hart

	// Blk is the virtio-blk device at the virtio MMIO window.
	Blk *BlockDevice

	// FW is the SBI firmware.
	FW *Firmware

	cons Console
	disk Disk

	done       chan struct{}
	once       sync.Once
	poweredOff bool
}

// NewBoard assembles a board described by cfg that uses cons as its
// console. The disk image is opened (or created) as configured.
func NewBoard(cfg Config, cons Console) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var disk Disk
	if cfg.DiskPath == "" {
		disk = NewMemDisk(int(cfg.DiskSize))
	} else {
		fd, err := OpenFileDisk(cfg.DiskPath, int64(cfg.DiskSize))
		if err != nil {
			return nil, err
		}
		disk = fd
	}

	return newBoard(cfg, cons, disk), nil
}

// NewBoardWithDisk assembles a board that uses the supplied disk instead of
// the one named in cfg.
func NewBoardWithDisk(cfg Config, cons Console, disk Disk) *Board {
	return newBoard(cfg, cons, disk)
}

func newBoard(cfg Config, cons Console, disk Disk) *Board {
	mem := phys.NewMemory(RAMBase, uintptr(cfg.RAMSize))

	b := &Board{
		cfg:  cfg,
		Mem:  mem,
		Hart: cpu.NewHart(mem),
		Blk:  NewBlockDevice(mem, disk),
		cons: cons,
		disk: disk,
		done: make(chan struct{}),
	}
	b.FW = &Firmware{cons: cons, onShutdown: b.powerOff}

	return b
}

// Config returns the board configuration.
func (b *Board) Config() Config {
	return b.cfg
}

// Start runs kernelFn on the hart. The board stops when the firmware
// receives a shutdown request or when the hart halts.
func (b *Board) Start(kernelFn func()) {
	b.Hart.SetHaltHandler(b.halt)

	go func() {
		kernelFn()
		b.halt()
	}()
}

// Done is closed once the board has stopped.
func (b *Board) Done() <-chan struct{} {
	return b.done
}

// PoweredOff reports whether the board stopped because of a shutdown
// request rather than a halted hart. It is only meaningful after Done is
// closed.
func (b *Board) PoweredOff() bool {
	<-b.done
	return b.poweredOff
}

// Close releases the disk image. The console is owned by the caller.
func (b *Board) Close() error {
	return b.disk.Close()
}

func (b *Board) powerOff() {
	b.once.Do(func() {
		b.poweredOff = true
		close(b.done)
	})
}

func (b *Board) halt() {
	b.once.Do(func() {
		close(b.done)
	})
}
