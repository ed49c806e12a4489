// Package machine models the board the kernel runs on: physical RAM, a
// single hart, a legacy virtio-mmio block device backed by a disk image and
// the SBI firmware with its console.
package machine

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/kcs1959/kcs-os/fs/fat16"
)

// Physical memory map of the board.
const (
	// RAMBase is the physical address where RAM starts.
	RAMBase = uintptr(0x80000000)
)

// minDiskSize is the smallest disk that holds the kernel's volume.
const minDiskSize = fat16.MinSectors * fat16.SectorSize

// Config describes the board.
type Config struct {
	// RAMSize is the amount of RAM in bytes.
	RAMSize uint32 `json:"RAM_SIZE"`

	// KernelReserved is the number of bytes at the start of RAM that hold
	// the kernel image, its stacks and static data. Free RAM starts right
	// after it.
	KernelReserved uint32 `json:"KERNEL_RESERVED"`

	// DiskPath is the disk image file. An empty path selects a volatile
	// in-memory disk.
	DiskPath string `json:"DISK_PATH"`

	// DiskSize is the size of newly created disk images in bytes.
	DiskSize uint32 `json:"DISK_SIZE"`

	// ForceFormat reformats the disk on boot even if it carries a valid
	// filesystem.
	ForceFormat bool `json:"FORCE_FORMAT"`

	// Console selects the console backend: "term", "tty" or "script".
	Console string `json:"CONSOLE"`

	// TTYPath is the serial device used by the "tty" console.
	TTYPath string `json:"TTY_PATH,omitempty"`

	// UserProgram is the path of the user program loaded at boot. The
	// built-in shell is used when empty.
	UserProgram string `json:"USER_PROGRAM,omitempty"`

	// VolumeSerial is the serial number written to freshly formatted
	// volumes.
	VolumeSerial uint32 `json:"VOLUME_SERIAL"`

	// LogLevel controls the launcher log output.
	LogLevel string `json:"LOG_LEVEL"`
}

// DefaultConfig returns the configuration of the reference board.
func DefaultConfig() Config {
	return Config{
		RAMSize:        8 << 20,
		KernelReserved: 1 << 20,
		DiskPath:       "disk.img",
		DiskSize:       16 << 20,
		Console:        "term",
		TTYPath:        "/dev/ttyUSB0",
		VolumeSerial:   0x12345678,
		LogLevel:       "info",
	}
}

// LoadConfig reads a JSON configuration file. Missing fields keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configuration describes a usable board.
func (c Config) Validate() error {
	switch {
	case c.RAMSize == 0 || c.RAMSize%4096 != 0:
		return fmt.Errorf("RAM_SIZE must be a non-zero multiple of 4096; got %d", c.RAMSize)
	case c.KernelReserved == 0 || c.KernelReserved%4096 != 0 || c.KernelReserved >= c.RAMSize:
		return fmt.Errorf("KERNEL_RESERVED must be a non-zero multiple of 4096 smaller than RAM_SIZE; got %d", c.KernelReserved)
	case c.DiskSize%fat16.SectorSize != 0:
		return fmt.Errorf("DISK_SIZE must be a multiple of %d; got %d", fat16.SectorSize, c.DiskSize)
	case c.DiskSize < minDiskSize:
		return fmt.Errorf("DISK_SIZE must be at least %d to hold a FAT16 volume; got %d", minDiskSize, c.DiskSize)
	}

	switch c.Console {
	case "term", "tty", "script":
	default:
		return fmt.Errorf("unknown CONSOLE %q", c.Console)
	}

	return nil
}
