package machine

import (
	"errors"
	"io"
	"os"
)

// Disk is the backing store of the block device.
type Disk interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Size returns the size of the disk in bytes.
	Size() int64
}

// MemDisk is a volatile disk held in host memory.
type MemDisk struct {
	data []byte
}

// NewMemDisk returns a zeroed in-memory disk of size bytes.
func NewMemDisk(size int) *MemDisk {
	return &MemDisk{data: make([]byte, size)}
}

// Bytes returns the disk contents.
func (d *MemDisk) Bytes() []byte { return d.data }

// Size returns the size of the disk in bytes.
func (d *MemDisk) Size() int64 { return int64(len(d.data)) }

// ReadAt implements io.ReaderAt.
func (d *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(d.data)) {
		return 0, io.EOF
	}

	n := copy(p, d.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (d *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(d.data)) {
		return 0, errors.New("write past the end of the disk")
	}
	return copy(d.data[off:], p), nil
}

// Close implements io.Closer.
func (d *MemDisk) Close() error { return nil }

// FileDisk is a disk backed by an image file.
type FileDisk struct {
	*os.File
	size int64
}

// OpenFileDisk opens the disk image at path, creating a zero-filled image of
// size bytes if it does not exist.
func OpenFileDisk(path string, size int64) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
		return &FileDisk{File: f, size: size}, nil
	}

	return &FileDisk{File: f, size: info.Size()}, nil
}

// Size returns the size of the disk image in bytes.
func (d *FileDisk) Size() int64 { return d.size }
