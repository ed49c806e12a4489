package fat16

import (
	"strings"

	"github.com/kcs1959/kcs-os/kernel"
)

// MaxOpenFiles is the number of descriptors in a FileTable.
const MaxOpenFiles = 16

var (
	// ErrBadDescriptor is returned for descriptors that are out of range
	// or not open.
	ErrBadDescriptor = &kernel.Error{Module: "fat16", Message: "bad file descriptor"}

	// ErrTooManyOpenFiles is returned when all descriptors are in use.
	ErrTooManyOpenFiles = &kernel.Error{Module: "fat16", Message: "too many open files"}

	// ErrEOF is returned by Getc once the position reaches the file size.
	ErrEOF = &kernel.Error{Module: "fat16", Message: "end of file"}
)

type openFile struct {
	entry    int
	position uint32
	used     bool
}

// FileTable tracks the files opened on a volume.
type FileTable struct {
	vol   *Volume
	files [MaxOpenFiles]openFile
}

// NewFileTable returns an empty file table for vol.
func NewFileTable(vol *Volume) *FileTable {
	return &FileTable{vol: vol}
}

// Open opens the file at path and returns its descriptor. Mode "w" creates
// the file or truncates it, mode "a" creates the file if needed and
// positions the descriptor at its end; any other mode opens an existing file
// for reading from the start.
func (t *FileTable) Open(path, mode string) (int, *kernel.Error) {
	var (
		wantWrite  = strings.ContainsRune(mode, 'w')
		wantAppend = strings.ContainsRune(mode, 'a')
		vol        = t.vol
	)

	fd := -1
	for i := range t.files {
		if !t.files[i].used {
			fd = i
			break
		}
	}
	if fd < 0 {
		return -1, ErrTooManyOpenFiles
	}

	vol.load()
	index, err := vol.lookup(path)

	switch {
	case err != nil && (wantWrite || wantAppend):
		if index, err = vol.Create(path, nil, 0); err != nil {
			return -1, err
		}
	case err != nil:
		return -1, err
	case wantWrite:
		vol.truncate(index)
		vol.persist()
	}

	t.files[fd] = openFile{entry: index, used: true}
	if wantAppend {
		t.files[fd].position = vol.root[index].Size
	}
	return fd, nil
}

// Close releases fd.
func (t *FileTable) Close(fd int) *kernel.Error {
	if _, err := t.file(fd); err != nil {
		return err
	}

	t.files[fd] = openFile{}
	return nil
}

// Getc returns the byte at the position of fd and advances it.
func (t *FileTable) Getc(fd int) (byte, *kernel.Error) {
	f, err := t.file(fd)
	if err != nil {
		return 0, err
	}

	vol := t.vol
	vol.load()

	entry := &vol.root[f.entry]
	if f.position >= entry.Size {
		return 0, ErrEOF
	}

	cluster, offset, err := vol.locate(entry.StartCluster, f.position, false)
	if err != nil {
		return 0, err
	}

	vol.readCluster(cluster, vol.cluster[:])
	f.position++
	return vol.cluster[offset], nil
}

// Putc writes ch at the position of fd and advances it. The cluster chain
// grows as needed and the file size is extended when the write goes past
// the end of the file.
func (t *FileTable) Putc(fd int, ch byte) (byte, *kernel.Error) {
	f, err := t.file(fd)
	if err != nil {
		return 0, err
	}

	vol := t.vol
	vol.load()

	entry := &vol.root[f.entry]
	cluster, offset, err := vol.locate(entry.StartCluster, f.position, true)
	if err != nil {
		return 0, err
	}

	vol.readCluster(cluster, vol.cluster[:])
	vol.cluster[offset] = ch
	vol.writeCluster(cluster, vol.cluster[:])

	f.position++
	if f.position > entry.Size {
		entry.Size = f.position
	}

	vol.persist()
	return ch, nil
}

func (t *FileTable) file(fd int) (*openFile, *kernel.Error) {
	if fd < 0 || fd >= MaxOpenFiles || !t.files[fd].used {
		return nil, ErrBadDescriptor
	}
	return &t.files[fd], nil
}

// locate returns the cluster holding byte offset of the chain starting at
// start together with the offset inside that cluster. When extend is set,
// missing clusters are allocated and zeroed; the caller persists the FAT.
func (v *Volume) locate(start uint16, offset uint32, extend bool) (uint16, uint32, *kernel.Error) {
	if !v.validCluster(start) {
		return 0, 0, ErrInvalidCluster
	}

	if extend && v.fat[start] == clusterFree {
		v.fat[start] = clusterEOC
	}

	cluster := start
	for ; offset >= ClusterSize; offset -= ClusterSize {
		next := v.fat[cluster]
		if v.validCluster(next) {
			cluster = next
			continue
		}

		if !extend {
			return 0, 0, ErrInvalidCluster
		}

		next, err := v.freeCluster()
		if err != nil {
			return 0, 0, err
		}
		v.fat[cluster] = next
		v.fat[next] = clusterEOC

		clear(v.cluster[:])
		v.writeCluster(next, v.cluster[:])
		cluster = next
	}

	return cluster, offset, nil
}
