// Package fat16 implements a FAT16 volume with a single flat root directory
// on top of a sector addressed block device.
//
// The volume keeps RAM copies of the FAT and the root directory. Every
// operation refreshes them from disk first; mutating operations write FAT1,
// its FAT2 mirror and then the root directory back before returning.
package fat16

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/kcs1959/kcs-os/kernel"
	"github.com/kcs1959/kcs-os/kernel/kfmt"
)

var (
	// ErrDirectoryFull is returned when the root directory has no free slot.
	ErrDirectoryFull = &kernel.Error{Module: "fat16", Message: "root directory is full"}

	// ErrNoFreeCluster is returned when the FAT has no free cluster left.
	ErrNoFreeCluster = &kernel.Error{Module: "fat16", Message: "no free cluster"}

	// ErrInvalidCluster is returned for cluster numbers outside the data
	// region and for broken cluster chains.
	ErrInvalidCluster = &kernel.Error{Module: "fat16", Message: "invalid cluster"}

	// ErrNotFound is returned when no directory entry matches a path.
	ErrNotFound = &kernel.Error{Module: "fat16", Message: "file not found"}

	// ErrInvalidName is returned for empty file names.
	ErrInvalidName = &kernel.Error{Module: "fat16", Message: "invalid file name"}
)

// BlockDevice transfers single sectors. Failed transfers are not reported
// and leave buf untouched.
type BlockDevice interface {
	ReadWrite(buf []byte, sector uint32, isWrite bool)

	// Capacity returns the size of the device in bytes.
	Capacity() uint64
}

// Volume is a FAT16 volume stored on a block device.
type Volume struct {
	dev BlockDevice

	// out receives listings and file dumps; log receives diagnostics.
	out io.Writer
	log io.Writer

	// sectors is the size of the volume. Clusters at or past clusterEnd
	// do not exist on the device.
	sectors    uint32
	clusterEnd uint16

	fat  [FATEntryCount]uint16
	root [RootEntryCount]DirEntry

	sector  [SectorSize]byte
	cluster [ClusterSize]byte
}

// New returns a volume backed by dev. Listings and file dumps are written
// to out.
func New(dev BlockDevice, out io.Writer) *Volume {
	v := &Volume{
		dev: dev,
		out: out,
		log: &kfmt.PrefixWriter{Sink: out, Prefix: []byte("[fat16] ")},
	}
	v.setSize(v.deviceSectors())

	return v
}

// deviceSectors returns the number of sectors a volume on the device can
// span.
func (v *Volume) deviceSectors() uint32 {
	return uint32(min(v.dev.Capacity()/SectorSize, TotalSectors))
}

func (v *Volume) setSize(sectors uint32) {
	v.sectors = sectors
	v.clusterEnd = clusterLimit(sectors)
}

// Format writes a fresh boot sector, clears both FATs and the root
// directory and reserves FAT entries 0 and 1. The volume spans the whole
// device, up to TotalSectors.
func (v *Volume) Format(serial uint32) {
	v.setSize(v.deviceSectors())

	bs := newBootSector(serial, uint16(v.sectors))
	bs.encode(v.sector[:])
	v.dev.ReadWrite(v.sector[:], 0, true)

	clear(v.sector[:])
	for s := uint32(FAT1StartSector); s < FAT1StartSector+FATSectors*NumFATs; s++ {
		v.dev.ReadWrite(v.sector[:], s, true)
	}
	for s := uint32(RootDirStartSector); s < RootDirStartSector+RootDirSectors; s++ {
		v.dev.ReadWrite(v.sector[:], s, true)
	}

	v.readFAT()
	v.fat[0] = fatMediaEntry
	v.fat[1] = fatReservedEntry
	v.writeFAT()

	kfmt.Fprintf(v.log, "formatted volume %x\n", serial)
}

// Mount checks the boot sector of the volume and formats it if it does not
// describe a compatible FAT16 volume that fits on the device or if force is
// set. It reports whether the volume was formatted.
func (v *Volume) Mount(serial uint32, force bool) bool {
	v.dev.ReadWrite(v.sector[:], 0, false)
	bs, ok := decodeBootSector(v.sector[:])

	fits := uint32(bs.TotSec16) >= MinSectors && uint32(bs.TotSec16) <= v.deviceSectors()
	if force || !ok || !bs.compatible() || !fits {
		v.Format(serial)
		return true
	}

	v.setSize(uint32(bs.TotSec16))
	kfmt.Fprintf(v.log, "mounted volume %x\n", bs.VolID)
	return false
}

// ReadSector reads a raw sector of the volume into buf.
func (v *Volume) ReadSector(buf []byte, sector uint32) {
	v.dev.ReadWrite(buf, sector, false)
}

func (v *Volume) readFAT() {
	for i := uint32(0); i < FATSectors; i++ {
		v.dev.ReadWrite(v.sector[:], FAT1StartSector+i, false)
		for j := 0; j < SectorSize/2; j++ {
			v.fat[int(i)*SectorSize/2+j] = binary.LittleEndian.Uint16(v.sector[j*2:])
		}
	}
}

func (v *Volume) writeFAT() {
	for i := uint32(0); i < FATSectors; i++ {
		for j := 0; j < SectorSize/2; j++ {
			binary.LittleEndian.PutUint16(v.sector[j*2:], v.fat[int(i)*SectorSize/2+j])
		}
		v.dev.ReadWrite(v.sector[:], FAT1StartSector+i, true)
		v.dev.ReadWrite(v.sector[:], FAT2StartSector+i, true)
	}
}

func (v *Volume) readRootDir() {
	const perSector = SectorSize / DirEntrySize
	for i := uint32(0); i < RootDirSectors; i++ {
		v.dev.ReadWrite(v.sector[:], RootDirStartSector+i, false)
		binary.Read(bytes.NewReader(v.sector[:]), binary.LittleEndian, v.root[i*perSector:(i+1)*perSector])
	}
}

func (v *Volume) writeRootDir() {
	const perSector = SectorSize / DirEntrySize
	for i := uint32(0); i < RootDirSectors; i++ {
		binary.Write(bytes.NewBuffer(v.sector[:0:len(v.sector)]), binary.LittleEndian, v.root[i*perSector:(i+1)*perSector])
		v.dev.ReadWrite(v.sector[:], RootDirStartSector+i, true)
	}
}

// load refreshes the RAM copies of the FAT and the root directory.
func (v *Volume) load() {
	v.readFAT()
	v.readRootDir()
}

// persist writes the FAT copies and the root directory back to disk.
func (v *Volume) persist() {
	v.writeFAT()
	v.writeRootDir()
}

func (v *Volume) readCluster(cluster uint16, buf []byte) {
	for i := uint32(0); i < SectorsPerCluster; i++ {
		v.dev.ReadWrite(buf[i*SectorSize:(i+1)*SectorSize], clusterToSector(cluster)+i, false)
	}
}

func (v *Volume) writeCluster(cluster uint16, buf []byte) {
	for i := uint32(0); i < SectorsPerCluster; i++ {
		v.dev.ReadWrite(buf[i*SectorSize:(i+1)*SectorSize], clusterToSector(cluster)+i, true)
	}
}

// validCluster reports whether cluster addresses the data region of the
// volume.
func (v *Volume) validCluster(cluster uint16) bool {
	return cluster >= FirstCluster && cluster < v.clusterEnd
}

// freeCluster returns the first free cluster of the RAM copy of the FAT.
func (v *Volume) freeCluster() (uint16, *kernel.Error) {
	for i := uint16(FirstCluster); i < v.clusterEnd; i++ {
		if v.fat[i] == clusterFree {
			return i, nil
		}
	}
	return 0, ErrNoFreeCluster
}

// lookup returns the index of the live root directory entry named path.
func (v *Volume) lookup(path string) (int, *kernel.Error) {
	name, ext := shortName(path)
	for i := range v.root {
		e := &v.root[i]
		switch e.Name[0] {
		case entryNeverUsed:
			return -1, ErrNotFound
		case entryDeleted:
			continue
		}

		if e.Name == name && e.Ext == ext {
			return i, nil
		}
	}
	return -1, ErrNotFound
}

// Create adds a file named name to the root directory and stores size bytes
// from data in a newly allocated cluster chain. A nil data slice stores
// zeroes. Files always own at least their start cluster, even when empty.
// Duplicate names are not detected. Create returns the directory entry
// index of the new file.
func (v *Volume) Create(name string, data []byte, size uint32) (int, *kernel.Error) {
	if name == "" || name[0] == '.' {
		return -1, ErrInvalidName
	}

	v.load()

	index := -1
	for i := range v.root {
		if v.root[i].free() {
			index = i
			break
		}
	}
	if index < 0 {
		return -1, ErrDirectoryFull
	}

	start, err := v.freeCluster()
	if err != nil {
		return -1, err
	}

	var (
		cluster   = start
		remaining = size
	)
	v.fat[cluster] = clusterEOC

	for {
		chunk := remaining
		if chunk > ClusterSize {
			chunk = ClusterSize
		}

		clear(v.cluster[:])
		if data != nil {
			copy(v.cluster[:chunk], data)
			data = data[min(uint32(len(data)), chunk):]
		}
		v.writeCluster(cluster, v.cluster[:])
		remaining -= chunk

		if remaining == 0 {
			break
		}

		next, err := v.freeCluster()
		if err != nil {
			return -1, err
		}
		v.fat[cluster] = next
		v.fat[next] = clusterEOC
		cluster = next
	}

	e := &v.root[index]
	*e = DirEntry{StartCluster: start, Size: size}
	e.Name, e.Ext = shortName(name)

	v.persist()

	kfmt.Fprintf(v.log, "file created: %s at entry %d, cluster %d\n", e.FileName(), index, start)
	return index, nil
}

// Read copies up to size bytes of the cluster chain starting at start into
// buf. It stops early when the chain ends.
func (v *Volume) Read(start uint16, buf []byte, size uint32) *kernel.Error {
	v.readFAT()

	if !v.validCluster(start) {
		return ErrInvalidCluster
	}

	if size > uint32(len(buf)) {
		size = uint32(len(buf))
	}

	cluster := start
	for hops := 0; size > 0 && !endOfChain(cluster); hops++ {
		if !v.validCluster(cluster) || hops == FATEntryCount {
			return ErrInvalidCluster
		}

		v.readCluster(cluster, v.cluster[:])
		n := copy(buf[:size], v.cluster[:])
		buf = buf[n:]
		size -= uint32(n)

		cluster = v.fat[cluster]
	}

	return nil
}

// Entries returns the live entries of the root directory in directory
// order.
func (v *Volume) Entries() []DirEntry {
	v.readRootDir()

	var entries []DirEntry
	for i := range v.root {
		switch v.root[i].Name[0] {
		case entryNeverUsed:
			return entries
		case entryDeleted:
			continue
		}
		entries = append(entries, v.root[i])
	}
	return entries
}

// List writes the root directory listing.
func (v *Volume) List() {
	kfmt.Fprintf(v.out, "=== Root Directory ===\n")
	for _, e := range v.Entries() {
		kfmt.Fprintf(v.out, "%s  size=%d  cluster=%d\n", e.FileName(), e.Size, e.StartCluster)
	}
}

// CatFirst dumps the contents of the first live file of the root directory.
func (v *Volume) CatFirst() {
	entries := v.Entries()
	if len(entries) == 0 {
		kfmt.Fprintf(v.out, "[cat] no file.\n")
		return
	}

	target := entries[0]
	if target.Size == 0 {
		kfmt.Fprintf(v.out, "[cat] (empty file)\n")
		return
	}

	buf := make([]byte, target.Size)
	if err := v.Read(target.StartCluster, buf, target.Size); err != nil {
		kfmt.Fprintf(v.out, "[cat] read error.\n")
		return
	}

	kfmt.Fprintf(v.out, "===== cat: file content =====\n")
	kfmt.Fprintf(v.out, "%s", buf)
	kfmt.Fprintf(v.out, "\n===== end =====\n")
}

// Delete marks the entry named path as deleted and releases its cluster
// chain.
func (v *Volume) Delete(path string) *kernel.Error {
	v.load()

	index, err := v.lookup(path)
	if err != nil {
		return err
	}

	v.freeChain(v.root[index].StartCluster)
	v.root[index].Name[0] = entryDeleted
	v.persist()
	return nil
}

// freeChain releases every cluster of the chain starting at start.
func (v *Volume) freeChain(start uint16) {
	cluster := start
	for hops := 0; v.validCluster(cluster) && hops < FATEntryCount; hops++ {
		next := v.fat[cluster]
		v.fat[cluster] = clusterFree
		cluster = next
	}
}

// truncate releases all but the first cluster of the file at index and
// resets its size. The caller persists the change.
func (v *Volume) truncate(index int) {
	e := &v.root[index]
	if v.validCluster(e.StartCluster) {
		v.freeChain(v.fat[e.StartCluster])
		v.fat[e.StartCluster] = clusterEOC
	}
	e.Size = 0
}
