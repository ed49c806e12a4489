package fat16

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Volume geometry. Every volume created by Format uses the same layout;
// only the number of data clusters depends on the size of the device.
const (
	SectorSize        = 512
	SectorsPerCluster = 1
	ReservedSectors   = 1
	NumFATs           = 2
	RootEntryCount    = 512
	FATSectors        = 32

	// TotalSectors is the size of a volume on a device that can hold
	// every cluster addressable by the FAT.
	TotalSectors = 32768

	// ClusterSize is the allocation unit in bytes.
	ClusterSize = SectorSize * SectorsPerCluster

	// FATEntryCount is the number of 16-bit entries held by one FAT.
	FATEntryCount = FATSectors * SectorSize / 2

	// DirEntrySize is the size of an on-disk directory entry.
	DirEntrySize = 32

	FAT1StartSector    = ReservedSectors
	FAT2StartSector    = FAT1StartSector + FATSectors
	RootDirStartSector = ReservedSectors + NumFATs*FATSectors
	RootDirSectors     = (RootEntryCount*DirEntrySize + SectorSize - 1) / SectorSize
	DataStartSector    = RootDirStartSector + RootDirSectors

	// FirstCluster is the number of the first cluster of the data region.
	// Entries 0 and 1 of the FAT are reserved.
	FirstCluster = 2

	// MinSectors is the size of the smallest volume: the metadata region
	// followed by a single data cluster.
	MinSectors = DataStartSector + SectorsPerCluster
)

// FAT entry values.
const (
	clusterFree = uint16(0x0000)

	// clusterEOC terminates a cluster chain. Values from clusterEOCMin
	// upwards are also treated as end of chain.
	clusterEOC    = uint16(0xFFFF)
	clusterEOCMin = uint16(0xFFF8)

	// Values of the reserved entries 0 and 1.
	fatMediaEntry    = uint16(0xFFF8)
	fatReservedEntry = uint16(0xFFFF)
)

// First byte values of a directory entry name.
const (
	entryNeverUsed = byte(0x00)
	entryDeleted   = byte(0xE5)
)

const (
	mediaFixedDisk = 0xF8
	extBootSig     = 0x29
	bootSigOffset  = 510
)

// BootSector is the BIOS parameter block stored at the start of sector 0.
type BootSector struct {
	JmpBoot    [3]byte
	OEMName    [8]byte
	BytsPerSec uint16
	SecPerClus uint8
	RsvdSecCnt uint16
	NumFATs    uint8
	RootEntCnt uint16
	TotSec16   uint16
	Media      uint8
	FATSz16    uint16
	SecPerTrk  uint16
	NumHeads   uint16
	HiddSec    uint32
	TotSec32   uint32
	DrvNum     uint8
	Reserved1  uint8
	BootSig    uint8
	VolID      uint32
	VolLab     [11]byte
	FilSysType [8]byte
}

func newBootSector(serial uint32, totalSectors uint16) BootSector {
	bs := BootSector{
		JmpBoot:    [3]byte{0xEB, 0x3C, 0x90},
		BytsPerSec: SectorSize,
		SecPerClus: SectorsPerCluster,
		RsvdSecCnt: ReservedSectors,
		NumFATs:    NumFATs,
		RootEntCnt: RootEntryCount,
		TotSec16:   totalSectors,
		Media:      mediaFixedDisk,
		FATSz16:    FATSectors,
		SecPerTrk:  32,
		NumHeads:   64,
		DrvNum:     0x80,
		BootSig:    extBootSig,
		VolID:      serial,
	}
	copy(bs.OEMName[:], "KCSOS   ")
	copy(bs.VolLab[:], "KCS_OS     ")
	copy(bs.FilSysType[:], "FAT16   ")

	return bs
}

// encode serializes the boot sector into a full sector including the
// 0x55AA signature.
func (bs *BootSector) encode(sector []byte) {
	clear(sector)
	binary.Write(bytes.NewBuffer(sector[:0:len(sector)]), binary.LittleEndian, bs)
	sector[bootSigOffset] = 0x55
	sector[bootSigOffset+1] = 0xAA
}

// decodeBootSector parses sector 0. It returns false if the sector does not
// carry the boot signature.
func decodeBootSector(sector []byte) (BootSector, bool) {
	var bs BootSector
	if sector[bootSigOffset] != 0x55 || sector[bootSigOffset+1] != 0xAA {
		return bs, false
	}

	if err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &bs); err != nil {
		return bs, false
	}
	return bs, true
}

// compatible reports whether the volume described by bs uses the geometry
// this package expects.
func (bs *BootSector) compatible() bool {
	return bs.BytsPerSec == SectorSize &&
		bs.SecPerClus == SectorsPerCluster &&
		bs.RsvdSecCnt == ReservedSectors &&
		bs.NumFATs == NumFATs &&
		bs.RootEntCnt == RootEntryCount &&
		bs.FATSz16 == FATSectors &&
		string(bs.FilSysType[:]) == "FAT16   "
}

// DirEntry is a 32-byte directory entry.
type DirEntry struct {
	Name             [8]byte
	Ext              [3]byte
	Attr             uint8
	Reserved         uint8
	CreateTimeTenths uint8
	CreateTime       uint16
	CreateDate       uint16
	LastAccessDate   uint16
	HighCluster      uint16
	WriteTime        uint16
	WriteDate        uint16
	StartCluster     uint16
	Size             uint32
}

// free reports whether the entry slot can hold a new file.
func (e *DirEntry) free() bool {
	return e.Name[0] == entryNeverUsed || e.Name[0] == entryDeleted
}

// FileName returns the entry name in NAME.EXT form with the padding removed.
func (e *DirEntry) FileName() string {
	name := string(bytes.TrimRight(e.Name[:], " "))
	ext := string(bytes.TrimRight(e.Ext[:], " "))
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// shortName converts a file name to the padded 8.3 fields of a directory
// entry. The name is split at the first '.', upper-cased and truncated to
// the width of each field.
func shortName(fileName string) (name [8]byte, ext [3]byte) {
	for i := range name {
		name[i] = ' '
	}
	for i := range ext {
		ext[i] = ' '
	}

	fileName = strings.ToUpper(fileName)
	base, suffix, _ := strings.Cut(fileName, ".")
	copy(name[:], base)
	copy(ext[:], suffix)

	return name, ext
}

// clusterToSector returns the first sector of a data cluster.
func clusterToSector(cluster uint16) uint32 {
	return DataStartSector + uint32(cluster-FirstCluster)*SectorsPerCluster
}

// clusterLimit returns the number one past the last data cluster of a
// volume that spans totalSectors.
func clusterLimit(totalSectors uint32) uint16 {
	if totalSectors < MinSectors {
		return FirstCluster
	}

	limit := FirstCluster + (totalSectors-DataStartSector)/SectorsPerCluster
	return uint16(min(limit, FATEntryCount))
}

func endOfChain(value uint16) bool {
	return value >= clusterEOCMin
}
