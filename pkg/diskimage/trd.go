package diskimage

import (
	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// TR-DOS volume layout constants. The system sector is sector 9 of
// track 0; the catalog occupies sectors 1-8.
const (
	trdSectorSize   = trackstore.SectorSize
	trdTrackBytes   = trackstore.SectorsPerTrack * trdSectorSize
	trdSystemSector = 9

	// System sector fields (offsets within sector 9).
	trdFirstFreeSector = 0xE1
	trdFirstFreeTrack  = 0xE2
	trdDiskType        = 0xE3
	trdFileCount       = 0xE4
	trdFreeSectors     = 0xE5 // 16-bit LE
	trdSignature       = 0xE7 // always 0x10
	trdLabel           = 0xF5 // 8 bytes
)

// TR-DOS disk type byte values.
const (
	DiskType80DS = 0x16
	DiskType40DS = 0x17
	DiskType80SS = 0x18
	DiskType40SS = 0x19
)

// trdGeometry maps a disk type byte to (cyls, sides).
func trdGeometry(diskType byte) (cyls, sides int, ok bool) {
	switch diskType {
	case DiskType80DS:
		return 80, 2, true
	case DiskType40DS:
		return 40, 2, true
	case DiskType80SS:
		return 80, 1, true
	case DiskType40SS:
		return 40, 1, true
	}
	return 0, 0, false
}

// LoadTRD parses a raw TRD dump: logical tracks in cyl-major,
// side-interleaved order, 16 sectors of 256 bytes each. Geometry comes
// from the disk descriptor in the system sector, falling back to the
// file size for images with a blank descriptor.
func LoadTRD(data []byte, interleave int) (*trackstore.Disk, error) {
	if len(data) < trdTrackBytes || len(data)%trdTrackBytes != 0 {
		return nil, errors.Wrapf(ErrInvalidFormat, "TRD size %d is not a whole number of tracks", len(data))
	}

	cyls, sides := 80, 2
	sysOff := (trdSystemSector - 1) * trdSectorSize
	if g, s, ok := trdGeometry(data[sysOff+trdDiskType]); ok {
		cyls, sides = g, s
	} else {
		switch len(data) {
		case 80 * 2 * trdTrackBytes:
			cyls, sides = 80, 2
		case 40 * 2 * trdTrackBytes:
			cyls, sides = 40, 2
		case 40 * 1 * trdTrackBytes:
			cyls, sides = 40, 1
		}
	}

	d := trackstore.New()
	d.Format(cyls, sides, interleave)

	tracks := len(data) / trdTrackBytes
	for t := 0; t < tracks; t++ {
		cyl := t / sides
		side := t % sides
		if cyl >= cyls {
			break
		}
		for s := 0; s < trackstore.SectorsPerTrack; s++ {
			off := t*trdTrackBytes + s*trdSectorSize
			d.WriteSector(cyl, side, byte(s+1), data[off:off+trdSectorSize])
		}
	}
	d.OpType &^= trackstore.SectorDirty // freshly loaded, nothing modified
	return d, nil
}

// SaveTRD serializes the logical sector contents back into a raw TRD
// dump. A disk loaded from TRD and not written to round-trips
// byte-identically.
func SaveTRD(d *trackstore.Disk) ([]byte, error) {
	if !d.Present() {
		return nil, errors.Wrap(ErrInvalidFormat, "no media to save")
	}
	out := make([]byte, 0, d.Cyls*d.Sides*trdTrackBytes)
	for cyl := 0; cyl < d.Cyls; cyl++ {
		for side := 0; side < d.Sides; side++ {
			for s := 1; s <= trackstore.SectorsPerTrack; s++ {
				sec := d.ReadSector(cyl, side, byte(s))
				if sec == nil {
					sec = make([]byte, trdSectorSize)
				}
				out = append(out, sec...)
			}
		}
	}
	return out, nil
}

// newFormattedTRD builds an empty, valid TR-DOS volume: formatted
// tracks, zeroed catalog, initialized system sector.
func newFormattedTRD(cyls, sides, interleave int) *trackstore.Disk {
	d := trackstore.New()
	d.Format(cyls, sides, interleave)

	sys := make([]byte, trdSectorSize)
	sys[trdFirstFreeSector] = 0
	sys[trdFirstFreeTrack] = 1 // track 0 is the catalog
	switch {
	case cyls >= 80 && sides == 2:
		sys[trdDiskType] = DiskType80DS
	case sides == 2:
		sys[trdDiskType] = DiskType40DS
	case cyls >= 80:
		sys[trdDiskType] = DiskType80SS
	default:
		sys[trdDiskType] = DiskType40SS
	}
	free := cyls*sides*trackstore.SectorsPerTrack - trackstore.SectorsPerTrack
	sys[trdFreeSectors] = byte(free)
	sys[trdFreeSectors+1] = byte(free >> 8)
	sys[trdSignature] = 0x10
	copy(sys[trdLabel:trdLabel+8], "        ")
	d.WriteSector(0, 0, trdSystemSector, sys)
	d.OpType &^= trackstore.SectorDirty
	return d
}

// catalogEntry is the 16-byte TR-DOS directory record.
type catalogEntry struct {
	Name        [8]byte
	Ext         byte
	Start       uint16
	Length      uint16
	SectorCount byte
	StartSector byte
	StartTrack  byte
}

// addFile appends a file to the TR-DOS catalog and copies its data into
// the first free run of sectors, maintaining the system sector's
// free-space accounting the way TR-DOS itself does.
func addFile(d *trackstore.Disk, e catalogEntry, data []byte) error {
	sys := d.ReadSector(0, 0, trdSystemSector)
	if sys == nil || sys[trdSignature] != 0x10 {
		return errors.Wrap(ErrInvalidFormat, "volume has no TR-DOS system sector")
	}

	fileCount := int(sys[trdFileCount])
	if fileCount >= 128 {
		return errors.Wrap(ErrInvalidFormat, "catalog full")
	}
	freeSectors := int(sys[trdFreeSectors]) | int(sys[trdFreeSectors+1])<<8
	need := int(e.SectorCount)
	if need > freeSectors {
		return errors.Wrap(ErrInvalidFormat, "file does not fit on volume")
	}

	e.StartSector = sys[trdFirstFreeSector]
	e.StartTrack = sys[trdFirstFreeTrack]

	// Write the catalog entry (16 per sector, sectors 1-8).
	catSector := byte(fileCount/16 + 1)
	catOff := (fileCount % 16) * 16
	cat := d.ReadSector(0, 0, catSector)
	copy(cat[catOff:], e.Name[:])
	cat[catOff+8] = e.Ext
	cat[catOff+9] = byte(e.Start)
	cat[catOff+10] = byte(e.Start >> 8)
	cat[catOff+11] = byte(e.Length)
	cat[catOff+12] = byte(e.Length >> 8)
	cat[catOff+13] = e.SectorCount
	cat[catOff+14] = e.StartSector
	cat[catOff+15] = e.StartTrack
	d.WriteSector(0, 0, catSector, cat)

	// Copy the payload into sequential sectors.
	logTrack := int(e.StartTrack)
	logSector := int(e.StartSector)
	for i := 0; i < need; i++ {
		sec := make([]byte, trdSectorSize)
		lo := i * trdSectorSize
		if lo < len(data) {
			hi := lo + trdSectorSize
			if hi > len(data) {
				hi = len(data)
			}
			copy(sec, data[lo:hi])
		}
		cyl := logTrack / d.Sides
		side := logTrack % d.Sides
		if !d.WriteSector(cyl, side, byte(logSector+1), sec) {
			return errors.Wrapf(ErrInvalidFormat, "file data overruns volume at track %d", logTrack)
		}
		logSector++
		if logSector == trackstore.SectorsPerTrack {
			logSector = 0
			logTrack++
		}
	}

	// Update the system sector accounting.
	sys[trdFileCount] = byte(fileCount + 1)
	sys[trdFirstFreeSector] = byte(logSector)
	sys[trdFirstFreeTrack] = byte(logTrack)
	freeSectors -= need
	sys[trdFreeSectors] = byte(freeSectors)
	sys[trdFreeSectors+1] = byte(freeSectors >> 8)
	d.WriteSector(0, 0, trdSystemSector, sys)
	return nil
}
