package diskimage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// LoadFDI parses a Full Disk Image: a 14-byte file header, a table of
// per-track headers (4-byte data offset plus per-sector 7-byte
// descriptors), then the sector data area. FDI carries explicit CHRN
// values per sector, so copy-protected disks with irregular numbering
// survive the trip.
func LoadFDI(data []byte) (*trackstore.Disk, error) {
	if len(data) < 14 || string(data[:3]) != "FDI" {
		return nil, errors.Wrap(ErrInvalidFormat, "FDI signature missing at offset 0")
	}
	writeProtect := data[3] != 0
	cyls := int(binary.LittleEndian.Uint16(data[4:6]))
	sides := int(binary.LittleEndian.Uint16(data[6:8]))
	dataOffset := int(binary.LittleEndian.Uint16(data[10:12]))
	extraLen := int(binary.LittleEndian.Uint16(data[12:14]))
	if cyls == 0 || sides == 0 || cyls > 86 || sides > 2 {
		return nil, errors.Wrapf(ErrInvalidFormat, "FDI geometry %dx%d at offset 4", cyls, sides)
	}

	d := trackstore.New()
	d.WriteProtected = writeProtect

	pos := 14 + extraLen
	for cyl := 0; cyl < cyls; cyl++ {
		for side := 0; side < sides; side++ {
			if pos+7 > len(data) {
				return nil, errors.Wrapf(ErrInvalidFormat, "FDI truncated in track table at offset %d", pos)
			}
			trackOffset := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
			sectorCount := int(data[pos+6])
			pos += 7

			specs := make([]trackstore.SectorSpec, 0, sectorCount)
			for s := 0; s < sectorCount; s++ {
				if pos+7 > len(data) {
					return nil, errors.Wrapf(ErrInvalidFormat, "FDI truncated in sector table at offset %d", pos)
				}
				sc, sh, sr, sn := data[pos], data[pos+1], data[pos+2], data[pos+3]
				flags := data[pos+4]
				secOffset := int(binary.LittleEndian.Uint16(data[pos+5 : pos+7]))
				pos += 7

				spec := trackstore.SectorSpec{C: sc, H: sh, R: sr, N: sn}
				if flags&0x3F == 0 {
					// No data field recorded for this ID.
					specs = append(specs, spec)
					continue
				}
				length := 128 << uint(sn&0x03)
				start := dataOffset + trackOffset + secOffset
				if start < 0 || start+length > len(data) {
					return nil, errors.Wrapf(ErrInvalidFormat, "FDI sector data out of range at offset %d", start)
				}
				spec.Data = data[start : start+length]
				spec.Deleted = flags&0x80 != 0
				// Bits 0-5 flag which size codes were read with a good
				// CRC; a clear bit for this sector's own size means the
				// dump recorded a CRC error.
				spec.BadCRC = flags&(1<<uint(sn&0x03)) == 0
				specs = append(specs, spec)
			}
			d.SetTrack(cyl, side, trackstore.BuildTrack(specs))
		}
	}
	return d, nil
}
