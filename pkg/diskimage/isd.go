package diskimage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// LoadISD parses an iS-DOS disk image: a 4-byte header (cylinder count,
// side count, reserved word) followed by per-track records, each a
// sector count and a 7-byte descriptor array (C, H, R, N, flags,
// 16-bit data length) with the sector payloads trailing the array.
func LoadISD(data []byte) (*trackstore.Disk, error) {
	if len(data) < 4 {
		return nil, errors.Wrap(ErrInvalidFormat, "ISD shorter than its header")
	}
	cyls := int(data[0])
	sides := int(data[1])
	if cyls == 0 || cyls > 86 || sides == 0 || sides > 2 {
		return nil, errors.Wrapf(ErrInvalidFormat, "ISD geometry %dx%d at offset 0", cyls, sides)
	}

	d := trackstore.New()
	pos := 4
	for cyl := 0; cyl < cyls; cyl++ {
		for side := 0; side < sides; side++ {
			if pos >= len(data) {
				return nil, errors.Wrapf(ErrInvalidFormat, "ISD truncated in track table at offset %d", pos)
			}
			sectorCount := int(data[pos])
			pos++

			headers := make([][7]byte, sectorCount)
			for s := 0; s < sectorCount; s++ {
				if pos+7 > len(data) {
					return nil, errors.Wrapf(ErrInvalidFormat, "ISD truncated in sector header at offset %d", pos)
				}
				copy(headers[s][:], data[pos:pos+7])
				pos += 7
			}

			specs := make([]trackstore.SectorSpec, 0, sectorCount)
			for _, h := range headers {
				spec := trackstore.SectorSpec{C: h[0], H: h[1], R: h[2], N: h[3]}
				length := int(binary.LittleEndian.Uint16(h[5:7]))
				if length > 0 {
					if pos+length > len(data) {
						return nil, errors.Wrapf(ErrInvalidFormat, "ISD sector data overruns file at offset %d", pos)
					}
					spec.Data = data[pos : pos+length]
					spec.BadCRC = h[4]&0x02 != 0
					spec.Deleted = h[4]&0x04 != 0
					pos += length
				}
				specs = append(specs, spec)
			}
			d.SetTrack(cyl, side, trackstore.BuildTrack(specs))
		}
	}
	return d, nil
}
