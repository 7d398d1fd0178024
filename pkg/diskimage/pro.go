package diskimage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// LoadPRO parses a Profi disk image: "PRO" signature, geometry bytes,
// a 16-bit track-record count, then per-track records shaped like
// ISD's — sector count, 7-byte descriptors, trailing payloads — with
// an explicit cylinder/side pair per record so sparse images are legal.
func LoadPRO(data []byte) (*trackstore.Disk, error) {
	if len(data) < 8 || string(data[:3]) != "PRO" {
		return nil, errors.Wrap(ErrInvalidFormat, "PRO signature missing at offset 0")
	}
	records := int(binary.LittleEndian.Uint16(data[6:8]))

	d := trackstore.New()
	pos := 8
	for rec := 0; rec < records; rec++ {
		if pos+3 > len(data) {
			return nil, errors.Wrapf(ErrInvalidFormat, "PRO truncated in track record %d at offset %d", rec, pos)
		}
		cyl := int(data[pos])
		side := int(data[pos+1]) & 0x01
		sectorCount := int(data[pos+2])
		pos += 3

		headers := make([][7]byte, sectorCount)
		for s := 0; s < sectorCount; s++ {
			if pos+7 > len(data) {
				return nil, errors.Wrapf(ErrInvalidFormat, "PRO truncated in sector header at offset %d", pos)
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
					return nil, errors.Wrapf(ErrInvalidFormat, "PRO sector data overruns file at offset %d", pos)
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
	if !d.Present() {
		return nil, errors.Wrap(ErrInvalidFormat, "PRO contains no tracks")
	}
	return d, nil
}
