package diskimage

import (
	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// hobHeaderSize is the HOBETA single-file header: 8-byte name, 1-byte
// extension, 2-byte start, 2-byte length, 1 reserved, 1-byte sector
// count, 2-byte header checksum.
const hobHeaderSize = 17

// LoadHOB loads a HOBETA single-file container into a freshly formatted
// TR-DOS volume at sequential sectors.
func LoadHOB(data []byte, interleave int) (*trackstore.Disk, error) {
	if len(data) < hobHeaderSize {
		return nil, errors.Wrapf(ErrInvalidFormat, "HOBETA file of %d bytes has no room for a header", len(data))
	}

	var sum uint16
	for i := 0; i < 15; i++ {
		sum += uint16(data[i]) * 257
		sum += uint16(i)
	}
	stored := uint16(data[15]) | uint16(data[16])<<8
	if sum != stored {
		return nil, errors.Wrapf(ErrInvalidFormat, "HOBETA header checksum %04X != stored %04X at offset 15", sum, stored)
	}

	var e catalogEntry
	copy(e.Name[:], data[0:8])
	e.Ext = data[8]
	e.Start = uint16(data[9]) | uint16(data[10])<<8
	e.Length = uint16(data[11]) | uint16(data[12])<<8
	e.SectorCount = data[14]
	if e.SectorCount == 0 {
		e.SectorCount = byte((int(e.Length) + trdSectorSize - 1) / trdSectorSize)
	}

	payload := data[hobHeaderSize:]
	if len(payload) > int(e.SectorCount)*trdSectorSize {
		payload = payload[:int(e.SectorCount)*trdSectorSize]
	}

	d := newFormattedTRD(80, 2, interleave)
	if err := addFile(d, e, payload); err != nil {
		return nil, err
	}
	d.OpType &^= trackstore.SectorDirty
	return d, nil
}
