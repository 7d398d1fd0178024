package diskimage

import (
	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

const sclSignature = "SINCLAIR"

// LoadSCL parses an SCL archive: the "SINCLAIR" signature, a file
// count, 14-byte per-file headers, then each file's sector data in
// order. The result is a fresh TR-DOS volume with the files added the
// way TR-DOS's own copy loop would.
func LoadSCL(data []byte, interleave int) (*trackstore.Disk, error) {
	if len(data) < 9 || string(data[:8]) != sclSignature {
		return nil, errors.Wrap(ErrInvalidFormat, "SCL signature missing at offset 0")
	}
	count := int(data[8])
	pos := 9
	if pos+count*14 > len(data) {
		return nil, errors.Wrapf(ErrInvalidFormat, "SCL truncated in file table at offset %d", pos)
	}

	d := newFormattedTRD(80, 2, interleave)

	dataPos := pos + count*14
	for i := 0; i < count; i++ {
		h := data[pos : pos+14]
		pos += 14

		var e catalogEntry
		copy(e.Name[:], h[0:8])
		e.Ext = h[8]
		e.Start = uint16(h[9]) | uint16(h[10])<<8
		e.Length = uint16(h[11]) | uint16(h[12])<<8
		e.SectorCount = h[13]

		size := int(e.SectorCount) * trdSectorSize
		if dataPos+size > len(data) {
			return nil, errors.Wrapf(ErrInvalidFormat, "SCL truncated in file %d data at offset %d", i, dataPos)
		}
		if err := addFile(d, e, data[dataPos:dataPos+size]); err != nil {
			return nil, errors.Wrapf(err, "SCL file %d", i)
		}
		dataPos += size
	}
	d.OpType &^= trackstore.SectorDirty
	return d, nil
}
