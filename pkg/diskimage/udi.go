package diskimage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// LoadUDI parses an Ultra Disk Image: the one format whose on-file
// representation is already the track store's — a raw MFM byte stream
// per track plus a one-bit-per-byte index-mark bitmap. Header: "UDI!"
// signature, file length at bytes 4-7, version at 8, cylinder count at
// 9 and side count at 10 (both stored minus one), flags at 11.
func LoadUDI(data []byte) (*trackstore.Disk, error) {
	if len(data) < 16 || string(data[:4]) != "UDI!" {
		return nil, errors.Wrap(ErrInvalidFormat, "UDI signature missing at offset 0")
	}
	fileLen := int(binary.LittleEndian.Uint32(data[4:8]))
	if fileLen > len(data) {
		return nil, errors.Wrapf(ErrInvalidFormat, "UDI declares %d bytes, file has %d", fileLen, len(data))
	}
	cyls := int(data[9]) + 1
	sides := int(data[10]) + 1
	extHdr := int(binary.LittleEndian.Uint32(data[12:16]))

	d := trackstore.New()
	pos := 16 + extHdr
	for cyl := 0; cyl < cyls; cyl++ {
		for side := 0; side < sides; side++ {
			if pos+3 > len(data) {
				return nil, errors.Wrapf(ErrInvalidFormat, "UDI truncated in track header at offset %d", pos)
			}
			if data[pos] != 0x00 {
				return nil, errors.Wrapf(ErrInvalidFormat, "UDI track format %02X at offset %d (only MFM supported)", data[pos], pos)
			}
			tlen := int(binary.LittleEndian.Uint16(data[pos+1 : pos+3]))
			pos += 3

			mapLen := (tlen + 7) / 8
			if pos+tlen+mapLen > len(data) {
				return nil, errors.Wrapf(ErrInvalidFormat, "UDI truncated in track data at offset %d", pos)
			}
			t := trackstore.NewTrack(tlen)
			copy(t.Data, data[pos:pos+tlen])
			copy(t.Marks, data[pos+tlen:pos+tlen+mapLen])
			pos += tlen + mapLen

			d.SetTrack(cyl, side, t)
		}
	}
	return d, nil
}
