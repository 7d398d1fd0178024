package diskimage

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/trackstore"
)

// TD0 sector flag bits.
const (
	td0FlagDuplicate = 0x01
	td0FlagBadCRC    = 0x02
	td0FlagDeleted   = 0x04
	td0FlagSkipped   = 0x10 // DOS-unallocated, no data block
	td0FlagNoData    = 0x20 // data field unreadable, no data block
)

// LoadTD0 parses a Teledisk image. The 12-byte header is always plain;
// a "td" signature means everything after it is LZSS/Huffman-compressed
// (see lzh.go). Track records follow (optionally after a comment
// block), each carrying explicit per-sector CHRN plus one of three data
// encodings.
func LoadTD0(data []byte) (*trackstore.Disk, error) {
	if len(data) < 12 {
		return nil, errors.Wrap(ErrInvalidFormat, "TD0 shorter than its header")
	}
	sig := string(data[:2])
	if sig != "TD" && sig != "td" {
		return nil, errors.Wrap(ErrInvalidFormat, "TD0 signature missing at offset 0")
	}
	hasComment := data[7]&0x80 != 0

	body := data[12:]
	if sig == "td" {
		// Worst case every track fully populated: bound the inflation
		// rather than trusting a length field the format doesn't have.
		inflated, err := newLZHDecoder(body).decompress(4 << 20)
		if err != nil {
			return nil, errors.Wrap(err, "TD0 advanced compression")
		}
		body = inflated
	}

	pos := 0
	if hasComment {
		if pos+10 > len(body) {
			return nil, errors.Wrap(ErrInvalidFormat, "TD0 truncated in comment header")
		}
		commentLen := int(binary.LittleEndian.Uint16(body[pos+2 : pos+4]))
		pos += 10 + commentLen
		if pos > len(body) {
			return nil, errors.Wrap(ErrInvalidFormat, "TD0 truncated in comment data")
		}
	}

	d := trackstore.New()
	for {
		if pos >= len(body) {
			break
		}
		sectorCount := int(body[pos])
		if sectorCount == 0xFF { // end-of-image record
			break
		}
		if pos+4 > len(body) {
			return nil, errors.Wrapf(ErrInvalidFormat, "TD0 truncated in track header at offset %d", pos)
		}
		cyl := int(body[pos+1])
		side := int(body[pos+2]) & 0x01
		pos += 4

		specs := make([]trackstore.SectorSpec, 0, sectorCount)
		for s := 0; s < sectorCount; s++ {
			if pos+6 > len(body) {
				return nil, errors.Wrapf(ErrInvalidFormat, "TD0 truncated in sector header at offset %d", pos)
			}
			spec := trackstore.SectorSpec{
				C: body[pos], H: body[pos+1], R: body[pos+2], N: body[pos+3],
			}
			flags := body[pos+4]
			pos += 6

			if flags&(td0FlagSkipped|td0FlagNoData) == 0 && spec.N < 8 {
				if pos+3 > len(body) {
					return nil, errors.Wrapf(ErrInvalidFormat, "TD0 truncated in data block at offset %d", pos)
				}
				blockLen := int(binary.LittleEndian.Uint16(body[pos : pos+2]))
				if pos+2+blockLen > len(body) || blockLen < 1 {
					return nil, errors.Wrapf(ErrInvalidFormat, "TD0 data block overruns file at offset %d", pos)
				}
				encoding := body[pos+2]
				raw := body[pos+3 : pos+2+blockLen]
				pos += 2 + blockLen

				sector, err := td0DecodeData(encoding, raw, sectorSize(spec.N))
				if err != nil {
					return nil, err
				}
				spec.Data = sector
				spec.BadCRC = flags&td0FlagBadCRC != 0
				spec.Deleted = flags&td0FlagDeleted != 0
			}
			if flags&td0FlagDuplicate != 0 {
				continue
			}
			specs = append(specs, spec)
		}
		d.SetTrack(cyl, side, trackstore.BuildTrack(specs))
	}
	if !d.Present() {
		return nil, errors.Wrap(ErrInvalidFormat, "TD0 contains no tracks")
	}
	return d, nil
}

// td0DecodeData expands one sector data block. Encoding 0 is raw bytes,
// 1 is a single repeated 2-byte pattern, 2 is a sequence of literal and
// repeated-pattern fragments.
func td0DecodeData(encoding byte, raw []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	switch encoding {
	case 0:
		out = append(out, raw...)

	case 1:
		if len(raw) < 4 {
			return nil, errors.Wrap(ErrInvalidFormat, "TD0 repeated-pattern block too short")
		}
		count := int(binary.LittleEndian.Uint16(raw[0:2]))
		for i := 0; i < count; i++ {
			out = append(out, raw[2], raw[3])
		}

	case 2:
		pos := 0
		for pos < len(raw) {
			kind := raw[pos]
			pos++
			switch kind {
			case 0: // literal run
				if pos >= len(raw) {
					return nil, errors.Wrap(ErrInvalidFormat, "TD0 RLE literal header truncated")
				}
				n := int(raw[pos])
				pos++
				if pos+n > len(raw) {
					return nil, errors.Wrap(ErrInvalidFormat, "TD0 RLE literal data truncated")
				}
				out = append(out, raw[pos:pos+n]...)
				pos += n
			case 1: // repeated 2-byte pattern
				if pos+3 > len(raw) {
					return nil, errors.Wrap(ErrInvalidFormat, "TD0 RLE repeat fragment truncated")
				}
				n := int(raw[pos])
				a, b := raw[pos+1], raw[pos+2]
				pos += 3
				for i := 0; i < n; i++ {
					out = append(out, a, b)
				}
			default:
				return nil, errors.Wrapf(ErrInvalidFormat, "TD0 RLE fragment type %d", kind)
			}
		}

	default:
		return nil, errors.Wrapf(ErrInvalidFormat, "TD0 data encoding %d", encoding)
	}

	if len(out) > want {
		out = out[:want]
	}
	for len(out) < want {
		out = append(out, 0)
	}
	return out, nil
}
