package snapshot

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/z80"
)

// LoadZ80 restores a .z80 snapshot, any of the v1/v2.01/v3.0 header
// layouts. v1 holds a flat 48K body, optionally RLE-compressed; v2+
// holds per-page records, each with a 3-byte header (compressed length,
// page number) and the same ED ED <count> <value> escape.
func LoadZ80(data []byte, core *z80.Core) (*Result, error) {
	if len(data) < 30 {
		return nil, errors.Wrapf(ErrInvalidFormat, "Z80 file of %d bytes has no header", len(data))
	}

	core.SetA(data[0])
	core.SetF(data[1])
	core.SetBC(binary.LittleEndian.Uint16(data[2:4]))
	core.SetHL(binary.LittleEndian.Uint16(data[4:6]))
	pc := binary.LittleEndian.Uint16(data[6:8])
	core.SetSP(binary.LittleEndian.Uint16(data[8:10]))
	core.SetI(data[10])

	flags1 := data[12]
	if flags1 == 0xFF {
		// Historical quirk: files written with this byte saturated are
		// read as if it were 0x01.
		flags1 = 0x01
	}
	core.SetR(data[11]&0x7F | flags1<<7)
	border := (flags1 >> 1) & 0x07

	core.SetDE(binary.LittleEndian.Uint16(data[13:15]))
	core.SetBC_(binary.LittleEndian.Uint16(data[15:17]))
	core.SetDE_(binary.LittleEndian.Uint16(data[17:19]))
	core.SetHL_(binary.LittleEndian.Uint16(data[19:21]))
	core.SetA_(data[21])
	core.SetF_(data[22])
	core.SetIY(binary.LittleEndian.Uint16(data[23:25]))
	core.SetIX(binary.LittleEndian.Uint16(data[25:27]))
	core.SetIFF1(data[27] != 0)
	core.SetIFF2(data[28] != 0)
	core.SetIM(data[29] & 0x03)

	mem := core.Memory()
	mem.ResetPaging()
	res := &Result{Border: border}

	if pc != 0 { // v1: flat 48K body
		core.SetPC(pc)
		body := data[30:]
		if flags1&0x20 != 0 {
			var err error
			body, err = unrleZ80(body, 3*z80.PageSize)
			if err != nil {
				return nil, err
			}
		}
		if len(body) < 3*z80.PageSize {
			return nil, errors.Wrapf(ErrInvalidFormat, "Z80 v1 body is %d bytes, want 49152", len(body))
		}
		copyPage(mem, 5, body[0:z80.PageSize])
		copyPage(mem, 2, body[z80.PageSize:2*z80.PageSize])
		copyPage(mem, 0, body[2*z80.PageSize:3*z80.PageSize])
		mem.WriteP7FFD(0x30)
		res.P7FFD = 0x30
		return res, nil
	}

	// v2/v3: extended header, then page records.
	if len(data) < 34 {
		return nil, errors.Wrap(ErrInvalidFormat, "Z80 v2 header truncated at offset 30")
	}
	extLen := int(binary.LittleEndian.Uint16(data[30:32]))
	if 32+extLen > len(data) {
		return nil, errors.Wrapf(ErrInvalidFormat, "Z80 extended header of %d bytes overruns file", extLen)
	}
	ext := data[32 : 32+extLen]
	core.SetPC(binary.LittleEndian.Uint16(ext[0:2]))

	hwMode := byte(0)
	if extLen >= 3 {
		hwMode = ext[2]
	}
	is128 := hwMode >= 3
	p7FFD := byte(0x30)
	if is128 && extLen >= 4 {
		p7FFD = ext[3]
	}

	pos := 32 + extLen
	for pos < len(data) {
		if pos+3 > len(data) {
			return nil, errors.Wrapf(ErrInvalidFormat, "Z80 page record truncated at offset %d", pos)
		}
		compLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pageNum := data[pos+2]
		pos += 3

		var page []byte
		if compLen == 0xFFFF {
			if pos+z80.PageSize > len(data) {
				return nil, errors.Wrapf(ErrInvalidFormat, "Z80 raw page overruns file at offset %d", pos)
			}
			page = data[pos : pos+z80.PageSize]
			pos += z80.PageSize
		} else {
			if pos+compLen > len(data) {
				return nil, errors.Wrapf(ErrInvalidFormat, "Z80 compressed page overruns file at offset %d", pos)
			}
			var err error
			page, err = unrleZ80(data[pos:pos+compLen], z80.PageSize)
			if err != nil {
				return nil, err
			}
			pos += compLen
		}

		ram, ok := z80PageToRAM(pageNum, is128)
		if !ok {
			continue // ROM page record; ROM comes from the host's images
		}
		copyPage(mem, ram, page)
	}

	mem.WriteP7FFD(p7FFD)
	res.P7FFD = p7FFD
	return res, nil
}

// z80PageToRAM maps a .z80 page record number to a RAM bank.
func z80PageToRAM(page byte, is128 bool) (int, bool) {
	if is128 {
		if page >= 3 && page <= 10 {
			return int(page - 3), true
		}
		return 0, false
	}
	switch page {
	case 4: // 0x8000
		return 2, true
	case 5: // 0xC000
		return 0, true
	case 8: // 0x4000
		return 5, true
	}
	return 0, false
}

// unrleZ80 expands the ED ED <count> <value> run-length escape. The v1
// body's four-byte 00 ED ED 00 terminator, when present, ends the
// stream.
func unrleZ80(src []byte, limit int) ([]byte, error) {
	out := make([]byte, 0, limit)
	for i := 0; i < len(src) && len(out) < limit; {
		if i+3 < len(src) && src[i] == 0x00 && src[i+1] == 0xED && src[i+2] == 0xED && src[i+3] == 0x00 {
			break
		}
		if i+1 < len(src) && src[i] == 0xED && src[i+1] == 0xED {
			if i+3 >= len(src) {
				return nil, errors.Wrapf(ErrInvalidFormat, "Z80 RLE escape truncated at offset %d", i)
			}
			count := int(src[i+2])
			value := src[i+3]
			for k := 0; k < count && len(out) < limit; k++ {
				out = append(out, value)
			}
			i += 4
			continue
		}
		out = append(out, src[i])
		i++
	}
	for len(out) < limit {
		out = append(out, 0)
	}
	return out, nil
}
