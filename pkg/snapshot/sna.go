package snapshot

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/z80"
)

// snaHeaderSize is the size of the register block shared by all SNA variants.
const snaHeaderSize = 27

// LoadSNA restores an SNA snapshot. The 48K variant pops PC from the
// restored stack; the 128K variants carry PC and the paging register in
// a trailer after the first three banks.
func LoadSNA(data []byte, core *z80.Core) (*Result, error) {
	if len(data) != snaSize48 && len(data) != snaSize128 && len(data) != snaSize128Dup {
		return nil, errors.Wrapf(ErrInvalidFormat, "SNA size %d matches no variant", len(data))
	}

	core.SetI(data[0])
	core.SetHL_(binary.LittleEndian.Uint16(data[1:3]))
	core.SetDE_(binary.LittleEndian.Uint16(data[3:5]))
	core.SetBC_(binary.LittleEndian.Uint16(data[5:7]))
	core.SetF_(data[7])
	core.SetA_(data[8])
	core.SetHL(binary.LittleEndian.Uint16(data[9:11]))
	core.SetDE(binary.LittleEndian.Uint16(data[11:13]))
	core.SetBC(binary.LittleEndian.Uint16(data[13:15]))
	core.SetIY(binary.LittleEndian.Uint16(data[15:17]))
	core.SetIX(binary.LittleEndian.Uint16(data[17:19]))
	iff := data[19]&0x04 != 0
	core.SetIFF1(iff)
	core.SetIFF2(iff)
	core.SetR(data[20])
	core.SetF(data[21])
	core.SetA(data[22])
	sp := binary.LittleEndian.Uint16(data[23:25])
	core.SetIM(data[25] & 0x03)
	border := data[26] & 0x07

	mem := core.Memory()
	mem.ResetPaging()
	res := &Result{Border: border}

	if len(data) == snaSize48 {
		// 48K body: banks 5, 2, 0 at 0x4000-0xFFFF.
		body := data[snaHeaderSize:]
		copyPage(mem, 5, body[0:z80.PageSize])
		copyPage(mem, 2, body[z80.PageSize:2*z80.PageSize])
		copyPage(mem, 0, body[2*z80.PageSize:3*z80.PageSize])
		mem.WriteP7FFD(0x30) // 48K mode: ROM 1, lock paging

		// PC comes off the restored stack.
		lo := mem.ReadByte(sp)
		hi := mem.ReadByte(sp + 1)
		core.SetSP(sp + 2)
		core.SetPC(uint16(hi)<<8 | uint16(lo))
		res.P7FFD = 0x30
		return res, nil
	}

	// 128K: banks 5, 2 and the paged-in bank, then the trailer, then
	// the remaining banks in ascending order.
	body := data[snaHeaderSize:]
	trailer := data[snaHeaderSize+3*z80.PageSize:]
	pc := binary.LittleEndian.Uint16(trailer[0:2])
	p7FFD := trailer[2]
	trdos := trailer[3] != 0
	paged := int(p7FFD & 0x07)

	copyPage(mem, 5, body[0:z80.PageSize])
	copyPage(mem, 2, body[z80.PageSize:2*z80.PageSize])
	copyPage(mem, paged, body[2*z80.PageSize:3*z80.PageSize])

	rest := trailer[4:]
	pos := 0
	for page := 0; page < 8; page++ {
		if page == 5 || page == 2 || (page == paged && len(data) == snaSize128) {
			continue
		}
		if pos+z80.PageSize > len(rest) {
			break
		}
		copyPage(mem, page, rest[pos:pos+z80.PageSize])
		pos += z80.PageSize
	}

	mem.WriteP7FFD(p7FFD)
	core.SetSP(sp)
	core.SetPC(pc)
	res.P7FFD = p7FFD
	res.TRDOS = trdos
	return res, nil
}

func copyPage(mem *z80.Memory, page int, data []byte) {
	copy(mem.RAMPage(page)[:], data)
}
