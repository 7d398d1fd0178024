package snapshot

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/z80"
)

// spHeaderSize is the fixed "SP" header: signature, payload length and
// load address, the full register file, border and status word.
const spHeaderSize = 38

// LoadSP restores an SP snapshot: the 38-byte header followed by a
// payload of exactly the declared length, loaded at the declared start
// address.
func LoadSP(data []byte, core *z80.Core) (*Result, error) {
	if len(data) < spHeaderSize || data[0] != 'S' || data[1] != 'P' {
		return nil, errors.Wrap(ErrInvalidFormat, "SP signature missing at offset 0")
	}
	length := int(binary.LittleEndian.Uint16(data[2:4]))
	start := binary.LittleEndian.Uint16(data[4:6])
	if spHeaderSize+length != len(data) {
		return nil, errors.Wrapf(ErrInvalidFormat, "SP declares %d payload bytes, file carries %d", length, len(data)-spHeaderSize)
	}

	core.SetBC(binary.LittleEndian.Uint16(data[6:8]))
	core.SetDE(binary.LittleEndian.Uint16(data[8:10]))
	core.SetHL(binary.LittleEndian.Uint16(data[10:12]))
	core.SetF(data[12])
	core.SetA(data[13])
	core.SetIX(binary.LittleEndian.Uint16(data[14:16]))
	core.SetIY(binary.LittleEndian.Uint16(data[16:18]))
	core.SetBC_(binary.LittleEndian.Uint16(data[18:20]))
	core.SetDE_(binary.LittleEndian.Uint16(data[20:22]))
	core.SetHL_(binary.LittleEndian.Uint16(data[22:24]))
	core.SetF_(data[24])
	core.SetA_(data[25])
	core.SetR(data[26])
	core.SetI(data[27])
	core.SetSP(binary.LittleEndian.Uint16(data[28:30]))
	core.SetPC(binary.LittleEndian.Uint16(data[30:32]))
	border := data[32] & 0x07

	status := binary.LittleEndian.Uint16(data[34:36])
	if status&0x01 != 0 {
		core.SetIM(2)
	} else {
		core.SetIM(1)
	}
	core.SetIFF1(status&0x02 != 0)
	core.SetIFF2(status&0x02 != 0)

	mem := core.Memory()
	mem.ResetPaging()
	mem.WriteP7FFD(0x30)
	for i := 0; i < length; i++ {
		mem.WriteByte(start+uint16(i), data[spHeaderSize+i])
	}
	return &Result{Border: border, P7FFD: 0x30}, nil
}
