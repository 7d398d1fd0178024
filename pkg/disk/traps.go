package disk

import "github.com/minz/zxcore/pkg/z80"

// TR-DOS ROM trap points. Each trap is keyed on a PC value and guarded
// by a verification byte read from the paged-in ROM, so a patched or
// foreign ROM falls through to normal execution.
const (
	trapStatusWait  = 0x3DFD // status-poll RET shortcut
	trapIndexWait   = 0x3EA0 // index-pulse wait shortcut
	trapDelayLoop   = 0x3E01 // delay-loop forced exit
	trapBulkReadPC  = 0x3FEC // INI sector-read loop
	trapBulkWritePC = 0x3FD1 // OUTI sector-write loop
)

// TryTraps is the disk half of the post-instruction hook: invoked by the
// system layer when TR-DOS paging is active and disk traps are enabled.
// Returns true when a trap fired and redirected execution.
func (w *WD1793) TryTraps(core *z80.Core) bool {
	mem := core.Memory()
	switch core.PC() {
	case trapStatusWait:
		if mem.ReadByte(trapStatusWait) != 0x3E {
			return false
		}
		simRET(core)
		core.SetA(0)
		core.SetC(0)
		return true

	case trapIndexWait:
		if mem.ReadByte(trapIndexWait) != 0x06 {
			return false
		}
		simRET(core)
		core.SetA(0)
		core.SetB(0)
		return true

	case trapDelayLoop:
		if mem.ReadByte(trapDelayLoop) != 0x0D {
			return false
		}
		core.SetA(1)
		core.SetC(1)
		return true

	case trapBulkReadPC:
		if mem.ReadByte(trapBulkReadPC + 1) != 0xA2 {
			return false
		}
		if !(w.state == Read || (w.state == Wait && w.stateNext == Read)) {
			return false
		}
		w.trapBulkRead(core)
		return true

	case trapBulkWritePC:
		if mem.ReadByte(trapBulkWritePC + 1) != 0xA3 {
			return false
		}
		if !(w.state == Write || (w.state == Wait && w.stateNext == Write)) {
			return false
		}
		if w.rqs&RqsDRQ == 0 || w.rwlen <= 1 {
			return false
		}
		w.trapBulkWrite(core)
		return true
	}
	return false
}

// simRET pops the return address the way RET would.
func simRET(core *z80.Core) {
	mem := core.Memory()
	sp := core.SP()
	lo := mem.ReadByte(sp)
	hi := mem.ReadByte(sp + 1)
	core.SetSP(sp + 2)
	core.SetPC(uint16(hi)<<8 | uint16(lo))
}

// trapBulkRead replaces the ROM's INI loop: the byte sitting in the data
// register (if DRQ is pending) goes out first to keep the sequence
// intact, then the rest of the sector streams straight from the track
// store into memory at HL.
func (w *WD1793) trapBulkRead(core *z80.Core) {
	mem := core.Memory()
	hl := core.HL()
	b := core.B()

	if w.rqs&RqsDRQ != 0 {
		mem.WriteByte(hl, w.data)
		hl++
		b--
		w.rqs &^= RqsDRQ
		w.status &^= StDRQ
	}
	for w.rwlen > 0 {
		mem.WriteByte(hl, w.curTrack.Data[w.rwptr])
		hl++
		b--
		w.rwptr++
		w.rwlen--
	}
	core.SetHL(hl)
	core.SetB(b)

	w.state = Read
	w.finishRead()
	core.SetPC(core.PC() + 2)
}

// trapBulkWrite replaces the ROM's OUTI loop, streaming memory at HL
// into the track store and completing the sector (CRC rewrite, INTRQ).
func (w *WD1793) trapBulkWrite(core *z80.Core) {
	mem := core.Memory()
	hl := core.HL()
	b := core.B()

	for w.rwlen > 0 {
		w.curTrack.Data[w.rwptr] = mem.ReadByte(hl)
		hl++
		b--
		w.rwptr++
		w.rwlen--
	}
	core.SetHL(hl)
	core.SetB(b)

	w.rqs &^= RqsDRQ
	w.status &^= StDRQ
	w.state = Write
	w.stepWrite(w.clk.Now())
	core.SetPC(core.PC() + 2)
}
