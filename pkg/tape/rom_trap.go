package tape

import "github.com/minz/zxcore/pkg/z80"

// romTrapPC is the entry point of the ROM's "LD-BYTES" loader routine.
const romTrapPC = 0x056B

const (
	romTrapSuccessPC = 0x05DF
	romTrapFailPC    = 0x05E2
)

// TryROMTrap is the LD-BYTES trap: when the tape is rolling, traps are
// enabled, and PC == 0x056B, it emulates the ROM loader's byte read
// directly against the raw pulse stream, skipping the pulse-by-pulse ROM
// loop entirely. Returns true if it fired (and thus altered CPU state).
func (e *Engine) TryROMTrap(core *z80.Core) bool {
	if !e.playing || !e.TrapsEnabled || core.PC() != romTrapPC {
		return false
	}

	// Pilot skip: consume pulses until one is at or below the sync
	// threshold, then one more for the second sync pulse.
	for {
		d, ok := e.consumePulse()
		if !ok {
			core.SetPC(romTrapFailPC)
			return true
		}
		if d <= syncPulseThreshold {
			break
		}
	}
	if _, ok := e.consumePulse(); !ok {
		core.SetPC(romTrapFailPC)
		return true
	}

	count := int(core.DE()) + 2
	mem := core.Memory()

	for i := 0; i < count; i++ {
		b, ok := e.decodeByteTrap()
		if !ok {
			core.SetPC(romTrapFailPC)
			return true
		}
		switch {
		case i == 0: // flag byte
			core.SetL(b)
		case i == count-1: // CRC byte, decoded but not stored
		default:
			mem.WriteByte(core.IX(), b)
			core.SetIX(core.IX() + 1)
			core.SetDE(core.DE() - 1)
		}
	}

	core.SetPC(romTrapSuccessPC)
	core.SetCarry(true)
	core.SetBC(0xB001)
	core.SetH(0)
	return true
}

// consumePulse reads the next pulse duration from the raw image stream,
// advancing play_ptr. Returns ok=false on end-of-tape or sentinel.
func (e *Engine) consumePulse() (uint32, bool) {
	if e.playPtr >= e.endPtr {
		e.StopTape()
		return 0, false
	}
	idx := e.Store.Image[e.playPtr]
	e.playPtr++
	d, isSentinel := e.Store.Duration(idx)
	if isSentinel {
		e.StopTape()
		return 0, false
	}
	return d, true
}

// decodeByteTrap decodes one byte MSB-first, consuming two pulses per
// bit: a bit is 1 if its first pulse exceeds
// bitOneThreshold T-states.
func (e *Engine) decodeByteTrap() (byte, bool) {
	var acc byte
	for mask := byte(0x80); mask != 0; mask >>= 1 {
		first, ok := e.consumePulse()
		if !ok {
			return 0, false
		}
		if _, ok := e.consumePulse(); !ok {
			return 0, false
		}
		if first > bitOneThreshold {
			acc |= mask
		}
	}
	return acc, true
}
