package tape

import "github.com/minz/zxcore/pkg/z80"

// patternByte is one byte of a match pattern; wildcard matches any value
// (used for immediate operands the loop doesn't care about, e.g. the
// branch target of `3D C2 ll hh`).
type patternByte struct {
	value    byte
	wildcard bool
}

func lit(v byte) patternByte   { return patternByte{value: v} }
func wild() patternByte        { return patternByte{wildcard: true} }

func matchPattern(mem []byte, pattern []patternByte) bool {
	if len(mem) < len(pattern) {
		return false
	}
	for i, p := range pattern {
		if !p.wildcard && mem[i] != p.value {
			return false
		}
	}
	return true
}

func readWindow(core *z80.Core, n int) []byte {
	pc := core.PC()
	buf := make([]byte, n)
	mem := core.Memory()
	for i := 0; i < n; i++ {
		buf[i] = mem.ReadByte(pc + uint16(i))
	}
	return buf
}

// delayLoopPattern is one entry of the delay-loop family:
// a short counter-decrement loop collapsed into a single jump.
type delayLoopPattern struct {
	name        string
	bytes       []patternByte
	cyclesPerIt uint64
	selfJump    bool // true: the ll,hh operand must equal PC (self-loop)
	apply       func(core *z80.Core, clk clockAdvancer)
}

// clockAdvancer is the minimal surface pattern acceleration needs from
// the core's clock, kept narrow so tests can fake it.
type clockAdvancer interface {
	Advance(n uint64)
}

var delayLoopPatterns = []delayLoopPattern{
	{
		name:        "dec-a-jr-nz",
		bytes:       []patternByte{lit(0x3D), lit(0x20), lit(0xFD)},
		cyclesPerIt: 16,
		apply: func(core *z80.Core, clk clockAdvancer) {
			a := core.A()
			if a > 1 {
				clk.Advance(uint64(a-1) * 16)
			}
			core.SetA(1)
		},
	},
	{
		name:        "djnz-self",
		bytes:       []patternByte{lit(0x10), lit(0xFE)},
		cyclesPerIt: 13,
		apply: func(core *z80.Core, clk clockAdvancer) {
			b := core.B()
			if b > 1 {
				clk.Advance(uint64(b-1) * 13)
			}
			core.SetB(1)
		},
	},
	{
		// `3D C2 ll hh` where (hh,ll) == PC: DEC A; JP NZ,<self>.
		name:        "dec-a-jp-nz-self",
		bytes:       []patternByte{lit(0x3D), lit(0xC2), wild(), wild()},
		cyclesPerIt: 14,
		selfJump:    true,
		apply: func(core *z80.Core, clk clockAdvancer) {
			a := core.A()
			if a > 1 {
				clk.Advance(uint64(a-1) * 14)
			}
			core.SetA(1)
		},
	},
}

// edgePollVariant is one named entry of the edge-polling family: the
// ROM-style edge-detect loop (matched here as 11 bytes) and its known
// game-specific relatives.
type edgePollVariant struct {
	name        string
	bytes       []patternByte
	bitMask     byte // 0x20 or 0x40 of port 0xFE
	timeoutAt   byte // B value that means "give up": 0xFF or 0x01
	decrement   bool // true: B--, false: B++
	cyclesPerIt uint64
}

var edgePollVariants = []edgePollVariant{
	{
		name: "rom-edge-detect",
		bytes: []patternByte{
			lit(0x04), lit(0xDB), lit(0xFE), lit(0x1F), lit(0xA9),
			lit(0xE6), lit(0x20), lit(0x28), wild(), lit(0x10), lit(0xF5),
		},
		bitMask: 0x40, timeoutAt: 0xFF, decrement: false, cyclesPerIt: 58,
	},
	{
		name: "popeye2",
		bytes: []patternByte{
			lit(0x05), lit(0xDB), lit(0xFE), lit(0xA9),
			lit(0xE6), lit(0x20), lit(0x20), wild(),
		},
		bitMask: 0x20, timeoutAt: 0x01, decrement: true, cyclesPerIt: 55,
	},
	{
		name: "bleep",
		bytes: []patternByte{
			lit(0x04), lit(0xDB), lit(0xFE), lit(0x1F), lit(0xA9),
			lit(0xE6), lit(0x40), lit(0x28), wild(),
		},
		bitMask: 0x40, timeoutAt: 0xFF, decrement: false, cyclesPerIt: 56,
	},
	{
		name: "rana-rama",
		bytes: []patternByte{
			lit(0x05), lit(0xDB), lit(0xFE), lit(0xA9),
			lit(0xE6), lit(0x40), lit(0x20), wild(),
		},
		bitMask: 0x40, timeoutAt: 0x01, decrement: true, cyclesPerIt: 54,
	},
	{
		name: "zero-music",
		bytes: []patternByte{
			lit(0x04), lit(0xDB), lit(0xFE), lit(0xA9),
			lit(0xE6), lit(0x20), lit(0x28), wild(),
		},
		bitMask: 0x20, timeoutAt: 0xFF, decrement: false, cyclesPerIt: 52,
	},
	{
		name: "donkey-kong",
		bytes: []patternByte{
			lit(0x05), lit(0xDB), lit(0xFE), lit(0x1F),
			lit(0xA9), lit(0xE6), lit(0x40), lit(0x20), wild(),
		},
		bitMask: 0x40, timeoutAt: 0x01, decrement: true, cyclesPerIt: 57,
	},
	{
		name: "lode-runner",
		bytes: []patternByte{
			lit(0x04), lit(0xDB), lit(0xFE), lit(0xA9),
			lit(0xE6), lit(0x40), lit(0x28), wild(),
		},
		bitMask: 0x40, timeoutAt: 0xFF, decrement: false, cyclesPerIt: 59,
	},
}

// TryPatternAccel is the loader accelerator: invoked on every instruction
// while the tape is playing and sound is off, it reads up to 16 bytes at
// PC and matches the delay-loop and edge-poll pattern families,
// replaying the matched loop's effect directly instead of single-
// stepping it.
func (e *Engine) TryPatternAccel(core *z80.Core, now uint64) bool {
	if !e.playing || !e.PatternsEnabled || !e.soundBlocked {
		return false
	}
	window := readWindow(core, 16)

	for _, p := range delayLoopPatterns {
		if !matchPattern(window, p.bytes) {
			continue
		}
		if p.selfJump {
			target := uint16(window[2]) | uint16(window[3])<<8
			if target != core.PC() {
				continue
			}
		}
		p.apply(core, core.Clock())
		return true
	}
	for _, v := range edgePollVariants {
		if matchPattern(window, v.bytes) {
			e.runEdgePoll(core, v, now)
			return true
		}
	}
	return false
}

// runEdgePoll replays the matched edge-polling loop entirely inside the
// accelerator, byte-for-byte equivalent to single-stepping it.
func (e *Engine) runEdgePoll(core *z80.Core, v edgePollVariant, now uint64) {
	c := core.C()
	for {
		b := core.B()
		if b == v.timeoutAt {
			return
		}
		bit := e.TapeBit(now)
		if (bit^c)&v.bitMask != 0 {
			return
		}
		if v.decrement {
			core.SetB(b - 1)
		} else {
			core.SetB(b + 1)
		}
		core.Clock().Advance(v.cyclesPerIt)
		now = core.Clock().Now()
	}
}
