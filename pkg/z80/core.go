// Package z80 implements the cycle-accurate CPU: a thin wrapper around
// the remogatto/z80 opcode core that feeds every executed instruction's
// T-states into a shared clock.Clock, tracks the machine-level
// bookkeeping the opcode core doesn't (ei_pos, halt_pos, banked memory
// paging), and exposes the single post-instruction hook point the tape
// and disk trap subsystems attach to.
package z80

import (
	"github.com/minz/zxcore/pkg/clock"
	"github.com/remogatto/z80"
)

// Hook is invoked after every executed instruction. It returns true if it
// altered CPU/memory state in a way the caller should be aware of (the
// core itself doesn't branch on this; individual hook implementations use
// it for their own bookkeeping/tests).
type Hook func(c *Core) bool

// Core drives the wrapped CPU instruction by instruction, advancing the
// shared Clock and running the registered hooks after every opcode.
type Core struct {
	cpu   *z80.Z80
	mem   *Memory
	ports *Ports
	clk   *clock.Clock

	hooks []Hook

	eiPos   uint64
	haltPos uint64
}

// New creates a Z80 Core over the given Memory/PortBus, advancing the
// given Clock by each instruction's T-state cost.
func New(mem *Memory, bus PortBus, clk *clock.Clock) *Core {
	ports := NewPorts(bus)
	cpu := z80.NewZ80(mem, ports)
	return &Core{
		cpu:   cpu,
		mem:   mem,
		ports: ports,
		clk:   clk,
	}
}

// Memory returns the Core's memory (for loaders/snapshot restoration).
func (c *Core) Memory() *Memory { return c.mem }

// Clock returns the Core's shared clock.
func (c *Core) Clock() *clock.Clock { return c.clk }

// AddHook registers a hook to run after every instruction, in
// registration order. pkg/system installs a single hook,
// System.postInstruction, which runs the tape ROM trap, tape pattern
// acceleration and the disk traps.
func (c *Core) AddHook(h Hook) { c.hooks = append(c.hooks, h) }

// Reset performs a hard reset: CPU registers to power-on state, Clock
// counters to zero, ei_pos/halt_pos cleared.
func (c *Core) Reset() {
	c.cpu.Reset()
	c.clk.Reset()
	c.mem.ResetPaging()
	c.eiPos = 0
	c.haltPos = 0
}

// Step executes exactly one instruction, advances the Clock by its
// T-state cost, runs the post-instruction hooks, and performs frame-
// boundary / interrupt-delivery processing. It is the core's only
// execution primitive; System.RunFrame calls it in a loop.
func (c *Core) Step() {
	pc := c.cpu.PC()
	opcode := c.mem.ReadByte(pc)

	before := c.cpu.Tstates
	c.cpu.DoOpcode()
	delta := uint64(c.cpu.Tstates - before)
	c.clk.Advance(delta)

	if opcode == 0xFB { // EI
		c.eiPos = c.clk.T()
	}
	if c.cpu.Halted {
		c.haltPos = c.clk.T()
	}

	for _, h := range c.hooks {
		h(c)
	}

	for c.clk.AtOrPast() {
		c.crossFrame()
	}
}

// crossFrame performs the atomic frame-boundary adjustment:
// T_total += frame_len; t -= frame_len; ei_pos -= frame_len;
// frame_counter += 1. Absolute-time event timestamps (tape edge_change,
// disk motor timers) remain valid across the wrap since they're stored
// in T_total+t terms, not frame-relative terms.
func (c *Core) crossFrame() {
	delta := c.clk.CrossFrame()
	if c.eiPos >= delta {
		c.eiPos -= delta
	} else {
		c.eiPos = 0
	}
	if c.haltPos >= delta {
		c.haltPos -= delta
	} else {
		c.haltPos = 0
	}

	if c.clk.InterruptPending(c.cpu.IFF1 != 0) {
		c.Interrupt()
	}
}

// Interrupt delivers a maskable frame interrupt. It wakes the CPU from
// HALT if necessary and defers to the remogatto core's own IM0/1/2
// dispatch.
func (c *Core) Interrupt() {
	c.cpu.Interrupt()
}

// EIPos returns the frame time at which EI was last executed.
func (c *Core) EIPos() uint64 { return c.eiPos }

// HaltPos returns the frame time at which the CPU last entered HALT.
func (c *Core) HaltPos() uint64 { return c.haltPos }

// IsHalted reports whether the CPU is currently halted awaiting an
// interrupt (or, with interrupts disabled, halted permanently).
func (c *Core) IsHalted() bool { return c.cpu.Halted }

// --- Register file accessors ---

func (c *Core) A() byte  { return c.cpu.A }
func (c *Core) F() byte  { return c.cpu.F }
func (c *Core) BC() uint16 { return c.cpu.BC() }
func (c *Core) DE() uint16 { return c.cpu.DE() }
func (c *Core) HL() uint16 { return c.cpu.HL() }
func (c *Core) IX() uint16 { return c.cpu.IX() }
func (c *Core) IY() uint16 { return c.cpu.IY() }
func (c *Core) SP() uint16 { return c.cpu.SP() }
func (c *Core) PC() uint16 { return c.cpu.PC() }

func (c *Core) SetA(v byte)    { c.cpu.A = v }
func (c *Core) SetF(v byte)    { c.cpu.F = v }
func (c *Core) SetBC(v uint16) { c.cpu.SetBC(v) }
func (c *Core) SetDE(v uint16) { c.cpu.SetDE(v) }
func (c *Core) SetHL(v uint16) { c.cpu.SetHL(v) }
func (c *Core) SetIX(v uint16) { c.cpu.SetIX(v) }
func (c *Core) SetIY(v uint16) { c.cpu.SetIY(v) }
func (c *Core) SetSP(v uint16) { c.cpu.SetSP(v) }
func (c *Core) SetPC(v uint16) { c.cpu.SetPC(v) }

// H and L individually, used by the tape ROM trap's register fixup on
// success.
func (c *Core) H() byte    { return c.cpu.H }
func (c *Core) L() byte    { return c.cpu.L }
func (c *Core) SetH(v byte) { c.cpu.H = v }
func (c *Core) SetL(v byte) { c.cpu.L = v }
func (c *Core) B() byte    { return c.cpu.B }
func (c *Core) SetB(v byte) { c.cpu.B = v }
func (c *Core) C() byte    { return c.cpu.C }
func (c *Core) SetC(v byte) { c.cpu.C = v }

// Alternate register file.
func (c *Core) A_() byte { return c.cpu.A_ }
func (c *Core) F_() byte { return c.cpu.F_ }
func (c *Core) SetA_(v byte) { c.cpu.A_ = v }
func (c *Core) SetF_(v byte) { c.cpu.F_ = v }

func (c *Core) BC_() uint16 { return uint16(c.cpu.B_)<<8 | uint16(c.cpu.C_) }
func (c *Core) DE_() uint16 { return uint16(c.cpu.D_)<<8 | uint16(c.cpu.E_) }
func (c *Core) HL_() uint16 { return uint16(c.cpu.H_)<<8 | uint16(c.cpu.L_) }

func (c *Core) SetBC_(v uint16) { c.cpu.B_, c.cpu.C_ = byte(v>>8), byte(v) }
func (c *Core) SetDE_(v uint16) { c.cpu.D_, c.cpu.E_ = byte(v>>8), byte(v) }
func (c *Core) SetHL_(v uint16) { c.cpu.H_, c.cpu.L_ = byte(v>>8), byte(v) }

const (
	flagCarry = 0x01
	flagZero  = 0x40
	flagSign  = 0x80
)

// Carry flag accessors — the tape ROM trap sets carry on success.
func (c *Core) Carry() bool { return c.cpu.F&flagCarry != 0 }

func (c *Core) SetCarry(v bool) {
	if v {
		c.cpu.F |= flagCarry
	} else {
		c.cpu.F &^= flagCarry
	}
}

// I/R. remogatto/z80 keeps R as a 16-bit internal value whose low 7
// bits free-run and whose bit 7 is set/cleared only by explicit LD R,A,
// matching the hardware; R() reports the full hardware-visible byte.
func (c *Core) I() byte { return c.cpu.I }
func (c *Core) SetI(v byte) { c.cpu.I = v }
func (c *Core) R() byte { return byte(c.cpu.R & 0xFF) }
func (c *Core) SetR(v byte) { c.cpu.R = uint16(v) }

// IFF1/IFF2/IM — remogatto/z80 stores the flip-flops as bytes
// (0/non-zero) rather than bool; Core exposes the bool view.
func (c *Core) IFF1() bool { return c.cpu.IFF1 != 0 }
func (c *Core) IFF2() bool { return c.cpu.IFF2 != 0 }

func (c *Core) SetIFF1(v bool) {
	if v {
		c.cpu.IFF1 = 1
	} else {
		c.cpu.IFF1 = 0
	}
}

func (c *Core) SetIFF2(v bool) {
	if v {
		c.cpu.IFF2 = 1
	} else {
		c.cpu.IFF2 = 0
	}
}

func (c *Core) IM() byte     { return c.cpu.IM }
func (c *Core) SetIM(v byte) { c.cpu.IM = v }
