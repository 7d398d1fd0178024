// Package debugger provides interactive debugging over a running System
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/minz/zxcore/pkg/system"
)

// Debugger provides breakpoints, watchpoints, single-stepping and an
// execution history over the emulator core.
type Debugger struct {
	sys         *system.System
	breakpoints map[uint16]bool
	watchpoints map[uint16]WatchType
	stepMode    bool
	running     bool
	history     []HistoryEntry
	maxHistory  int

	watchHit   uint16
	watchKind  WatchType
	watchFired bool

	input  *bufio.Scanner
	output io.Writer

	showRegs bool
	memAddr  uint16

	instrCount uint64
}

// WatchType defines the type of watchpoint
type WatchType int

const (
	WatchRead WatchType = iota
	WatchWrite
	WatchReadWrite
)

// HistoryEntry records a single instruction execution
type HistoryEntry struct {
	PC     uint16
	Opcode byte
	Frame  uint64
	T      uint64
}

// Config holds debugger configuration
type Config struct {
	MaxHistory int
	Input      io.Reader
	Output     io.Writer
}

// New creates a new debugger instance
func New(sys *system.System, config *Config) *Debugger {
	if config == nil {
		config = &Config{}
	}
	if config.MaxHistory == 0 {
		config.MaxHistory = 100
	}
	if config.Input == nil {
		config.Input = os.Stdin
	}
	if config.Output == nil {
		config.Output = os.Stdout
	}

	d := &Debugger{
		sys:         sys,
		breakpoints: make(map[uint16]bool),
		watchpoints: make(map[uint16]WatchType),
		maxHistory:  config.MaxHistory,
		input:       bufio.NewScanner(config.Input),
		output:      config.Output,
		showRegs:    true,
		memAddr:     0x4000,
	}
	sys.Memory().SetSMCTracker(func(addr uint16, oldVal, newVal byte) {
		if wt, ok := d.watchpoints[addr]; ok && wt != WatchRead {
			d.watchHit = addr
			d.watchKind = WatchWrite
			d.watchFired = true
		}
	})
	return d
}

// AddBreakpoint arms a breakpoint at addr.
func (d *Debugger) AddBreakpoint(addr uint16) { d.breakpoints[addr] = true }

// RemoveBreakpoint disarms the breakpoint at addr.
func (d *Debugger) RemoveBreakpoint(addr uint16) { delete(d.breakpoints, addr) }

// AddWatchpoint arms a watchpoint at addr.
func (d *Debugger) AddWatchpoint(addr uint16, t WatchType) { d.watchpoints[addr] = t }

// StepOne executes a single instruction, recording history.
func (d *Debugger) StepOne() {
	cpu := d.sys.CPU()
	clk := d.sys.Clock()
	d.history = append(d.history, HistoryEntry{
		PC:     cpu.PC(),
		Opcode: cpu.Memory().ReadByte(cpu.PC()),
		Frame:  clk.FrameCounter(),
		T:      clk.T(),
	})
	if len(d.history) > d.maxHistory {
		d.history = d.history[1:]
	}
	cpu.Step()
	d.instrCount++
}

// Run starts the interactive debugger loop.
func (d *Debugger) Run() error {
	d.printBanner()
	d.display()
	d.stepMode = true

	for {
		if d.breakpoints[d.sys.CPU().PC()] && !d.stepMode {
			fmt.Fprintf(d.output, "\n🔴 Breakpoint hit at $%04X\n", d.sys.CPU().PC())
			d.stepMode = true
			d.display()
		}
		if d.watchFired {
			d.watchFired = false
			if !d.stepMode {
				fmt.Fprintf(d.output, "\n👁️ Watchpoint hit at $%04X\n", d.watchHit)
				d.stepMode = true
				d.display()
			}
		}

		if !d.stepMode {
			d.StepOne()
			continue
		}

		fmt.Fprint(d.output, "dbg> ")
		if !d.input.Scan() {
			return nil
		}
		cmd := strings.TrimSpace(d.input.Text())
		if cmd == "" {
			cmd = "s"
		}
		quit, err := d.handleCommand(cmd)
		if err != nil {
			fmt.Fprintf(d.output, "Error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (d *Debugger) handleCommand(cmd string) (quit bool, err error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "s", "step":
		d.StepOne()
		d.display()

	case "c", "continue":
		d.stepMode = false

	case "b", "break":
		addr, err := parseAddr(parts)
		if err != nil {
			return false, err
		}
		d.AddBreakpoint(addr)
		fmt.Fprintf(d.output, "Breakpoint set at $%04X\n", addr)

	case "db", "delete":
		addr, err := parseAddr(parts)
		if err != nil {
			return false, err
		}
		d.RemoveBreakpoint(addr)

	case "w", "watch":
		addr, err := parseAddr(parts)
		if err != nil {
			return false, err
		}
		d.AddWatchpoint(addr, WatchWrite)
		fmt.Fprintf(d.output, "Watchpoint set at $%04X\n", addr)

	case "r", "regs":
		d.printRegisters()

	case "m", "mem":
		if len(parts) > 1 {
			addr, err := parseAddr(parts)
			if err != nil {
				return false, err
			}
			d.memAddr = addr
		}
		d.printMemory(d.memAddr, 8)
		d.memAddr += 128

	case "hist", "history":
		d.printHistory()

	case "f", "frame":
		n := d.sys.RunFrame()
		fmt.Fprintf(d.output, "Frame %d complete (%d instructions)\n",
			d.sys.Clock().FrameCounter(), n)
		d.display()

	case "q", "quit":
		return true, nil

	case "h", "help", "?":
		d.printHelp()

	default:
		return false, fmt.Errorf("unknown command %q (h for help)", parts[0])
	}
	return false, nil
}

func parseAddr(parts []string) (uint16, error) {
	if len(parts) < 2 {
		return 0, fmt.Errorf("address required")
	}
	s := strings.TrimSpace(parts[1])
	switch {
	case strings.HasPrefix(s, "$"), strings.HasPrefix(s, "#"):
		s = s[1:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %v", err)
	}
	return uint16(v), nil
}

func (d *Debugger) printBanner() {
	fmt.Fprintln(d.output, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(d.output, " zxcore debugger — h for help")
	fmt.Fprintln(d.output, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func (d *Debugger) printHelp() {
	fmt.Fprint(d.output, `Commands:
  s            step one instruction (default)
  c            continue until breakpoint/watchpoint
  f            run to the next frame boundary
  b <addr>     set breakpoint
  db <addr>    delete breakpoint
  w <addr>     set write watchpoint
  r            show registers
  m [addr]     dump memory
  hist         show execution history
  q            quit
`)
}

func (d *Debugger) display() {
	if d.showRegs {
		d.printRegisters()
	}
}

func (d *Debugger) printRegisters() {
	cpu := d.sys.CPU()
	clk := d.sys.Clock()
	fmt.Fprintf(d.output, "PC=%04X SP=%04X AF=%02X%02X BC=%04X DE=%04X HL=%04X\n",
		cpu.PC(), cpu.SP(), cpu.A(), cpu.F(), cpu.BC(), cpu.DE(), cpu.HL())
	fmt.Fprintf(d.output, "IX=%04X IY=%04X I=%02X R=%02X IM=%d IFF1=%v  frame=%d t=%d\n",
		cpu.IX(), cpu.IY(), cpu.I(), cpu.R(), cpu.IM(), cpu.IFF1(),
		clk.FrameCounter(), clk.T())
	if d.sys.DOSMode() {
		fmt.Fprintf(d.output, "TR-DOS paged in\n")
	}
}

func (d *Debugger) printMemory(addr uint16, rows int) {
	mem := d.sys.Memory()
	for r := 0; r < rows; r++ {
		fmt.Fprintf(d.output, "%04X: ", addr)
		var ascii [16]byte
		for i := 0; i < 16; i++ {
			b := mem.ReadByte(addr + uint16(i))
			fmt.Fprintf(d.output, "%02X ", b)
			if b >= 32 && b <= 126 {
				ascii[i] = b
			} else {
				ascii[i] = '.'
			}
		}
		fmt.Fprintf(d.output, " %s\n", ascii)
		addr += 16
	}
}

func (d *Debugger) printHistory() {
	for _, h := range d.history {
		fmt.Fprintf(d.output, "  %04X  op=%02X  frame=%d t=%d\n", h.PC, h.Opcode, h.Frame, h.T)
	}
	fmt.Fprintf(d.output, "%d instructions executed\n", d.instrCount)
}
