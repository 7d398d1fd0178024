// Package system wires the emulator core together: one System owns the
// Clock, the Z80 core and its banked memory, the Tape Engine, the disk
// controller and the configuration, and stands in as the port bus that
// routes every IN/OUT to whichever of them owns the port. The shared
// Clock, memory and Pulse Store are handed to the components that use
// them; the Z80 core, the Tape Engine and the disk controller hold no
// reference to one another, and anything crossing between them goes
// through the System.
package system

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/clock"
	"github.com/minz/zxcore/pkg/disk"
	"github.com/minz/zxcore/pkg/diskimage"
	"github.com/minz/zxcore/pkg/pulsestore"
	"github.com/minz/zxcore/pkg/snapshot"
	"github.com/minz/zxcore/pkg/tape"
	"github.com/minz/zxcore/pkg/trackstore"
	"github.com/minz/zxcore/pkg/z80"
)

// ROM page assignments within the Memory's ROM pool.
const (
	ROM128Page0 = 0 // 128K editor ROM
	ROM128Page1 = 1 // 48K BASIC ROM
	ROMTRDOS    = 2
	ROMPlus3Ext = 3
)

// Config carries every host-visible option the core recognizes.
type Config struct {
	TapeTraps     bool
	TapeAutostart bool
	SoundEnabled  bool

	TRDOSPresent      bool
	TRDOSTraps        bool
	TRDOSInterleave   int
	WD93NoDelay       bool
	TRDOSWriteProtect [4]bool

	// Frame geometry.
	Frame  uint64
	TLine  uint64
	Paper  uint64
	IntLen uint64
}

// DefaultConfig matches a Pentagon 128 with Beta Disk.
func DefaultConfig() Config {
	return Config{
		TapeTraps:     true,
		TapeAutostart: true,
		TRDOSPresent:  true,
		TRDOSTraps:    true,
		Frame:         clock.DefaultFrameLength,
		TLine:         224,
		Paper:         17989,
		IntLen:        32,
	}
}

// System is the arena that owns every core component; the Z80 core, the
// Tape Engine and the disk controller reach each other only through here.
type System struct {
	cfg Config

	clk   *clock.Clock
	mem   *z80.Memory
	cpu   *z80.Core
	store *pulsestore.Store
	tape  *tape.Engine
	fdc   *disk.WD1793

	dosMode bool
	border  byte

	// Keyboard matrix: 8 half-rows, bits 0-4 active low.
	keyRows [8]byte

	// Latched host requests, applied at the next instruction boundary.
	pendingStopTape bool
	pendingReset    bool
}

// New builds a fully wired System.
func New(cfg Config) *System {
	if cfg.Frame == 0 {
		cfg.Frame = clock.DefaultFrameLength
	}
	if cfg.IntLen == 0 {
		cfg.IntLen = 32
	}
	s := &System{
		cfg:   cfg,
		clk:   clock.New(cfg.Frame),
		mem:   z80.NewMemory(8, 4),
		store: pulsestore.New(),
	}
	s.clk.SetInterrupt(0, cfg.IntLen)
	s.cpu = z80.New(s.mem, s, s.clk)
	s.tape = tape.NewEngine(s.store)
	s.tape.TrapsEnabled = cfg.TapeTraps
	s.tape.SetSoundBlocked(!cfg.SoundEnabled)
	s.fdc = disk.New(s.clk, disk.Config{
		NoDelay:      cfg.WD93NoDelay,
		WriteProtect: cfg.TRDOSWriteProtect,
	})
	for i := range s.keyRows {
		s.keyRows[i] = 0x1F
	}
	s.cpu.AddHook(s.postInstruction)
	return s
}

// Accessors for the host and tests.
func (s *System) Clock() *clock.Clock      { return s.clk }
func (s *System) CPU() *z80.Core           { return s.cpu }
func (s *System) Memory() *z80.Memory      { return s.mem }
func (s *System) Tape() *tape.Engine       { return s.tape }
func (s *System) PulseStore() *pulsestore.Store { return s.store }
func (s *System) Disk() *disk.WD1793       { return s.fdc }
func (s *System) Border() byte             { return s.border }
func (s *System) DOSMode() bool            { return s.dosMode }

// LoadROM installs a 16 KiB ROM image into the given page slot.
func (s *System) LoadROM(page int, data []byte) { s.mem.LoadROM(page, data) }

// postInstruction runs after every executed instruction: DOS paging
// bookkeeping, then the tape traps, then the disk traps, then a disk
// state-machine advance, all observing a consistent Clock.
func (s *System) postInstruction(c *z80.Core) bool {
	if s.pendingReset {
		s.pendingReset = false
		s.Reset()
		return true
	}
	if s.pendingStopTape {
		s.pendingStopTape = false
		s.tape.StopTape()
	}

	s.updateDOSMode(c.PC())

	fired := false
	if s.tape.TryROMTrap(c) {
		fired = true
	}
	if !fired {
		s.tape.TryPatternAccel(c, s.clk.Now())
	}
	if s.dosMode && s.cfg.TRDOSTraps && s.fdc.TryTraps(c) {
		fired = true
	}
	s.fdc.Process(s.clk.Now())
	return fired
}

// updateDOSMode tracks TR-DOS ROM paging: executing in 0x3Dxx while the
// 48K BASIC ROM is selected pages the Beta Disk ROM in; leaving ROM
// space pages it back out.
func (s *System) updateDOSMode(pc uint16) {
	if !s.cfg.TRDOSPresent {
		return
	}
	switch {
	case !s.dosMode && pc&0xFF00 == 0x3D00 && s.mem.P7FFD()&0x10 != 0:
		s.dosMode = true
		s.mem.MapDOSROM(ROMTRDOS)
	case s.dosMode && pc >= 0x4000:
		s.dosMode = false
		s.mem.UnmapDOSROM()
	}
}

// RunFrame executes instructions until the next frame boundary and
// returns the number of instructions retired.
func (s *System) RunFrame() int {
	start := s.clk.FrameCounter()
	n := 0
	for s.clk.FrameCounter() == start {
		s.cpu.Step()
		n++
	}
	return n
}

// Run executes the given number of T-states' worth of instructions.
func (s *System) Run(tstates uint64) {
	deadline := s.clk.Now() + tstates
	for s.clk.Now() < deadline {
		s.cpu.Step()
	}
}

// RequestStopTape latches a host stop request; it takes effect at the
// next instruction boundary.
func (s *System) RequestStopTape() { s.pendingStopTape = true }

// RequestReset latches a host reset request.
func (s *System) RequestReset() { s.pendingReset = true }

// Reset performs the hard reset: CPU, clock, paging, tape, disk.
func (s *System) Reset() {
	s.cpu.Reset()
	s.tape.StopTape()
	s.fdc.Reset()
	s.dosMode = false
	s.mem.UnmapDOSROM()
}

// --- Media ---

// LoadTape parses a TAP/TZX/CSW file into the pulse store. The previous
// tape contents are discarded.
func (s *System) LoadTape(path string, data []byte) error {
	store := pulsestore.New()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tzx":
		err = tape.LoadTZX(store, data)
	case ".csw":
		err = tape.LoadCSW(store, data)
	default:
		err = tape.LoadTAP(store, data)
	}
	if err != nil {
		return errors.Wrapf(err, "loading %q", path)
	}
	*s.store = *store
	s.tape.StopTape()
	return nil
}

// PlayTape starts tape playback at the current time.
func (s *System) PlayTape() { s.tape.Play(s.clk.Now()) }

// InsertDisk loads a disk image into drive n.
func (s *System) InsertDisk(n int, path string, data []byte) error {
	d, err := diskimage.Load(path, data, s.cfg.TRDOSInterleave)
	if err != nil {
		return err
	}
	s.fdc.InsertDisk(n, d)
	return nil
}

// SaveDisk serializes drive n's contents for write-back, or nil when
// the drive holds no modified media.
func (s *System) SaveDisk(n int) ([]byte, error) {
	d := s.fdc.Disk(n)
	if d == nil || !d.Present() {
		return nil, nil
	}
	if d.OpType&trackstore.SectorDirty == 0 {
		return nil, nil
	}
	return diskimage.Save(d)
}

// LoadSnapshot restores machine state from an SNA/Z80/SP file.
func (s *System) LoadSnapshot(path string, data []byte) error {
	res, err := snapshot.Load(path, data, s.cpu)
	if err != nil {
		return err
	}
	s.border = res.Border
	if res.TRDOS {
		s.dosMode = true
		s.mem.MapDOSROM(ROMTRDOS)
	}
	return nil
}

// --- Keyboard (external collaborator surface) ---

// SetKeyRow sets a keyboard half-row (bits 0-4, active low).
func (s *System) SetKeyRow(row int, bits byte) {
	s.keyRows[row&7] = bits | 0xE0
}

func (s *System) keyboardBits(high byte) byte {
	bits := byte(0x1F)
	for row := 0; row < 8; row++ {
		if high&(1<<uint(row)) == 0 {
			bits &= s.keyRows[row] & 0x1F
		}
	}
	return bits
}

// --- Port bus (z80.PortBus) ---

// ReadPort routes an IN: Beta Disk registers when TR-DOS is paged,
// otherwise the ULA's 0xFE with keyboard rows and the tape ear bit.
func (s *System) ReadPort(port uint16) byte {
	if s.dosMode && s.cfg.TRDOSPresent {
		switch byte(port) {
		case 0x1F:
			return s.fdc.ReadStatus()
		case 0x3F:
			return s.fdc.ReadTrack()
		case 0x5F:
			return s.fdc.ReadSectorReg()
		case 0x7F:
			return s.fdc.ReadData()
		case 0xFF:
			return s.fdc.ReadSystem()
		}
	}
	if port&0x01 == 0 { // ULA
		if s.cfg.TapeAutostart && !s.tape.Playing() && len(s.store.Image) > 0 && s.tape.PlayPtr() == 0 {
			s.tape.Play(s.clk.Now())
		}
		ear := s.tape.EarPort(s.clk.Now())
		return ear & (0xE0 | s.keyboardBits(byte(port>>8)))
	}
	return 0xFF
}

// WritePort routes an OUT: Beta Disk registers in DOS mode, the ULA
// border/MIC/speaker latch, and the 128K/+3 paging registers.
func (s *System) WritePort(port uint16, value byte) {
	if s.dosMode && s.cfg.TRDOSPresent {
		switch byte(port) {
		case 0x1F:
			s.fdc.WriteCommand(value)
			return
		case 0x3F:
			s.fdc.WriteTrackReg(value)
			return
		case 0x5F:
			s.fdc.WriteSectorReg(value)
			return
		case 0x7F:
			s.fdc.WriteData(value)
			return
		case 0xFF:
			s.fdc.WriteSystem(value)
			return
		}
	}
	switch {
	case port&0x01 == 0: // ULA: border, MIC, speaker
		s.border = value & 0x07
	case port&0xF002 == 0x1000: // 0x1FFD; must win over the laxer 0x7FFD decode
		s.mem.WriteP1FFD(value)
	case port&0x8002 == 0: // 0x7FFD
		s.mem.WriteP7FFD(value)
	}
}
