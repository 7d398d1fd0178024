package system

import (
	"encoding/binary"
	"testing"

	"github.com/minz/zxcore/pkg/trackstore"
	"github.com/minz/zxcore/pkg/z80"
)

func buildTAP(blocks ...[]byte) []byte {
	var out []byte
	for _, b := range blocks {
		var l [2]byte
		binary.LittleEndian.PutUint16(l[:], uint16(len(b)))
		out = append(out, l[:]...)
		out = append(out, b...)
	}
	return out
}

func TestLoadTapeAndAutostart(t *testing.T) {
	s := New(DefaultConfig())
	tapImg := buildTAP(append([]byte{0xFF}, 0xAA))
	if err := s.LoadTape("game.tap", tapImg); err != nil {
		t.Fatal(err)
	}
	if s.Tape().Playing() {
		t.Fatal("tape playing before first ear read")
	}
	v := s.ReadPort(0xFE)
	if !s.Tape().Playing() {
		t.Fatal("ear read did not autostart the tape")
	}
	if v&0x1F != 0x1F {
		t.Errorf("keyboard bits = %02X with no keys held", v&0x1F)
	}
}

func TestKeyboardMatrix(t *testing.T) {
	s := New(DefaultConfig())
	s.SetKeyRow(0, 0x1E) // caps shift held (row 0xFEFE, bit 0)

	if got := s.ReadPort(0xFEFE) & 0x1F; got != 0x1E {
		t.Errorf("row 0 read = %02X, want 1E", got)
	}
	// A different half-row still reads released.
	if got := s.ReadPort(0xFDFE) & 0x1F; got != 0x1F {
		t.Errorf("row 1 read = %02X, want 1F", got)
	}
}

func TestBorderAndPagingWrites(t *testing.T) {
	s := New(DefaultConfig())

	s.WritePort(0xFE, 0x05)
	if s.Border() != 5 {
		t.Errorf("border = %d, want 5", s.Border())
	}

	s.WritePort(0x7FFD, 0x03)
	if s.Memory().P7FFD() != 0x03 {
		t.Errorf("p7FFD = %02X, want 03", s.Memory().P7FFD())
	}

	// Sticky lock: once bit 5 is written, later writes are ignored.
	s.WritePort(0x7FFD, 0x20|0x01)
	s.WritePort(0x7FFD, 0x07)
	if s.Memory().P7FFD() != 0x21 {
		t.Errorf("p7FFD = %02X, want 21 (locked)", s.Memory().P7FFD())
	}

	s.WritePort(0x1FFD, 0x04)
	if s.Memory().P1FFD() != 0 {
		t.Error("p1FFD changed while paging locked")
	}
}

func TestDOSModePagesROMAndPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WD93NoDelay = true
	s := New(cfg)

	// TR-DOS ROM with a marker byte.
	rom := make([]byte, z80.PageSize)
	rom[0x0100] = 0xD5
	s.LoadROM(ROMTRDOS, rom)

	d := trackstore.New()
	d.Format(40, 1, 0)
	s.Disk().InsertDisk(0, d)

	// Select the 48K BASIC ROM, then "execute" in 0x3Dxx.
	s.Memory().WriteP7FFD(0x10)
	s.updateDOSMode(0x3D00)
	if !s.DOSMode() {
		t.Fatal("DOS mode not entered from 0x3Dxx")
	}
	if got := s.Memory().ReadByte(0x0100); got != 0xD5 {
		t.Errorf("TR-DOS ROM not mapped: [0100] = %02X", got)
	}

	// Beta Disk ports are visible now.
	s.WritePort(0x5F, 9)
	if got := s.ReadPort(0x5F); got != 9 {
		t.Errorf("sector register = %d, want 9", got)
	}

	// Leaving ROM space pages TR-DOS back out.
	s.updateDOSMode(0x8000)
	if s.DOSMode() {
		t.Fatal("DOS mode not left at 0x4000+")
	}
	if got := s.Memory().ReadByte(0x0100); got == 0xD5 {
		t.Error("TR-DOS ROM still mapped after exit")
	}
}

func TestReadSectorThroughPorts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WD93NoDelay = true
	s := New(cfg)

	d := trackstore.New()
	d.Format(40, 1, 0)
	payload := make([]byte, trackstore.SectorSize)
	payload[0] = 0x42
	d.WriteSector(0, 0, 1, payload)
	s.Disk().InsertDisk(0, d)

	s.Memory().WriteP7FFD(0x10)
	s.updateDOSMode(0x3D00)

	s.WritePort(0x5F, 1)    // sector 1
	s.WritePort(0x1F, 0x80) // read sector
	if s.ReadPort(0xFF)&0x40 == 0 {
		t.Fatal("DRQ not visible on system port")
	}
	if got := s.ReadPort(0x7F); got != 0x42 {
		t.Errorf("first data byte = %02X, want 42", got)
	}
}

func TestStopTapeLatchedToInstructionBoundary(t *testing.T) {
	s := New(DefaultConfig())
	if err := s.LoadTape("x.tap", buildTAP([]byte{0xFF, 0x00})); err != nil {
		t.Fatal(err)
	}
	s.PlayTape()
	s.RequestStopTape()
	if !s.Tape().Playing() {
		t.Fatal("stop applied before instruction boundary")
	}
	s.postInstruction(s.CPU())
	if s.Tape().Playing() {
		t.Fatal("latched stop not applied at instruction boundary")
	}
}
