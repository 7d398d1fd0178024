package disk

import (
	"testing"

	"github.com/minz/zxcore/pkg/clock"
	"github.com/minz/zxcore/pkg/trackstore"
	"github.com/minz/zxcore/pkg/z80"
)

func newTrapRig(t *testing.T) (*WD1793, *trackstore.Disk, *z80.Core) {
	t.Helper()
	clk := clock.New(clock.DefaultFrameLength)
	w := New(clk, Config{NoDelay: true})
	d := trackstore.New()
	d.Format(40, 1, 0)
	w.InsertDisk(0, d)

	mem := z80.NewMemory(8, 1)
	rom := make([]byte, z80.PageSize)
	rom[trapStatusWait] = 0x3E
	rom[trapIndexWait] = 0x06
	rom[trapDelayLoop] = 0x0D
	rom[trapBulkReadPC+1] = 0xA2
	rom[trapBulkWritePC+1] = 0xA3
	mem.LoadROM(0, rom)

	core := z80.New(mem, nil, clk)
	return w, d, core
}

func TestStatusWaitTrapSimulatesRET(t *testing.T) {
	w, _, core := newTrapRig(t)
	mem := core.Memory()

	core.SetSP(0x8000)
	mem.WriteByte(0x8000, 0x34)
	mem.WriteByte(0x8001, 0x12)
	core.SetPC(trapStatusWait)
	core.SetA(0x99)
	core.SetC(0x99)

	if !w.TryTraps(core) {
		t.Fatal("status-wait trap did not fire")
	}
	if core.PC() != 0x1234 {
		t.Errorf("PC = %04X, want 1234", core.PC())
	}
	if core.SP() != 0x8002 {
		t.Errorf("SP = %04X, want 8002", core.SP())
	}
	if core.A() != 0 || core.C() != 0 {
		t.Errorf("A/C = %02X/%02X, want 0/0", core.A(), core.C())
	}
}

func TestDelayLoopTrapForcesExit(t *testing.T) {
	w, _, core := newTrapRig(t)
	core.SetPC(trapDelayLoop)
	if !w.TryTraps(core) {
		t.Fatal("delay-loop trap did not fire")
	}
	if core.A() != 1 || core.C() != 1 {
		t.Errorf("A/C = %02X/%02X, want 1/1", core.A(), core.C())
	}
	if core.PC() != trapDelayLoop {
		t.Error("delay-loop trap must not move PC")
	}
}

func TestTrapRequiresVerifyByte(t *testing.T) {
	w, _, core := newTrapRig(t)
	rom := make([]byte, z80.PageSize) // all-zero ROM: no verify bytes
	core.Memory().LoadROM(0, rom)
	core.SetPC(trapStatusWait)
	if w.TryTraps(core) {
		t.Fatal("trap fired against a ROM without the verify byte")
	}
}

func TestBulkReadTrapDrainsSector(t *testing.T) {
	w, d, core := newTrapRig(t)

	payload := make([]byte, trackstore.SectorSize)
	for i := range payload {
		payload[i] = byte(255 - i)
	}
	d.WriteSector(0, 0, 2, payload)

	w.WriteSectorReg(2)
	w.WriteCommand(0x80)
	if w.CurrentState() != Read && !(w.CurrentState() == Wait && w.WaitingFor() == Read) {
		t.Fatalf("controller not in READ, state=%d", w.CurrentState())
	}

	core.SetPC(trapBulkReadPC)
	core.SetHL(0x9000)
	core.SetB(0)
	if !w.TryTraps(core) {
		t.Fatal("bulk-read trap did not fire")
	}
	mem := core.Memory()
	for i := 0; i < trackstore.SectorSize; i++ {
		if got := mem.ReadByte(0x9000 + uint16(i)); got != payload[i] {
			t.Fatalf("memory[%04X] = %02X, want %02X", 0x9000+i, got, payload[i])
		}
	}
	if core.HL() != 0x9000+trackstore.SectorSize {
		t.Errorf("HL = %04X", core.HL())
	}
	if core.PC() != trapBulkReadPC+2 {
		t.Errorf("PC = %04X, want %04X", core.PC(), trapBulkReadPC+2)
	}
	if w.RWLen() != 0 {
		t.Errorf("rwlen = %d after bulk read", w.RWLen())
	}
	if w.RQS()&RqsINTRQ == 0 {
		t.Error("command did not complete with INTRQ")
	}
}

func TestBulkWriteTrapFillsSector(t *testing.T) {
	w, d, core := newTrapRig(t)
	mem := core.Memory()

	for i := 0; i < trackstore.SectorSize; i++ {
		mem.WriteByte(0xA000+uint16(i), byte(i*7))
	}

	w.WriteSectorReg(4)
	w.WriteCommand(0xA0)
	// Supply the first byte by hand so a DRQ is pending mid-transfer,
	// then let the trap take over.
	w.WriteData(mem.ReadByte(0xA000))

	core.SetPC(trapBulkWritePC)
	core.SetHL(0xA001)
	core.SetB(0xFF)
	if !w.TryTraps(core) {
		t.Fatal("bulk-write trap did not fire")
	}
	got := d.ReadSector(0, 0, 4)
	for i := range got {
		if got[i] != byte(i*7) {
			t.Fatalf("sector byte %d = %02X, want %02X", i, got[i], byte(i*7))
		}
	}
	if w.ReadStatus()&StBusy != 0 {
		t.Error("BSY after bulk write")
	}
}
