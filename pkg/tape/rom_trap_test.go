package tape

import (
	"testing"

	"github.com/minz/zxcore/pkg/clock"
	"github.com/minz/zxcore/pkg/pulsestore"
	"github.com/minz/zxcore/pkg/z80"
)

type nullBus struct{}

func (nullBus) ReadPort(uint16) byte       { return 0xFF }
func (nullBus) WritePort(uint16, byte) {}

func newTestCoreForTrap() (*z80.Core, *z80.Memory) {
	mem := z80.NewMemory(8, 1)
	clk := clock.New(clock.DefaultFrameLength)
	core := z80.New(mem, nullBus{}, clk)
	return core, mem
}

func appendZeroByte(store *pulsestore.Store) {
	for i := 0; i < 16; i++ {
		_ = store.AppendPulse(100)
	}
}

func TestROMTrapDoesNothingWhenNotAtTrapPC(t *testing.T) {
	store := pulsestore.New()
	e := NewEngine(store)
	e.Play(0)
	core, _ := newTestCoreForTrap()
	core.SetPC(0x1234)
	if e.TryROMTrap(core) {
		t.Fatal("trap should not fire away from its PC")
	}
}

func TestROMTrapSuccessPath(t *testing.T) {
	store := pulsestore.New()
	_ = store.AppendPulse(500) // pilot-skip terminator
	_ = store.AppendPulse(700) // second sync
	appendZeroByte(store)      // flag byte = 0x00
	appendZeroByte(store)      // payload byte = 0x00
	appendZeroByte(store)      // CRC byte = 0x00

	e := NewEngine(store)
	e.Play(0)

	core, _ := newTestCoreForTrap()
	core.SetPC(romTrapPC)
	core.SetDE(1)
	core.SetIX(0xC000)

	if !e.TryROMTrap(core) {
		t.Fatal("expected trap to fire")
	}
	if core.PC() != romTrapSuccessPC {
		t.Fatalf("expected PC=0x%04X, got 0x%04X", romTrapSuccessPC, core.PC())
	}
	if !core.Carry() {
		t.Fatal("expected carry set on success")
	}
	if core.BC() != 0xB001 {
		t.Fatalf("expected BC=0xB001, got 0x%04X", core.BC())
	}
	if core.H() != 0 {
		t.Fatalf("expected H=0, got 0x%02X", core.H())
	}
}

func TestROMTrapEndOfTapeFailsToErrorExit(t *testing.T) {
	store := pulsestore.New()
	_ = store.AppendPulse(500) // pilot terminator, but nothing after it
	e := NewEngine(store)
	e.Play(0)

	core, _ := newTestCoreForTrap()
	core.SetPC(romTrapPC)
	core.SetDE(1)

	if !e.TryROMTrap(core) {
		t.Fatal("expected trap to fire even on failure path")
	}
	if core.PC() != romTrapFailPC {
		t.Fatalf("expected PC=0x%04X, got 0x%04X", romTrapFailPC, core.PC())
	}
}
