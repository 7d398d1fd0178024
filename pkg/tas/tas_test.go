package tas

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"

	"github.com/minz/zxcore/pkg/system"
)

func TestRecordingRoundTrip(t *testing.T) {
	rec := &Recording{
		Meta: Metadata{Title: "attract mode", TotalCycles: 123456, TotalFrames: 17},
		Events: []InputEvent{
			{Cycle: 100, Type: EventTapePlay},
			{Cycle: 5000, Type: EventKeyRow, Arg1: 3, Arg2: 0x1D},
			{Cycle: 90000, Type: EventTapeStop},
		},
		Keyframes: []Keyframe{
			{Cycle: 71680, Frame: 1, PC: 0x8000, SP: 0xFF00, AF: 0x44AA},
		},
	}

	var buf bytes.Buffer
	if err := rec.Save(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := Load(&buf)
	if err != nil {
		t.Fatal(err)
	}

	if got.Meta.Title != rec.Meta.Title || got.Meta.TotalCycles != rec.Meta.TotalCycles {
		t.Errorf("metadata = %+v", got.Meta)
	}
	if len(got.Events) != 3 || got.Events[1].Arg2 != 0x1D {
		t.Errorf("events = %+v", got.Events)
	}
	if len(got.Keyframes) != 1 || got.Keyframes[0].PC != 0x8000 {
		t.Errorf("keyframes = %+v", got.Keyframes)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not a recording at all")))
	if errors.Cause(err) != ErrBadRecording {
		t.Fatalf("err = %v, want ErrBadRecording", err)
	}
}

func TestRecorderLogsAppliedInputs(t *testing.T) {
	sys := system.New(system.DefaultConfig())
	r := NewRecorder(sys, "smoke")

	r.KeyRow(2, 0x1B)
	if got := sys.ReadPort(0xFBFE) & 0x1F; got != 0x1B {
		t.Errorf("key row not applied: %02X", got)
	}

	events := r.Recording().Events
	if len(events) != 1 || events[0].Type != EventKeyRow || events[0].Arg1 != 2 || events[0].Arg2 != 0x1B {
		t.Fatalf("events = %+v", events)
	}
}

func TestReplayerAppliesEventsByCycle(t *testing.T) {
	rec := &Recording{
		Meta: Metadata{TotalCycles: 71680},
		Events: []InputEvent{
			{Cycle: 10, Type: EventKeyRow, Arg1: 0, Arg2: 0x1E},
		},
	}
	sys := system.New(system.DefaultConfig())
	p := NewReplayer(sys, rec)
	p.RunFrame()

	if got := sys.ReadPort(0xFEFE) & 0x1F; got != 0x1E {
		t.Errorf("replayed key row = %02X, want 1E", got)
	}
	if !p.Done() {
		t.Error("one-frame recording not done after one frame")
	}
	if len(p.Divergences) != 0 {
		t.Errorf("unexpected divergences: %+v", p.Divergences)
	}
}
